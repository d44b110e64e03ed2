package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	orderDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/order"
	orderpkg "github.com/frahmantamala/payment-orchestration/internal/order"
)

// maxUpdateAttempts bounds the optimistic retry loop in Update.
const maxUpdateAttempts = 5

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db: db,
	}
}

var _ orderpkg.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) Create(ctx context.Context, o *orderpkg.Order) error {
	if o.Version == 0 {
		o.Version = 1
	}
	row := orderpkg.ToDataModel(o)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	o.ID = row.ID
	o.CreatedAt = row.CreatedAt
	o.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *OrderRepository) GetByCode(ctx context.Context, code string) (*orderpkg.Order, error) {
	var row orderDatamodel.PaymentOrder
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrOrderNotFound
		}
		return nil, err
	}
	return orderpkg.FromDataModel(&row), nil
}

// FindByRemoteID resolves an order from the id a provider assigned to it.
// More than one match is treated as unresolved.
func (r *OrderRepository) FindByRemoteID(ctx context.Context, providerKey, remoteID string) (*orderpkg.Order, error) {
	if remoteID == "" {
		return nil, errors.ErrOrderNotFound
	}
	var rows []orderDatamodel.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("provider_key = ? AND remote_id = ?", providerKey, remoteID).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, errors.ErrOrderNotFound
	case 1:
		return orderpkg.FromDataModel(&rows[0]), nil
	default:
		return nil, errors.NewCorrelationError("remote id matches more than one order", errors.ErrCodeOrderUnresolved)
	}
}

func (r *OrderRepository) Update(ctx context.Context, code string, mutate func(o *orderpkg.Order) error) (*orderpkg.Order, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := r.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			if stderrors.Is(err, orderpkg.ErrNoChange) {
				return current, nil
			}
			return nil, err
		}

		now := time.Now()
		row := orderpkg.ToDataModel(next)
		result := r.db.WithContext(ctx).
			Model(&orderDatamodel.PaymentOrder{}).
			Where("id = ? AND version = ?", current.ID, current.Version).
			Updates(map[string]interface{}{
				"status":            row.Status,
				"provider_key":      row.ProviderKey,
				"remote_id":         row.RemoteID,
				"metadata":          row.Metadata,
				"ignored_providers": row.IgnoredProviders,
				"paid_at":           row.PaidAt,
				"updated_at":        now,
				"version":           gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			next.Version = current.Version + 1
			next.UpdatedAt = now
			return next, nil
		}
	}
	return nil, errors.ErrConcurrentUpdate
}
