package postgres

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	methodDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/method"
	"github.com/frahmantamala/payment-orchestration/internal/method"
)

type MethodRepository struct {
	db *gorm.DB
}

func NewMethodRepository(db *gorm.DB) *MethodRepository {
	return &MethodRepository{db: db}
}

var _ method.Repository = (*MethodRepository)(nil)

func (r *MethodRepository) Create(ctx context.Context, m *method.Method) error {
	row := method.ToDataModel(m)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	m.ID = row.ID
	m.CreatedAt = row.CreatedAt
	m.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *MethodRepository) GetByKey(ctx context.Context, key string) (*method.Method, error) {
	var row methodDatamodel.PaymentMethod
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrMethodNotFound
		}
		return nil, err
	}
	return method.FromDataModel(&row), nil
}

func (r *MethodRepository) List(ctx context.Context, enabledOnly bool) ([]*method.Method, error) {
	var rows []methodDatamodel.PaymentMethod
	q := r.db.WithContext(ctx).Order("sort_order ASC, key ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	methods := make([]*method.Method, 0, len(rows))
	for i := range rows {
		methods = append(methods, method.FromDataModel(&rows[i]))
	}
	return methods, nil
}

// Update saves the mutable columns only; key and driver are fixed at creation.
func (r *MethodRepository) Update(ctx context.Context, m *method.Method) error {
	res := r.db.WithContext(ctx).
		Model(&methodDatamodel.PaymentMethod{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"name":        m.Name,
			"description": m.Description,
			"enabled":     m.Enabled,
			"sort_order":  m.SortOrder,
			"flat_fee":    m.FlatFee,
			"percent_fee": m.PercentFee,
			"updated_at":  m.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrMethodNotFound
	}
	return nil
}
