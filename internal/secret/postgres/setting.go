package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	methodDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/method"
	"github.com/frahmantamala/payment-orchestration/internal/secret"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

var _ secret.Repository = (*SettingRepository)(nil)

func (r *SettingRepository) Get(ctx context.Context, methodID int64, key string) (*secret.Setting, error) {
	var row methodDatamodel.PaymentMethodSetting
	err := r.db.WithContext(ctx).
		Where("method_id = ? AND setting_key = ?", methodID, key).
		First(&row).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, secret.ErrSettingNotFound
		}
		return nil, err
	}
	return fromRow(&row), nil
}

func (r *SettingRepository) List(ctx context.Context, methodID int64) ([]*secret.Setting, error) {
	var rows []methodDatamodel.PaymentMethodSetting
	if err := r.db.WithContext(ctx).Where("method_id = ?", methodID).Order("setting_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	settings := make([]*secret.Setting, len(rows))
	for i := range rows {
		settings[i] = fromRow(&rows[i])
	}
	return settings, nil
}

// Upsert writes a single row so concurrent writers of different keys never
// overwrite each other.
func (r *SettingRepository) Upsert(ctx context.Context, s *secret.Setting) error {
	row := methodDatamodel.PaymentMethodSetting{
		MethodID:  s.MethodID,
		Key:       s.Key,
		Value:     s.Value,
		Encrypted: s.Encrypted,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "method_id"}, {Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "encrypted", "updated_at"}),
	}).Create(&row).Error
}

func (r *SettingRepository) Delete(ctx context.Context, methodID int64, key string) error {
	return r.db.WithContext(ctx).
		Where("method_id = ? AND setting_key = ?", methodID, key).
		Delete(&methodDatamodel.PaymentMethodSetting{}).Error
}

func fromRow(row *methodDatamodel.PaymentMethodSetting) *secret.Setting {
	return &secret.Setting{
		MethodID:  row.MethodID,
		Key:       row.Key,
		Value:     row.Value,
		Encrypted: row.Encrypted,
	}
}
