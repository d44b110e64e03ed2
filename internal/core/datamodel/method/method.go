package method

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod struct {
	ID          int64           `gorm:"primaryKey"`
	Key         string          `gorm:"column:key;size:64;not null;uniqueIndex"`
	Driver      string          `gorm:"column:driver;size:64;not null"`
	Name        string          `gorm:"column:name;not null"`
	Description string          `gorm:"column:description"`
	Enabled     bool            `gorm:"column:enabled;not null;default:false"`
	SortOrder   int             `gorm:"column:sort_order;not null;default:0"`
	FlatFee     decimal.Decimal `gorm:"column:flat_fee;type:numeric(18,2);not null;default:0"`
	PercentFee  decimal.Decimal `gorm:"column:percent_fee;type:numeric(7,4);not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentMethod) TableName() string {
	return "payment_methods"
}

type PaymentMethodSetting struct {
	ID        int64     `gorm:"primaryKey"`
	MethodID  int64     `gorm:"column:method_id;not null;uniqueIndex:idx_method_setting,priority:1"`
	Key       string    `gorm:"column:setting_key;size:128;not null;uniqueIndex:idx_method_setting,priority:2"`
	Value     string    `gorm:"column:value;type:text;not null"`
	Encrypted bool      `gorm:"column:encrypted;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentMethodSetting) TableName() string {
	return "payment_method_settings"
}
