package order

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentOrder struct {
	ID               int64                       `gorm:"primaryKey"`
	Code             string                      `gorm:"column:code;size:64;not null;uniqueIndex"`
	Amount           decimal.Decimal             `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency         string                      `gorm:"column:currency;size:3;not null"`
	Status           string                      `gorm:"column:status;size:16;not null;default:pending;index"`
	Description      string                      `gorm:"column:description"`
	CustomerName     string                      `gorm:"column:customer_name"`
	CustomerEmail    string                      `gorm:"column:customer_email"`
	CustomerPhone    string                      `gorm:"column:customer_phone"`
	CustomerData     datatypes.JSONMap           `gorm:"column:customer_data"`
	ProviderKey      *string                     `gorm:"column:provider_key;size:64;index:idx_payment_orders_remote,priority:1"`
	RemoteID         *string                     `gorm:"column:remote_id;index:idx_payment_orders_remote,priority:2"`
	Metadata         datatypes.JSONMap           `gorm:"column:metadata"`
	IgnoredProviders datatypes.JSONSlice[string] `gorm:"column:ignored_providers"`
	SuccessHook      string                      `gorm:"column:success_hook"`
	FailureHook      string                      `gorm:"column:failure_hook"`
	SuccessURL       string                      `gorm:"column:success_url"`
	FailureURL       string                      `gorm:"column:failure_url"`
	PaidAt           *time.Time                  `gorm:"column:paid_at"`
	Version          int64                       `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
