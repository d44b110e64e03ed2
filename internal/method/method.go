package method

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	methodDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/method"
)

// Method is a configured payment provider bound to a plugin driver.
type Method struct {
	ID          int64           `json:"-"`
	Key         string          `json:"key"`
	Driver      string          `json:"driver"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	SortOrder   int             `json:"sort_order"`
	FlatFee     decimal.Decimal `json:"flat_fee"`
	PercentFee  decimal.Decimal `json:"percent_fee"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Fee is the advisory surcharge for amount. It is never added to an order.
func (m *Method) Fee(amount decimal.Decimal) decimal.Decimal {
	fee := m.FlatFee
	if !m.PercentFee.IsZero() {
		fee = fee.Add(amount.Mul(m.PercentFee).Div(decimal.NewFromInt(100)))
	}
	return fee.Round(2)
}

func (m *Method) Enable() {
	m.Enabled = true
	m.UpdatedAt = time.Now()
}

func (m *Method) Disable() {
	m.Enabled = false
	m.UpdatedAt = time.Now()
}

func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func ToDataModel(m *Method) *methodDatamodel.PaymentMethod {
	return &methodDatamodel.PaymentMethod{
		ID:          m.ID,
		Key:         m.Key,
		Driver:      m.Driver,
		Name:        m.Name,
		Description: m.Description,
		Enabled:     m.Enabled,
		SortOrder:   m.SortOrder,
		FlatFee:     m.FlatFee,
		PercentFee:  m.PercentFee,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func FromDataModel(row *methodDatamodel.PaymentMethod) *Method {
	return &Method{
		ID:          row.ID,
		Key:         row.Key,
		Driver:      row.Driver,
		Name:        row.Name,
		Description: row.Description,
		Enabled:     row.Enabled,
		SortOrder:   row.SortOrder,
		FlatFee:     row.FlatFee,
		PercentFee:  row.PercentFee,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
