package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	orderDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/order"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrNoChange is returned by an Update mutation to skip the write.
var ErrNoChange = errors.New("order: no change")

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID               int64           `json:"-"`
	Code             string          `json:"code"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           Status          `json:"status"`
	Description      string          `json:"description,omitempty"`
	CustomerName     string          `json:"customer_name,omitempty"`
	CustomerEmail    string          `json:"customer_email,omitempty"`
	CustomerPhone    string          `json:"customer_phone,omitempty"`
	CustomerData     map[string]any  `json:"customer_data,omitempty"`
	ProviderKey      string          `json:"provider_key,omitempty"`
	RemoteID         string          `json:"remote_id,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	IgnoredProviders []string        `json:"ignored_providers,omitempty"`
	SuccessHook      string          `json:"success_hook,omitempty"`
	FailureHook      string          `json:"failure_hook,omitempty"`
	SuccessURL       string          `json:"success_url,omitempty"`
	FailureURL       string          `json:"failure_url,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	Version          int64           `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

// Transition moves the order to the next status. PaidAt is stamped on the
// first entry into completed and never cleared.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	if to == StatusCompleted && o.PaidAt == nil {
		paid := now
		o.PaidAt = &paid
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// MergeMetadata applies values key by key, later values winning.
func (o *Order) MergeMetadata(values map[string]any) {
	if len(values) == 0 {
		return
	}
	if o.Metadata == nil {
		o.Metadata = make(map[string]any, len(values))
	}
	for k, v := range values {
		o.Metadata[k] = v
	}
}

// systemMetadataKeys are written by the engine itself. Merchants may not set
// them, since refunds and provider calls read them back as order state.
var systemMetadataKeys = map[string]bool{
	"refunds":          true,
	"refunded_total":   true,
	"transaction_id":   true,
	"outcome_kind":     true,
	"status_label":     true,
	"message":          true,
	"last_callback_at": true,
	"last_error":       true,
	"last_error_at":    true,
	"cancelled_at":     true,
	"cancel_reason":    true,
	"retry_of":         true,
}

// providerMetadataPrefixes cover the keys each built-in plugin records.
var providerMetadataPrefixes = []string{"dummy_", "offline_", "paymob_", "kashier_", "paypal_"}

// IsSystemMetadataKey reports whether key is reserved for engine-written state.
func IsSystemMetadataKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if systemMetadataKeys[key] {
		return true
	}
	for _, prefix := range providerMetadataPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// merchantMetadata copies m without any system keys.
func merchantMetadata(m map[string]any) map[string]any {
	out := cloneMap(m)
	for k := range out {
		if IsSystemMetadataKey(k) {
			delete(out, k)
		}
	}
	return out
}

func (o *Order) MetadataString(key string) string {
	if o.Metadata == nil {
		return ""
	}
	switch v := o.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (o *Order) IsIgnored(providerKey string) bool {
	key := NormalizeKey(providerKey)
	for _, p := range o.IgnoredProviders {
		if NormalizeKey(p) == key {
			return true
		}
	}
	return false
}

func (o *Order) Ignore(providerKey string) {
	if providerKey == "" || o.IsIgnored(providerKey) {
		return
	}
	o.IgnoredProviders = append(o.IgnoredProviders, NormalizeKey(providerKey))
}

// AmountString is the amount with exactly two fractional digits.
func (o *Order) AmountString() string {
	return o.Amount.StringFixed(2)
}

// MinorUnits is the amount in cents, as most provider APIs expect.
func (o *Order) MinorUnits() int64 {
	return o.Amount.Shift(2).Round(0).IntPart()
}

// Clone returns a deep enough copy for a mutation attempt.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Metadata = cloneMap(o.Metadata)
	cp.CustomerData = cloneMap(o.CustomerData)
	cp.IgnoredProviders = append([]string(nil), o.IgnoredProviders...)
	if o.PaidAt != nil {
		paid := *o.PaidAt
		cp.PaidAt = &paid
	}
	return &cp
}

func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func ToDataModel(o *Order) *orderDatamodel.PaymentOrder {
	row := &orderDatamodel.PaymentOrder{
		ID:               o.ID,
		Code:             o.Code,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Status:           string(o.Status),
		Description:      o.Description,
		CustomerName:     o.CustomerName,
		CustomerEmail:    o.CustomerEmail,
		CustomerPhone:    o.CustomerPhone,
		CustomerData:     o.CustomerData,
		Metadata:         o.Metadata,
		IgnoredProviders: o.IgnoredProviders,
		SuccessHook:      o.SuccessHook,
		FailureHook:      o.FailureHook,
		SuccessURL:       o.SuccessURL,
		FailureURL:       o.FailureURL,
		PaidAt:           o.PaidAt,
		Version:          o.Version,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.ProviderKey != "" {
		key := o.ProviderKey
		row.ProviderKey = &key
	}
	if o.RemoteID != "" {
		remote := o.RemoteID
		row.RemoteID = &remote
	}
	return row
}

func FromDataModel(row *orderDatamodel.PaymentOrder) *Order {
	o := &Order{
		ID:               row.ID,
		Code:             row.Code,
		Amount:           row.Amount,
		Currency:         row.Currency,
		Status:           Status(row.Status),
		Description:      row.Description,
		CustomerName:     row.CustomerName,
		CustomerEmail:    row.CustomerEmail,
		CustomerPhone:    row.CustomerPhone,
		CustomerData:     row.CustomerData,
		Metadata:         row.Metadata,
		IgnoredProviders: row.IgnoredProviders,
		SuccessHook:      row.SuccessHook,
		FailureHook:      row.FailureHook,
		SuccessURL:       row.SuccessURL,
		FailureURL:       row.FailureURL,
		PaidAt:           row.PaidAt,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.ProviderKey != nil {
		o.ProviderKey = *row.ProviderKey
	}
	if row.RemoteID != nil {
		o.RemoteID = *row.RemoteID
	}
	return o
}
