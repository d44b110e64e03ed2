// Package plugin defines the contract every payment provider implements and
// the registry that binds provider drivers to their constructors.
package plugin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-orchestration/internal/order"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldNumber   FieldType = "number"
)

// Mode limits a field to test or live operation. Empty means both.
type Mode string

const (
	ModeAny  Mode = ""
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

type Field struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Encrypted bool      `json:"encrypted"`
	Mode      Mode      `json:"mode,omitempty"`
	Options   []string  `json:"options,omitempty"`
	Default   string    `json:"default,omitempty"`
	Help      string    `json:"help,omitempty"`
}

// IsEncrypted is always true for password fields.
func (f Field) IsEncrypted() bool {
	return f.Encrypted || f.Type == FieldPassword
}

type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Settings is the read view of a provider's configuration. Reads never fail;
// unreadable values fall back to def.
type Settings interface {
	Get(ctx context.Context, key, def string) string
	Bool(ctx context.Context, key string, def bool) bool
}

// OrderLookup gives plugins read access for correlation fallbacks.
type OrderLookup interface {
	GetByCode(ctx context.Context, code string) (*order.Order, error)
	FindByRemoteID(ctx context.Context, providerKey, remoteID string) (*order.Order, error)
}

// Dependencies are injected into a plugin when it is resolved for a provider.
type Dependencies struct {
	ProviderKey string
	Settings    Settings
	Orders      OrderLookup
	HTTPClient  *http.Client
	Logger      *slog.Logger
	CallbackURL string
}

// FormSpec describes an inline form for providers that collect input on the
// merchant site instead of redirecting.
type FormSpec struct {
	Action       string  `json:"action,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	Fields       []Field `json:"fields"`
}

type InitiationResult struct {
	RedirectURL string         `json:"redirect_url,omitempty"`
	Form        *FormSpec      `json:"form,omitempty"`
	RemoteID    string         `json:"-"`
	Metadata    map[string]any `json:"-"`
}

type RefundOutcome struct {
	Success       bool            `json:"success"`
	Amount        decimal.Decimal `json:"amount"`
	RefundID      string          `json:"refund_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Message       string          `json:"message,omitempty"`
	Unsupported   bool            `json:"unsupported,omitempty"`
}

type Plugin interface {
	Describe() Descriptor
	ConfigurationSchema() []Field
	// ValidateConfiguration checks the fields required in the active mode.
	ValidateConfiguration(ctx context.Context) bool
	Initiate(ctx context.Context, o *order.Order) (*InitiationResult, error)
	// Reconcile authenticates a notification, correlates it to an order code
	// and maps the provider status onto an Outcome.
	Reconcile(ctx context.Context, cb Callback) (*Outcome, error)
	SupportsRefunds() bool
	Refund(ctx context.Context, o *order.Order, amount decimal.Decimal) (*RefundOutcome, error)
}

type Constructor func(deps Dependencies) (Plugin, error)

// Definition pairs a driver key with its constructor.
type Definition struct {
	Key string
	New Constructor
}
