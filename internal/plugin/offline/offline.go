// Package offline handles cash and bank-transfer payments that staff confirm
// by hand with a shared confirmation token.
package offline

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	Driver = "offline"

	settingInstructions      = "instructions"
	settingConfirmationToken = "confirmation_token"
)

type Plugin struct {
	deps   plugin.Dependencies
	logger *slog.Logger
}

func New(deps plugin.Dependencies) (plugin.Plugin, error) {
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Plugin{deps: deps, logger: lg.With("plugin", Driver)}, nil
}

func Definition() plugin.Definition {
	return plugin.Definition{Key: Driver, New: New}
}

func (p *Plugin) Describe() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Offline payment",
		Description: "Cash on delivery or bank transfer, confirmed manually",
		Version:     "1.0",
	}
}

func (p *Plugin) ConfigurationSchema() []plugin.Field {
	return []plugin.Field{
		{Key: settingInstructions, Label: "Payment instructions", Type: plugin.FieldText},
		{Key: settingConfirmationToken, Label: "Confirmation token", Type: plugin.FieldPassword, Required: true},
	}
}

func (p *Plugin) ValidateConfiguration(ctx context.Context) bool {
	return plugin.RequiredFieldsPresent(ctx, p.deps.Settings, p.ConfigurationSchema())
}

func (p *Plugin) Initiate(ctx context.Context, o *order.Order) (*plugin.InitiationResult, error) {
	return &plugin.InitiationResult{
		Form: &plugin.FormSpec{
			Instructions: p.deps.Settings.Get(ctx, settingInstructions, "Pay on delivery or by bank transfer quoting the order code."),
			Fields: []plugin.Field{
				{Key: "reference", Label: "Payment reference", Type: plugin.FieldText, Default: o.Code},
			},
		},
		Metadata: map[string]any{"offline_reference": o.Code},
	}, nil
}

var statusKinds = map[string]plugin.Kind{
	"paid":      plugin.KindSuccess,
	"received":  plugin.KindSuccess,
	"rejected":  plugin.KindFailure,
	"cancelled": plugin.KindCancelled,
	"awaiting":  plugin.KindPending,
}

type confirmation struct {
	OrderCode string `json:"order_code"`
	Status    string `json:"status"`
	Token     string `json:"token"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
}

// Reconcile accepts a staff confirmation carrying the configured token.
func (p *Plugin) Reconcile(ctx context.Context, cb plugin.Callback) (*plugin.Outcome, error) {
	var c confirmation
	if cb.IsWebhook() && cb.Form == nil {
		if err := cb.JSON(&c); err != nil {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
	} else {
		c = confirmation{
			OrderCode: cb.Param("order_code"),
			Status:    cb.Param("status"),
			Token:     cb.Param("token"),
			Reference: cb.Param("reference"),
			Note:      cb.Param("note"),
		}
	}

	expected := p.deps.Settings.Get(ctx, settingConfirmationToken, "")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(c.Token)) != 1 {
		return nil, plugin.ErrInvalidSignature(Driver)
	}
	if c.OrderCode == "" {
		return nil, plugin.ErrUnresolvedOrder(Driver)
	}

	status := strings.ToLower(strings.TrimSpace(c.Status))
	kind, ok := statusKinds[status]
	if !ok {
		kind = plugin.KindPending
	}
	out := &plugin.Outcome{
		Kind:          kind,
		OrderCode:     c.OrderCode,
		TransactionID: c.Reference,
		StatusLabel:   status,
		Message:       c.Note,
	}
	return out, nil
}

func (p *Plugin) SupportsRefunds() bool {
	return false
}

func (p *Plugin) Refund(context.Context, *order.Order, decimal.Decimal) (*plugin.RefundOutcome, error) {
	return nil, plugin.ErrRefundUnsupported(Driver)
}
