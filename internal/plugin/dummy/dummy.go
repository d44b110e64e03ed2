// Package dummy is a test provider that settles orders from whatever status
// the caller reports, optionally signed with a shared secret.
package dummy

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	Driver = "dummy"

	settingWebhookSecret = "webhook_secret"
	settingRefundFails   = "refund_fails"

	SignatureHeader = "X-Dummy-Signature"
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

// Sign is the signature a caller must send when a webhook secret is configured.
func Sign(secret, orderCode, status string) string {
	return plugin.SignHMAC(sha256.New, secret, orderCode+":"+status)
}

func (p *Plugin) Describe() plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "Dummy",
		Description: "Test provider that accepts the reported outcome",
		Version:     "1.0",
	}
}

func (p *Plugin) ConfigurationSchema() []plugin.Field {
	return []plugin.Field{
		{Key: settingWebhookSecret, Label: "Webhook secret", Type: plugin.FieldPassword, Help: "When set, callbacks must be signed"},
		{Key: settingRefundFails, Label: "Simulate refund failures", Type: plugin.FieldCheckbox},
	}
}

func (p *Plugin) ValidateConfiguration(context.Context) bool {
	return true
}

func (p *Plugin) Initiate(ctx context.Context, o *order.Order) (*plugin.InitiationResult, error) {
	q := url.Values{}
	q.Set("order_code", o.Code)
	q.Set("status", string(plugin.KindSuccess))
	if secret := p.deps.Settings.Get(ctx, settingWebhookSecret, ""); secret != "" {
		q.Set("signature", Sign(secret, o.Code, string(plugin.KindSuccess)))
	}
	return &plugin.InitiationResult{
		RedirectURL: p.deps.CallbackURL + "?" + q.Encode(),
		Metadata:    map[string]any{"dummy_checkout": true},
	}, nil
}

type webhookPayload struct {
	OrderCode     string `json:"order_code"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

func (p *Plugin) Reconcile(ctx context.Context, cb plugin.Callback) (*plugin.Outcome, error) {
	var payload webhookPayload
	signature := cb.Param("signature")
	if cb.IsWebhook() && cb.Form == nil {
		if err := cb.JSON(&payload); err != nil {
			return nil, errors.NewValidationError("dummy: malformed webhook body", errors.ErrCodeValidationFailed)
		}
		if h := cb.Header.Get(SignatureHeader); h != "" {
			signature = h
		}
	} else {
		payload = webhookPayload{
			OrderCode:     cb.Param("order_code"),
			Status:        cb.Param("status"),
			TransactionID: cb.Param("transaction_id"),
			Message:       cb.Param("message"),
		}
	}
	status := strings.ToLower(strings.TrimSpace(payload.Status))

	if secret := p.deps.Settings.Get(ctx, settingWebhookSecret, ""); secret != "" {
		if !plugin.EqualSignature(Sign(secret, payload.OrderCode, status), signature) {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
	}
	if payload.OrderCode == "" {
		return nil, plugin.ErrUnresolvedOrder(Driver)
	}

	kind := plugin.Kind(status)
	if !kind.Valid() {
		p.logger.Warn("unknown dummy status, treating as pending", "status", status)
		kind = plugin.KindPending
	}
	txn := payload.TransactionID
	if txn == "" && kind == plugin.KindSuccess {
		txn = "dummy-" + payload.OrderCode
	}
	return &plugin.Outcome{
		Kind:          kind,
		OrderCode:     payload.OrderCode,
		TransactionID: txn,
		StatusLabel:   status,
		Message:       payload.Message,
	}, nil
}

func (p *Plugin) SupportsRefunds() bool {
	return true
}

func (p *Plugin) Refund(ctx context.Context, o *order.Order, amount decimal.Decimal) (*plugin.RefundOutcome, error) {
	out := &plugin.RefundOutcome{
		Amount:        amount,
		TransactionID: o.MetadataString("transaction_id"),
	}
	if p.deps.Settings.Bool(ctx, settingRefundFails, false) {
		out.Message = "refund declined"
		return out, nil
	}
	out.Success = true
	out.RefundID = "dummy-refund-" + uuid.NewString()
	return out, nil
}
