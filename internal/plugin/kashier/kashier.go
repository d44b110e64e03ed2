// Package kashier integrates the Kashier hosted payment page.
package kashier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	Driver = "kashier"

	DefaultCheckoutURL = "https://checkout.kashier.io"
	DefaultAPIURL      = "https://api.kashier.io"
	DefaultTestAPIURL  = "https://test-api.kashier.io"

	SignatureHeader = "X-Kashier-Signature"

	settingMerchantID  = "merchant_id"
	settingAPIKey      = "api_key"
	settingSecretKey   = "secret_key"
	settingCheckoutURL = "checkout_url"
	settingAPIURL      = "api_url"
)

var statusKinds = map[string]plugin.Kind{
	"SUCCESS":   plugin.KindSuccess,
	"CAPTURED":  plugin.KindSuccess,
	"FAILURE":   plugin.KindFailure,
	"FAILED":    plugin.KindFailure,
	"DECLINED":  plugin.KindFailure,
	"PENDING":   plugin.KindPending,
	"CANCELLED": plugin.KindCancelled,
	"CANCELED":  plugin.KindCancelled,
}

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
		Name:        "Kashier",
		Description: "Cards and wallets through the Kashier hosted page",
		Version:     "1.0",
	}
}

func (p *Plugin) ConfigurationSchema() []plugin.Field {
	return []plugin.Field{
		{Key: plugin.TestModeKey, Label: "Test mode", Type: plugin.FieldCheckbox},
		{Key: settingMerchantID, Label: "Merchant ID", Type: plugin.FieldText, Required: true},
		{Key: settingAPIKey, Label: "Payment API key", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeLive},
		{Key: settingSecretKey, Label: "Secret key", Type: plugin.FieldPassword, Mode: plugin.ModeLive},
		{Key: "test_" + settingAPIKey, Label: "Test payment API key", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeTest},
		{Key: "test_" + settingSecretKey, Label: "Test secret key", Type: plugin.FieldPassword, Mode: plugin.ModeTest},
		{Key: settingCheckoutURL, Label: "Checkout url", Type: plugin.FieldText, Default: DefaultCheckoutURL},
		{Key: settingAPIURL, Label: "API url", Type: plugin.FieldText},
	}
}

func (p *Plugin) ValidateConfiguration(ctx context.Context) bool {
	return plugin.RequiredFieldsPresent(ctx, p.deps.Settings, p.ConfigurationSchema())
}

func (p *Plugin) setting(ctx context.Context, key string) string {
	return p.deps.Settings.Get(ctx, plugin.ActiveKey(ctx, p.deps.Settings, key), "")
}

func (p *Plugin) mode(ctx context.Context) string {
	return string(plugin.ActiveMode(ctx, p.deps.Settings))
}

// OrderHash signs the hosted page parameters.
func OrderHash(apiKey, merchantID, orderID, amount, currency string) string {
	path := fmt.Sprintf("/?payment=%s.%s.%s.%s", merchantID, orderID, amount, currency)
	return plugin.SignHMAC(sha256.New, apiKey, path)
}

func (p *Plugin) Initiate(ctx context.Context, o *order.Order) (*plugin.InitiationResult, error) {
	merchantID := p.deps.Settings.Get(ctx, settingMerchantID, "")
	amount := o.AmountString()
	q := url.Values{}
	q.Set("merchantId", merchantID)
	q.Set("orderId", o.Code)
	q.Set("amount", amount)
	q.Set("currency", o.Currency)
	q.Set("hash", OrderHash(p.setting(ctx, settingAPIKey), merchantID, o.Code, amount, o.Currency))
	q.Set("mode", p.mode(ctx))
	q.Set("merchantRedirect", p.deps.CallbackURL)
	q.Set("serverWebhook", p.deps.CallbackURL)
	q.Set("display", "en")

	checkout := p.deps.Settings.Get(ctx, settingCheckoutURL, DefaultCheckoutURL)
	return &plugin.InitiationResult{
		RedirectURL: strings.TrimRight(checkout, "/") + "/?" + q.Encode(),
	}, nil
}

// RedirectSignature signs every redirect parameter except signature and mode,
// in key order.
func RedirectSignature(apiKey string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" || k == "mode" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	return plugin.SignHMAC(sha256.New, apiKey, strings.Join(parts, "&"))
}

// WebhookSignature signs the data fields named by signatureKeys, in key order.
func WebhookSignature(apiKey string, data map[string]any, signatureKeys []string) string {
	keys := append([]string(nil), signatureKeys...)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(stringify(data[k])))
	}
	return plugin.SignHMAC(sha256.New, apiKey, strings.Join(parts, "&"))
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

// settlingFields decide the outcome or the order it applies to.
var settlingFields = []string{"status", "merchantOrderId", "kashierOrderId", "orderId", "transactionId"}

// coversSettlingFields requires status to be signed, and every other settling
// field present in data to be signed as well.
func coversSettlingFields(data map[string]any, signatureKeys []string) bool {
	signed := make(map[string]bool, len(signatureKeys))
	for _, k := range signatureKeys {
		signed[k] = true
	}
	if !signed["status"] {
		return false
	}
	for _, k := range settlingFields {
		if v, ok := data[k]; ok && stringify(v) != "" && !signed[k] {
			return false
		}
	}
	return true
}

type webhook struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type notification struct {
	merchantOrderID string
	kashierOrderID  string
	transactionID   string
	status          string
	message         string
}

func (p *Plugin) Reconcile(ctx context.Context, cb plugin.Callback) (*plugin.Outcome, error) {
	apiKey := p.setting(ctx, settingAPIKey)
	if apiKey == "" {
		return nil, plugin.ErrInvalidSignature(Driver)
	}

	var n notification
	if cb.IsWebhook() {
		var w webhook
		dec := json.NewDecoder(bytes.NewReader(cb.Body))
		dec.UseNumber()
		if err := dec.Decode(&w); err != nil || w.Data == nil {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
		var signatureKeys []string
		if raw, ok := w.Data["signatureKeys"].([]any); ok {
			for _, k := range raw {
				if s, ok := k.(string); ok {
					signatureKeys = append(signatureKeys, s)
				}
			}
		}
		if len(signatureKeys) == 0 || !plugin.EqualSignature(WebhookSignature(apiKey, w.Data, signatureKeys), cb.Header.Get(SignatureHeader)) {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
		if !coversSettlingFields(w.Data, signatureKeys) {
			p.logger.Warn("kashier webhook signature does not cover its settling fields")
			return nil, plugin.ErrInvalidSignature(Driver)
		}
		n = notification{
			merchantOrderID: stringify(w.Data["merchantOrderId"]),
			kashierOrderID:  stringify(w.Data["kashierOrderId"]),
			transactionID:   stringify(w.Data["transactionId"]),
			status:          stringify(w.Data["status"]),
			message:         stringify(w.Data["transactionResponseMessage"]),
		}
		if n.kashierOrderID == "" {
			n.kashierOrderID = stringify(w.Data["orderId"])
		}
	} else {
		params := cb.Params()
		if !plugin.EqualSignature(RedirectSignature(apiKey, params), params.Get("signature")) {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
		n = notification{
			merchantOrderID: params.Get("merchantOrderId"),
			kashierOrderID:  params.Get("orderId"),
			transactionID:   params.Get("transactionId"),
			status:          params.Get("paymentStatus"),
		}
	}

	code, err := p.correlate(ctx, n)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(strings.TrimSpace(n.status))
	kind, ok := statusKinds[status]
	if !ok {
		p.logger.Warn("unknown kashier status, treating as pending", "status", status)
		kind = plugin.KindPending
	}
	extra := map[string]any{}
	if n.kashierOrderID != "" {
		extra["kashier_order_id"] = n.kashierOrderID
	}
	return &plugin.Outcome{
		Kind:          kind,
		OrderCode:     code,
		TransactionID: n.transactionID,
		StatusLabel:   strings.ToLower(status),
		Message:       n.message,
		Extra:         extra,
	}, nil
}

func (p *Plugin) correlate(ctx context.Context, n notification) (string, error) {
	if n.merchantOrderID != "" {
		return n.merchantOrderID, nil
	}
	if p.deps.Orders != nil {
		for _, remote := range []string{n.transactionID, n.kashierOrderID} {
			if remote == "" {
				continue
			}
			o, err := p.deps.Orders.FindByRemoteID(ctx, p.deps.ProviderKey, remote)
			if err == nil {
				return o.Code, nil
			}
			if errors.IsType(err, errors.ErrorTypeCorrelation) {
				return "", err
			}
		}
	}
	return "", plugin.ErrUnresolvedOrder(Driver)
}

func (p *Plugin) SupportsRefunds() bool {
	return true
}

func (p *Plugin) apiURL(ctx context.Context) string {
	if u := p.deps.Settings.Get(ctx, settingAPIURL, ""); u != "" {
		return u
	}
	if plugin.ActiveMode(ctx, p.deps.Settings) == plugin.ModeTest {
		return DefaultTestAPIURL
	}
	return DefaultAPIURL
}

func (p *Plugin) Refund(ctx context.Context, o *order.Order, amount decimal.Decimal) (*plugin.RefundOutcome, error) {
	kashierOrderID := o.MetadataString("kashier_order_id")
	if kashierOrderID == "" {
		return nil, errors.NewValidationError("kashier: order has no remote order to refund", errors.ErrCodeInvalidOrderStatus)
	}
	secretKey := p.setting(ctx, settingSecretKey)
	if secretKey == "" {
		return nil, errors.NewConfigurationError("kashier: secret key is required for refunds", errors.ErrCodeInvalidConfiguration)
	}

	gw := plugin.NewGateway(Driver, p.apiURL(ctx), p.deps.HTTPClient, p.logger)
	header := http.Header{}
	header.Set("Authorization", secretKey)
	req := map[string]any{
		"apiOperation": "REFUND",
		"reason":       "merchant refund",
		"transaction": map[string]any{
			"amount": amount.StringFixed(2),
		},
	}
	var resp struct {
		Status   string `json:"status"`
		Response struct {
			TransactionID string `json:"transactionId"`
			Status        string `json:"status"`
			Message       string `json:"transactionResponseMessage"`
		} `json:"response"`
	}
	if err := gw.JSON(ctx, http.MethodPut, "/orders/"+url.PathEscape(kashierOrderID)+"/", header, req, &resp); err != nil {
		return nil, err
	}
	return &plugin.RefundOutcome{
		Success:       strings.EqualFold(resp.Status, "SUCCESS"),
		Amount:        amount,
		RefundID:      resp.Response.TransactionID,
		TransactionID: o.MetadataString("transaction_id"),
		Message:       resp.Response.Message,
	}, nil
}
