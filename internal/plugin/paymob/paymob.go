// Package paymob integrates the Paymob Accept hosted iframe.
package paymob

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	Driver = "paymob"

	DefaultBaseURL = "https://accept.paymob.com"

	settingAPIKey        = "api_key"
	settingIntegrationID = "integration_id"
	settingIframeID      = "iframe_id"
	settingHMACSecret    = "hmac_secret"
	settingBaseURL       = "base_url"

	// referenceSeparator splits a regenerated merchant reference from the order code.
	referenceSeparator = "-R"
)

// hmacFields is the ordered field list Paymob signs.
var hmacFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
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
		Name:        "Paymob",
		Description: "Cards and wallets through the Paymob Accept iframe",
		Version:     "1.0",
	}
}

func (p *Plugin) ConfigurationSchema() []plugin.Field {
	return []plugin.Field{
		{Key: plugin.TestModeKey, Label: "Test mode", Type: plugin.FieldCheckbox},
		{Key: settingAPIKey, Label: "API key", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeLive},
		{Key: settingIntegrationID, Label: "Integration ID", Type: plugin.FieldNumber, Required: true, Mode: plugin.ModeLive},
		{Key: settingIframeID, Label: "Iframe ID", Type: plugin.FieldNumber, Required: true, Mode: plugin.ModeLive},
		{Key: settingHMACSecret, Label: "HMAC secret", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeLive},
		{Key: "test_" + settingAPIKey, Label: "Test API key", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeTest},
		{Key: "test_" + settingIntegrationID, Label: "Test integration ID", Type: plugin.FieldNumber, Required: true, Mode: plugin.ModeTest},
		{Key: "test_" + settingIframeID, Label: "Test iframe ID", Type: plugin.FieldNumber, Required: true, Mode: plugin.ModeTest},
		{Key: "test_" + settingHMACSecret, Label: "Test HMAC secret", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeTest},
		{Key: settingBaseURL, Label: "API base url", Type: plugin.FieldText, Default: DefaultBaseURL},
	}
}

func (p *Plugin) ValidateConfiguration(ctx context.Context) bool {
	return plugin.RequiredFieldsPresent(ctx, p.deps.Settings, p.ConfigurationSchema())
}

func (p *Plugin) setting(ctx context.Context, key string) string {
	return p.deps.Settings.Get(ctx, plugin.ActiveKey(ctx, p.deps.Settings, key), "")
}

func (p *Plugin) gateway(ctx context.Context) *plugin.Gateway {
	base := p.deps.Settings.Get(ctx, settingBaseURL, DefaultBaseURL)
	return plugin.NewGateway(Driver, base, p.deps.HTTPClient, p.logger)
}

func (p *Plugin) authenticate(ctx context.Context, gw *plugin.Gateway) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := gw.JSON(ctx, http.MethodPost, "/api/auth/tokens", nil, map[string]string{"api_key": p.setting(ctx, settingAPIKey)}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.NewProviderCommunicationError("paymob returned no auth token", errors.ErrCodeProviderRejected, nil)
	}
	return resp.Token, nil
}

type remoteOrder struct {
	ID int64 `json:"id"`
}

func (p *Plugin) createOrder(ctx context.Context, gw *plugin.Gateway, token, reference string, o *order.Order) (int64, error) {
	req := map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      o.MinorUnits(),
		"currency":          o.Currency,
		"merchant_order_id": reference,
		"items":             []any{},
	}
	var resp remoteOrder
	if err := gw.JSON(ctx, http.MethodPost, "/api/ecommerce/orders", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func isDuplicate(err error) bool {
	se, ok := plugin.AsStatusError(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(string(se.Body())), "duplicate")
}

// Reference makes a merchant reference unique after Paymob rejected a duplicate.
func Reference(code string) string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return code + referenceSeparator + strings.ToUpper(hex.EncodeToString(b))
}

// OrderCode strips a regenerated suffix from a merchant reference.
func OrderCode(reference string) string {
	if i := strings.LastIndex(reference, referenceSeparator); i > 0 {
		return reference[:i]
	}
	return reference
}

func (p *Plugin) Initiate(ctx context.Context, o *order.Order) (*plugin.InitiationResult, error) {
	gw := p.gateway(ctx)
	token, err := p.authenticate(ctx, gw)
	if err != nil {
		return nil, err
	}

	reference := o.Code
	remoteID := o.RemoteID
	if remoteID == "" {
		id, err := p.createOrder(ctx, gw, token, reference, o)
		if err != nil && isDuplicate(err) {
			reference = Reference(o.Code)
			p.logger.Info("paymob rejected duplicate merchant reference, retrying once", "order_code", o.Code)
			id, err = p.createOrder(ctx, gw, token, reference, o)
		}
		if err != nil {
			return nil, err
		}
		remoteID = strconv.FormatInt(id, 10)
	}

	integrationID, _ := strconv.ParseInt(p.setting(ctx, settingIntegrationID), 10, 64)
	keyReq := map[string]any{
		"auth_token":     token,
		"amount_cents":   o.MinorUnits(),
		"expiration":     3600,
		"order_id":       remoteID,
		"currency":       o.Currency,
		"integration_id": integrationID,
		"billing_data":   billingData(o),
	}
	var keyResp struct {
		Token string `json:"token"`
	}
	if err := gw.JSON(ctx, http.MethodPost, "/api/acceptance/payment_keys", nil, keyReq, &keyResp); err != nil {
		return nil, err
	}

	redirect := fmt.Sprintf("%s/api/acceptance/iframes/%s?payment_token=%s",
		gw.BaseURL(), url.PathEscape(p.setting(ctx, settingIframeID)), url.QueryEscape(keyResp.Token))

	return &plugin.InitiationResult{
		RedirectURL: redirect,
		RemoteID:    remoteID,
		Metadata: map[string]any{
			"paymob_order_id":          remoteID,
			"paymob_merchant_order_id": reference,
		},
	}, nil
}

func billingData(o *order.Order) map[string]string {
	first, last := splitName(o.CustomerName)
	na := func(v string) string {
		if v == "" {
			return "NA"
		}
		return v
	}
	return map[string]string{
		"first_name":   na(first),
		"last_name":    na(last),
		"email":        na(o.CustomerEmail),
		"phone_number": na(o.CustomerPhone),
		"apartment":    "NA",
		"floor":        "NA",
		"street":       "NA",
		"building":     "NA",
		"city":         "NA",
		"country":      "NA",
		"state":        "NA",
	}
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

type webhook struct {
	Type string         `json:"type"`
	Obj  map[string]any `json:"obj"`
}

// flatten turns nested objects into dotted keys with Paymob's value formatting.
func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		case bool:
			out[key] = strconv.FormatBool(val)
		case json.Number:
			out[key] = val.String()
		case string:
			out[key] = val
		default:
			b, _ := json.Marshal(val)
			out[key] = string(b)
		}
	}
}

func signatureBase(fields map[string]string) string {
	var b strings.Builder
	for _, k := range hmacFields {
		b.WriteString(fields[k])
	}
	return b.String()
}

// Sign computes the Paymob transaction HMAC over flattened fields.
func Sign(secret string, fields map[string]string) string {
	return plugin.SignHMAC(sha512.New, secret, signatureBase(fields))
}

func (p *Plugin) Reconcile(ctx context.Context, cb plugin.Callback) (*plugin.Outcome, error) {
	fields := map[string]string{}
	if cb.IsWebhook() {
		var w webhook
		dec := json.NewDecoder(strings.NewReader(string(cb.Body)))
		dec.UseNumber()
		if err := dec.Decode(&w); err != nil || w.Obj == nil {
			return nil, plugin.ErrInvalidSignature(Driver)
		}
		flatten("", w.Obj, fields)
	} else {
		for k, v := range cb.Params() {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		// the redirect flattens order.id to order
		if _, ok := fields["order.id"]; !ok {
			fields["order.id"] = fields["order"]
		}
	}

	secret := p.setting(ctx, settingHMACSecret)
	if secret == "" || !plugin.EqualSignature(Sign(secret, fields), cb.Param("hmac")) {
		return nil, plugin.ErrInvalidSignature(Driver)
	}

	code, err := p.correlate(ctx, fields)
	if err != nil {
		return nil, err
	}

	out := &plugin.Outcome{
		Kind:          mapStatus(fields),
		OrderCode:     code,
		TransactionID: fields["id"],
		StatusLabel:   statusLabel(fields),
		Message:       firstNonEmpty(fields["data.message"], fields["txn_response_code"]),
		Extra: map[string]any{
			"paymob_order_id": fields["order.id"],
		},
	}
	return out, nil
}

func (p *Plugin) correlate(ctx context.Context, fields map[string]string) (string, error) {
	reference := firstNonEmpty(fields["order.merchant_order_id"], fields["merchant_order_id"])
	if reference != "" {
		return OrderCode(reference), nil
	}
	remote := fields["order.id"]
	if remote == "" || p.deps.Orders == nil {
		return "", plugin.ErrUnresolvedOrder(Driver)
	}
	o, err := p.deps.Orders.FindByRemoteID(ctx, p.deps.ProviderKey, remote)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Type == errors.ErrorTypeCorrelation {
			return "", err
		}
		return "", plugin.ErrUnresolvedOrder(Driver)
	}
	return o.Code, nil
}

func mapStatus(fields map[string]string) plugin.Kind {
	switch {
	case fields["pending"] == "true":
		return plugin.KindPending
	case fields["success"] == "true" && fields["is_voided"] != "true" && fields["is_refunded"] != "true":
		return plugin.KindSuccess
	default:
		return plugin.KindFailure
	}
}

func statusLabel(fields map[string]string) string {
	switch mapStatus(fields) {
	case plugin.KindPending:
		return "pending"
	case plugin.KindSuccess:
		return "success"
	}
	return "declined"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *Plugin) SupportsRefunds() bool {
	return true
}

func (p *Plugin) Refund(ctx context.Context, o *order.Order, amount decimal.Decimal) (*plugin.RefundOutcome, error) {
	txn := o.MetadataString("transaction_id")
	if txn == "" {
		return nil, errors.NewValidationError("paymob: order has no transaction to refund", errors.ErrCodeInvalidOrderStatus)
	}
	gw := p.gateway(ctx)
	token, err := p.authenticate(ctx, gw)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"auth_token":     token,
		"transaction_id": txn,
		"amount_cents":   amount.Shift(2).Round(0).IntPart(),
	}
	var resp struct {
		ID      json.Number `json:"id"`
		Success bool        `json:"success"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := gw.JSON(ctx, http.MethodPost, "/api/acceptance/void_refund/refund", nil, req, &resp); err != nil {
		return nil, err
	}
	return &plugin.RefundOutcome{
		Success:       resp.Success,
		Amount:        amount,
		RefundID:      resp.ID.String(),
		TransactionID: txn,
		Message:       resp.Data.Message,
	}, nil
}
