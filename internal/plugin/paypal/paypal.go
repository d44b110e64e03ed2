// Package paypal integrates PayPal Checkout orders. Every notification is
// verified by reading the order back from PayPal with a client-credentials
// bearer token, so nothing the caller sends is trusted.
package paypal

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	Driver = "paypal"

	DefaultAPIURL = "https://api-m.paypal.com"
	SandboxAPIURL = "https://api-m.sandbox.paypal.com"

	settingClientID     = "client_id"
	settingClientSecret = "client_secret"
	settingAPIURL       = "api_url"

	cancelParam = "cancelled"
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
		Name:        "PayPal",
		Description: "PayPal Checkout with server-side capture",
		Version:     "1.0",
	}
}

func (p *Plugin) ConfigurationSchema() []plugin.Field {
	return []plugin.Field{
		{Key: plugin.TestModeKey, Label: "Sandbox", Type: plugin.FieldCheckbox},
		{Key: settingClientID, Label: "Client ID", Type: plugin.FieldText, Required: true, Mode: plugin.ModeLive},
		{Key: settingClientSecret, Label: "Client secret", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeLive},
		{Key: "test_" + settingClientID, Label: "Sandbox client ID", Type: plugin.FieldText, Required: true, Mode: plugin.ModeTest},
		{Key: "test_" + settingClientSecret, Label: "Sandbox client secret", Type: plugin.FieldPassword, Required: true, Mode: plugin.ModeTest},
		{Key: settingAPIURL, Label: "API url", Type: plugin.FieldText},
	}
}

func (p *Plugin) ValidateConfiguration(ctx context.Context) bool {
	return plugin.RequiredFieldsPresent(ctx, p.deps.Settings, p.ConfigurationSchema())
}

func (p *Plugin) setting(ctx context.Context, key string) string {
	return p.deps.Settings.Get(ctx, plugin.ActiveKey(ctx, p.deps.Settings, key), "")
}

func (p *Plugin) apiURL(ctx context.Context) string {
	if u := p.deps.Settings.Get(ctx, settingAPIURL, ""); u != "" {
		return strings.TrimRight(u, "/")
	}
	if plugin.ActiveMode(ctx, p.deps.Settings) == plugin.ModeTest {
		return SandboxAPIURL
	}
	return DefaultAPIURL
}

// gateway returns a gateway whose client attaches a bearer token obtained
// with the client-credentials grant.
func (p *Plugin) gateway(ctx context.Context) *plugin.Gateway {
	base := p.apiURL(ctx)
	cfg := clientcredentials.Config{
		ClientID:     p.setting(ctx, settingClientID),
		ClientSecret: p.setting(ctx, settingClientSecret),
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	hc := p.deps.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	client := cfg.Client(context.WithValue(ctx, oauth2.HTTPClient, hc))
	client.Timeout = hc.Timeout
	return plugin.NewGateway(Driver, base, client, p.logger)
}

// classify hides token endpoint details, which can echo credentials.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		return errors.NewProviderCommunicationError("paypal rejected the client credentials", errors.ErrCodeProviderRejected, nil)
	}
	return err
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []capture `json:"captures"`
	} `json:"payments"`
}

type checkoutOrder struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []link         `json:"links"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

func (o *checkoutOrder) approveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

func (o *checkoutOrder) customID() string {
	if len(o.PurchaseUnits) == 0 {
		return ""
	}
	return o.PurchaseUnits[0].CustomID
}

func (o *checkoutOrder) capture() *capture {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

func (p *Plugin) returnURL(code string, cancelled bool) string {
	q := url.Values{}
	q.Set("order_code", code)
	if cancelled {
		q.Set(cancelParam, "1")
	}
	return p.deps.CallbackURL + "?" + q.Encode()
}

func (p *Plugin) Initiate(ctx context.Context, o *order.Order) (*plugin.InitiationResult, error) {
	gw := p.gateway(ctx)

	var remote checkoutOrder
	if o.RemoteID != "" {
		if err := gw.JSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(o.RemoteID), nil, nil, &remote); err != nil {
			return nil, classify(err)
		}
	} else {
		req := map[string]any{
			"intent": "CAPTURE",
			"purchase_units": []map[string]any{{
				"reference_id": o.Code,
				"custom_id":    o.Code,
				"description":  o.Description,
				"amount": map[string]string{
					"currency_code": o.Currency,
					"value":         o.AmountString(),
				},
			}},
			"application_context": map[string]string{
				"return_url":  p.returnURL(o.Code, false),
				"cancel_url":  p.returnURL(o.Code, true),
				"user_action": "PAY_NOW",
			},
		}
		header := http.Header{}
		header.Set("PayPal-Request-Id", o.Code)
		if err := gw.JSON(ctx, http.MethodPost, "/v2/checkout/orders", header, req, &remote); err != nil {
			return nil, classify(err)
		}
	}

	approve := remote.approveURL()
	if approve == "" {
		return nil, errors.NewProviderCommunicationError("paypal returned no approval link", errors.ErrCodeProviderRejected, nil)
	}
	return &plugin.InitiationResult{
		RedirectURL: approve,
		RemoteID:    remote.ID,
		Metadata:    map[string]any{"paypal_order_id": remote.ID},
	}, nil
}

type webhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (p *Plugin) remoteOrderID(cb plugin.Callback) string {
	if cb.IsWebhook() {
		var ev webhookEvent
		if err := cb.JSON(&ev); err != nil {
			return ""
		}
		if id := ev.Resource.SupplementaryData.RelatedIDs.OrderID; id != "" {
			return id
		}
		if strings.HasPrefix(ev.EventType, "CHECKOUT.ORDER.") {
			return ev.Resource.ID
		}
		return ""
	}
	return cb.Param("token")
}

func (p *Plugin) Reconcile(ctx context.Context, cb plugin.Callback) (*plugin.Outcome, error) {
	id := p.remoteOrderID(cb)
	if id == "" {
		return nil, errors.NewAuthenticationError("paypal: callback cannot be verified", errors.ErrCodeUnverifiable)
	}
	cancelled := cb.Param(cancelParam) == "1"

	gw := p.gateway(ctx)
	var remote checkoutOrder
	if err := gw.JSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), nil, nil, &remote); err != nil {
		if se, ok := plugin.AsStatusError(err); ok && se.StatusCode == http.StatusNotFound {
			return nil, errors.NewAuthenticationError("paypal: order is unknown to paypal", errors.ErrCodeUnverifiable)
		}
		return nil, classify(err)
	}

	// PayPal's own status wins over the cancel flag on the return url: an
	// approved order is captured even if the customer reached the cancel page.
	if remote.Status == "APPROVED" {
		var captured checkoutOrder
		header := http.Header{}
		header.Set("PayPal-Request-Id", "capture-"+remote.ID)
		if err := gw.JSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(remote.ID)+"/capture", header, map[string]any{}, &captured); err != nil {
			return nil, classify(err)
		}
		if captured.ID != "" {
			remote.Status = captured.Status
			if len(captured.PurchaseUnits) > 0 {
				remote.PurchaseUnits = mergeUnits(remote.PurchaseUnits, captured.PurchaseUnits)
			}
		}
	}

	code, err := p.correlate(ctx, &remote)
	if err != nil {
		return nil, err
	}

	out := &plugin.Outcome{
		Kind:        mapStatus(&remote, cancelled),
		OrderCode:   code,
		StatusLabel: strings.ToLower(remote.Status),
		Extra:       map[string]any{"paypal_order_id": remote.ID},
	}
	if c := remote.capture(); c != nil {
		out.TransactionID = c.ID
		out.Extra["paypal_capture_id"] = c.ID
		out.Extra["paypal_capture_status"] = strings.ToLower(c.Status)
	}
	return out, nil
}

// mergeUnits keeps custom ids from the read while taking captures from the capture call.
func mergeUnits(read, captured []purchaseUnit) []purchaseUnit {
	out := make([]purchaseUnit, len(captured))
	copy(out, captured)
	for i := range out {
		if out[i].CustomID == "" && i < len(read) {
			out[i].CustomID = read[i].CustomID
		}
	}
	return out
}

func (p *Plugin) correlate(ctx context.Context, remote *checkoutOrder) (string, error) {
	if code := remote.customID(); code != "" {
		return code, nil
	}
	if p.deps.Orders != nil {
		o, err := p.deps.Orders.FindByRemoteID(ctx, p.deps.ProviderKey, remote.ID)
		if err == nil {
			return o.Code, nil
		}
		if errors.IsType(err, errors.ErrorTypeCorrelation) {
			return "", err
		}
	}
	return "", plugin.ErrUnresolvedOrder(Driver)
}

func mapStatus(remote *checkoutOrder, cancelled bool) plugin.Kind {
	switch remote.Status {
	case "COMPLETED":
		c := remote.capture()
		if c == nil {
			return plugin.KindSuccess
		}
		switch c.Status {
		case "COMPLETED":
			return plugin.KindSuccess
		case "DECLINED", "FAILED":
			return plugin.KindFailure
		}
		return plugin.KindPending
	case "VOIDED":
		return plugin.KindFailure
	case "CREATED", "PAYER_ACTION_REQUIRED", "SAVED":
		if cancelled {
			return plugin.KindCancelled
		}
	}
	return plugin.KindPending
}

func (p *Plugin) SupportsRefunds() bool {
	return true
}

func (p *Plugin) Refund(ctx context.Context, o *order.Order, amount decimal.Decimal) (*plugin.RefundOutcome, error) {
	captureID := o.MetadataString("paypal_capture_id")
	if captureID == "" {
		captureID = o.MetadataString("transaction_id")
	}
	if captureID == "" {
		return nil, errors.NewValidationError("paypal: order has no capture to refund", errors.ErrCodeInvalidOrderStatus)
	}

	req := map[string]any{
		"amount": map[string]string{
			"value":         amount.StringFixed(2),
			"currency_code": o.Currency,
		},
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.gateway(ctx).JSON(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", nil, req, &resp); err != nil {
		return nil, classify(err)
	}
	return &plugin.RefundOutcome{
		Success:       resp.Status == "COMPLETED" || resp.Status == "PENDING",
		Amount:        amount,
		RefundID:      resp.ID,
		TransactionID: captureID,
		Message:       strings.ToLower(resp.Status),
	}, nil
}
