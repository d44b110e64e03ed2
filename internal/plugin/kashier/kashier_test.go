package kashier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/kashier"
)

type lookup map[string]*order.Order

func (l lookup) GetByCode(context.Context, string) (*order.Order, error) {
	return nil, errors.ErrOrderNotFound
}

func (l lookup) FindByRemoteID(_ context.Context, _, remoteID string) (*order.Order, error) {
	if o, ok := l[remoteID]; ok {
		return o, nil
	}
	return nil, errors.ErrOrderNotFound
}

func signedWebhook(apiKey string, data map[string]any) plugin.Callback {
	keys := []string{}
	for k := range data {
		keys = append(keys, k)
	}
	sig := kashier.WebhookSignature(apiKey, data, keys)
	data["signatureKeys"] = keys
	body, _ := json.Marshal(map[string]any{"event": "pay", "data": data})
	req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(kashier.SignatureHeader, sig)
	cb, err := plugin.NewCallback(req)
	Expect(err).NotTo(HaveOccurred())
	return cb
}

func signedRedirect(apiKey string, params url.Values) plugin.Callback {
	params.Set("signature", kashier.RedirectSignature(apiKey, params))
	params.Set("mode", "live")
	cb, err := plugin.NewCallback(httptest.NewRequest(http.MethodGet, "/cb?"+params.Encode(), nil))
	Expect(err).NotTo(HaveOccurred())
	return cb
}

var _ = Describe("Kashier plugin", func() {
	var (
		ctx      context.Context
		settings plugin.MapSettings
		orders   lookup
		p        plugin.Plugin
		o        *order.Order
	)

	BeforeEach(func() {
		ctx = context.Background()
		settings = plugin.MapSettings{
			"merchant_id":  "MID-1",
			"api_key":      "live-api",
			"secret_key":   "live-secret",
			"checkout_url": "https://checkout.example",
		}
		orders = lookup{}
		var err error
		p, err = kashier.New(plugin.Dependencies{
			ProviderKey: "kashier",
			Settings:    settings,
			Orders:      orders,
			CallbackURL: "https://shop.test/api/v1/callbacks/kashier",
		})
		Expect(err).NotTo(HaveOccurred())
		o = &order.Order{Code: "ord-1", Amount: decimal.RequireFromString("25.5"), Currency: "EGP"}
	})

	It("builds a signed hosted page url", func() {
		res, err := p.Initiate(ctx, o)
		Expect(err).NotTo(HaveOccurred())
		u, err := url.Parse(res.RedirectURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Host).To(Equal("checkout.example"))
		q := u.Query()
		Expect(q.Get("amount")).To(Equal("25.50"))
		Expect(q.Get("mode")).To(Equal("live"))
		Expect(q.Get("hash")).To(Equal(kashier.OrderHash("live-api", "MID-1", "ord-1", "25.50", "EGP")))
		Expect(res.RedirectURL).NotTo(ContainSubstring("live-secret"))
	})

	It("reconciles a signed redirect", func() {
		out, err := p.Reconcile(ctx, signedRedirect("live-api", url.Values{
			"merchantOrderId": {"ord-1"},
			"orderId":         {"K-9"},
			"transactionId":   {"T-1"},
			"paymentStatus":   {"SUCCESS"},
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Kind).To(Equal(plugin.KindSuccess))
		Expect(out.OrderCode).To(Equal("ord-1"))
		Expect(out.TransactionID).To(Equal("T-1"))
		Expect(out.Extra).To(HaveKeyWithValue("kashier_order_id", "K-9"))
	})

	It("rejects an unsigned redirect", func() {
		cb, _ := plugin.NewCallback(httptest.NewRequest(http.MethodGet, "/cb?merchantOrderId=ord-1&paymentStatus=SUCCESS&signature=00", nil))
		_, err := p.Reconcile(ctx, cb)
		Expect(errors.IsType(err, errors.ErrorTypeAuthentication)).To(BeTrue())
	})

	It("reconciles a signed webhook", func() {
		out, err := p.Reconcile(ctx, signedWebhook("live-api", map[string]any{
			"merchantOrderId": "ord-1",
			"kashierOrderId":  "K-9",
			"transactionId":   "T-1",
			"status":          "FAILURE",
			"amount":          25.5,
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Kind).To(Equal(plugin.KindFailure))
	})

	It("correlates through the remote order id", func() {
		orders["K-9"] = &order.Order{Code: "ord-5"}
		out, err := p.Reconcile(ctx, signedWebhook("live-api", map[string]any{
			"kashierOrderId": "K-9",
			"status":         "CANCELLED",
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.OrderCode).To(Equal("ord-5"))
		Expect(out.Kind).To(Equal(plugin.KindCancelled))
	})

	It("treats unknown statuses as pending", func() {
		out, err := p.Reconcile(ctx, signedWebhook("live-api", map[string]any{
			"merchantOrderId": "ord-1",
			"status":          "ON_HOLD",
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Kind).To(Equal(plugin.KindPending))
	})

	It("rejects a webhook whose signature leaves the status unsigned", func() {
		data := map[string]any{"amount": "25.50"}
		sig := kashier.WebhookSignature("live-api", data, []string{"amount"})
		body, _ := json.Marshal(map[string]any{"event": "pay", "data": map[string]any{
			"amount":          "25.50",
			"signatureKeys":   []string{"amount"},
			"status":          "SUCCESS",
			"merchantOrderId": "someone-elses-order",
		}})
		req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(kashier.SignatureHeader, sig)
		cb, err := plugin.NewCallback(req)
		Expect(err).NotTo(HaveOccurred())

		out, err := p.Reconcile(ctx, cb)
		Expect(out).To(BeNil())
		Expect(errors.IsType(err, errors.ErrorTypeAuthentication)).To(BeTrue())
	})

	It("rejects a webhook whose signature leaves the order reference unsigned", func() {
		data := map[string]any{"status": "SUCCESS"}
		sig := kashier.WebhookSignature("live-api", data, []string{"status"})
		body, _ := json.Marshal(map[string]any{"event": "pay", "data": map[string]any{
			"status":          "SUCCESS",
			"signatureKeys":   []string{"status"},
			"merchantOrderId": "someone-elses-order",
		}})
		req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(kashier.SignatureHeader, sig)
		cb, err := plugin.NewCallback(req)
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Reconcile(ctx, cb)
		Expect(errors.IsType(err, errors.ErrorTypeAuthentication)).To(BeTrue())
	})

	It("fails correlation when nothing identifies the order", func() {
		_, err := p.Reconcile(ctx, signedWebhook("live-api", map[string]any{"status": "SUCCESS"}))
		Expect(errors.IsType(err, errors.ErrorTypeCorrelation)).To(BeTrue())
	})

	It("refunds through the order api", func() {
		var auth, path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			path = r.URL.Path
			_, _ = w.Write([]byte(`{"status":"SUCCESS","response":{"transactionId":"RF-1"}}`))
		}))
		defer srv.Close()
		settings["api_url"] = srv.URL

		o.Metadata = map[string]any{"kashier_order_id": "K-9"}
		res, err := p.Refund(ctx, o, decimal.NewFromInt(5))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		Expect(res.RefundID).To(Equal("RF-1"))
		Expect(auth).To(Equal("live-secret"))
		Expect(path).To(Equal("/orders/K-9/"))
	})
})
