package offline_test

import (
	"context"
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
	"github.com/frahmantamala/payment-orchestration/internal/plugin/offline"
)

func confirm(values url.Values) plugin.Callback {
	req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	cb, err := plugin.NewCallback(req)
	Expect(err).NotTo(HaveOccurred())
	return cb
}

var _ = Describe("Offline plugin", func() {
	var (
		ctx      context.Context
		settings plugin.MapSettings
		p        plugin.Plugin
	)

	BeforeEach(func() {
		ctx = context.Background()
		settings = plugin.MapSettings{"confirmation_token": "tok", "instructions": "Transfer to IBAN X"}
		var err error
		p, err = offline.New(plugin.Dependencies{ProviderKey: "cod", Settings: settings})
		Expect(err).NotTo(HaveOccurred())
	})

	It("needs a confirmation token", func() {
		Expect(p.ValidateConfiguration(ctx)).To(BeTrue())
		delete(settings, "confirmation_token")
		Expect(p.ValidateConfiguration(ctx)).To(BeFalse())
	})

	It("returns an inline form instead of a redirect", func() {
		res, err := p.Initiate(ctx, &order.Order{Code: "ord-7"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.RedirectURL).To(BeEmpty())
		Expect(res.Form).NotTo(BeNil())
		Expect(res.Form.Instructions).To(Equal("Transfer to IBAN X"))
		Expect(res.Form.Fields[0].Default).To(Equal("ord-7"))
	})

	DescribeTable("maps staff statuses",
		func(status string, kind plugin.Kind) {
			out, err := p.Reconcile(ctx, confirm(url.Values{"order_code": {"ord-7"}, "status": {status}, "token": {"tok"}}))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(kind))
		},
		Entry("paid", "paid", plugin.KindSuccess),
		Entry("received", "RECEIVED", plugin.KindSuccess),
		Entry("rejected", "rejected", plugin.KindFailure),
		Entry("cancelled", "cancelled", plugin.KindCancelled),
		Entry("awaiting", "awaiting", plugin.KindPending),
		Entry("unknown", "lost", plugin.KindPending),
	)

	It("rejects a wrong token", func() {
		_, err := p.Reconcile(ctx, confirm(url.Values{"order_code": {"ord-7"}, "status": {"paid"}, "token": {"nope"}}))
		Expect(errors.IsType(err, errors.ErrorTypeAuthentication)).To(BeTrue())
	})

	It("does not refund", func() {
		Expect(p.SupportsRefunds()).To(BeFalse())
		_, err := p.Refund(ctx, &order.Order{Code: "ord-7"}, decimal.NewFromInt(1))
		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(errors.ErrCodeRefundUnsupported))
	})
})
