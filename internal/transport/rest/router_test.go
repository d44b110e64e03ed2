package rest_test

import (
	"context"
	stdErrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/auth"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/transport/rest"
)

type stubOrders struct{}

func (stubOrders) Create(_ context.Context, dto order.CreateOrderDTO) (*order.Order, error) {
	return order.NewOrder(dto, time.Now()), nil
}

func (stubOrders) Get(context.Context, string) (*order.Order, error) {
	return nil, errors.ErrOrderNotFound
}

type stubRefunds struct{}

func (stubRefunds) Refund(context.Context, string, *decimal.Decimal) (*plugin.RefundOutcome, error) {
	return &plugin.RefundOutcome{Unsupported: true}, nil
}

var _ = Describe("RegisterAllRoutes", func() {
	var (
		router    *chi.Mux
		tokens    *auth.Service
		reg       *prometheus.Registry
		redisDown bool
	)

	serve := func(method, target, body, token string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, target, reader)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	issue := func(scopes ...string) string {
		t, err := tokens.IssueToken("tester", scopes, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())

		lg := slog.New(slog.NewTextHandler(io.Discard, nil))
		tokens = auth.NewService(auth.NewJWTTokenGenerator("an-admin-jwt-secret-of-32-characters!", "test"))
		reg = prometheus.NewRegistry()
		router = chi.NewRouter()
		redisDown = false
		rest.RegisterAllRoutes(router, rest.Handlers{
			Orders:        order.NewHandler(stubOrders{}, lg),
			Refunds:       refund.NewHandler(stubRefunds{}, lg),
			Tokens:        tokens,
			Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			AllowedOrigin: "*",
			HealthChecks: map[string]rest.Check{
				"postgres": sqlDB.PingContext,
				"redis": func(context.Context) error {
					if redisDown {
						return stdErrors.New("dial tcp 10.0.0.7:6379: connection refused")
					}
					return nil
				},
			},
		}, lg)
	})

	It("serves health and ping", func() {
		Expect(serve(http.MethodGet, "/api/v1/ping", "", "").Code).To(Equal(http.StatusOK))
		rec := serve(http.MethodGet, "/api/v1/health", "", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"healthy"`))
		Expect(rec.Body.String()).To(ContainSubstring(`"redis"`))
	})

	It("reports a failing dependency without its error", func() {
		redisDown = true
		rec := serve(http.MethodGet, "/api/v1/health", "", "")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring("redis unreachable"))
		Expect(rec.Body.String()).NotTo(ContainSubstring("10.0.0.7"))
	})

	It("exposes metrics", func() {
		Expect(serve(http.MethodGet, "/metrics", "", "").Code).To(Equal(http.StatusOK))
	})

	It("requires orders:write to create orders", func() {
		body := `{"amount":"100.00","currency":"USD"}`
		Expect(serve(http.MethodPost, "/api/v1/orders", body, "").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(http.MethodPost, "/api/v1/orders", body, issue(auth.ScopePaymentsAdmin)).Code).To(Equal(http.StatusForbidden))
		Expect(serve(http.MethodPost, "/api/v1/orders", body, issue(auth.ScopeOrdersWrite)).Code).To(Equal(http.StatusCreated))
	})

	It("reads orders without a token", func() {
		Expect(serve(http.MethodGet, "/api/v1/orders/unknown", "", "").Code).To(Equal(http.StatusNotFound))
	})

	It("requires payments:admin for refunds", func() {
		target := "/api/v1/admin/orders/abc/refund"
		Expect(serve(http.MethodPost, target, "", "").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(http.MethodPost, target, "", issue(auth.ScopeOrdersWrite)).Code).To(Equal(http.StatusForbidden))
		Expect(serve(http.MethodPost, target, "", issue(auth.ScopePaymentsAdmin)).Code).To(Equal(http.StatusOK))
	})
})
