package refund_test

import (
	"context"
	"encoding/json"
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
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	methodDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/method"
	orderDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/order"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	methodPostgres "github.com/frahmantamala/payment-orchestration/internal/method/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	orderPostgres "github.com/frahmantamala/payment-orchestration/internal/order/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/builtin"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/secret"
	secretPostgres "github.com/frahmantamala/payment-orchestration/internal/secret/postgres"
)

var _ = Describe("Coordinator", func() {
	var (
		ctx         context.Context
		orders      *orderPostgres.OrderRepository
		methods     *method.Service
		m           *metrics.Metrics
		coordinator *refund.Coordinator
	)

	completedOrder := func(provider string) *order.Order {
		now := time.Now()
		o := order.NewOrder(order.CreateOrderDTO{
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "USD",
		}, now)
		o.ProviderKey = provider
		o.Status = order.StatusCompleted
		o.PaidAt = &now
		o.Metadata = map[string]any{"transaction_id": "txn-1"}
		Expect(orders.Create(ctx, o)).To(Succeed())
		return o
	}

	amount := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	BeforeEach(func() {
		ctx = context.Background()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&orderDatamodel.PaymentOrder{}, &methodDatamodel.PaymentMethod{}, &methodDatamodel.PaymentMethodSetting{})).To(Succeed())

		slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
		orders = orderPostgres.NewOrderRepository(db)
		cipher, err := secret.NewCipher("refund-test-master-key-0123456789")
		Expect(err).NotTo(HaveOccurred())
		registry, err := builtin.NewRegistry()
		Expect(err).NotTo(HaveOccurred())
		methods = method.NewService(
			methodPostgres.NewMethodRepository(db),
			secret.NewStore(secretPostgres.NewSettingRepository(db), cipher, slogger),
			registry,
			method.RuntimeConfig{Orders: orders},
			slogger,
		)
		for _, dto := range []method.CreateMethodDTO{
			{Key: "dummy", Driver: "dummy", Name: "Dummy", Enabled: true},
			{Key: "cash", Driver: "offline", Name: "Cash", Enabled: true},
		} {
			_, err := methods.Create(ctx, dto)
			Expect(err).NotTo(HaveOccurred())
		}

		m = metrics.New(prometheus.NewRegistry())
		coordinator = refund.NewCoordinator(orders, methods, nil, m, 0, slogger)
	})

	It("refunds the full amount by default", func() {
		o := completedOrder("dummy")

		out, err := coordinator.Refund(ctx, o.Code, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Success).To(BeTrue())
		Expect(out.Amount.StringFixed(2)).To(Equal("100.00"))
		Expect(out.RefundID).To(HavePrefix("dummy-refund-"))

		stored, err := orders.GetByCode(ctx, o.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(order.StatusCompleted))
		Expect(stored.MetadataString("refunded_total")).To(Equal("100.00"))
		Expect(stored.Metadata["refunds"]).To(HaveLen(1))
		Expect(refund.Remaining(stored).IsZero()).To(BeTrue())
		Expect(testutil.ToFloat64(m.RefundsTotal.WithLabelValues("dummy", metrics.ResultOK))).To(Equal(1.0))
	})

	It("accumulates partial refunds up to the order amount", func() {
		o := completedOrder("dummy")

		_, err := coordinator.Refund(ctx, o.Code, amount("30.00"))
		Expect(err).NotTo(HaveOccurred())
		_, err = coordinator.Refund(ctx, o.Code, amount("50.25"))
		Expect(err).NotTo(HaveOccurred())

		_, err = coordinator.Refund(ctx, o.Code, amount("20.00"))
		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(errors.ErrCodeRefundExceeded))

		stored, err := orders.GetByCode(ctx, o.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.MetadataString("refunded_total")).To(Equal("80.25"))
		Expect(stored.Metadata["refunds"]).To(HaveLen(2))

		out, err := coordinator.Refund(ctx, o.Code, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Amount.StringFixed(2)).To(Equal("19.75"))
	})

	It("never lets a negative refunded total raise the refundable amount", func() {
		o := &order.Order{
			Amount:   decimal.RequireFromString("100.00"),
			Metadata: map[string]any{"refunded_total": "-50.00"},
		}
		Expect(refund.RefundedTotal(o).IsZero()).To(BeTrue())
		Expect(refund.Remaining(o).StringFixed(2)).To(Equal("100.00"))
	})

	It("rejects non-positive amounts and sub-cent precision", func() {
		o := completedOrder("dummy")
		for _, a := range []string{"0", "-5", "1.005"} {
			_, err := coordinator.Refund(ctx, o.Code, amount(a))
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue(), a)
		}
	})

	It("records a declined refund without counting it", func() {
		_, err := methods.PutSettings(ctx, "dummy", map[string]string{"refund_fails": "true"})
		Expect(err).NotTo(HaveOccurred())
		o := completedOrder("dummy")

		out, err := coordinator.Refund(ctx, o.Code, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Success).To(BeFalse())

		stored, err := orders.GetByCode(ctx, o.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.MetadataString("refunded_total")).To(BeEmpty())
		Expect(stored.Metadata["refunds"]).To(HaveLen(1))
	})

	It("reports providers without refund support", func() {
		o := completedOrder("cash")

		out, err := coordinator.Refund(ctx, o.Code, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Unsupported).To(BeTrue())

		stored, err := orders.GetByCode(ctx, o.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Metadata).NotTo(HaveKey("refunds"))
	})

	It("refuses orders that have not completed", func() {
		o := order.NewOrder(order.CreateOrderDTO{Amount: decimal.RequireFromString("10.00"), Currency: "USD"}, time.Now())
		Expect(orders.Create(ctx, o)).To(Succeed())

		_, err := coordinator.Refund(ctx, o.Code, nil)
		Expect(err).To(HaveOccurred())
		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(errors.ErrCodeInvalidOrderStatus))
	})

	It("returns not found for unknown orders", func() {
		_, err := coordinator.Refund(ctx, "missing", nil)
		Expect(err).To(MatchError(errors.ErrOrderNotFound))
	})

	Describe("Handler", func() {
		var router chi.Router

		BeforeEach(func() {
			h := refund.NewHandler(coordinator, nil)
			router = chi.NewRouter()
			router.Post("/admin/orders/{code}/refund", h.RefundOrder)
		})

		It("refunds the requested amount", func() {
			o := completedOrder("dummy")
			req := httptest.NewRequest(http.MethodPost, "/admin/orders/"+o.Code+"/refund", strings.NewReader(`{"amount":"25.00"}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var out plugin.RefundOutcome
			Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
			Expect(out.Success).To(BeTrue())
			Expect(out.Amount.StringFixed(2)).To(Equal("25.00"))
		})

		It("rejects an order that is not completed", func() {
			o := order.NewOrder(order.CreateOrderDTO{Amount: decimal.RequireFromString("10.00"), Currency: "USD"}, time.Now())
			Expect(orders.Create(ctx, o)).To(Succeed())
			req := httptest.NewRequest(http.MethodPost, "/admin/orders/"+o.Code+"/refund", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
