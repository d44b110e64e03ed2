package method_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	methodDatamodel "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/method"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	methodPostgres "github.com/frahmantamala/payment-orchestration/internal/method/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/builtin"
	"github.com/frahmantamala/payment-orchestration/internal/secret"
	secretPostgres "github.com/frahmantamala/payment-orchestration/internal/secret/postgres"
)

func newService() (*method.Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	Expect(err).NotTo(HaveOccurred())
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	Expect(db.AutoMigrate(&methodDatamodel.PaymentMethod{}, &methodDatamodel.PaymentMethodSetting{})).To(Succeed())

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cipher, err := secret.NewCipher("0123456789abcdef0123456789abcdef")
	Expect(err).NotTo(HaveOccurred())
	store := secret.NewStore(secretPostgres.NewSettingRepository(db), cipher, slogger)
	registry, err := builtin.NewRegistry()
	Expect(err).NotTo(HaveOccurred())

	svc := method.NewService(methodPostgres.NewMethodRepository(db), store, registry, method.RuntimeConfig{
		CallbackURL: func(key string) string { return "https://shop.test/api/v1/callbacks/" + key },
	}, slogger)
	return svc, db
}

var _ = Describe("Method", func() {
	It("computes advisory fees", func() {
		m := &method.Method{FlatFee: decimal.RequireFromString("1.50"), PercentFee: decimal.RequireFromString("2.5")}
		Expect(m.Fee(decimal.RequireFromString("100.00")).String()).To(Equal("4"))
		Expect(m.Fee(decimal.RequireFromString("10.01")).StringFixed(2)).To(Equal("1.75"))
		Expect((&method.Method{}).Fee(decimal.NewFromInt(10)).IsZero()).To(BeTrue())
	})
})

var _ = Describe("Method Service", func() {
	var (
		ctx context.Context
		svc *method.Service
		db  *gorm.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		svc, db = newService()
	})

	It("creates methods with normalised keys and rejects duplicates", func() {
		m, err := svc.Create(ctx, method.CreateMethodDTO{Key: " PayMob ", Driver: "paymob", Name: "Cards"})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Key).To(Equal("paymob"))
		Expect(m.ID).NotTo(BeZero())

		_, err = svc.Create(ctx, method.CreateMethodDTO{Key: "paymob", Driver: "paymob", Name: "Again"})
		Expect(err).To(MatchError(errors.ErrMethodExists))
	})

	It("accepts a driver without a plugin and reports it on use", func() {
		_, err := svc.Create(ctx, method.CreateMethodDTO{Key: "stripe", Driver: "stripe", Name: "Stripe"})
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Schema(ctx, "stripe")
		Expect(errors.IsType(err, errors.ErrorTypeConfiguration)).To(BeTrue())
	})

	DescribeTable("validates input",
		func(dto method.CreateMethodDTO) {
			_, err := svc.Create(ctx, dto)
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue())
		},
		Entry("missing key", method.CreateMethodDTO{Driver: "dummy", Name: "x"}),
		Entry("bad key", method.CreateMethodDTO{Key: "a b", Driver: "dummy", Name: "x"}),
		Entry("missing name", method.CreateMethodDTO{Key: "a", Driver: "dummy"}),
		Entry("negative fee", method.CreateMethodDTO{Key: "a", Driver: "dummy", Name: "x", FlatFee: decimal.NewFromInt(-1)}),
		Entry("percent over 100", method.CreateMethodDTO{Key: "a", Driver: "dummy", Name: "x", PercentFee: decimal.NewFromInt(101)}),
	)

	It("applies partial updates", func() {
		_, err := svc.Create(ctx, method.CreateMethodDTO{Key: "dummy", Driver: "dummy", Name: "Dummy"})
		Expect(err).NotTo(HaveOccurred())

		enabled := true
		sortOrder := 3
		m, err := svc.Update(ctx, "dummy", method.UpdateMethodDTO{Enabled: &enabled, SortOrder: &sortOrder})
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Enabled).To(BeTrue())
		Expect(m.Name).To(Equal("Dummy"))

		enabledList, err := svc.ListEnabled(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(enabledList).To(HaveLen(1))
		Expect(enabledList[0].SortOrder).To(Equal(3))
	})

	It("orders methods for display", func() {
		for i, key := range []string{"b", "a", "c"} {
			_, err := svc.Create(ctx, method.CreateMethodDTO{Key: key, Driver: "dummy", Name: key, SortOrder: i % 2})
			Expect(err).NotTo(HaveOccurred())
		}
		methods, err := svc.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		keys := []string{}
		for _, m := range methods {
			keys = append(keys, m.Key)
		}
		Expect(keys).To(Equal([]string{"b", "c", "a"}))
	})

	Context("settings", func() {
		BeforeEach(func() {
			_, err := svc.Create(ctx, method.CreateMethodDTO{Key: "cod", Driver: "offline", Name: "Cash"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("encrypts password fields and masks them on read", func() {
			views, err := svc.PutSettings(ctx, "cod", map[string]string{
				"confirmation_token": "tok-123",
				"instructions":       "Pay at the counter",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(ConsistOf(
				secret.SettingView{Key: "confirmation_token", Value: secret.Mask, Encrypted: true},
				secret.SettingView{Key: "instructions", Value: "Pay at the counter"},
			))

			var row methodDatamodel.PaymentMethodSetting
			Expect(db.Where("setting_key = ?", "confirmation_token").First(&row).Error).To(Succeed())
			Expect(row.Value).NotTo(ContainSubstring("tok-123"))

			res, err := svc.Validate(ctx, "cod")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeTrue())
		})

		It("keeps a secret when the mask is sent back", func() {
			_, err := svc.PutSettings(ctx, "cod", map[string]string{"confirmation_token": "tok-123"})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.PutSettings(ctx, "cod", map[string]string{"confirmation_token": secret.Mask})
			Expect(err).NotTo(HaveOccurred())

			m, _ := svc.Get(ctx, "cod")
			p, err := svc.Plugin(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ValidateConfiguration(ctx)).To(BeTrue())
		})

		It("removes a key given an empty value", func() {
			_, err := svc.PutSettings(ctx, "cod", map[string]string{"confirmation_token": "tok-123"})
			Expect(err).NotTo(HaveOccurred())
			views, err := svc.PutSettings(ctx, "cod", map[string]string{"confirmation_token": ""})
			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(BeEmpty())

			res, err := svc.Validate(ctx, "cod")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Valid).To(BeFalse())
		})

		It("rejects keys outside the schema without writing anything", func() {
			_, err := svc.PutSettings(ctx, "cod", map[string]string{"instructions": "x", "rogue": "y"})
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue())
			views, err := svc.Settings(ctx, "cod")
			Expect(err).NotTo(HaveOccurred())
			Expect(views).To(BeEmpty())
		})
	})
})

var _ = Describe("Method Handler", func() {
	var router *chi.Mux

	BeforeEach(func() {
		svc, _ := newService()
		h := method.NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
		router = chi.NewRouter()
		router.Get("/methods", h.ListMethods)
		router.Post("/methods", h.CreateMethod)
		router.Patch("/methods/{key}", h.UpdateMethod)
		router.Get("/methods/{key}/schema", h.GetSchema)
		router.Get("/methods/{key}/settings", h.GetSettings)
		router.Put("/methods/{key}/settings", h.PutSettings)
		router.Post("/methods/{key}/validate", h.ValidateMethod)
	})

	do := func(verb, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(verb, target, bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("drives a provider through its admin lifecycle", func() {
		w := do(http.MethodPost, "/methods", `{"key":"paymob","driver":"paymob","name":"Cards","flat_fee":"2.00"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))

		w = do(http.MethodGet, "/methods/paymob/schema", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var schema method.SchemaResponse
		Expect(json.NewDecoder(w.Body).Decode(&schema)).To(Succeed())
		Expect(schema.Plugin.Name).To(Equal("Paymob"))
		Expect(schema.Refundable).To(BeTrue())

		w = do(http.MethodPut, "/methods/paymob/settings", `{"api_key":"sk_live_abc","integration_id":"1"}`)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).NotTo(ContainSubstring("sk_live_abc"))

		w = do(http.MethodPost, "/methods/paymob/validate", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"valid":false`))

		w = do(http.MethodPatch, "/methods/paymob", `{"enabled":true}`)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"enabled":true`))

		w = do(http.MethodGet, "/methods", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"key":"paymob"`))
	})

	It("returns 404 for unknown methods", func() {
		Expect(do(http.MethodGet, "/methods/nope/settings", "").Code).To(Equal(http.StatusNotFound))
	})

	It("returns 409 for duplicates", func() {
		Expect(do(http.MethodPost, "/methods", `{"key":"d","driver":"dummy","name":"D"}`).Code).To(Equal(http.StatusCreated))
		Expect(do(http.MethodPost, "/methods", `{"key":"d","driver":"dummy","name":"D"}`).Code).To(Equal(http.StatusConflict))
	})
})
