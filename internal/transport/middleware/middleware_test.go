package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/auth"
	"github.com/frahmantamala/payment-orchestration/internal/transport/middleware"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

var _ = Describe("Authentication", func() {
	var (
		service *auth.Service
		handler http.Handler
		subject string
	)

	token := func(scopes ...string) string {
		t, err := service.IssueToken("shop", scopes, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	serve := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		subject = ""
		service = auth.NewService(auth.NewJWTTokenGenerator("an-admin-jwt-secret-of-32-characters!", "test"))
		final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject = errors.SubjectFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})
		handler = middleware.Authenticate(service, nil)(middleware.RequireScopes(nil, auth.ScopePaymentsAdmin)(final))
	})

	It("lets a token with the scope through", func() {
		rec := serve("Bearer " + token(auth.ScopePaymentsAdmin))
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(subject).To(Equal("shop"))
	})

	It("answers 401 without a token", func() {
		Expect(serve("").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve("Basic abc").Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers 401 for a malformed token", func() {
		Expect(serve("Bearer not-a-jwt").Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers 403 when the scope is missing", func() {
		rec := serve("bearer " + token(auth.ScopeOrdersWrite))
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Body.String()).To(ContainSubstring(string(errors.ErrCodeMissingScope)))
	})
})

var _ = Describe("RequestID", func() {
	It("keeps an incoming trace id and echoes it", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.TraceIDHeader, "trace-1")
		rec := httptest.NewRecorder()
		var seen string
		middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = logger.TraceID(r.Context())
		})).ServeHTTP(rec, req)
		Expect(rec.Header().Get(middleware.TraceIDHeader)).To(Equal("trace-1"))
		Expect(seen).To(Equal("trace-1"))
	})

	It("replaces an oversized incoming trace id", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.TraceIDHeader, strings.Repeat("x", 500))
		rec := httptest.NewRecorder()
		middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)
		Expect(rec.Header().Get(middleware.TraceIDHeader)).To(HaveLen(36))
	})

	It("generates a trace id when none is sent", func() {
		rec := httptest.NewRecorder()
		middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get(middleware.TraceIDHeader)).To(HaveLen(36))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("turns a panic into a 500 without leaking it", func() {
		handler := middleware.RecoveryMiddleware(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(
			http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("api_key=abc") }))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("abc"))
	})
})

var _ = Describe("LoggingMiddleware", func() {
	It("passes the body through untouched", func() {
		var seen string
		handler := middleware.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(r.Body)
			seen = buf.String()
			w.WriteHeader(http.StatusAccepted)
		}))
		body := `{"order_code":"abc","hmac":"deadbeef"}`
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callbacks/paymob?hmac=x", strings.NewReader(body)))
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(seen).To(Equal(body))
	})
})

var _ = Describe("CORS", func() {
	It("answers preflight for an allowed origin", func() {
		handler := middleware.CORS("https://shop.test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
		req.Header.Set("Origin", "https://shop.test")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://shop.test"))
	})

	It("does not echo other origins", func() {
		handler := middleware.CORS("https://shop.test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Origin", "https://evil.test")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})
