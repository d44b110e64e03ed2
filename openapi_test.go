package main_test

import (
	"context"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/orchestrator"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/transport/rest"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

var _ = Describe("OpenAPI document", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		loader := openapi3.NewLoader()
		var err error
		doc, err = loader.LoadFromFile("api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
	})

	It("is a valid OpenAPI 3 document", func() {
		Expect(doc.Validate(context.Background())).To(Succeed())
	})

	It("documents every /api/v1 route the router serves", func() {
		lg := logger.LoggerWrapper()
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, rest.Handlers{
			Orders:       order.NewHandler(nil, lg),
			Orchestrator: orchestrator.NewHandler(nil, lg),
			Methods:      method.NewHandler(nil, lg),
			Refunds:      refund.NewHandler(nil, lg),
		}, lg)

		var missing []string
		err := chi.Walk(router, func(verb, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			if !strings.HasPrefix(route, "/api/v1/") {
				return nil
			}
			path := strings.TrimSuffix(route, "/")
			item := doc.Paths.Find(path)
			if item == nil || item.GetOperation(verb) == nil {
				missing = append(missing, verb+" "+path)
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeEmpty())
	})
})
