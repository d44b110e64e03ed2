package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/payment-orchestration/internal/auth"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/orchestrator"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/transport/middleware"
	"github.com/frahmantamala/payment-orchestration/internal/transport/swagger"
)

type Handlers struct {
	Orders        *order.Handler
	Orchestrator  *orchestrator.Handler
	Methods       *method.Handler
	Refunds       *refund.Handler
	Tokens        middleware.TokenValidator
	Metrics       http.Handler
	MetricsPath   string
	OpenAPIPath   string
	AllowedOrigin string
	HealthChecks  map[string]Check
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(h.HealthChecks)

	router.Use(middleware.CORS(h.AllowedOrigin))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware)

	openAPIPath := h.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	if h.Metrics != nil {
		path := h.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, h.Metrics)
	}

	authenticate := middleware.Authenticate(h.Tokens, logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// providers call back without credentials; plugins authenticate them
		if h.Orchestrator != nil {
			r.Get("/callbacks/{provider}", h.Orchestrator.Callback)
			r.Post("/callbacks/{provider}", h.Orchestrator.Callback)
		}

		r.Route("/orders/{code}", func(or chi.Router) {
			if h.Orders != nil {
				or.Get("/", h.Orders.GetOrder)
			}
			if h.Orchestrator != nil {
				or.Get("/methods", h.Orchestrator.ListMethods)
				or.Post("/select", h.Orchestrator.SelectMethod)
				or.Post("/pay", h.Orchestrator.Pay)
				or.Post("/cancel", h.Orchestrator.CancelOrder)
				or.Post("/retry", h.Orchestrator.RetryOrder)
			}
		})

		r.Group(func(pr chi.Router) {
			pr.Use(authenticate)

			if h.Orders != nil {
				pr.With(middleware.RequireScopes(logger, auth.ScopeOrdersWrite)).Post("/orders", h.Orders.CreateOrder)
			}

			pr.Route("/admin", func(ar chi.Router) {
				ar.Use(middleware.RequireScopes(logger, auth.ScopePaymentsAdmin))

				if h.Methods != nil {
					ar.Get("/methods", h.Methods.ListMethods)
					ar.Post("/methods", h.Methods.CreateMethod)
					ar.Patch("/methods/{key}", h.Methods.UpdateMethod)
					ar.Get("/methods/{key}/schema", h.Methods.GetSchema)
					ar.Get("/methods/{key}/settings", h.Methods.GetSettings)
					ar.Put("/methods/{key}/settings", h.Methods.PutSettings)
					ar.Post("/methods/{key}/validate", h.Methods.ValidateMethod)
				}
				if h.Refunds != nil {
					ar.Post("/orders/{code}/refund", h.Refunds.RefundOrder)
				}
			})
		})
	})
}
