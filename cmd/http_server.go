package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/orchestrator"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/transport/rest"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and provider callbacks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer()
	},
}

func startHTTPServer() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitWithLevel(appEnv(), cfg.Observability.Logging.Level)
	lg := logger.L()

	shutdownTracing, err := initTracing(cfg.Observability.Tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	app, err := newApp(cfg, prometheus.DefaultRegisterer, lg)
	if err != nil {
		return err
	}
	defer app.Close()

	router := chi.NewRouter()
	handlers := rest.Handlers{
		Orders:        order.NewHandler(app.Orders, lg),
		Orchestrator:  orchestrator.NewHandler(app.Orchestrator, lg),
		Methods:       method.NewHandler(app.Methods, lg),
		Refunds:       refund.NewHandler(app.Refunds, lg),
		Tokens:        app.Tokens,
		AllowedOrigin: cfg.Server.AllowedOrigins,
		HealthChecks:  app.Checks,
	}
	if cfg.Observability.Metrics.Enabled {
		handlers.Metrics = promhttp.Handler()
		handlers.MetricsPath = cfg.Observability.Metrics.Path
	}
	rest.RegisterAllRoutes(router, handlers, lg)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr, "hooks", app.Hooks.IDs())

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("Server failed to start", "error", err)
			return err
		}
	}

	lg.Info("Server stopped")
	return nil
}

// initTracing installs a global tracer provider exporting spans to stdout.
func initTracing(cfg internal.TracingConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	exporter, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.L().Error("failed to flush traces", "error", err)
		}
	}, nil
}
