// Package orchestrator drives payment orders through provider plugins and
// reconciles provider notifications into order transitions.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/lock"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const defaultProviderTimeout = 15 * time.Second

// Methods is the provider catalogue the orchestrator reads.
type Methods interface {
	ListEnabled(ctx context.Context) ([]*method.Method, error)
	Get(ctx context.Context, key string) (*method.Method, error)
	Plugin(m *method.Method) (plugin.Plugin, error)
}

// Drivers reports which plugin drivers are registered.
type Drivers interface {
	Has(driver string) bool
}

type Dependencies struct {
	Orders          order.Repository
	Methods         Methods
	Drivers         Drivers
	Locker          lock.Locker
	Events          events.Publisher
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	ProviderTimeout time.Duration
}

type Orchestrator struct {
	orders  order.Repository
	methods Methods
	drivers Drivers
	locker  lock.Locker
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	tracer  trace.Tracer
	now     func() time.Time
}

func New(deps Dependencies) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ProviderTimeout <= 0 {
		deps.ProviderTimeout = defaultProviderTimeout
	}
	return &Orchestrator{
		orders:  deps.Orders,
		methods: deps.Methods,
		drivers: deps.Drivers,
		locker:  deps.Locker,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		timeout: deps.ProviderTimeout,
		tracer:  otel.Tracer("orchestrator"),
		now:     time.Now,
	}
}

func (s *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "Orchestrator."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorCode(err))
	}
	span.End()
}

func errorCode(err error) string {
	if appErr, ok := errors.IsAppError(err); ok {
		return string(appErr.Code)
	}
	return "unexpected"
}

// withOrderLock runs fn while holding the per-order lock.
func (s *Orchestrator) withOrderLock(ctx context.Context, code string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, code)
	if err != nil {
		return errors.NewInternalError("failed to acquire order lock", err)
	}
	defer unlock()
	return fn()
}

func (s *Orchestrator) publishFinalized(ctx context.Context, o *order.Order, kind string) {
	s.metrics.Transition(string(o.Status))
	if s.events == nil {
		return
	}
	event := events.NewOrderFinalizedEvent(o.Code, string(o.Status), o.ProviderKey, kind)
	if err := s.events.PublishSync(ctx, event); err != nil {
		s.logger.Error("failed to publish order event", "order_code", o.Code, "event_type", event.EventType(), "error", err)
	}
}

func (s *Orchestrator) loadOrder(ctx context.Context, code string) (*order.Order, error) {
	if code == "" {
		return nil, errors.ErrOrderNotFound
	}
	return s.orders.GetByCode(ctx, code)
}
