// Package hook runs merchant code registered by id when an order settles.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
)

// Handler is merchant business logic run after a terminal transition.
type Handler func(ctx context.Context, o *order.Order) error

type OrderReader interface {
	GetByCode(ctx context.Context, code string) (*order.Order, error)
}

// Registry maps hook ids to in-process handlers. Orders store ids only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(id string, h Handler) error {
	id = strings.TrimSpace(id)
	if id == "" || h == nil {
		return fmt.Errorf("hook: id and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("hook: %s already registered", id)
	}
	r.handlers[id] = h
	return nil
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) get(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

type Invoker struct {
	registry *Registry
	orders   OrderReader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewInvoker(registry *Registry, orders OrderReader, m *metrics.Metrics, logger *slog.Logger) *Invoker {
	return &Invoker{registry: registry, orders: orders, metrics: m, logger: logger}
}

// Invoke runs the success hook of a completed order or the failure hook of a
// failed or cancelled one. Errors and panics are returned for reporting only.
func (i *Invoker) Invoke(ctx context.Context, o *order.Order) (err error) {
	kind, id := "", ""
	switch o.Status {
	case order.StatusCompleted:
		kind, id = "success", o.SuccessHook
	case order.StatusFailed, order.StatusCancelled:
		kind, id = "failure", o.FailureHook
	default:
		return nil
	}
	if id == "" {
		return nil
	}
	h, ok := i.registry.get(id)
	if !ok {
		i.logger.Error("merchant hook is not registered", "order_code", o.Code, "hook_id", id)
		i.metrics.Hook(kind, metrics.ResultError)
		return fmt.Errorf("hook %s is not registered", id)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", id, r)
		}
		if err != nil {
			i.logger.Error("merchant hook failed",
				"order_code", o.Code,
				"hook_id", id,
				"hook", kind,
				"error", err)
			i.metrics.Hook(kind, metrics.ResultError)
			return
		}
		i.logger.Info("merchant hook completed", "order_code", o.Code, "hook_id", id, "hook", kind)
		i.metrics.Hook(kind, metrics.ResultOK)
	}()
	return h(ctx, o.Clone())
}

// HandleOrderFinalized is the event bus subscriber. It always returns nil so a
// failing hook never undoes the committed transition.
func (i *Invoker) HandleOrderFinalized(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.OrderFinalizedEvent)
	if !ok {
		i.logger.Warn("unexpected event payload", "event_type", event.EventType())
		return nil
	}
	o, err := i.orders.GetByCode(ctx, e.OrderCode)
	if err != nil {
		i.logger.Error("failed to load order for hook", "order_code", e.OrderCode, "error", err)
		return nil
	}
	_ = i.Invoke(ctx, o)
	return nil
}

// Subscribe attaches the invoker to every terminal event.
func (i *Invoker) Subscribe(bus *events.EventBus) {
	for _, t := range events.FinalizedEventTypes {
		bus.Subscribe(t, i.HandleOrderFinalized)
	}
}

// LogHandler is a hook that only records the settled order.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, o *order.Order) error {
		logger.Info("order settled", "order_code", o.Code, "status", o.Status, "amount", o.AmountString(), "currency", o.Currency)
		return nil
	}
}
