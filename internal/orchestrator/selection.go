package orchestrator

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

// Option is a provider offered for an order with its advisory fee.
type Option struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Fee         decimal.Decimal `json:"fee"`
}

type Availability struct {
	OrderCode    string   `json:"order_code"`
	Methods      []Option `json:"methods"`
	AutoSelected string   `json:"auto_selected,omitempty"`
}

// Initiation is what the customer is shown after a provider was initiated.
type Initiation struct {
	Order       *order.Order     `json:"-"`
	OrderCode   string           `json:"order_code"`
	ProviderKey string           `json:"provider_key"`
	RedirectURL string           `json:"redirect_url,omitempty"`
	Form        *plugin.FormSpec `json:"form,omitempty"`
}

// candidates are the enabled providers not ignored by o. A candidate bound
// to an unregistered driver is a configuration error, never skipped.
func (s *Orchestrator) candidates(ctx context.Context, o *order.Order) ([]*method.Method, error) {
	enabled, err := s.methods.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*method.Method, 0, len(enabled))
	for _, m := range enabled {
		if o.IsIgnored(m.Key) {
			continue
		}
		if s.drivers != nil && !s.drivers.Has(m.Driver) {
			s.logger.Error("enabled payment method has no plugin", "method_key", m.Key, "driver", m.Driver)
			return nil, errors.NewConfigurationError("payment method "+m.Key+" is bound to unknown driver "+m.Driver, errors.ErrCodePluginNotFound)
		}
		out = append(out, m)
	}
	return out, nil
}

// AutoSelect returns the only candidate provider of an order, or "" when
// there is none or more than one. It never changes the order.
func (s *Orchestrator) AutoSelect(ctx context.Context, code string) (key string, err error) {
	ctx, span := s.startSpan(ctx, "AutoSelect", attribute.String("order.code", code))
	defer func() { endSpan(span, err) }()

	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return "", err
	}
	candidates, err := s.candidates(ctx, o)
	if err != nil {
		return "", err
	}
	if len(candidates) != 1 {
		return "", nil
	}
	return candidates[0].Key, nil
}

// Available lists the candidate providers with the auto-selected key.
func (s *Orchestrator) Available(ctx context.Context, code string) (res *Availability, err error) {
	ctx, span := s.startSpan(ctx, "Available", attribute.String("order.code", code))
	defer func() { endSpan(span, err) }()

	o, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	candidates, err := s.candidates(ctx, o)
	if err != nil {
		return nil, err
	}
	res = &Availability{OrderCode: o.Code, Methods: make([]Option, 0, len(candidates))}
	for _, m := range candidates {
		res.Methods = append(res.Methods, Option{
			Key:         m.Key,
			Name:        m.Name,
			Description: m.Description,
			Fee:         m.Fee(o.Amount),
		})
	}
	if len(candidates) == 1 {
		res.AutoSelected = candidates[0].Key
	}
	return res, nil
}

// usableMethod checks that key names an enabled provider the order accepts.
func (s *Orchestrator) usableMethod(ctx context.Context, o *order.Order, key string) (*method.Method, error) {
	m, err := s.methods.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !m.Enabled {
		return nil, errors.ErrProviderDisabled
	}
	if o.IsIgnored(m.Key) {
		return nil, errors.ErrProviderIgnored
	}
	return m, nil
}

func bind(o *order.Order, key string) {
	if o.ProviderKey != key {
		// a remote id only means something to the provider that issued it
		o.RemoteID = ""
	}
	o.ProviderKey = key
}

// Select records the chosen provider without processing the order.
func (s *Orchestrator) Select(ctx context.Context, code, key string) (o *order.Order, err error) {
	ctx, span := s.startSpan(ctx, "Select", attribute.String("order.code", code), attribute.String("provider", key))
	defer func() { endSpan(span, err) }()

	key = method.NormalizeKey(key)
	err = s.withOrderLock(ctx, code, func() error {
		current, err := s.loadOrder(ctx, code)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return errors.ErrInvalidOrderStatus
		}
		if _, err := s.usableMethod(ctx, current, key); err != nil {
			return err
		}
		o, err = s.orders.Update(ctx, code, func(next *order.Order) error {
			if next.IsTerminal() {
				return errors.ErrInvalidOrderStatus
			}
			if next.ProviderKey == key {
				return order.ErrNoChange
			}
			bind(next, key)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment method selected", "order_code", o.Code, "provider", key)
	return o, nil
}

// SelectAndInitiate binds the provider, moves the order to processing and
// asks the plugin how the customer pays. A provider error leaves the order
// processing with the error recorded in its metadata.
func (s *Orchestrator) SelectAndInitiate(ctx context.Context, code, key string) (res *Initiation, err error) {
	ctx, span := s.startSpan(ctx, "SelectAndInitiate", attribute.String("order.code", code), attribute.String("provider", key))
	defer func() { endSpan(span, err) }()

	key = method.NormalizeKey(key)
	err = s.withOrderLock(ctx, code, func() error {
		res, err = s.initiateLocked(ctx, code, key)
		return err
	})
	return res, err
}

func (s *Orchestrator) initiateLocked(ctx context.Context, code, key string) (*Initiation, error) {
	current, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	if current.Status != order.StatusPending && current.Status != order.StatusProcessing {
		return nil, errors.ErrInvalidOrderStatus
	}
	m, err := s.usableMethod(ctx, current, key)
	if err != nil {
		return nil, err
	}
	p, err := s.methods.Plugin(m)
	if err != nil {
		s.metrics.Initiation(key, "config_error")
		return nil, err
	}
	if !p.ValidateConfiguration(ctx) {
		s.metrics.Initiation(key, "config_error")
		s.logger.Warn("payment method configuration is incomplete", "order_code", code, "provider", key)
		return nil, errors.NewConfigurationError("payment method "+key+" is not fully configured", errors.ErrCodeInvalidConfiguration)
	}

	o, err := s.orders.Update(ctx, code, func(next *order.Order) error {
		bind(next, key)
		if next.Status == order.StatusPending {
			return next.Transition(order.StatusProcessing, s.now())
		}
		if next.Status != order.StatusProcessing {
			return errors.ErrInvalidOrderStatus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, initErr := p.Initiate(initCtx, o.Clone())
	cancel()
	if initErr == nil && result == nil {
		initErr = errors.NewProviderCommunicationError(key+" returned no initiation result", errors.ErrCodeProviderRejected, nil)
	}
	if initErr != nil {
		return nil, s.recordInitiationError(ctx, o, key, initErr)
	}

	o, err = s.orders.Update(ctx, code, func(next *order.Order) error {
		if result.RemoteID == "" && len(result.Metadata) == 0 {
			return order.ErrNoChange
		}
		if result.RemoteID != "" {
			next.RemoteID = result.RemoteID
		}
		next.MergeMetadata(result.Metadata)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Initiation(key, metrics.ResultOK)
	s.logger.Info("payment initiated", "order_code", o.Code, "provider", key, "redirect", result.RedirectURL != "")
	return &Initiation{
		Order:       o,
		OrderCode:   o.Code,
		ProviderKey: key,
		RedirectURL: result.RedirectURL,
		Form:        result.Form,
	}, nil
}

func (s *Orchestrator) recordInitiationError(ctx context.Context, o *order.Order, key string, initErr error) error {
	typed := classifyProviderError(key, initErr)
	s.metrics.Initiation(key, "provider_error")
	s.logger.Error("payment initiation failed", "order_code", o.Code, "provider", key, "error", typed)

	_, err := s.orders.Update(ctx, o.Code, func(next *order.Order) error {
		next.MergeMetadata(map[string]any{
			"last_error":    typed.Message,
			"last_error_at": s.now().UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record initiation error", "order_code", o.Code, "error", err)
	}
	return typed
}

// classifyProviderError keeps typed plugin errors and turns anything else,
// including deadlines, into a provider communication error.
func classifyProviderError(key string, err error) *errors.AppError {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewProviderCommunicationError(key+" did not answer in time", errors.ErrCodeProviderUnavailable, err)
	}
	return errors.NewProviderCommunicationError(key+" initiation failed", errors.ErrCodeProviderUnavailable, err)
}
