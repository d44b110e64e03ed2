package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

// Cancel aborts a pending order on the customer's request. Cancelling an
// already cancelled order is a no-op; orders handed to a provider can only
// settle through that provider.
func (s *Orchestrator) Cancel(ctx context.Context, code, reason string) (o *order.Order, err error) {
	ctx, span := s.startSpan(ctx, "Cancel", attribute.String("order.code", code))
	defer func() { endSpan(span, err) }()

	cancelled := false
	err = s.withOrderLock(ctx, code, func() error {
		o, err = s.orders.Update(ctx, code, func(next *order.Order) error {
			cancelled = false
			switch next.Status {
			case order.StatusCancelled:
				return order.ErrNoChange
			case order.StatusPending:
			default:
				return errors.NewValidationError("only pending orders can be cancelled", errors.ErrCodeInvalidTransition)
			}
			now := s.now()
			if err := next.Transition(order.StatusCancelled, now); err != nil {
				return errors.NewValidationError(err.Error(), errors.ErrCodeInvalidTransition)
			}
			values := map[string]any{"cancelled_at": now.UTC().Format(time.RFC3339)}
			if reason = strings.TrimSpace(reason); reason != "" {
				values["cancel_reason"] = reason
			}
			next.MergeMetadata(values)
			cancelled = true
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		s.logger.Info("order cancelled", "order_code", o.Code)
		s.publishFinalized(ctx, o, string(plugin.KindCancelled))
	}
	return o, nil
}

// Retry opens a new pending order for a failed or cancelled one. The provider
// that failed is added to the new order's ignore list.
func (s *Orchestrator) Retry(ctx context.Context, code string) (o *order.Order, err error) {
	ctx, span := s.startSpan(ctx, "Retry", attribute.String("order.code", code))
	defer func() { endSpan(span, err) }()

	src, err := s.loadOrder(ctx, code)
	if err != nil {
		return nil, err
	}
	if src.Status != order.StatusFailed && src.Status != order.StatusCancelled {
		return nil, errors.NewValidationError("only failed or cancelled orders can be retried", errors.ErrCodeInvalidOrderStatus)
	}

	ignored := append([]string(nil), src.IgnoredProviders...)
	if src.ProviderKey != "" && src.Status == order.StatusFailed {
		ignored = append(ignored, src.ProviderKey)
	}
	o = order.NewOrder(order.CreateOrderDTO{
		Amount:      src.Amount,
		Currency:    src.Currency,
		Description: src.Description,
		Customer: order.CustomerDTO{
			Name:  src.CustomerName,
			Email: src.CustomerEmail,
			Phone: src.CustomerPhone,
			Data:  src.CustomerData,
		},
		IgnoredProviders: ignored,
		SuccessHook:      src.SuccessHook,
		FailureHook:      src.FailureHook,
		SuccessURL:       src.SuccessURL,
		FailureURL:       src.FailureURL,
	}, s.now())
	o.MergeMetadata(map[string]any{"retry_of": src.Code})

	if err := s.orders.Create(ctx, o); err != nil {
		s.logger.Error("failed to create retry order", "order_code", src.Code, "error", err)
		return nil, errors.NewInternalError("failed to create retry order", err)
	}
	s.logger.Info("order retried", "order_code", src.Code, "retry_code", o.Code, "ignored_providers", o.IgnoredProviders)
	return o, nil
}
