// Package refund sends refunds for settled orders to their provider and keeps
// the running refunded total on the order.
package refund

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/lock"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

const (
	metaRefunds       = "refunds"
	metaRefundedTotal = "refunded_total"

	defaultTimeout = 15 * time.Second
)

type Methods interface {
	Get(ctx context.Context, key string) (*method.Method, error)
	Plugin(m *method.Method) (plugin.Plugin, error)
}

type Coordinator struct {
	orders  order.Repository
	methods Methods
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewCoordinator(orders order.Repository, methods Methods, locker lock.Locker, m *metrics.Metrics, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{
		orders:  orders,
		methods: methods,
		locker:  locker,
		metrics: m,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

// RefundedTotal is the sum of the successful refunds recorded on o.
func RefundedTotal(o *order.Order) decimal.Decimal {
	raw := o.MetadataString(metaRefundedTotal)
	if raw == "" {
		return decimal.Zero
	}
	total, err := decimal.NewFromString(raw)
	if err != nil || total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Remaining is what can still be refunded on o.
func Remaining(o *order.Order) decimal.Decimal {
	left := o.Amount.Sub(RefundedTotal(o))
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Refund asks the order's provider to return amount, or everything not yet
// refunded when amount is nil. The order status never changes. A provider
// without refund support yields an Unsupported outcome and no error.
func (c *Coordinator) Refund(ctx context.Context, code string, amount *decimal.Decimal) (*plugin.RefundOutcome, error) {
	unlock, err := c.locker.Lock(ctx, code)
	if err != nil {
		return nil, errors.NewInternalError("failed to acquire order lock", err)
	}
	defer unlock()

	o, err := c.orders.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusCompleted || o.ProviderKey == "" {
		return nil, errors.NewValidationError("only completed orders can be refunded", errors.ErrCodeInvalidOrderStatus)
	}

	m, err := c.methods.Get(ctx, o.ProviderKey)
	if err != nil {
		return nil, err
	}
	p, err := c.methods.Plugin(m)
	if err != nil {
		return nil, err
	}
	if !p.SupportsRefunds() {
		c.metrics.Refund(o.ProviderKey, "unsupported")
		c.logger.Info("provider does not support refunds", "order_code", o.Code, "provider", o.ProviderKey)
		return &plugin.RefundOutcome{Unsupported: true}, nil
	}

	remaining := Remaining(o)
	requested := remaining
	if amount != nil {
		requested = *amount
	}
	if !requested.IsPositive() || !requested.Equal(requested.Round(2)) {
		return nil, errors.NewValidationFieldError("amount", "amount must be positive with at most two decimals", errors.ErrCodeInvalidAmount)
	}
	if requested.GreaterThan(remaining) {
		return nil, errors.NewValidationFieldError("amount", fmt.Sprintf("amount exceeds the refundable %s", remaining.StringFixed(2)), errors.ErrCodeRefundExceeded)
	}

	refundCtx, cancel := context.WithTimeout(ctx, c.timeout)
	out, err := p.Refund(refundCtx, o.Clone(), requested)
	cancel()
	if err == nil && out == nil {
		err = errors.NewProviderCommunicationError(o.ProviderKey+" returned no refund result", errors.ErrCodeProviderRejected, nil)
	}
	if err != nil {
		c.metrics.Refund(o.ProviderKey, metrics.ResultError)
		c.logger.Error("refund failed", "order_code", o.Code, "provider", o.ProviderKey, "error", err)
		if _, ok := errors.IsAppError(err); ok {
			return nil, err
		}
		return nil, errors.NewProviderCommunicationError(o.ProviderKey+" refund failed", errors.ErrCodeProviderUnavailable, err)
	}
	if out.Amount.IsZero() {
		out.Amount = requested
	}

	if _, err := c.orders.Update(ctx, o.Code, func(next *order.Order) error {
		record(next, out, c.now())
		return nil
	}); err != nil {
		c.logger.Error("failed to record refund", "order_code", o.Code, "refund_id", out.RefundID, "error", err)
		return nil, err
	}

	result := metrics.ResultOK
	if !out.Success {
		result = metrics.ResultRejected
	}
	c.metrics.Refund(o.ProviderKey, result)
	c.logger.Info("refund processed",
		"order_code", o.Code,
		"provider", o.ProviderKey,
		"amount", out.Amount.StringFixed(2),
		"success", out.Success)
	return out, nil
}

// record appends the outcome to the order's refund history. Only successful
// refunds count towards the refunded total.
func record(o *order.Order, out *plugin.RefundOutcome, now time.Time) {
	entry := map[string]any{
		"success":     out.Success,
		"amount":      out.Amount.StringFixed(2),
		"refunded_at": now.UTC().Format(time.RFC3339),
	}
	if out.RefundID != "" {
		entry["refund_id"] = out.RefundID
	}
	if out.TransactionID != "" {
		entry["transaction_id"] = out.TransactionID
	}
	if out.Message != "" {
		entry["message"] = out.Message
	}

	var history []any
	if o.Metadata != nil {
		if prev, ok := o.Metadata[metaRefunds].([]any); ok {
			history = append(history, prev...)
		}
	}
	values := map[string]any{metaRefunds: append(history, entry)}
	if out.Success {
		values[metaRefundedTotal] = RefundedTotal(o).Add(out.Amount).StringFixed(2)
	}
	o.MergeMetadata(values)
}
