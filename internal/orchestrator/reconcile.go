package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

// Reconciliation reports what a callback did to its order.
type Reconciliation struct {
	Order   *order.Order    `json:"-"`
	Outcome *plugin.Outcome `json:"-"`
	// Applied is set when the callback moved the order to a terminal status.
	Applied bool `json:"applied"`
	// Replayed is set when the order already reflected the outcome.
	Replayed bool `json:"replayed"`
	// Conflict is set when a terminal order received a disagreeing outcome.
	Conflict bool `json:"conflict"`
	// Anomaly is set for a settling outcome on an order never handed to the provider.
	Anomaly bool `json:"anomaly"`
}

// RedirectURL is the merchant page the customer returns to, if any.
func (r *Reconciliation) RedirectURL() string {
	if r == nil || r.Order == nil {
		return ""
	}
	switch r.Order.Status {
	case order.StatusCompleted:
		return r.Order.SuccessURL
	case order.StatusFailed, order.StatusCancelled:
		return r.Order.FailureURL
	}
	if r.Outcome != nil && r.Outcome.Kind == plugin.KindPending {
		return r.Order.SuccessURL
	}
	return ""
}

// agrees reports whether a terminal status already reflects kind.
func agrees(status order.Status, kind plugin.Kind) bool {
	switch kind {
	case plugin.KindSuccess:
		return status == order.StatusCompleted
	case plugin.KindFailure, plugin.KindCancelled:
		return status == order.StatusFailed || status == order.StatusCancelled
	}
	return true
}

// ReconcileCallback authenticates a provider notification through its plugin
// and applies the outcome to the order. Replays and conflicting outcomes are
// acknowledged with a nil error; the order status is never re-mutated.
func (s *Orchestrator) ReconcileCallback(ctx context.Context, providerKey string, cb plugin.Callback) (rec *Reconciliation, err error) {
	providerKey = method.NormalizeKey(providerKey)
	start := s.now()
	ctx, span := s.startSpan(ctx, "ReconcileCallback", attribute.String("provider", providerKey))
	defer func() {
		s.metrics.ObserveReconcile(providerKey, start)
		endSpan(span, err)
	}()

	m, err := s.methods.Get(ctx, providerKey)
	if err != nil {
		s.metrics.Callback(providerKey, "", metrics.ResultRejected)
		return nil, err
	}
	p, err := s.methods.Plugin(m)
	if err != nil {
		s.metrics.Callback(providerKey, "", metrics.ResultError)
		return nil, err
	}

	out, err := p.Reconcile(ctx, cb)
	if err != nil {
		s.rejectCallback(providerKey, err)
		return nil, err
	}
	if out == nil || out.OrderCode == "" {
		err = plugin.ErrUnresolvedOrder(providerKey)
		s.rejectCallback(providerKey, err)
		return nil, err
	}
	if !out.Kind.Valid() {
		s.logger.Warn("plugin returned an unknown outcome kind, treating as pending", "provider", providerKey, "kind", out.Kind)
		out.Kind = plugin.KindPending
	}
	span.SetAttributes(attribute.String("order.code", out.OrderCode), attribute.String("outcome.kind", string(out.Kind)))

	rec = &Reconciliation{Outcome: out}
	err = s.withOrderLock(ctx, out.OrderCode, func() error {
		o, err := s.orders.Update(ctx, out.OrderCode, func(next *order.Order) error {
			rec.Applied, rec.Replayed, rec.Conflict, rec.Anomaly = false, false, false, false
			return s.applyOutcome(next, m.Key, out, rec)
		})
		if err != nil {
			return err
		}
		rec.Order = o
		return nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			err = plugin.ErrUnresolvedOrder(providerKey)
		}
		s.rejectCallback(providerKey, err)
		return nil, err
	}

	kind := string(out.Kind)
	switch {
	case rec.Applied:
		s.metrics.Callback(providerKey, kind, metrics.ResultApplied)
		s.logger.Info("callback applied",
			"order_code", rec.Order.Code,
			"provider", providerKey,
			"status", rec.Order.Status,
			"outcome_kind", kind)
		s.publishFinalized(ctx, rec.Order, kind)
	case rec.Conflict:
		s.metrics.Callback(providerKey, kind, metrics.ResultConflict)
		conflict := errors.NewConflictingOutcomeError("order " + rec.Order.Code + " is " + string(rec.Order.Status) + " but provider reported " + kind)
		s.logger.Warn("conflicting provider outcome ignored",
			"anomaly", "conflicting_outcome",
			"order_code", rec.Order.Code,
			"provider", providerKey,
			"status", rec.Order.Status,
			"outcome_kind", kind,
			"error", conflict)
	case rec.Anomaly:
		s.metrics.Callback(providerKey, kind, metrics.ResultAnomaly)
		s.logger.Warn("settling outcome for an order that was never initiated",
			"anomaly", "uninitiated_order",
			"order_code", rec.Order.Code,
			"provider", providerKey,
			"outcome_kind", kind)
	case rec.Replayed:
		s.metrics.Callback(providerKey, kind, metrics.ResultReplayed)
		s.logger.Info("callback replay acknowledged", "order_code", rec.Order.Code, "provider", providerKey, "outcome_kind", kind)
	default:
		s.metrics.Callback(providerKey, kind, metrics.ResultOK)
	}
	return rec, nil
}

// applyOutcome is the Update mutation of ReconcileCallback. It may run more
// than once and only depends on next.
func (s *Orchestrator) applyOutcome(next *order.Order, providerKey string, out *plugin.Outcome, rec *Reconciliation) error {
	if next.ProviderKey != providerKey {
		return errors.NewCorrelationError("callback provider does not match the order's provider", errors.ErrCodeProviderMismatch)
	}

	target, settles := out.Kind.TargetStatus()
	switch {
	case next.IsTerminal():
		if !settles || agrees(next.Status, out.Kind) {
			rec.Replayed = true
		} else {
			rec.Conflict = true
		}
		return order.ErrNoChange
	case next.Status == order.StatusPending:
		rec.Anomaly = settles
		rec.Replayed = !settles
		return order.ErrNoChange
	}

	now := s.now()
	values := map[string]any{
		"outcome_kind":     string(out.Kind),
		"last_callback_at": now.UTC().Format(time.RFC3339),
	}
	if out.StatusLabel != "" {
		values["status_label"] = out.StatusLabel
	}
	if out.Message != "" {
		values["message"] = out.Message
	}
	if out.TransactionID != "" {
		values["transaction_id"] = out.TransactionID
		if next.RemoteID == "" {
			next.RemoteID = out.TransactionID
		}
	}
	for k, v := range out.Extra {
		values[k] = v
	}
	next.MergeMetadata(values)

	if settles {
		if err := next.Transition(target, now); err != nil {
			return errors.NewValidationError(err.Error(), errors.ErrCodeInvalidTransition)
		}
		rec.Applied = true
	}
	return nil
}

func (s *Orchestrator) rejectCallback(providerKey string, err error) {
	if appErr, ok := errors.IsAppError(err); ok {
		switch appErr.Type {
		case errors.ErrorTypeAuthentication:
			s.logger.Warn("callback failed authentication",
				"anomaly", "authentication",
				"provider", providerKey,
				"code", appErr.Code)
		case errors.ErrorTypeCorrelation:
			s.logger.Warn("callback could not be correlated", "provider", providerKey, "code", appErr.Code)
		default:
			s.logger.Error("callback reconciliation failed", "provider", providerKey, "error", err)
		}
	} else {
		s.logger.Error("callback reconciliation failed", "provider", providerKey, "error", err)
	}
	s.metrics.Callback(providerKey, "", metrics.ResultRejected)
}
