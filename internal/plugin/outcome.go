package plugin

import "github.com/frahmantamala/payment-orchestration/internal/order"

type Kind string

const (
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindPending   Kind = "pending"
	KindCancelled Kind = "cancelled"
)

type Outcome struct {
	Kind          Kind
	OrderCode     string
	TransactionID string
	StatusLabel   string
	Message       string
	Extra         map[string]any
}

func (o *Outcome) Success() bool {
	return o != nil && o.Kind == KindSuccess
}

// TargetStatus is the order status an outcome of this kind settles on.
// Cancelled is a customer abort and lands on failed like any failure.
func (k Kind) TargetStatus() (order.Status, bool) {
	switch k {
	case KindSuccess:
		return order.StatusCompleted, true
	case KindFailure, KindCancelled:
		return order.StatusFailed, true
	}
	return "", false
}

func (k Kind) Valid() bool {
	switch k {
	case KindSuccess, KindFailure, KindPending, KindCancelled:
		return true
	}
	return false
}
