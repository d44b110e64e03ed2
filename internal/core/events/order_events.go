package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderCompleted = "order.completed"
	EventTypeOrderFailed    = "order.failed"
	EventTypeOrderCancelled = "order.cancelled"
)

// FinalizedEventTypes are published once per transition into a terminal status.
var FinalizedEventTypes = []string{EventTypeOrderCompleted, EventTypeOrderFailed, EventTypeOrderCancelled}

type OrderFinalizedEvent struct {
	BaseEvent
	OrderCode   string `json:"order_code"`
	Status      string `json:"status"`
	ProviderKey string `json:"provider_key"`
	OutcomeKind string `json:"outcome_kind"`
}

// EventTypeForStatus maps a terminal order status onto its event type.
func EventTypeForStatus(status string) (string, bool) {
	switch status {
	case "completed":
		return EventTypeOrderCompleted, true
	case "failed":
		return EventTypeOrderFailed, true
	case "cancelled":
		return EventTypeOrderCancelled, true
	}
	return "", false
}

func NewOrderFinalizedEvent(orderCode, status, providerKey, outcomeKind string) *OrderFinalizedEvent {
	eventType, _ := EventTypeForStatus(status)
	return &OrderFinalizedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_code":   orderCode,
				"status":       status,
				"provider_key": providerKey,
				"outcome_kind": outcomeKind,
			},
		},
		OrderCode:   orderCode,
		Status:      status,
		ProviderKey: providerKey,
		OutcomeKind: outcomeKind,
	}
}
