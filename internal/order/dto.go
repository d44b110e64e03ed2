package order

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/common/validation"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

type CustomerDTO struct {
	Name  string         `json:"name"`
	Email string         `json:"email"`
	Phone string         `json:"phone"`
	Data  map[string]any `json:"data,omitempty"`
}

type CreateOrderDTO struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Description      string          `json:"description"`
	Customer         CustomerDTO     `json:"customer"`
	IgnoredProviders []string        `json:"ignored_providers,omitempty"`
	SuccessHook      string          `json:"success_hook,omitempty"`
	FailureHook      string          `json:"failure_hook,omitempty"`
	SuccessURL       string          `json:"success_url,omitempty"`
	FailureURL       string          `json:"failure_url,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// HookRegistry reports whether a merchant hook id is registered.
type HookRegistry interface {
	Has(id string) bool
}

func (dto CreateOrderDTO) Validate(hooks HookRegistry) error {
	v := validation.NewValidator()
	v.Field("amount", dto.Amount).
		Positive(errors.ErrCodeInvalidAmount).
		MaxScale(2, errors.ErrCodeInvalidAmount)
	v.Field("currency", dto.Currency).Currency()
	v.Field("description", dto.Description).MaxLength(500)
	v.Field("customer.name", dto.Customer.Name).MaxLength(255)
	v.Field("customer.email", dto.Customer.Email).Email().MaxLength(255)
	v.Field("customer.phone", dto.Customer.Phone).MaxLength(32)
	v.Field("success_url", dto.SuccessURL).AbsoluteURL()
	v.Field("failure_url", dto.FailureURL).AbsoluteURL()
	for _, hook := range []struct{ field, id string }{
		{"success_hook", dto.SuccessHook},
		{"failure_hook", dto.FailureHook},
	} {
		id := hook.id
		v.Field(hook.field, id).Custom(func(interface{}) *errors.AppError {
			if id == "" || (hooks != nil && hooks.Has(id)) {
				return nil
			}
			return errors.NewValidationFieldError(hook.field, "unknown hook handler "+id, errors.ErrCodeUnknownHook)
		})
	}
	for key := range dto.Metadata {
		k := key
		v.Field("metadata."+k, k).Custom(func(interface{}) *errors.AppError {
			if !IsSystemMetadataKey(k) {
				return nil
			}
			return errors.NewValidationFieldError("metadata."+k, "metadata key "+k+" is reserved", errors.ErrCodeReservedMetadata)
		})
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// OrderResponse is the read projection handed to the presentation layer.
type OrderResponse struct {
	Code             string         `json:"code"`
	Amount           string         `json:"amount"`
	Currency         string         `json:"currency"`
	Status           Status         `json:"status"`
	Description      string         `json:"description,omitempty"`
	CustomerName     string         `json:"customer_name,omitempty"`
	CustomerEmail    string         `json:"customer_email,omitempty"`
	ProviderKey      string         `json:"provider_key,omitempty"`
	IgnoredProviders []string       `json:"ignored_providers,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func ToResponse(o *Order) OrderResponse {
	return OrderResponse{
		Code:             o.Code,
		Amount:           o.AmountString(),
		Currency:         o.Currency,
		Status:           o.Status,
		Description:      o.Description,
		CustomerName:     o.CustomerName,
		CustomerEmail:    o.CustomerEmail,
		ProviderKey:      o.ProviderKey,
		IgnoredProviders: o.IgnoredProviders,
		Metadata:         logger.Redact(o.Metadata),
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}
