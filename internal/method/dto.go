package method

import (
	"regexp"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/common/validation"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type CreateMethodDTO struct {
	Key         string          `json:"key"`
	Driver      string          `json:"driver"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	SortOrder   int             `json:"sort_order"`
	FlatFee     decimal.Decimal `json:"flat_fee"`
	PercentFee  decimal.Decimal `json:"percent_fee"`
}

func (dto CreateMethodDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("key", dto.Key).Required().Custom(func(value interface{}) *errors.AppError {
		if s, _ := value.(string); s != "" && !keyPattern.MatchString(s) {
			return errors.NewValidationFieldError("key", "key must be lower-case letters, digits, dash or underscore", errors.ErrCodeValidationFailed)
		}
		return nil
	})
	v.Field("driver", dto.Driver).Required().MaxLength(64)
	v.Field("name", dto.Name).Required().MaxLength(255)
	v.Field("description", dto.Description).MaxLength(1000)
	validateFees(v, dto.FlatFee, dto.PercentFee)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// UpdateMethodDTO carries a partial update; nil fields are left untouched.
type UpdateMethodDTO struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	SortOrder   *int             `json:"sort_order,omitempty"`
	FlatFee     *decimal.Decimal `json:"flat_fee,omitempty"`
	PercentFee  *decimal.Decimal `json:"percent_fee,omitempty"`
}

func (dto UpdateMethodDTO) Validate() error {
	v := validation.NewValidator()
	if dto.Name != nil {
		v.Field("name", *dto.Name).Required().MaxLength(255)
	}
	if dto.Description != nil {
		v.Field("description", *dto.Description).MaxLength(1000)
	}
	flat, percent := decimal.Zero, decimal.Zero
	if dto.FlatFee != nil {
		flat = *dto.FlatFee
	}
	if dto.PercentFee != nil {
		percent = *dto.PercentFee
	}
	validateFees(v, flat, percent)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func (dto UpdateMethodDTO) apply(m *Method) {
	if dto.Name != nil {
		m.Name = *dto.Name
	}
	if dto.Description != nil {
		m.Description = *dto.Description
	}
	if dto.Enabled != nil {
		m.Enabled = *dto.Enabled
	}
	if dto.SortOrder != nil {
		m.SortOrder = *dto.SortOrder
	}
	if dto.FlatFee != nil {
		m.FlatFee = *dto.FlatFee
	}
	if dto.PercentFee != nil {
		m.PercentFee = *dto.PercentFee
	}
}

func validateFees(v *validation.ValidationBuilder, flat, percent decimal.Decimal) {
	v.Field("flat_fee", flat).
		Custom(nonNegative("flat_fee")).
		MaxScale(2, errors.ErrCodeInvalidAmount)
	v.Field("percent_fee", percent).
		Custom(nonNegative("percent_fee")).
		Custom(func(value interface{}) *errors.AppError {
			if d, ok := value.(decimal.Decimal); ok && d.GreaterThan(decimal.NewFromInt(100)) {
				return errors.NewValidationFieldError("percent_fee", "percent_fee must not exceed 100", errors.ErrCodeInvalidAmount)
			}
			return nil
		})
}

func nonNegative(field string) func(interface{}) *errors.AppError {
	return func(value interface{}) *errors.AppError {
		if d, ok := value.(decimal.Decimal); ok && d.IsNegative() {
			return errors.NewValidationFieldError(field, field+" must not be negative", errors.ErrCodeInvalidAmount)
		}
		return nil
	}
}

// SchemaResponse describes a provider's plugin and configuration form.
type SchemaResponse struct {
	Key        string            `json:"key"`
	Driver     string            `json:"driver"`
	Plugin     plugin.Descriptor `json:"plugin"`
	Fields     []plugin.Field    `json:"fields"`
	Refundable bool              `json:"refundable"`
}

type ValidationResponse struct {
	Key   string `json:"key"`
	Valid bool   `json:"valid"`
}
