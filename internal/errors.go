package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation            ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound              ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized          ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden             ErrorType = "FORBIDDEN"
	ErrorTypeConflict              ErrorType = "CONFLICT"
	ErrorTypeInternal              ErrorType = "INTERNAL_ERROR"
	ErrorTypeConfiguration         ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeProviderCommunication ErrorType = "PROVIDER_COMMUNICATION_ERROR"
	ErrorTypeAuthentication        ErrorType = "AUTHENTICATION_ERROR"
	ErrorTypeCorrelation           ErrorType = "CORRELATION_ERROR"
	ErrorTypeConflictingOutcome    ErrorType = "CONFLICTING_OUTCOME"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidEmail     ErrorCode = "INVALID_EMAIL"
	ErrCodeUnknownHook      ErrorCode = "UNKNOWN_HOOK"
	ErrCodeReservedMetadata ErrorCode = "RESERVED_METADATA"

	ErrCodeOrderNotFound      ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeInvalidOrderStatus ErrorCode = "INVALID_ORDER_STATUS"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeConcurrentUpdate   ErrorCode = "CONCURRENT_UPDATE"

	ErrCodeMethodNotFound       ErrorCode = "METHOD_NOT_FOUND"
	ErrCodeMethodExists         ErrorCode = "METHOD_EXISTS"
	ErrCodeProviderDisabled     ErrorCode = "PROVIDER_DISABLED"
	ErrCodeProviderIgnored      ErrorCode = "PROVIDER_IGNORED"
	ErrCodePluginNotFound       ErrorCode = "PLUGIN_NOT_FOUND"
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrCodeSettingDecryption    ErrorCode = "SETTING_DECRYPTION_FAILED"

	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderRejected    ErrorCode = "PROVIDER_REJECTED"

	ErrCodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	ErrCodeUnverifiable     ErrorCode = "UNVERIFIABLE_CALLBACK"
	ErrCodeOrderUnresolved  ErrorCode = "ORDER_UNRESOLVED"
	ErrCodeProviderMismatch ErrorCode = "PROVIDER_MISMATCH"
	ErrCodeOutcomeConflict  ErrorCode = "OUTCOME_CONFLICT"

	ErrCodeRefundUnsupported ErrorCode = "REFUND_UNSUPPORTED"
	ErrCodeRefundExceeded    ErrorCode = "REFUND_EXCEEDED"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeMissingScope ErrorCode = "MISSING_SCOPE"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel AppErrors work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewConfigurationError reports a provider bound to a missing plugin or to
// settings the plugin cannot work with. It is never recoverable by retrying.
func NewConfigurationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewProviderCommunicationError covers network failures, timeouts and non-2xx
// answers from an external provider API. The message must not carry secrets.
func NewProviderCommunicationError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderCommunication,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

func NewAuthenticationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewCorrelationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeCorrelation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewConflictingOutcomeError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflictingOutcome,
		Code:       ErrCodeOutcomeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	ErrOrderNotFound      = NewNotFoundError("Order not found", ErrCodeOrderNotFound)
	ErrInvalidOrderStatus = NewValidationError("invalid order status for this operation", ErrCodeInvalidOrderStatus)
	ErrConcurrentUpdate   = NewConflictError("order was modified concurrently", ErrCodeConcurrentUpdate)

	ErrMethodNotFound   = NewNotFoundError("Payment method not found", ErrCodeMethodNotFound)
	ErrMethodExists     = NewConflictError("Payment method already exists", ErrCodeMethodExists)
	ErrProviderDisabled = NewValidationError("payment method is disabled", ErrCodeProviderDisabled)
	ErrProviderIgnored  = NewValidationError("payment method is not available for this order", ErrCodeProviderIgnored)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrMissingScope = NewForbiddenError("Token lacks the required scope", ErrCodeMissingScope)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err wraps an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Type == t
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
