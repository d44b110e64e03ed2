package plugin

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

// TestModeKey is the conventional checkbox toggling sandbox credentials.
const TestModeKey = "test_mode"

// ActiveKey returns key prefixed with "test_" when the provider runs in test mode.
func ActiveKey(ctx context.Context, s Settings, key string) string {
	if s.Bool(ctx, TestModeKey, false) {
		return "test_" + key
	}
	return key
}

// ActiveMode reports the mode the provider is configured for.
func ActiveMode(ctx context.Context, s Settings) Mode {
	if s.Bool(ctx, TestModeKey, false) {
		return ModeTest
	}
	return ModeLive
}

// HasSettings reports whether every key has a non-empty value.
func HasSettings(ctx context.Context, s Settings, keys ...string) bool {
	for _, k := range keys {
		if strings.TrimSpace(s.Get(ctx, k, "")) == "" {
			return false
		}
	}
	return true
}

// RequiredFieldsPresent checks the required fields of schema that apply to
// the active mode. Fields of the other mode are ignored.
func RequiredFieldsPresent(ctx context.Context, s Settings, schema []Field) bool {
	mode := ActiveMode(ctx, s)
	for _, f := range schema {
		if !f.Required || (f.Mode != ModeAny && f.Mode != mode) {
			continue
		}
		if !HasSettings(ctx, s, f.Key) {
			return false
		}
	}
	return true
}

// SignHMAC returns the lower-case hex MAC of message.
func SignHMAC(h func() hash.Hash, secret, message string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualSignature compares hex signatures in constant time, ignoring case.
func EqualSignature(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(got))))
}

// ErrInvalidSignature is returned by Reconcile when authentication fails.
// It carries no order code.
func ErrInvalidSignature(provider string) *errors.AppError {
	return errors.NewAuthenticationError(provider+": callback signature is invalid", errors.ErrCodeInvalidSignature)
}

func ErrUnresolvedOrder(provider string) *errors.AppError {
	return errors.NewCorrelationError(provider+": callback does not identify an order", errors.ErrCodeOrderUnresolved)
}

func ErrRefundUnsupported(provider string) *errors.AppError {
	return errors.NewValidationError(provider+": refunds are not supported", errors.ErrCodeRefundUnsupported)
}

// MapSettings is an in-memory Settings, handy for fixed configuration.
type MapSettings map[string]string

func (m MapSettings) Get(_ context.Context, key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m MapSettings) Bool(ctx context.Context, key string, def bool) bool {
	switch strings.ToLower(m.Get(ctx, key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
