package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

const (
	// ScopeOrdersWrite lets a merchant integration create orders.
	ScopeOrdersWrite = "orders:write"
	// ScopePaymentsAdmin guards provider administration and refunds.
	ScopePaymentsAdmin = "payments:admin"
)

// KnownScopes are the scopes a token may carry.
var KnownScopes = []string{ScopeOrdersWrite, ScopePaymentsAdmin}

// TokenGenerator issues and checks bearer tokens.
type TokenGenerator interface {
	GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims represents JWT token claims
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type JWTTokenGenerator struct {
	Secret     []byte
	Issuer     string
	DefaultTTL time.Duration
	now        func() time.Time
}

var ErrTokenExpired = errors.NewUnauthorizedError("Token expired", errors.ErrCodeInvalidToken)

// ParseScopes splits a comma separated scope list and rejects unknown scopes.
func ParseScopes(raw string) ([]string, error) {
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !slices.Contains(KnownScopes, s) {
			return nil, errors.NewValidationFieldError("scopes", "unknown scope "+s, errors.ErrCodeValidationFailed)
		}
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	if len(scopes) == 0 {
		return nil, errors.NewValidationFieldError("scopes", "at least one scope is required", errors.ErrCodeValidationFailed)
	}
	return scopes, nil
}
