package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/auth"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.Claims, error)
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Authenticate rejects requests without a valid bearer token and stores the
// token subject and scopes in the request context.
func Authenticate(validator TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				h.Logger.Warn("auth middleware: missing authorization token", "path", r.URL.Path)
				h.HandleError(w, errors.NewUnauthorizedError("missing authorization token", errors.ErrCodeInvalidToken))
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				h.Logger.Warn("token validation failed", "path", r.URL.Path, "error", err)
				h.HandleServiceError(w, err)
				return
			}

			ctx := errors.ContextWithSubject(r.Context(), claims.Subject)
			ctx = errors.ContextWithScopes(ctx, claims.Scopes)
			ctx = logger.WithSubject(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes lets the request through only when the authenticated token
// carries every scope.
func RequireScopes(lg *slog.Logger, scopes ...string) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted := errors.ScopesFromContext(r.Context())
			for _, want := range scopes {
				if !contains(granted, want) {
					h.Logger.Warn("token lacks scope",
						"subject", errors.SubjectFromContext(r.Context()),
						"scope", want,
						"path", r.URL.Path)
					h.HandleError(w, errors.ErrMissingScope)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
