package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

const TraceIDHeader = "X-Trace-ID"

// maxTraceIDLen bounds caller-supplied ids before they reach the logs.
const maxTraceIDLen = 64

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}

		ctx := logger.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
