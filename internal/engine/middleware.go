package engine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TraceHeader = "X-Trace-ID"

type ctxKey struct{}

// TracingMiddleware берёт Trace-ID от прокси или выдаёт новый и возвращает его клиенту.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, traceID)))
	})
}

// TraceID возвращает пустую строку вне TracingMiddleware.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithTrace привязывает trace_id к логгеру запроса.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := TraceID(ctx); id != "" {
		return logger.With(zap.String("trace_id", id))
	}
	return logger
}
