package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/ipcgate/internal/ctxkey"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the ID RequestIDMiddleware assigned to the request
// behind ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware keeps the caller's X-Request-ID or generates one,
// echoes it in the response and attaches a logger tagged with it. Handlers
// get that logger back through requestLogger.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger is the logger attached by RequestIDMiddleware, or
// slog.Default() outside the middleware.
func requestLogger(r *http.Request) *slog.Logger {
	return proxy.LoggerFromContext(r.Context(), slog.Default())
}
