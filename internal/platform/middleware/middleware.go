// Package middleware holds the chi middleware chain shared by both ledger
// mounts: request correlation, transaction assignment, panic recovery,
// request logging, and identity extraction.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"custodia/internal/identity"
	id "custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

type actorKey struct{}

// Actor retrieves the caller identity placed by the identity middleware.
func Actor(ctx context.Context) identity.Context {
	if actor, ok := ctx.Value(actorKey{}).(identity.Context); ok {
		return actor
	}
	return identity.Context{}
}

// WithActor injects a caller identity. Exposed for handler tests.
func WithActor(ctx context.Context, actor identity.Context) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequestID assigns a correlation ID and a ledger transaction ID to each
// request, and pins the request time so every write within the request
// shares one timestamp.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, reqID)
		ctx = requestcontext.WithTxID(ctx, uuid.NewString())
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery converts panics into 500s instead of tearing down the server.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.ErrorContext(r.Context(), "panic recovered",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", requestcontext.RequestID(r.Context()),
					)
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger emits one structured line per request.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// headerIdentity reads the development identity headers.
func headerIdentity(r *http.Request) identity.Context {
	actor := identity.Context{
		ActorID:      id.ActorID(r.Header.Get("X-Actor-ID")),
		Organization: r.Header.Get("X-Actor-Org"),
	}
	if role := r.Header.Get("X-Actor-Role"); role != "" {
		actor.DeclaredRole = &role
	}
	return actor
}
