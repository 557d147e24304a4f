package supervise

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	// RunIDHeader carries the id of the supervisor run that served a response.
	RunIDHeader = "X-Run-ID"
)

type (
	requestIDKey struct{}
	runIDKey     struct{}
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	return idFrom(ctx, requestIDKey{})
}

// WithRunID tags ctx with a supervisor run id. Each worker of a Supervisor
// gets a fresh one, visible to its hooks and factory.
func WithRunID(ctx context.Context, id string) context.Context {
	return withID(ctx, runIDKey{}, id)
}

func RunIDFrom(ctx context.Context) string {
	return idFrom(ctx, runIDKey{})
}

func withID(ctx context.Context, key any, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key).(string)
	return id
}

// RequestIDMiddleware propagates X-Request-ID, minting a UUID when the
// client sent none.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// RunIDMiddleware stamps every response and request context with runID, so
// request logs show which run of a restarted listener handled them. An empty
// runID yields a pass-through.
func RunIDMiddleware(runID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if runID == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(RunIDHeader, runID)
			next.ServeHTTP(w, r.WithContext(WithRunID(r.Context(), runID)))
		})
	}
}
