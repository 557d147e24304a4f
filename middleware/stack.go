package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarinepk/supervise"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// StackOptions configures the middleware bundle added on top of the request
// id, recoverer and request logger every supervised HTTP listener installs.
type StackOptions struct {
	Errors        supervise.ErrorReporter
	Timeout       time.Duration
	CompressLevel int
	// Draining reports whether the listener is being stopped. While it
	// returns true responses carry Connection: close.
	Draining func() bool
}

// DefaultStack wires the recommended middleware order.
func DefaultStack(opts StackOptions) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		RealIP(),
		Compress(opts.CompressLevel),
		ErrorReporter(opts.Errors),
		Timeout(opts.Timeout),
	}
	if opts.Draining != nil {
		stack = append(stack, CloseWhen(opts.Draining))
	}
	return stack
}

// RealIP resolves the actual remote IP when behind proxies/load balancers.
func RealIP() func(http.Handler) http.Handler {
	return chimiddleware.RealIP
}

// Compress enables gzip compression.
func Compress(level int) func(http.Handler) http.Handler {
	if level <= 0 {
		level = 5
	}
	return chimiddleware.Compress(level)
}

// Timeout aborts requests that exceed the configured duration.
func Timeout(duration time.Duration) func(http.Handler) http.Handler {
	if duration <= 0 {
		duration = 60 * time.Second
	}
	return chimiddleware.Timeout(duration)
}

// CloseWhen asks keep-alive clients to reconnect while draining returns
// true, so a drained listener does not keep serving reused connections.
func CloseWhen(draining func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if draining != nil && draining() {
				w.Header().Set("Connection", "close")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorReporter forwards 5xx responses and panics to the configured reporter.
func ErrorReporter(reporter supervise.ErrorReporter) func(http.Handler) http.Handler {
	if reporter == nil {
		reporter = supervise.NoopErrorReporter{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					reporter.Report(r.Context(), toError(rec), errorFields(r, 0))
					panic(rec)
				}
			}()

			next.ServeHTTP(recorder, r)

			if status := recorder.Status(); status >= http.StatusInternalServerError {
				reporter.Report(r.Context(), fmt.Errorf("http %d", status), errorFields(r, status))
			}
		})
	}
}

func errorFields(r *http.Request, status int) map[string]any {
	fields := map[string]any{
		"request_id": supervise.RequestIDFrom(r.Context()),
		"path":       r.URL.Path,
		"method":     r.Method,
	}
	if status != 0 {
		fields["status"] = status
	}
	return fields
}

func toError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
