package supervise

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Counter names emitted by a Supervisor, labelled with "supervisor".
const (
	MetricSupervisorRuns         = "supervisor_runs_total"
	MetricSupervisorWorkerErrors = "supervisor_worker_errors_total"
	MetricSupervisorStopTimeouts = "supervisor_stop_timeouts_total"
)

// Metrics models a minimal counter interface with HTTP-specific observations.
type Metrics interface {
	Counter(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHTTPRequest(path, method string, status int, duration time.Duration)
}

type NoopMetrics struct{}

func (NoopMetrics) Counter(context.Context, string, float64, map[string]string) {}
func (NoopMetrics) ObserveHTTPRequest(string, string, int, time.Duration)       {}

// NewMetricsMiddleware reports every request through metrics. The chi route
// pattern is used as path when one matched, keeping label cardinality bounded.
func NewMetricsMiddleware(metrics Metrics) func(http.Handler) http.Handler {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rw := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			status := rw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.ObserveHTTPRequest(path, r.Method, status, time.Since(began))
		})
	}
}
