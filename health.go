package supervise

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthCheck represents a liveness or readiness probe.
type HealthCheck func(context.Context) error

// HealthChecks aggregates liveness and readiness probes.
type HealthChecks struct {
	Liveness  map[string]HealthCheck
	Readiness map[string]HealthCheck
}

// HealthReporter allows components to expose their health probes. Every
// Supervisor is one, reporting ready only while its worker runs.
type HealthReporter interface {
	HealthChecks() HealthChecks
}

// ProbeTimeout bounds each probe run by the HTTP handlers.
const ProbeTimeout = 2 * time.Second

// HealthRegistry stores named probes. Re-registering a name replaces it.
type HealthRegistry struct {
	mu        sync.RWMutex
	liveness  map[string]HealthCheck
	readiness map[string]HealthCheck
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		liveness:  make(map[string]HealthCheck),
		readiness: make(map[string]HealthCheck),
	}
}

// RegisterChecks installs every probe a HealthReporter exposes.
func (hr *HealthRegistry) RegisterChecks(checks HealthChecks) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	addChecks(hr.liveness, checks.Liveness)
	addChecks(hr.readiness, checks.Readiness)
}

func (hr *HealthRegistry) RegisterLiveness(name string, check HealthCheck) {
	hr.RegisterChecks(HealthChecks{Liveness: map[string]HealthCheck{name: check}})
}

func (hr *HealthRegistry) RegisterReadiness(name string, check HealthCheck) {
	hr.RegisterChecks(HealthChecks{Readiness: map[string]HealthCheck{name: check}})
}

func addChecks(into, from map[string]HealthCheck) {
	for name, check := range from {
		if name != "" && check != nil {
			into[name] = check
		}
	}
}

// Liveness runs the liveness probes concurrently.
func (hr *HealthRegistry) Liveness(ctx context.Context) ProbeResponse {
	hr.mu.RLock()
	checks := maps.Clone(hr.liveness)
	hr.mu.RUnlock()
	return runChecks(ctx, checks)
}

// Readiness runs the readiness probes concurrently.
func (hr *HealthRegistry) Readiness(ctx context.Context) ProbeResponse {
	hr.mu.RLock()
	checks := maps.Clone(hr.readiness)
	hr.mu.RUnlock()
	return runChecks(ctx, checks)
}

// RegisterHealthEndpoints mounts /healthz, /livez, /readyz and /ping.
func RegisterHealthEndpoints(r chi.Router, registry *HealthRegistry) {
	if registry == nil {
		registry = NewHealthRegistry()
	}

	live := probeHandler(registry.Liveness)
	r.Get("/healthz", live)
	r.Get("/livez", live)
	r.Get("/readyz", probeHandler(registry.Readiness))
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func probeHandler(probe func(context.Context) ProbeResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ProbeTimeout)
		defer cancel()

		resp := probe(ctx)
		code := http.StatusOK
		if resp.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func runChecks(ctx context.Context, checks map[string]HealthCheck) ProbeResponse {
	results := make([]HealthResult, len(checks))
	names := slices.Sorted(maps.Keys(checks))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			began := time.Now()
			results[i] = HealthResult{Name: name}
			if err := checks[name](ctx); err != nil {
				results[i].Error = err.Error()
			}
			results[i].LatencyMS = time.Since(began).Milliseconds()
		}()
	}
	wg.Wait()

	status := "ok"
	if slices.ContainsFunc(results, func(r HealthResult) bool { return r.Error != "" }) {
		status = "degraded"
	}
	return ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Results:   results,
	}
}

// HealthStatusOK is a helper that always reports a healthy state.
func HealthStatusOK(context.Context) error { return nil }

// HealthResult captures the outcome of a single probe.
type HealthResult struct {
	Name      string `json:"name"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ProbeResponse wraps probe results in a standard JSON envelope.
type ProbeResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Results   []HealthResult `json:"results,omitempty"`
}

// String renders the failing probes, or "ok".
func (p ProbeResponse) String() string {
	var failed []string
	for _, r := range p.Results {
		if r.Error != "" {
			failed = append(failed, r.Name+": "+r.Error)
		}
	}
	if len(failed) == 0 {
		return p.Status
	}
	return p.Status + " (" + strings.Join(failed, "; ") + ")"
}
