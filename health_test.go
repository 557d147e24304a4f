package supervise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestHealthRegistryRegister(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	tests := []struct {
		name      string
		register  func(hr *HealthRegistry)
		liveness  int
		readiness int
	}{
		{"liveness", func(hr *HealthRegistry) { hr.RegisterLiveness("test", ok) }, 1, 0},
		{"readiness", func(hr *HealthRegistry) { hr.RegisterReadiness("test", ok) }, 0, 1},
		{"emptyName", func(hr *HealthRegistry) { hr.RegisterLiveness("", ok) }, 0, 0},
		{"nilCheck", func(hr *HealthRegistry) { hr.RegisterReadiness("test", nil) }, 0, 0},
		{"checks", func(hr *HealthRegistry) {
			hr.RegisterChecks(HealthChecks{
				Liveness:  map[string]HealthCheck{"live1": ok, "live2": ok},
				Readiness: map[string]HealthCheck{"ready1": ok},
			})
		}, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := NewHealthRegistry()
			tt.register(hr)
			if len(hr.liveness) != tt.liveness {
				t.Errorf("liveness checks = %d, want %d", len(hr.liveness), tt.liveness)
			}
			if len(hr.readiness) != tt.readiness {
				t.Errorf("readiness checks = %d, want %d", len(hr.readiness), tt.readiness)
			}
		})
	}
}

func TestRegisterHealthEndpoints(t *testing.T) {
	r := chi.NewRouter()
	RegisterHealthEndpoints(r, nil)

	for _, ep := range []string{"/healthz", "/livez", "/readyz", "/ping"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ep, nil))

		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", ep, rec.Code, http.StatusOK)
		}
	}
}

func TestReadyzReportsSupervisor(t *testing.T) {
	hr := NewHealthRegistry()
	hr.RegisterReadiness("core", HealthStatusOK)
	hr.RegisterReadiness("http", func(context.Context) error {
		return errors.New("supervisor http is stopping")
	})

	r := chi.NewRouter()
	RegisterHealthEndpoints(r, hr)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp ProbeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if len(resp.Results) != 2 || resp.Results[0].Name != "core" || resp.Results[1].Error == "" {
		t.Errorf("Results = %+v, want core ok then http failing", resp.Results)
	}

	// Liveness is unaffected by readiness failures.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("livez status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPingEndpoint(t *testing.T) {
	r := chi.NewRouter()
	RegisterHealthEndpoints(r, NewHealthRegistry())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Body.String() != "pong" {
		t.Errorf("body = %q, want pong", rec.Body.String())
	}
}

func TestHealthStatusOK(t *testing.T) {
	if err := HealthStatusOK(context.Background()); err != nil {
		t.Errorf("HealthStatusOK should return nil, got %v", err)
	}
}

func TestRunChecksConcurrently(t *testing.T) {
	aIn, bIn := make(chan struct{}), make(chan struct{})
	rendezvous := func(mine, other chan struct{}) HealthCheck {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-other:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp := runChecks(ctx, map[string]HealthCheck{
		"a": rendezvous(aIn, bIn),
		"b": rendezvous(bIn, aIn),
	})
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok (%s)", resp.Status, resp)
	}
}

func TestProbeHandlerTimeout(t *testing.T) {
	hr := NewHealthRegistry()
	hr.RegisterReadiness("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := chi.NewRouter()
	RegisterHealthEndpoints(r, hr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestProbeResponseString(t *testing.T) {
	tests := []struct {
		name string
		resp ProbeResponse
		want string
	}{
		{"ok", ProbeResponse{Status: "ok", Results: []HealthResult{{Name: "core"}}}, "ok"},
		{"degraded", ProbeResponse{Status: "degraded", Results: []HealthResult{
			{Name: "core"},
			{Name: "http", Error: "stopping"},
		}}, "degraded (http: stopping)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
