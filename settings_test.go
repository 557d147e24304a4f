package supervise

import (
	"context"
	"testing"
	"time"
)

func TestNormalizePort(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		fallback string
		want     string
	}{
		{"emptyPortAndFallback", "", "", ":8080"},
		{"emptyPortWithFallback", "", ":9090", ":9090"},
		{"portWithColon", ":3000", ":8080", ":3000"},
		{"portWithoutColon", "4000", ":8080", ":4000"},
		{"portWithHost", "127.0.0.1:5000", ":8080", "127.0.0.1:5000"},
		{"fallbackWithoutColon", "", "6000", ":6000"},
		{"whitespace", "  7000 ", ":8080", ":7000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePort(tt.port, tt.fallback)
			if got != tt.want {
				t.Errorf("NormalizePort(%q, %q) = %q, want %q", tt.port, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestConfigListenerSettings(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		addrKey string
		want    ListenerSettings
		wantErr bool
	}{
		{
			name:    "defaults",
			values:  nil,
			addrKey: "http.port",
			want:    ListenerSettings{Port: ":8080"},
		},
		{
			name: "fullSubtree",
			values: map[string]any{
				"http.port":          9090,
				"http.strategy":      "polling",
				"http.poll_interval": "25ms",
				"http.stop_timeout":  "3s",
				"http.enclose":       "true",
			},
			addrKey: "http.port",
			want: ListenerSettings{
				Port:         ":9090",
				Strategy:     "polling",
				PollInterval: 25 * time.Millisecond,
				StopTimeout:  3 * time.Second,
				Enclose:      true,
			},
		},
		{
			name:    "topLevelKey",
			values:  map[string]any{"port": "7070"},
			addrKey: "port",
			want:    ListenerSettings{Port: ":7070"},
		},
		{
			name:    "negativePollInterval",
			values:  map[string]any{"http.poll_interval": "-1ms"},
			addrKey: "http.port",
			wantErr: true,
		},
		{
			name:    "negativeStopTimeout",
			values:  map[string]any{"http.stop_timeout": "-2s"},
			addrKey: "http.port",
			wantErr: true,
		},
		{
			name:    "badDuration",
			values:  map[string]any{"http.stop_timeout": "soon"},
			addrKey: "http.port",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.MergeFlat(tt.values)

			got, err := cfg.ListenerSettings(tt.addrKey, ":8080")
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListenerSettings() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ListenerSettings() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestListenerSettingsSupervisorOptions(t *testing.T) {
	build := func(context.Context, *Environment) (*Components, error) {
		return nil, nil
	}

	settings := ListenerSettings{Strategy: "poll", StopTimeout: time.Second, Enclose: true}
	opts, err := settings.SupervisorOptions()
	if err != nil {
		t.Fatalf("SupervisorOptions() error = %v", err)
	}

	s := NewSupervisor("test", build, opts...)
	if s.strategy != StrategyPolling {
		t.Errorf("strategy = %s, want polling", s.strategy)
	}
	if s.stopTimeout != time.Second {
		t.Errorf("stopTimeout = %v, want 1s", s.stopTimeout)
	}
	if !s.enclose {
		t.Error("enclose should be enabled")
	}

	if _, err := (ListenerSettings{Strategy: "whenever"}).SupervisorOptions(); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
