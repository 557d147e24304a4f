package supervise

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListenerSettings is the configuration subtree of one supervised listener:
//
//	http:
//	  port: 8080
//	  strategy: polling
//	  poll_interval: 50ms
//	  stop_timeout: 10s
//	  enclose: true
type ListenerSettings struct {
	Port         string        `koanf:"port"`
	Strategy     string        `koanf:"strategy"`
	PollInterval time.Duration `koanf:"poll_interval"`
	StopTimeout  time.Duration `koanf:"stop_timeout"`
	Enclose      bool          `koanf:"enclose"`
}

// ListenerSettings decodes the settings next to addrKey. For "http.port" the
// subtree "http" is decoded and the port itself is read from addrKey.
func (p *Config) ListenerSettings(addrKey, defaultPort string) (ListenerSettings, error) {
	var s ListenerSettings
	prefix := ""
	if i := strings.LastIndex(addrKey, "."); i > 0 {
		prefix = addrKey[:i]
	}
	if prefix != "" {
		if err := p.Unmarshal(prefix, &s); err != nil {
			return s, err
		}
	}
	s.Port = p.GetPort(addrKey, defaultPort)
	if s.PollInterval < 0 {
		return s, errors.New("poll_interval must not be negative")
	}
	if s.StopTimeout < 0 {
		return s, errors.New("stop_timeout must not be negative")
	}
	return s, nil
}

// SupervisorOptions maps the settings onto supervisor options.
func (s ListenerSettings) SupervisorOptions() ([]SupervisorOption, error) {
	strategy, err := ParseStrategy(s.Strategy)
	if err != nil {
		return nil, err
	}
	return []SupervisorOption{
		WithStrategy(strategy),
		WithStopTimeout(s.StopTimeout),
		WithEnclosure(s.Enclose),
	}, nil
}

// NormalizePort ensures ports always include the leading colon and fall back to
// a sensible default when unset. Full host:port addresses are kept as is.
func NormalizePort(port, fallback string) string {
	p := strings.TrimSpace(port)
	if p == "" {
		p = fallback
	}
	if p == "" {
		return ":8080"
	}
	if strings.Contains(p, ":") {
		return p
	}
	return fmt.Sprintf(":%s", p)
}
