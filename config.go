package supervise

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config stores configuration values under dotted, case-insensitive keys.
// Nested sources are flattened on merge; Unmarshal rebuilds the tree.
type Config struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewConfig constructs an empty property store.
func NewConfig() *Config {
	return &Config{values: make(map[string]any)}
}

// Set stores value under path.
func (p *Config) Set(path string, value any) {
	p.mu.Lock()
	p.values[normalise(path)] = value
	p.mu.Unlock()
}

// MergeFlat stores a batch of already dotted keys.
func (p *Config) MergeFlat(values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range values {
		p.values[normalise(k)] = v
	}
}

// MergeNested flattens nested maps such as decoded YAML.
func (p *Config) MergeNested(values map[string]any) {
	flat := make(map[string]any)
	flatten(flat, "", values)
	p.MergeFlat(flat)
}

// MergeYAML decodes a YAML document and merges it.
func (p *Config) MergeYAML(data []byte) error {
	var raw map[string]any
	if err := yamlv3.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: yaml: %w", err)
	}
	p.MergeNested(raw)
	return nil
}

// MergeYAMLFile reads and merges a YAML file.
func (p *Config) MergeYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return p.MergeYAML(data)
}

// Get returns the raw value stored under path.
func (p *Config) Get(path string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[normalise(path)]
	return v, ok
}

// GetString renders the value as a string. Any stored value qualifies.
func (p *Config) GetString(path string) (string, bool) {
	raw, ok := p.Get(path)
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(raw), true
	}
}

// GetInt decodes the value as an int. Numeric strings are accepted.
func (p *Config) GetInt(path string) (int, bool, error) {
	return lookup[int](p, path)
}

// GetBool decodes the value as a bool. Numbers are true when non-zero.
func (p *Config) GetBool(path string) (bool, bool, error) {
	return lookup[bool](p, path)
}

// GetDuration decodes the value as a time.Duration. Strings use
// time.ParseDuration syntax; bare numbers are nanoseconds.
func (p *Config) GetDuration(path string) (time.Duration, bool, error) {
	return lookup[time.Duration](p, path)
}

func (p *Config) GetStringOrDef(path string, def string) string {
	if v, ok := p.GetString(path); ok {
		return v
	}
	return def
}

func (p *Config) GetIntOrDef(path string, def int) int {
	v, ok, err := p.GetInt(path)
	return orDef(v, ok, err, def)
}

func (p *Config) GetBoolOrDef(path string, def bool) bool {
	v, ok, err := p.GetBool(path)
	return orDef(v, ok, err, def)
}

func (p *Config) GetDurationOrDef(path string, def time.Duration) time.Duration {
	v, ok, err := p.GetDuration(path)
	return orDef(v, ok, err, def)
}

// GetPort reads a listen address and normalizes it with NormalizePort.
func (p *Config) GetPort(path string, defaultPort string) string {
	port, _ := p.GetString(path)
	return NormalizePort(port, defaultPort)
}

// Unmarshal decodes the subtree at path (the whole store when empty) into
// target, matching fields by their koanf tag.
func (p *Config) Unmarshal(path string, target any) error {
	if target == nil {
		return fmt.Errorf("config: nil target")
	}
	tree := p.snapshot()
	if path != "" {
		tree = subtree(tree, normalise(path))
	}
	if err := decode(tree, target); err != nil {
		return fmt.Errorf("config: decode %q: %w", path, err)
	}
	return nil
}

func lookup[T any](p *Config, path string) (T, bool, error) {
	var out T
	raw, ok := p.Get(path)
	if !ok {
		return out, false, nil
	}
	if err := decode(raw, &out); err != nil {
		return out, true, fmt.Errorf("config: %s: %w", path, err)
	}
	return out, true, nil
}

func orDef[T any](v T, ok bool, err error, def T) T {
	if ok && err == nil {
		return v
	}
	return def
}

func decode(input, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "koanf",
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func flatten(out map[string]any, prefix string, values map[string]any) {
	for k, v := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(out, key, nested)
			continue
		}
		out[key] = v
	}
}

func normalise(path string) string {
	segments := strings.Split(path, ".")
	for i := range segments {
		segments[i] = strings.ToLower(strings.TrimSpace(segments[i]))
	}
	return strings.Join(segments, ".")
}

func (p *Config) snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	root := make(map[string]any)
	for key, value := range p.values {
		node := root
		parts := strings.Split(key, ".")
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}

// subtree returns the map found at path, or an empty map.
func subtree(root map[string]any, path string) map[string]any {
	node := root
	for _, segment := range strings.Split(strings.Trim(path, "."), ".") {
		next, ok := node[segment].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		node = next
	}
	return node
}

// addAliasKeys makes "a.b.c" reachable as "a.b_c" and "a_b_c", so
// environment variables like DEMO_HTTP_STOP_TIMEOUT resolve snake_case keys.
func (p *Config) addAliasKeys() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, value := range p.values {
		parts := strings.Split(key, ".")
		for i := len(parts) - 1; i > 0; i-- {
			alias := strings.Join(parts[:i-1], ".")
			if alias != "" {
				alias += "."
			}
			alias += strings.Join(parts[i-1:], "_")
			if _, exists := p.values[alias]; !exists {
				p.values[alias] = value
			}
		}
	}
}
