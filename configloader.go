package supervise

import (
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	confmap "github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config/config.yaml",
	"config/config.yml",
	".config/config.yaml",
	".config/config.yml",
}

// LoadConfig builds a Config instance merging, in order, a YAML file (if
// present), environment variables and CLI arguments. Environment variables
// are matched using the provided prefix, replacing underscores with dots and
// lower-casing the remainder (e.g. DEMO_HTTP_STRATEGY -> http.strategy). CLI
// arguments use --key=value or --key value with flags taking precedence. A
// --config argument selects the YAML file explicitly.
func LoadConfig(envNamespace string, args []string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.LoadSources(envNamespace, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSources merges configuration from the default sources into the receiver.
// Sources are applied in the following order (later overrides earlier):
//  1. YAML file (--config, else first match among config/config.{yaml,yml}, .config/...)
//  2. Environment variables with the given prefix
//  3. CLI arguments in --key=value or --key value form
func (p *Config) LoadSources(envNamespace string, args []string) error {
	k := koanf.New(".")
	kv := parseArgsToMap(args)

	path, ok := "", false
	if explicit, set := kv["config"].(string); set && explicit != "" {
		path, ok = explicit, true
		delete(kv, "config")
	} else {
		path, ok = findConfigFile()
	}
	if ok {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if envNamespace != "" {
		envPrefix := strings.ToUpper(strings.TrimSuffix(envNamespace, "_")) + "_"
		transform := func(s string) string {
			s = strings.TrimPrefix(s, envPrefix)
			s = strings.ReplaceAll(s, "_", ".")
			return strings.ToLower(s)
		}
		if err := k.Load(env.Provider(envPrefix, ".", transform), nil); err != nil {
			return fmt.Errorf("config: loading env: %w", err)
		}
	}

	if len(kv) > 0 {
		if err := k.Load(confmap.Provider(kv, "."), nil); err != nil {
			return fmt.Errorf("config: loading args: %w", err)
		}
	}

	raw := map[string]any{}
	if err := k.Unmarshal("", &raw); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	p.MergeNested(raw)
	p.addAliasKeys()
	return nil
}

func findConfigFile() (string, bool) {
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// parseArgsToMap maps --key=value and --key value pairs to dotted keys,
// turning underscores into dots. A bare --key is "true".
func parseArgsToMap(args []string) map[string]any {
	out := make(map[string]any)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || len(arg) <= 2 {
			continue
		}
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			value = "true"
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				value = args[i+1]
				i++
			}
		}
		out[strings.ReplaceAll(key, "_", ".")] = value
	}
	return out
}
