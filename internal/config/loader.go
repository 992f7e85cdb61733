package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: SARANGA_DATABASE__MAX_CONNS -> database.max_conns.
const EnvPrefix = "SARANGA_"

// legacyEnv maps variable names used by earlier deployments to config keys.
var legacyEnv = map[string]struct {
	key    string
	millis bool
}{
	"DATABASE_URL":               {key: "database.url"},
	"PG_POOL_MAX":                {key: "database.max_conns"},
	"PG_POOL_MIN":                {key: "database.min_conns"},
	"PG_POOL_IDLE_TIMEOUT":       {key: "database.idle_timeout", millis: true},
	"PG_POOL_CONNECTION_TIMEOUT": {key: "database.connect_timeout", millis: true},
	"PG_APPLICATION_NAME":        {key: "instance.name"},
	"NODE_ENV":                   {key: "instance.env"},
	"PORT":                       {key: "server.port"},
}

// Load reads an optional YAML config file, expands ${VAR} references and
// applies environment overrides. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand ${VAR} environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := overlayEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// overlayEnv decodes environment variables on top of cfg. Keys absent from
// the environment keep their current value. Prefixed variables are loaded
// last so they win over legacy names.
func overlayEnv(cfg *Config) error {
	k := koanf.New(".")

	if err := k.Load(env.ProviderWithValue("", ".", legacyKey), nil); err != nil {
		return fmt.Errorf("load legacy env: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("decode env: %w", err)
	}
	return nil
}

func prefixedKey(key, value string) (string, interface{}) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(name, "__", "."), value
}

func legacyKey(key, value string) (string, interface{}) {
	l, ok := legacyEnv[key]
	if !ok {
		return "", nil
	}
	if l.millis {
		value += "ms"
	}
	return l.key, value
}
