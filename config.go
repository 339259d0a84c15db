package librealtime

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// ConfigEnvPrefix prefixes every environment variable read by LoadConfig,
	// e.g. REALTIME_URL or REALTIME_MAX_RETRIES.
	ConfigEnvPrefix = "REALTIME_"
	// ConfigPathEnvVar points to an optional YAML config file.
	ConfigPathEnvVar = "REALTIME_CONFIG"
)

// Config holds everything needed to open a Socket and run Subscriptions.
type Config struct {
	URL         string `koanf:"url"`
	APIKey      string `koanf:"api_key"`
	AccessToken string `koanf:"access_token"`
	Schema      string `koanf:"schema"`

	// Env is development or production and gates log verbosity.
	Env       string `koanf:"env"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	JoinTimeout       time.Duration `koanf:"join_timeout"`

	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
	MaxJitter  time.Duration `koanf:"max_jitter"`
	MaxRetries int           `koanf:"max_retries"`
}

func DefaultConfig() Config {
	policy := DefaultReconnectPolicy()
	return Config{
		Schema:            defaultSchema,
		Env:               EnvProduction,
		HeartbeatInterval: defaultHeartbeatInterval,
		JoinTimeout:       defaultJoinTimeout,
		BaseDelay:         policy.BaseDelay,
		MaxDelay:          policy.MaxDelay,
		MaxJitter:         policy.MaxJitter,
		MaxRetries:        policy.MaxRetries,
	}
}

// LoadConfig layers defaults, the optional YAML file named by REALTIME_CONFIG and
// REALTIME_* environment variables, in increasing priority.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv(ConfigPathEnvVar))
}

func loadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "failed to load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(ConfigEnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, errors.Wrap(err, "failed to load environment variables")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "configuration validation failed")
	}

	return cfg, nil
}

// REALTIME_MAX_RETRIES -> max_retries
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, ConfigEnvPrefix))
	if key == "config" {
		return ""
	}
	return key
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if _, err := RealtimeURL(c.URL, c.APIKey); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return errors.Errorf("env must be %s or %s, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.HeartbeatInterval <= 0 || c.JoinTimeout <= 0 {
		return errors.New("heartbeat_interval and join_timeout must be positive")
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return errors.New("base_delay must be positive and not above max_delay")
	}
	if c.MaxJitter < 0 {
		return errors.New("max_jitter must not be negative")
	}
	if c.MaxRetries <= 0 {
		return errors.New("max_retries must be positive")
	}
	return nil
}

func (c Config) SocketConfig() SocketConfig {
	return SocketConfig{
		Endpoint:          c.URL,
		APIKey:            c.APIKey,
		AccessToken:       c.AccessToken,
		HeartbeatInterval: c.HeartbeatInterval,
		JoinTimeout:       c.JoinTimeout,
	}
}

func (c Config) ReconnectPolicy() ReconnectPolicy {
	p := DefaultReconnectPolicy()
	p.BaseDelay = c.BaseDelay
	p.MaxDelay = c.MaxDelay
	p.MaxJitter = c.MaxJitter
	p.MaxRetries = c.MaxRetries
	return p
}
