// Package config loads dwsm settings from a YAML file, then DWSM_* environment
// variables, on top of built-in defaults.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by the CLI.
const (
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverFile      = "file"
	DriverMiniredis = "miniredis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	IDGen   IDGenConfig   `yaml:"idgen" mapstructure:"idgen"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type SessionConfig struct {
	// Timeout is the inactivity window given to new sessions, in whole seconds.
	// Zero means sessions never expire.
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SweepDelay    time.Duration `yaml:"sweep_delay" mapstructure:"sweep_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// StoreTimeout bounds each remote store call. Zero disables the bound.
	StoreTimeout time.Duration `yaml:"store_timeout" mapstructure:"store_timeout"`
}

type StoreConfig struct {
	Driver string      `yaml:"driver" mapstructure:"driver"`
	Redis  RedisConfig `yaml:"redis" mapstructure:"redis"`
	File   FileConfig  `yaml:"file" mapstructure:"file"`

	// EncryptionKey is a base64 AES-256 key sealing session attributes at rest.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// Key decodes EncryptionKey. It returns nil when encryption is disabled.
func (s StoreConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not base64: %w", ErrInvalidConfig, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must decode to 32 bytes, got %d", ErrInvalidConfig, len(key))
	}
	return key, nil
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTLGrace time.Duration `yaml:"ttl_grace" mapstructure:"ttl_grace"`
}

type FileConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

type IDGenConfig struct {
	Worker string `yaml:"worker" mapstructure:"worker"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	CookieName   string `yaml:"cookie_name" mapstructure:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure" mapstructure:"cookie_secure"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Timeout:       30 * time.Minute,
			SweepDelay:    10 * time.Second,
			SweepInterval: 10 * time.Second,
			StoreTimeout:  2 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Prefix:   "dwsm:session:",
				TTLGrace: time.Minute,
			},
			File: FileConfig{Dir: ".dwsm/sessions"},
		},
		HTTP: HTTPConfig{
			Addr:       ":8080",
			CookieName: "DWSMSESSIONID",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envKeys maps environment variables to dotted config paths.
var envKeys = map[string]string{
	"DWSM_SESSION_TIMEOUT":        "session.timeout",
	"DWSM_SESSION_SWEEP_DELAY":    "session.sweep_delay",
	"DWSM_SESSION_SWEEP_INTERVAL": "session.sweep_interval",
	"DWSM_SESSION_STORE_TIMEOUT":  "session.store_timeout",
	"DWSM_STORE_DRIVER":           "store.driver",
	"DWSM_STORE_REDIS_ADDR":       "store.redis.addr",
	"DWSM_STORE_REDIS_PASSWORD":   "store.redis.password",
	"DWSM_STORE_REDIS_DB":         "store.redis.db",
	"DWSM_STORE_REDIS_PREFIX":     "store.redis.prefix",
	"DWSM_STORE_REDIS_TTL_GRACE":  "store.redis.ttl_grace",
	"DWSM_STORE_FILE_DIR":         "store.file.dir",
	"DWSM_STORE_ENCRYPTION_KEY":   "store.encryption_key",
	"DWSM_IDGEN_WORKER":           "idgen.worker",
	"DWSM_HTTP_ADDR":              "http.addr",
	"DWSM_HTTP_COOKIE_NAME":       "http.cookie_name",
	"DWSM_HTTP_COOKIE_SECURE":     "http.cookie_secure",
	"DWSM_LOG_LEVEL":              "log.level",
	"DWSM_LOG_FORMAT":             "log.format",
}

// Load builds the configuration. An empty path skips the file, a missing file is an error.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overlay := map[string]any{}
	for env, key := range envKeys {
		if v, ok := lookup(env); ok {
			setPath(overlay, key, v)
		}
	}
	if len(overlay) > 0 {
		if err := decode(overlay, &cfg); err != nil {
			return Config{}, fmt.Errorf("environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode merges raw into cfg. Keys absent from raw keep their current value.
func decode(raw map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func setPath(m map[string]any, path, value string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverFile, DriverMiniredis:
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Session.Timeout < 0 || (c.Session.Timeout > 0 && c.Session.Timeout < time.Second) {
		return fmt.Errorf("%w: session timeout must be 0 (never expire) or at least 1s, got %s", ErrInvalidConfig, c.Session.Timeout)
	}
	if c.Session.SweepDelay <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep delay and interval must be positive", ErrInvalidConfig)
	}
	if c.Session.StoreTimeout < 0 {
		return fmt.Errorf("%w: store timeout cannot be negative", ErrInvalidConfig)
	}
	if c.Store.Driver == DriverFile && c.Store.File.Dir == "" {
		return fmt.Errorf("%w: file store requires a directory", ErrInvalidConfig)
	}
	if c.Store.Driver == DriverRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("%w: redis store requires an address", ErrInvalidConfig)
	}
	if _, err := c.Store.Key(); err != nil {
		return err
	}
	if c.HTTP.CookieName == "" {
		return fmt.Errorf("%w: cookie name cannot be empty", ErrInvalidConfig)
	}
	return nil
}
