// Package config loads engine settings: built-in defaults, then an optional YAML
// file named by CASETRAIL_CONFIG, then CASETRAIL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file to load.
const EnvConfigPath = "CASETRAIL_CONFIG"

type AuditConfig struct {
	WriteWindow   time.Duration `yaml:"write_window"`   // suppression window for Log
	ReadWindow    time.Duration `yaml:"read_window"`    // bucket width for Deduplicate, whole seconds
	LockEnabled   bool          `yaml:"lock_enabled"`   // advisory lock around writes, needs redis
	LockTTL       time.Duration `yaml:"lock_ttl"`
	LockWait      time.Duration `yaml:"lock_wait"`      // how long a write waits on a held lock
	SourceTimeout time.Duration `yaml:"source_timeout"` // per-build bound for timeline sources
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"` // empty selects the in-memory store
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

type Config struct {
	Audit    AuditConfig    `yaml:"audit"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

func Default() Config {
	return Config{
		Audit: AuditConfig{
			WriteWindow:   5 * time.Second,
			ReadWindow:    60 * time.Second,
			LockTTL:       5 * time.Second,
			LockWait:      2 * time.Second,
			SourceTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the CASETRAIL_CONFIG file when set,
// and environment overrides, then validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	durations := map[string]*time.Duration{
		"CASETRAIL_WRITE_WINDOW":   &c.Audit.WriteWindow,
		"CASETRAIL_READ_WINDOW":    &c.Audit.ReadWindow,
		"CASETRAIL_LOCK_TTL":       &c.Audit.LockTTL,
		"CASETRAIL_LOCK_WAIT":      &c.Audit.LockWait,
		"CASETRAIL_SOURCE_TIMEOUT": &c.Audit.SourceTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	strs := map[string]*string{
		"CASETRAIL_DATABASE_URL": &c.Database.URL,
		"CASETRAIL_REDIS_URL":    &c.Redis.URL,
		"CASETRAIL_LOG_LEVEL":    &c.Log.Level,
		"CASETRAIL_LOG_FORMAT":   &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"CASETRAIL_LOCK_ENABLED":     &c.Audit.LockEnabled,
		"CASETRAIL_DATABASE_MIGRATE": &c.Database.Migrate,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Audit.WriteWindow <= 0 {
		errs = append(errs, errors.New("audit.write_window must be positive"))
	}
	if c.Audit.ReadWindow < time.Second {
		errs = append(errs, errors.New("audit.read_window must be at least 1s"))
	} else if c.Audit.ReadWindow%time.Second != 0 {
		errs = append(errs, fmt.Errorf("audit.read_window %s must be a whole number of seconds", c.Audit.ReadWindow))
	}
	if c.Audit.LockEnabled {
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("audit.lock_enabled requires redis.url"))
		}
		if c.Audit.LockTTL <= 0 {
			errs = append(errs, errors.New("audit.lock_ttl must be positive"))
		}
		if c.Audit.LockWait < 0 {
			errs = append(errs, errors.New("audit.lock_wait must not be negative"))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not recognized", c.Log.Level))
	}
	return errors.Join(errs...)
}
