// Package config loads the keygate configuration. Values come from, in
// increasing precedence: built-in defaults, keygate.yaml, a .env file, the
// process environment (KEYGATE_ prefix) and command-line flags bound by the
// CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/internal/model"
)

// FileName is the config file looked up when none is given explicitly.
const FileName = "keygate.yaml"

// EnvPrefix prefixes every environment override, e.g.
// KEYGATE_STORAGE_DSN or KEYGATE_AUTH_JWT_SECRET.
const EnvPrefix = "KEYGATE"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Cache     CacheConfig       `mapstructure:"cache" yaml:"cache"`
	RateLimit RateLimitConfig   `mapstructure:"ratelimit" yaml:"ratelimit"`
	Usage     UsageConfig       `mapstructure:"usage" yaml:"usage"`
	Sweep     SweepConfig       `mapstructure:"sweep" yaml:"sweep"`
	Auth      AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Gate      GateConfig        `mapstructure:"gate" yaml:"gate"`
	Upstreams map[string]string `mapstructure:"upstreams" yaml:"upstreams"`
	Log       LogConfig         `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	PublicURL       string   `mapstructure:"public_url" yaml:"public_url"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodySize     string   `mapstructure:"max_body_size" yaml:"max_body_size"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	LoginRateLimit  int      `mapstructure:"login_rate_limit" yaml:"login_rate_limit"`
	ProxyTimeout    string   `mapstructure:"proxy_timeout" yaml:"proxy_timeout"`
	Metrics         bool     `mapstructure:"metrics" yaml:"metrics"`
}

// StorageConfig selects the key and usage store.
type StorageConfig struct {
	// Driver is one of sqlite, postgres, mysql or memory.
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// CacheConfig controls the key lookup cache. A zero TTL disables it.
type CacheConfig struct {
	TTL string `mapstructure:"ttl" yaml:"ttl"`
}

// RateLimitConfig selects where quota windows live.
type RateLimitConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"`
	RedisURL         string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix      string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	IPLimitPerMinute int    `mapstructure:"ip_limit_per_minute" yaml:"ip_limit_per_minute"`
	CollectSchedule  string `mapstructure:"collect_schedule" yaml:"collect_schedule"`
}

// UsageConfig tunes the asynchronous usage recorder and log retention.
type UsageConfig struct {
	QueueSize     int    `mapstructure:"queue_size" yaml:"queue_size"`
	Workers       int    `mapstructure:"workers" yaml:"workers"`
	WriteTimeout  string `mapstructure:"write_timeout" yaml:"write_timeout"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// SweepConfig holds the cron specs of the maintenance jobs. An empty spec
// disables the job.
type SweepConfig struct {
	Schedule      string `mapstructure:"schedule" yaml:"schedule"`
	PurgeSchedule string `mapstructure:"purge_schedule" yaml:"purge_schedule"`
}

// AuthConfig controls admin sessions.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTTTL    string `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
}

// GateConfig tunes credential evaluation.
type GateConfig struct {
	LookupTimeout string `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			MaxBodySize:     "1MB",
			CORSOrigins:     []string{"*"},
			LoginRateLimit:  10,
			ProxyTimeout:    "30s",
			Metrics:         true,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "keygate.db",
		},
		Cache: CacheConfig{TTL: "5s"},
		RateLimit: RateLimitConfig{
			Backend:         "memory",
			RedisPrefix:     "keygate:rl:",
			CollectSchedule: "@every 5m",
		},
		Usage: UsageConfig{
			QueueSize:     1024,
			Workers:       2,
			WriteTimeout:  "5s",
			RetentionDays: 90,
		},
		Sweep: SweepConfig{
			Schedule:      "@every 1m",
			PurgeSchedule: "@daily",
		},
		Auth:      AuthConfig{JWTTTL: "24h"},
		Gate:      GateConfig{LookupTimeout: "2s"},
		Upstreams: map[string]string{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v. Viper only applies
// environment overrides to keys it knows about, so this must run before
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]interface{}{
		"server.host":                   d.Server.Host,
		"server.port":                   d.Server.Port,
		"server.public_url":             d.Server.PublicURL,
		"server.shutdown_timeout":       d.Server.ShutdownTimeout,
		"server.max_body_size":          d.Server.MaxBodySize,
		"server.cors_origins":           d.Server.CORSOrigins,
		"server.login_rate_limit":       d.Server.LoginRateLimit,
		"server.proxy_timeout":          d.Server.ProxyTimeout,
		"server.metrics":                d.Server.Metrics,
		"storage.driver":                d.Storage.Driver,
		"storage.dsn":                   d.Storage.DSN,
		"cache.ttl":                     d.Cache.TTL,
		"ratelimit.backend":             d.RateLimit.Backend,
		"ratelimit.redis_url":           d.RateLimit.RedisURL,
		"ratelimit.redis_prefix":        d.RateLimit.RedisPrefix,
		"ratelimit.ip_limit_per_minute": d.RateLimit.IPLimitPerMinute,
		"ratelimit.collect_schedule":    d.RateLimit.CollectSchedule,
		"usage.queue_size":              d.Usage.QueueSize,
		"usage.workers":                 d.Usage.Workers,
		"usage.write_timeout":           d.Usage.WriteTimeout,
		"usage.retention_days":          d.Usage.RetentionDays,
		"sweep.schedule":                d.Sweep.Schedule,
		"sweep.purge_schedule":          d.Sweep.PurgeSchedule,
		"auth.jwt_secret":               d.Auth.JWTSecret,
		"auth.jwt_ttl":                  d.Auth.JWTTTL,
		"gate.lookup_timeout":           d.Gate.LookupTimeout,
		"upstreams":                     d.Upstreams,
		"log.level":                     d.Log.Level,
		"log.format":                    d.Log.Format,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is an explicit config path. When empty, keygate.yaml is searched
	// for in the working directory and $HOME/.keygate, and a missing file
	// is not an error.
	File string
	// EnvFile is a dotenv file loaded into the process environment before
	// overrides are read. Defaults to ".env"; a missing file is ignored.
	EnvFile string
}

// Prepare wires defaults, the config file search path and environment
// overrides into v without reading anything yet. The CLI calls this before
// binding its flags.
func Prepare(v *viper.Viper, opts LoadOptions) {
	SetDefaults(v)
	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.keygate")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the dotenv file and the config file into v, then unmarshals
// and validates the result.
func Load(v *viper.Viper, opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%s: %s", key, fmt.Sprintf(format, args...)))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		bad("server.port", "%d is out of range", c.Server.Port)
	}
	if _, err := ParseByteSize(c.Server.MaxBodySize); err != nil {
		bad("server.max_body_size", "%v", err)
	}
	if c.Server.PublicURL != "" {
		if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			bad("server.public_url", "%q is not an absolute URL", c.Server.PublicURL)
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres", "mysql":
		if c.Storage.DSN == "" {
			bad("storage.dsn", "required for driver %s", c.Storage.Driver)
		}
	default:
		bad("storage.driver", "unknown driver %q (want sqlite, postgres, mysql or memory)", c.Storage.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			bad("ratelimit.redis_url", "required when backend is redis")
		}
	default:
		bad("ratelimit.backend", "unknown backend %q (want memory or redis)", c.RateLimit.Backend)
	}
	if c.RateLimit.IPLimitPerMinute < 0 {
		bad("ratelimit.ip_limit_per_minute", "must not be negative")
	}

	if c.Usage.QueueSize < 0 || c.Usage.Workers < 0 {
		bad("usage", "queue_size and workers must not be negative")
	}
	if c.Usage.RetentionDays < 0 || c.Usage.RetentionDays > model.MaxRetentionDays {
		bad("usage.retention_days", "must be between 0 and %d", model.MaxRetentionDays)
	}

	for key, raw := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.proxy_timeout":    c.Server.ProxyTimeout,
		"cache.ttl":               c.Cache.TTL,
		"usage.write_timeout":     c.Usage.WriteTimeout,
		"auth.jwt_ttl":            c.Auth.JWTTTL,
		"gate.lookup_timeout":     c.Gate.LookupTimeout,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			bad(key, "%q is not a valid duration", raw)
		}
	}

	for name, raw := range c.Upstreams {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			bad("upstreams."+name, "%q is not an http(s) URL", raw)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format", "unknown format %q (want text or json)", c.Log.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Duration parses a validated duration setting. Empty means zero.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// ParseByteSize parses sizes such as "512", "64KB" or "1MB". Empty means
// zero.
func ParseByteSize(raw string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			mult = unit.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * mult, nil
}

// Redacted returns a copy safe to print: the JWT secret and any DSN or
// Redis password are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "********"
	}
	out.Storage.DSN = redactURL(out.Storage.DSN)
	out.RateLimit.RedisURL = redactURL(out.RateLimit.RedisURL)
	out.Upstreams = make(map[string]string, len(c.Upstreams))
	for name, raw := range c.Upstreams {
		out.Upstreams[name] = redactURL(raw)
	}
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const starterHeader = `# keygate configuration
#
# Every key can be overridden by an environment variable named after its
# path, e.g. KEYGATE_STORAGE_DSN or KEYGATE_AUTH_JWT_SECRET. A .env file in
# the working directory is loaded first.
#
# Upstreams map a name to a base URL; requests to /api/v1/gw/{name}/... are
# forwarded there once the API key is admitted:
#
# upstreams:
#   billing: http://localhost:9001
#
`

// WriteStarter writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteStarter(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := Default().YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(starterHeader), data...), 0600)
}
