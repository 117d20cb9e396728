package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/storage"
	"github.com/keygate/keygate/internal/storage/cache"
	"github.com/keygate/keygate/internal/storage/memory"
	sqlstore "github.com/keygate/keygate/internal/storage/sql"
)

// loadConfig reads keygate.yaml, .env and KEYGATE_ overrides into the
// global viper instance, which also carries any bound command flags.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	opts := config.LoadOptions{File: cfgFile, EnvFile: envFile}
	config.Prepare(v, opts)
	return config.Load(v, opts)
}

// newLogger builds the process logger: text on w by default, JSON when
// log.format is json, debug level under --dev.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app holds the collaborators every command builds from the configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Storage
	limiter ratelimit.Limiter
	redis   *redis.Client // nil unless ratelimit.backend is redis
	keys    *service.KeyService
	stats   *service.StatsService
	auth    *service.AuthService
	// ephemeralSecret is set when no auth.jwt_secret was configured and a
	// random one was generated for this process.
	ephemeralSecret bool
}

// openApp connects the configured store and limiter and builds the
// services on top. With cached set, key lookups go through the TTL cache.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, cached bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var base storage.Storage
	if cfg.Storage.Driver == "memory" {
		base = memory.New()
	} else {
		store, err := sqlstore.New(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
		}
		base = store
	}
	a.store = base
	if ttl := config.Duration(cfg.Cache.TTL); cached && ttl > 0 {
		a.store = cache.New(base, ttl)
	}
	logger.Debug("storage initialized", "driver", cfg.Storage.Driver, "cache_ttl", cfg.Cache.TTL)

	switch cfg.RateLimit.Backend {
	case "redis":
		client, err := ratelimit.DialRedis(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			a.store.Close()
			return nil, err
		}
		a.redis = client
		a.limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.RedisPrefix)
	default:
		a.limiter = ratelimit.NewMemoryLimiter()
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			a.Close()
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		a.ephemeralSecret = true
	}

	a.keys = service.NewKeyService(a.store, a.limiter, logger)
	a.stats = service.NewStatsService(a.store)
	a.auth = service.NewAuthService(a.store, secret, config.Duration(cfg.Auth.JWTTTL))
	return a, nil
}

// Close releases the store and the Redis connection.
func (a *app) Close() error {
	if a.redis != nil {
		a.redis.Close()
	}
	return a.store.Close()
}

// openFromFlags is the common preamble of the management commands.
func openFromFlags(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg, os.Stderr), false)
}

// resolveKey accepts a key ID or its display prefix (kg_ + 8 hex chars).
func resolveKey(ctx context.Context, keys *service.KeyService, ref string) (*model.APIKey, error) {
	if !strings.HasPrefix(ref, "kg_") {
		return keys.Get(ctx, ref)
	}
	all, err := keys.List(ctx, model.KeyFilter{})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	var matched []model.APIKey
	for _, k := range all {
		if k.KeyPrefix == ref {
			matched = append(matched, k)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("no API key found with prefix %q", ref)
	case 1:
		return &matched[0], nil
	default:
		return nil, fmt.Errorf("prefix %q matches %d keys; use the key ID", ref, len(matched))
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// upstreamNames returns the configured upstream names in stable order.
func upstreamNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Upstreams))
	for name := range cfg.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
