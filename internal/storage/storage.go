// Package storage defines the persistence contract for API keys, usage
// records and admin accounts. Backends live in subpackages and must be safe
// for concurrent use.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/keygate/keygate/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique column would be duplicated.
	ErrAlreadyExists = errors.New("already exists")
)

// KeyStore is durable CRUD over API key records plus the unique lookup by
// secret hash used on the authentication path.
type KeyStore interface {
	// CreateAPIKey inserts key. ID, hash and prefix must already be set.
	// Returns ErrAlreadyExists if the hash collides with an existing key.
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	// UpdateAPIKey applies upd and returns the stored record.
	UpdateAPIKey(ctx context.Context, id string, upd model.KeyUpdate) (*model.APIKey, error)
	// RotateAPIKey replaces hash and prefix, keeping identity and counters.
	RotateAPIKey(ctx context.Context, id, hash, prefix string) (*model.APIKey, error)
	// DeleteAPIKey removes the key with its usage logs and aggregates.
	DeleteAPIKey(ctx context.Context, id string) error
	// ListAPIKeys returns keys newest-created first.
	ListAPIKeys(ctx context.Context, filter model.KeyFilter) ([]model.APIKey, error)
	// DeactivateExpired marks active keys with expires_at <= now inactive
	// and returns how many rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// UsageStore persists request outcomes and answers the dashboard queries.
type UsageStore interface {
	// RecordUsage appends entry to the log, upserts the (key, endpoint)
	// aggregate and increments the key's lifetime counters. Returns
	// ErrNotFound if the key no longer exists.
	RecordUsage(ctx context.Context, entry *model.UsageLogEntry) error
	ListUsageLogs(ctx context.Context, filter model.LogFilter) ([]model.UsageLogEntry, int64, error)
	SummarizeUsage(ctx context.Context, filter model.LogFilter) (model.UsageSummary, error)
	ListEndpointUsage(ctx context.Context, keyID string) ([]model.EndpointUsage, error)
	TopEndpoints(ctx context.Context, since time.Time, limit int) ([]model.EndpointTotal, error)
	// PurgeUsageLogs deletes log rows older than before. Aggregates and
	// key counters are lifetime values and are left untouched.
	PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error)
}

// AdminStore manages administrative accounts.
type AdminStore interface {
	CreateAdmin(ctx context.Context, admin *model.Admin) error
	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	ListAdmins(ctx context.Context) ([]model.Admin, error)
	HasAnyAdmin(ctx context.Context) (bool, error)
	UpdateAdminLastLogin(ctx context.Context, id int64) error
}

// Storage is the full persistence contract a backend implements.
type Storage interface {
	KeyStore
	UsageStore
	AdminStore

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
