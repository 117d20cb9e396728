package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/keygate/keygate/internal/keyhash"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/storage"
)

// ErrDuplicateHash is returned when a freshly generated secret collides
// with an existing key twice in a row.
var ErrDuplicateHash = errors.New("duplicate key hash")

// KeyService is the administrative API over key records. It generates
// secrets, validates input and keeps the limiter in step with the store.
type KeyService struct {
	store    storage.Storage
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewKeyService creates a KeyService. limiter may be nil when no quota is
// enforced in this process.
func NewKeyService(store storage.Storage, limiter ratelimit.Limiter, logger *slog.Logger) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		store:    store,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
		generate: keyhash.Generate,
	}
}

// Create persists a new active key and returns it with the plaintext
// secret. The secret is not recoverable afterwards.
func (s *KeyService) Create(ctx context.Context, in model.CreateKeyInput) (*model.APIKey, string, error) {
	now := s.now().UTC()
	if err := in.Validate(now); err != nil {
		return nil, "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, "", fmt.Errorf("generate key id: %w", err)
	}

	var key *model.APIKey
	var secret string
	backoff := retry.WithMaxRetries(1, retry.NewConstant(10*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		generated, err := s.generate()
		if err != nil {
			return err
		}
		secret = generated
		key = &model.APIKey{
			ID:        id.String(),
			KeyHash:   keyhash.Hash(secret),
			KeyPrefix: keyhash.DisplayPrefix(secret),
			Label:     in.Label,
			State:     model.KeyStateActive,
			Quota:     in.Quota,
			ExpiresAt: in.ExpiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateAPIKey(ctx, key); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				s.logger.Warn("generated key hash collided, retrying", "key_id", key.ID)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, "", ErrDuplicateHash
		}
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("api key created", "key_id", key.ID, "prefix", key.KeyPrefix, "label", key.Label)
	return key, secret, nil
}

// Get returns a key by ID or storage.ErrNotFound.
func (s *KeyService) Get(ctx context.Context, id string) (*model.APIKey, error) {
	return s.store.GetAPIKey(ctx, id)
}

// FindBySecret resolves a plaintext secret to its key.
func (s *KeyService) FindBySecret(ctx context.Context, secret string) (*model.APIKey, error) {
	return s.store.GetAPIKeyByHash(ctx, keyhash.Hash(secret))
}

// List returns keys newest first, optionally filtered by state.
func (s *KeyService) List(ctx context.Context, filter model.KeyFilter) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx, filter)
}

// Update changes the whitelisted fields of a key. An empty update returns
// the current record.
func (s *KeyService) Update(ctx context.Context, id string, upd model.KeyUpdate) (*model.APIKey, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return s.store.GetAPIKey(ctx, id)
	}
	key, err := s.store.UpdateAPIKey(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if upd.Quota != nil {
		s.forget(ctx, id)
	}
	s.logger.Info("api key updated", "key_id", id, "state", key.State)
	return key, nil
}

// SetState is a shorthand for activating or deactivating a key.
func (s *KeyService) SetState(ctx context.Context, id string, state model.KeyState) (*model.APIKey, error) {
	return s.Update(ctx, id, model.KeyUpdate{State: &state})
}

// Rotate issues a new secret for an existing key. Identity, counters and
// the current quota window are kept; the old secret stops resolving
// immediately.
func (s *KeyService) Rotate(ctx context.Context, id string) (*model.APIKey, string, error) {
	if _, err := s.store.GetAPIKey(ctx, id); err != nil {
		return nil, "", err
	}

	var key *model.APIKey
	var secret string
	backoff := retry.WithMaxRetries(1, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		secret, err = s.generate()
		if err != nil {
			return err
		}
		key, err = s.store.RotateAPIKey(ctx, id, keyhash.Hash(secret), keyhash.DisplayPrefix(secret))
		if errors.Is(err, storage.ErrAlreadyExists) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, "", ErrDuplicateHash
		}
		return nil, "", err
	}

	s.logger.Info("api key rotated", "key_id", id, "prefix", key.KeyPrefix)
	return key, secret, nil
}

// Delete removes a key together with its usage history.
func (s *KeyService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	s.forget(ctx, id)
	s.logger.Info("api key deleted", "key_id", id)
	return nil
}

// DeactivateExpired marks every active key past its expiry inactive and
// returns how many changed. Running it again changes nothing.
func (s *KeyService) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired keys: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired api keys deactivated", "count", n)
	}
	return n, nil
}

func (s *KeyService) forget(ctx context.Context, id string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Forget(ctx, id); err != nil {
		s.logger.Warn("failed to reset rate limit window", "key_id", id, "error", err)
	}
}
