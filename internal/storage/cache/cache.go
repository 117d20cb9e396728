// Package cache decorates a storage.Storage with a short-lived lookup cache
// for the authentication hot path.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

// DefaultTTL bounds how long another instance may keep admitting a key
// after it was revoked elsewhere.
const DefaultTTL = 5 * time.Second

type entry struct {
	key      *model.APIKey
	cachedAt time.Time
}

// Store caches GetAPIKeyByHash results. Every key mutation made through it
// invalidates the affected entries before returning.
type Store struct {
	storage.Storage

	mu     sync.RWMutex
	byHash map[string]*entry // key hash -> entry
	byID   map[string]string // key id -> key hash
	gen    uint64            // bumped on every invalidation
	ttl    time.Duration
	now    func() time.Time
}

// New wraps next. A non-positive ttl selects DefaultTTL.
func New(next storage.Storage, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		Storage: next,
		byHash:  make(map[string]*entry),
		byID:    make(map[string]string),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) lookup(hash string) (*model.APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byHash[hash]
	if !ok || s.now().Sub(e.cachedAt) > s.ttl {
		return nil, false
	}
	c := *e.key
	return &c, true
}

// GetAPIKeyByHash serves from cache when fresh. Misses are not cached.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	if k, ok := s.lookup(hash); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return k, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	k, err := s.Storage.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	c := *k
	s.mu.Lock()
	// A mutation that raced the read may have seen no entry to drop.
	if s.gen == gen {
		s.byHash[hash] = &entry{key: &c, cachedAt: s.now()}
		s.byID[k.ID] = hash
	}
	s.mu.Unlock()
	return k, nil
}

// Invalidate drops the cached entry for a key ID.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if hash, ok := s.byID[id]; ok {
		delete(s.byHash, hash)
		delete(s.byID, id)
	}
}

// Clear removes all entries from cache.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.byHash = make(map[string]*entry)
	s.byID = make(map[string]string)
}

// Size returns the current number of cached keys.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

func (s *Store) UpdateAPIKey(ctx context.Context, id string, upd model.KeyUpdate) (*model.APIKey, error) {
	defer s.Invalidate(id)
	return s.Storage.UpdateAPIKey(ctx, id, upd)
}

func (s *Store) RotateAPIKey(ctx context.Context, id, hash, prefix string) (*model.APIKey, error) {
	defer s.Invalidate(id)
	return s.Storage.RotateAPIKey(ctx, id, hash, prefix)
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	defer s.Invalidate(id)
	return s.Storage.DeleteAPIKey(ctx, id)
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Storage.DeactivateExpired(ctx, now)
	if n > 0 {
		s.Clear()
	}
	return n, err
}
