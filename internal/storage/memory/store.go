// Package memory is an in-process storage backend for tests and single
// binary demos. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

// Store is an in-memory implementation of storage.Storage. A single lock
// guards every map so multi-record writes are atomic.
type Store struct {
	mu sync.RWMutex

	keys      map[string]*model.APIKey // key: id
	hashes    map[string]string        // key: hash, value: id
	logs      []model.UsageLogEntry
	endpoints map[string]map[string]*model.EndpointUsage // key: id, then endpoint
	admins    map[string]*model.Admin                    // key: email

	nextLogID   int64
	nextAdminID int64
}

var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		keys:      make(map[string]*model.APIKey),
		hashes:    make(map[string]string),
		endpoints: make(map[string]map[string]*model.EndpointUsage),
		admins:    make(map[string]*model.Admin),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func cloneKey(k *model.APIKey) *model.APIKey {
	c := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := s.hashes[key.KeyHash]; ok {
		return storage.ErrAlreadyExists
	}
	s.keys[key.ID] = cloneKey(key)
	s.hashes[key.KeyHash] = key.ID
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneKey(k), nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.hashes[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneKey(s.keys[id]), nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, id string, upd model.KeyUpdate) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	upd.Apply(k, time.Now().UTC())
	return cloneKey(k), nil
}

func (s *Store) RotateAPIKey(ctx context.Context, id, hash, prefix string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if owner, taken := s.hashes[hash]; taken && owner != id {
		return nil, storage.ErrAlreadyExists
	}
	delete(s.hashes, k.KeyHash)
	k.KeyHash = hash
	k.KeyPrefix = prefix
	k.UpdatedAt = time.Now().UTC()
	s.hashes[hash] = id
	return cloneKey(k), nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.hashes, k.KeyHash)
	delete(s.keys, id)
	delete(s.endpoints, id)

	kept := s.logs[:0]
	for _, e := range s.logs {
		if e.KeyID != id {
			kept = append(kept, e)
		}
	}
	s.logs = kept
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context, filter model.KeyFilter) ([]model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		if filter.State != nil && k.State != *filter.State {
			continue
		}
		keys = append(keys, *cloneKey(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID > keys[j].ID
	})
	return keys, nil
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range s.keys {
		if k.IsActive() && k.IsExpired(now) {
			k.State = model.KeyStateInactive
			k.UpdatedAt = now.UTC()
			n++
		}
	}
	return n, nil
}

// ============================================
// Usage
// ============================================

func (s *Store) RecordUsage(ctx context.Context, entry *model.UsageLogEntry) error {
	entry.Sanitize()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	ts := entry.Timestamp.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[entry.KeyID]
	if !ok {
		return storage.ErrNotFound
	}

	k.TotalRequests++
	if entry.IsError() {
		k.TotalErrors++
	}
	k.LastUsedAt = &ts
	k.LastUsedFrom = entry.Origin

	s.nextLogID++
	e := *entry
	e.ID = s.nextLogID
	e.Timestamp = ts
	s.logs = append(s.logs, e)

	byEndpoint, ok := s.endpoints[entry.KeyID]
	if !ok {
		byEndpoint = make(map[string]*model.EndpointUsage)
		s.endpoints[entry.KeyID] = byEndpoint
	}
	agg, ok := byEndpoint[entry.Endpoint]
	if !ok {
		agg = &model.EndpointUsage{KeyID: entry.KeyID, Endpoint: entry.Endpoint}
		byEndpoint[entry.Endpoint] = agg
	}
	agg.RequestCount++
	if entry.IsError() {
		agg.ErrorCount++
	}
	agg.TotalResponseTimeMs += entry.ResponseTimeMs
	agg.LastUsedAt = ts
	return nil
}

func matches(e *model.UsageLogEntry, f model.LogFilter) bool {
	if f.KeyID != "" && e.KeyID != f.KeyID {
		return false
	}
	if f.Endpoint != "" && !strings.Contains(e.Endpoint, f.Endpoint) {
		return false
	}
	if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
		return false
	}
	if f.StatusCode != 0 && e.StatusCode != f.StatusCode {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func (s *Store) ListUsageLogs(ctx context.Context, filter model.LogFilter) ([]model.UsageLogEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.UsageLogEntry
	for i := range s.logs {
		if matches(&s.logs[i], filter) {
			matched = append(matched, s.logs[i])
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if filter.Limit > 0 {
		start := min(filter.Offset, len(matched))
		end := min(start+filter.Limit, len(matched))
		matched = matched[start:end]
	}
	if matched == nil {
		matched = []model.UsageLogEntry{}
	}
	return matched, total, nil
}

func (s *Store) SummarizeUsage(ctx context.Context, filter model.LogFilter) (model.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum model.UsageSummary
	var totalMs int64
	for i := range s.logs {
		e := &s.logs[i]
		if !matches(e, filter) {
			continue
		}
		sum.TotalRequests++
		if e.IsError() {
			sum.ErrorCount++
		}
		totalMs += e.ResponseTimeMs
	}
	if sum.TotalRequests > 0 {
		sum.AvgResponseTimeMs = float64(totalMs) / float64(sum.TotalRequests)
	}
	return sum, nil
}

func (s *Store) ListEndpointUsage(ctx context.Context, keyID string) ([]model.EndpointUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := []model.EndpointUsage{}
	for _, agg := range s.endpoints[keyID] {
		rows = append(rows, *agg)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RequestCount != rows[j].RequestCount {
			return rows[i].RequestCount > rows[j].RequestCount
		}
		return rows[i].Endpoint < rows[j].Endpoint
	})
	return rows, nil
}

func (s *Store) TopEndpoints(ctx context.Context, since time.Time, limit int) ([]model.EndpointTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range s.logs {
		if !e.Timestamp.Before(since) {
			counts[e.Endpoint]++
		}
	}
	rows := make([]model.EndpointTotal, 0, len(counts))
	for endpoint, n := range counts {
		rows = append(rows, model.EndpointTotal{Endpoint: endpoint, TotalRequests: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalRequests != rows[j].TotalRequests {
			return rows[i].TotalRequests > rows[j].TotalRequests
		}
		return rows[i].Endpoint < rows[j].Endpoint
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	kept := s.logs[:0]
	for _, e := range s.logs {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.logs = kept
	return n, nil
}

// ============================================
// Admins
// ============================================

func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[admin.Email]; ok {
		return storage.ErrAlreadyExists
	}
	now := time.Now().UTC()
	s.nextAdminID++
	admin.ID = s.nextAdminID
	admin.CreatedAt = now
	admin.UpdatedAt = now
	c := *admin
	s.admins[admin.Email] = &c
	return nil
}

func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admins[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admins := make([]model.Admin, 0, len(s.admins))
	for _, a := range s.admins {
		admins = append(admins, *a)
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].Email < admins[j].Email })
	return admins, nil
}

func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.admins) > 0, nil
}

func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.admins {
		if a.ID == id {
			now := time.Now().UTC()
			a.LastLoginAt = &now
			a.UpdatedAt = now
			return nil
		}
	}
	return storage.ErrNotFound
}
