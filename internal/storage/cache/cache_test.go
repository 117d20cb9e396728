package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
	"github.com/keygate/keygate/internal/storage/memory"
	"github.com/keygate/keygate/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New(memory.New(), time.Minute)
	})
}

// countingStore counts hash lookups that reach the backend.
type countingStore struct {
	storage.Storage
	lookups int
}

func (c *countingStore) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	c.lookups++
	return c.Storage.GetAPIKeyByHash(ctx, hash)
}

func newTestCache(t *testing.T) (*Store, *countingStore, *time.Time) {
	t.Helper()
	backend := &countingStore{Storage: memory.New()}
	c := New(backend, 5*time.Second)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, backend, &now
}

func seed(t *testing.T, c *Store) *model.APIKey {
	t.Helper()
	k, _ := storagetest.NewKey(t, "svc", model.Unlimited(), time.Now())
	if err := c.CreateAPIKey(context.Background(), k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return k
}

func TestHitWithinTTL(t *testing.T) {
	c, backend, now := newTestCache(t)
	k := seed(t, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GetAPIKeyByHash(ctx, k.KeyHash); err != nil {
			t.Fatalf("GetAPIKeyByHash: %v", err)
		}
	}
	if backend.lookups != 1 {
		t.Errorf("backend lookups = %d, want 1", backend.lookups)
	}

	*now = now.Add(6 * time.Second)
	if _, err := c.GetAPIKeyByHash(ctx, k.KeyHash); err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if backend.lookups != 2 {
		t.Errorf("backend lookups after TTL = %d, want 2", backend.lookups)
	}
}

func TestMutationsInvalidate(t *testing.T) {
	c, _, _ := newTestCache(t)
	k := seed(t, c)
	ctx := context.Background()

	if _, err := c.GetAPIKeyByHash(ctx, k.KeyHash); err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}

	inactive := model.KeyStateInactive
	if _, err := c.UpdateAPIKey(ctx, k.ID, model.KeyUpdate{State: &inactive}); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	got, err := c.GetAPIKeyByHash(ctx, k.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.State != model.KeyStateInactive {
		t.Errorf("stale state %s served after update", got.State)
	}

	if err := c.DeleteAPIKey(ctx, k.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := c.GetAPIKeyByHash(ctx, k.KeyHash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted key still served: %v", err)
	}
	if c.Size() != 0 {
		t.Errorf("cache size = %d, want 0", c.Size())
	}
}

func TestDeactivateExpiredClears(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	k, _ := storagetest.NewKey(t, "short", model.Unlimited(), time.Now())
	exp := time.Now().Add(-time.Minute)
	k.ExpiresAt = &exp
	if err := c.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if _, err := c.GetAPIKeyByHash(ctx, k.KeyHash); err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}

	n, err := c.DeactivateExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeactivateExpired: %v", err)
	}
	if n != 1 || c.Size() != 0 {
		t.Errorf("n = %d, size = %d; want 1 and 0", n, c.Size())
	}
}

func TestReturnedKeyIsACopy(t *testing.T) {
	c, _, _ := newTestCache(t)
	k := seed(t, c)
	ctx := context.Background()

	first, _ := c.GetAPIKeyByHash(ctx, k.KeyHash)
	first.Label = "mutated"
	second, _ := c.GetAPIKeyByHash(ctx, k.KeyHash)
	if second.Label != "svc" {
		t.Errorf("cache entry mutated through returned pointer: %q", second.Label)
	}
}
