package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/keyhash"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/storage"
)

func newTestKeys(t *testing.T) (*KeyService, *ratelimit.MemoryLimiter) {
	t.Helper()
	limiter := ratelimit.NewMemoryLimiter()
	return NewKeyService(newTestStore(t), limiter, quietLogger()), limiter
}

func TestCreateKey(t *testing.T) {
	keys, _ := newTestKeys(t)
	ctx := context.Background()

	key, secret, err := keys.Create(ctx, model.CreateKeyInput{Label: "svc-a", Quota: model.PerWindow(2, time.Minute)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(secret, keyhash.Prefix) {
		t.Errorf("secret %q lacks prefix", secret)
	}
	if key.KeyHash != keyhash.Hash(secret) {
		t.Error("stored hash does not match secret")
	}
	if key.KeyPrefix != keyhash.DisplayPrefix(secret) {
		t.Errorf("KeyPrefix = %q", key.KeyPrefix)
	}
	if key.State != model.KeyStateActive || key.TotalRequests != 0 {
		t.Errorf("new key = %+v", key)
	}

	found, err := keys.FindBySecret(ctx, secret)
	if err != nil {
		t.Fatalf("FindBySecret: %v", err)
	}
	if found.ID != key.ID {
		t.Errorf("FindBySecret returned %s, want %s", found.ID, key.ID)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	keys, _ := newTestKeys(t)
	_, _, err := keys.Create(context.Background(), model.CreateKeyInput{Label: ""})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "label" {
		t.Errorf("Field = %q, want label", ve.Field)
	}
}

func TestCreateKeyRetriesOnCollision(t *testing.T) {
	keys, _ := newTestKeys(t)
	ctx := context.Background()

	existing, existingSecret, err := keys.Create(ctx, model.CreateKeyInput{Label: "first"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// First attempt collides, the retry gets a fresh secret.
	fresh, _ := keyhash.Generate()
	queue := []string{existingSecret, fresh}
	keys.generate = func() (string, error) {
		s := queue[0]
		queue = queue[1:]
		return s, nil
	}
	key, secret, err := keys.Create(ctx, model.CreateKeyInput{Label: "second"})
	if err != nil {
		t.Fatalf("Create after collision: %v", err)
	}
	if secret != fresh || key.ID == existing.ID {
		t.Errorf("retry did not use the fresh secret")
	}

	// Two collisions in a row give up.
	keys.generate = func() (string, error) { return existingSecret, nil }
	if _, _, err := keys.Create(ctx, model.CreateKeyInput{Label: "third"}); !errors.Is(err, ErrDuplicateHash) {
		t.Errorf("expected ErrDuplicateHash, got %v", err)
	}
}

func TestUpdateKey(t *testing.T) {
	keys, _ := newTestKeys(t)
	ctx := context.Background()
	key, _, _ := keys.Create(ctx, model.CreateKeyInput{Label: "svc"})

	got, err := keys.SetState(ctx, key.ID, model.KeyStateInactive)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if got.State != model.KeyStateInactive {
		t.Errorf("State = %s", got.State)
	}

	got, err = keys.Update(ctx, key.ID, model.KeyUpdate{})
	if err != nil {
		t.Fatalf("empty Update: %v", err)
	}
	if got.ID != key.ID {
		t.Error("empty update did not return the key")
	}

	bogus := model.KeyState("paused")
	var ve *model.ValidationError
	if _, err := keys.Update(ctx, key.ID, model.KeyUpdate{State: &bogus}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	label := "x"
	if _, err := keys.Update(ctx, "missing", model.KeyUpdate{Label: &label}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateKey(t *testing.T) {
	keys, limiter := newTestKeys(t)
	ctx := context.Background()
	key, oldSecret, _ := keys.Create(ctx, model.CreateKeyInput{Label: "svc", Quota: model.PerWindow(1, time.Hour)})
	now := time.Now()
	limiter.CheckAndConsume(ctx, key, now)

	rotated, newSecret, err := keys.Rotate(ctx, key.ID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.ID != key.ID || newSecret == oldSecret {
		t.Errorf("rotation result = %+v", rotated)
	}
	if _, err := keys.FindBySecret(ctx, oldSecret); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old secret still resolves: %v", err)
	}
	if d, _ := limiter.CheckAndConsume(ctx, rotated, now); d.Admitted {
		t.Error("rotation handed out a fresh quota window")
	}
	if _, _, err := keys.Rotate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteKey(t *testing.T) {
	keys, _ := newTestKeys(t)
	ctx := context.Background()
	key, secret, _ := keys.Create(ctx, model.CreateKeyInput{Label: "svc"})

	if err := keys.Delete(ctx, key.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := keys.FindBySecret(ctx, secret); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted key still resolves: %v", err)
	}
	if err := keys.Delete(ctx, key.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateExpiredIsIdempotent(t *testing.T) {
	keys, _ := newTestKeys(t)
	ctx := context.Background()

	soon := time.Now().Add(time.Hour)
	key, _, err := keys.Create(ctx, model.CreateKeyInput{Label: "temp", ExpiresAt: &soon})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := soon.Add(time.Minute)
	n, err := keys.DeactivateExpired(ctx, later)
	if err != nil || n != 1 {
		t.Fatalf("first sweep = %d, %v; want 1", n, err)
	}
	n, err = keys.DeactivateExpired(ctx, later)
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v; want 0", n, err)
	}
	got, _ := keys.Get(ctx, key.ID)
	if got.State != model.KeyStateInactive {
		t.Errorf("State = %s", got.State)
	}
}
