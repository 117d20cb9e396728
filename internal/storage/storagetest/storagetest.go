// Package storagetest is a conformance suite shared by every storage
// backend. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/keyhash"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

// Factory returns a fresh, empty store. It should register its own cleanup.
type Factory func(t *testing.T) storage.Storage

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, storage.Storage)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateHash", testDuplicateHash},
		{"NotFound", testNotFound},
		{"ListOrderAndFilter", testListOrderAndFilter},
		{"Update", testUpdate},
		{"Rotate", testRotate},
		{"DeactivateExpired", testDeactivateExpired},
		{"RecordUsage", testRecordUsage},
		{"RecordUsageMissingKey", testRecordUsageMissingKey},
		{"RecordUsageUntrustedFields", testRecordUsageUntrustedFields},
		{"ConcurrentRecordUsage", testConcurrentRecordUsage},
		{"DeleteCascades", testDeleteCascades},
		{"LogFilters", testLogFilters},
		{"SummaryAndTopEndpoints", testSummaryAndTopEndpoints},
		{"Purge", testPurge},
		{"Admins", testAdmins},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewKey builds an unsaved active key with a fresh secret.
func NewKey(t *testing.T, label string, quota model.QuotaPolicy, created time.Time) (*model.APIKey, string) {
	t.Helper()
	secret, err := keyhash.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("NewV7: %v", err)
	}
	return &model.APIKey{
		ID:        id.String(),
		KeyHash:   keyhash.Hash(secret),
		KeyPrefix: keyhash.DisplayPrefix(secret),
		Label:     label,
		State:     model.KeyStateActive,
		Quota:     quota,
		CreatedAt: created.UTC(),
		UpdatedAt: created.UTC(),
	}, secret
}

func mustCreate(t *testing.T, s storage.Storage, label string, created time.Time) *model.APIKey {
	t.Helper()
	k, _ := NewKey(t, label, model.PerWindow(10, time.Minute), created)
	if err := s.CreateAPIKey(context.Background(), k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return k
}

func mustRecord(t *testing.T, s storage.Storage, e model.UsageLogEntry) {
	t.Helper()
	if err := s.RecordUsage(context.Background(), &e); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCreateAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	exp := base.Add(48 * time.Hour)
	k, _ := NewKey(t, "svc-a", model.PerWindow(2, 60*time.Second), base)
	k.ExpiresAt = &exp
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.Label != "svc-a" || got.State != model.KeyStateActive {
		t.Errorf("got %+v", got)
	}
	if got.Quota != model.PerWindow(2, 60*time.Second) {
		t.Errorf("Quota = %+v", got.Quota)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
	if got.TotalRequests != 0 || got.TotalErrors != 0 || got.LastUsedAt != nil {
		t.Errorf("expected zero counters, got %+v", got)
	}

	byHash, err := s.GetAPIKeyByHash(ctx, k.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if byHash.ID != k.ID {
		t.Errorf("GetAPIKeyByHash returned %s, want %s", byHash.ID, k.ID)
	}

	unlimited, _ := NewKey(t, "open", model.Unlimited(), base)
	if err := s.CreateAPIKey(ctx, unlimited); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	got, err = s.GetAPIKey(ctx, unlimited.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if !got.Quota.IsUnlimited() || got.ExpiresAt != nil {
		t.Errorf("got %+v, want unlimited without expiry", got)
	}
}

func testDuplicateHash(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "first", base)

	dup, _ := NewKey(t, "second", model.Unlimited(), base)
	dup.KeyHash = k.KeyHash
	err := s.CreateAPIKey(ctx, dup)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.GetAPIKey(ctx, dup.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("duplicate was persisted: %v", err)
	}
}

func testNotFound(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	missing := uuid.NewString()

	if _, err := s.GetAPIKey(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAPIKey: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, keyhash.Hash("kg_nope")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAPIKeyByHash: expected ErrNotFound, got %v", err)
	}
	label := "x"
	if _, err := s.UpdateAPIKey(ctx, missing, model.KeyUpdate{Label: &label}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateAPIKey: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RotateAPIKey(ctx, missing, keyhash.Hash("kg_x"), "kg_x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RotateAPIKey: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteAPIKey: expected ErrNotFound, got %v", err)
	}
}

func testListOrderAndFilter(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	oldest := mustCreate(t, s, "oldest", base)
	middle := mustCreate(t, s, "middle", base.Add(time.Minute))
	newest := mustCreate(t, s, "newest", base.Add(2*time.Minute))

	keys, err := s.ListAPIKeys(ctx, model.KeyFilter{})
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	want := []string{newest.ID, middle.ID, oldest.ID}
	for i, id := range want {
		if keys[i].ID != id {
			t.Errorf("keys[%d] = %s (%s), want %s", i, keys[i].ID, keys[i].Label, id)
		}
	}

	inactive := model.KeyStateInactive
	if _, err := s.UpdateAPIKey(ctx, middle.ID, model.KeyUpdate{State: &inactive}); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	keys, err = s.ListAPIKeys(ctx, model.KeyFilter{State: &inactive})
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != middle.ID {
		t.Errorf("inactive filter returned %+v", keys)
	}
}

func testUpdate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "before", base)
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 200, Timestamp: base})

	label := "after"
	quota := model.Unlimited()
	exp := base.Add(time.Hour)
	got, err := s.UpdateAPIKey(ctx, k.ID, model.KeyUpdate{Label: &label, Quota: &quota, ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	if got.Label != "after" || !got.Quota.IsUnlimited() {
		t.Errorf("update not applied: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
	if got.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, update must not touch counters", got.TotalRequests)
	}

	got, err = s.UpdateAPIKey(ctx, k.ID, model.KeyUpdate{ClearExpiry: true})
	if err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("expected expiry cleared, got %v", got.ExpiresAt)
	}
}

func testRotate(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "rotating", base)
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 500, Timestamp: base})

	secret, err := keyhash.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got, err := s.RotateAPIKey(ctx, k.ID, keyhash.Hash(secret), keyhash.DisplayPrefix(secret))
	if err != nil {
		t.Fatalf("RotateAPIKey: %v", err)
	}
	if got.ID != k.ID || got.TotalRequests != 1 || got.TotalErrors != 1 {
		t.Errorf("rotation changed identity or counters: %+v", got)
	}
	if got.KeyPrefix != keyhash.DisplayPrefix(secret) {
		t.Errorf("KeyPrefix = %q", got.KeyPrefix)
	}

	if _, err := s.GetAPIKeyByHash(ctx, k.KeyHash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old hash still resolves: %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, keyhash.Hash(secret)); err != nil {
		t.Errorf("new hash does not resolve: %v", err)
	}

	other := mustCreate(t, s, "other", base)
	if _, err := s.RotateAPIKey(ctx, k.ID, other.KeyHash, other.KeyPrefix); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists rotating onto a taken hash, got %v", err)
	}
}

func testDeactivateExpired(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	past := base.Add(-time.Hour)
	future := base.Add(time.Hour)

	expired, _ := NewKey(t, "expired", model.Unlimited(), base.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	live, _ := NewKey(t, "live", model.Unlimited(), base)
	live.ExpiresAt = &future
	forever, _ := NewKey(t, "forever", model.Unlimited(), base)
	for _, k := range []*model.APIKey{expired, live, forever} {
		if err := s.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}

	n, err := s.DeactivateExpired(ctx, base)
	if err != nil {
		t.Fatalf("DeactivateExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("first sweep changed %d rows, want 1", n)
	}
	n, err = s.DeactivateExpired(ctx, base)
	if err != nil {
		t.Fatalf("DeactivateExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep changed %d rows, want 0", n)
	}

	got, _ := s.GetAPIKey(ctx, expired.ID)
	if got.State != model.KeyStateInactive {
		t.Errorf("expired key state = %s", got.State)
	}
	for _, id := range []string{live.ID, forever.ID} {
		got, _ := s.GetAPIKey(ctx, id)
		if got.State != model.KeyStateActive {
			t.Errorf("key %s deactivated early", got.Label)
		}
	}
}

func testRecordUsage(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "svc", base)

	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/api/v1/items", Method: "GET", StatusCode: 200, ResponseTimeMs: 10, Origin: "10.0.0.1", Timestamp: base})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/api/v1/items", Method: "GET", StatusCode: 404, ResponseTimeMs: 30, Origin: "10.0.0.1", Timestamp: base.Add(time.Second)})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/api/v1/users", Method: "POST", StatusCode: 201, ResponseTimeMs: 5, Origin: "10.0.0.2", ClientAgent: "curl/8", Timestamp: base.Add(2 * time.Second)})

	got, err := s.GetAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.TotalRequests != 3 || got.TotalErrors != 1 {
		t.Errorf("counters = %d/%d, want 3/1", got.TotalRequests, got.TotalErrors)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("LastUsedAt = %v", got.LastUsedAt)
	}
	if got.LastUsedFrom != "10.0.0.2" {
		t.Errorf("LastUsedFrom = %q", got.LastUsedFrom)
	}

	aggs, err := s.ListEndpointUsage(ctx, k.ID)
	if err != nil {
		t.Fatalf("ListEndpointUsage: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
	items := aggs[0]
	if items.Endpoint != "/api/v1/items" || items.RequestCount != 2 || items.ErrorCount != 1 || items.TotalResponseTimeMs != 40 {
		t.Errorf("items aggregate = %+v", items)
	}
	if items.AvgResponseTimeMs() != 20 {
		t.Errorf("avg = %v, want 20", items.AvgResponseTimeMs())
	}
	if aggs[1].Endpoint != "/api/v1/users" || aggs[1].RequestCount != 1 || aggs[1].ErrorCount != 0 {
		t.Errorf("users aggregate = %+v", aggs[1])
	}

	logs, total, err := s.ListUsageLogs(ctx, model.LogFilter{KeyID: k.ID})
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if total != 3 || len(logs) != 3 {
		t.Fatalf("got %d logs (total %d), want 3", len(logs), total)
	}
	if logs[0].Endpoint != "/api/v1/users" || logs[0].ClientAgent != "curl/8" {
		t.Errorf("newest log = %+v", logs[0])
	}
}

func testRecordUsageMissingKey(t *testing.T, s storage.Storage) {
	err := s.RecordUsage(context.Background(), &model.UsageLogEntry{
		KeyID: uuid.NewString(), Endpoint: "/x", Method: "GET", StatusCode: 200, Timestamp: base,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testRecordUsageUntrustedFields(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "svc", base)

	long := "/api/v1/gw/x/\xff" + strings.Repeat("a", 600)
	mustRecord(t, s, model.UsageLogEntry{
		KeyID: k.ID, Endpoint: long, Method: "GET", StatusCode: 200,
		Origin: "10.0.0.1\xfe", ClientAgent: "agent\xff" + strings.Repeat("b", 600), Timestamp: base,
	})

	got, err := s.GetAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", got.TotalRequests)
	}

	logs, _, err := s.ListUsageLogs(ctx, model.LogFilter{KeyID: k.ID})
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	for name, v := range map[string]struct {
		val string
		max int
	}{
		"endpoint":     {logs[0].Endpoint, model.MaxEndpointLen},
		"client_agent": {logs[0].ClientAgent, model.MaxClientAgentLen},
		"origin":       {logs[0].Origin, model.MaxOriginLen},
	} {
		if !utf8.ValidString(v.val) {
			t.Errorf("%s is not valid UTF-8: %q", name, v.val)
		}
		if n := utf8.RuneCountInString(v.val); n > v.max {
			t.Errorf("%s has %d characters, want at most %d", name, n, v.max)
		}
	}
	if !strings.HasPrefix(logs[0].Endpoint, "/api/v1/gw/x/\uFFFD") {
		t.Errorf("endpoint = %q", logs[0].Endpoint[:20])
	}

	aggs, err := s.ListEndpointUsage(ctx, k.ID)
	if err != nil {
		t.Fatalf("ListEndpointUsage: %v", err)
	}
	if len(aggs) != 1 || aggs[0].Endpoint != logs[0].Endpoint {
		t.Errorf("aggregate = %+v", aggs)
	}
}

func testConcurrentRecordUsage(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "busy", base)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := 200
			if i%5 == 0 {
				status = 503
			}
			errs <- s.RecordUsage(ctx, &model.UsageLogEntry{
				KeyID: k.ID, Endpoint: "/hot", Method: "GET", StatusCode: status,
				ResponseTimeMs: 1, Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	got, err := s.GetAPIKey(ctx, k.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.TotalRequests != n || got.TotalErrors != n/5 {
		t.Errorf("counters = %d/%d, want %d/%d", got.TotalRequests, got.TotalErrors, n, n/5)
	}
	aggs, err := s.ListEndpointUsage(ctx, k.ID)
	if err != nil {
		t.Fatalf("ListEndpointUsage: %v", err)
	}
	if len(aggs) != 1 || aggs[0].RequestCount != n || aggs[0].ErrorCount != n/5 {
		t.Errorf("aggregate = %+v", aggs)
	}
}

func testDeleteCascades(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	doomed := mustCreate(t, s, "doomed", base)
	survivor := mustCreate(t, s, "survivor", base)
	for i := 0; i < 3; i++ {
		mustRecord(t, s, model.UsageLogEntry{KeyID: doomed.ID, Endpoint: fmt.Sprintf("/e%d", i), Method: "GET", StatusCode: 200, Timestamp: base})
	}
	mustRecord(t, s, model.UsageLogEntry{KeyID: survivor.ID, Endpoint: "/e0", Method: "GET", StatusCode: 200, Timestamp: base})

	if err := s.DeleteAPIKey(ctx, doomed.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, doomed.KeyHash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted key still resolves: %v", err)
	}

	_, total, err := s.ListUsageLogs(ctx, model.LogFilter{KeyID: doomed.ID})
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if total != 0 {
		t.Errorf("%d orphaned log rows", total)
	}
	aggs, err := s.ListEndpointUsage(ctx, doomed.ID)
	if err != nil {
		t.Fatalf("ListEndpointUsage: %v", err)
	}
	if len(aggs) != 0 {
		t.Errorf("%d orphaned aggregates", len(aggs))
	}

	_, total, _ = s.ListUsageLogs(ctx, model.LogFilter{KeyID: survivor.ID})
	if total != 1 {
		t.Errorf("survivor logs = %d, want 1", total)
	}
	if err := s.DeleteAPIKey(ctx, doomed.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func testLogFilters(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := mustCreate(t, s, "a", base)
	b := mustCreate(t, s, "b", base)
	for i := 0; i < 5; i++ {
		mustRecord(t, s, model.UsageLogEntry{KeyID: a.ID, Endpoint: "/api/v1/orders", Method: "GET", StatusCode: 200, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	mustRecord(t, s, model.UsageLogEntry{KeyID: a.ID, Endpoint: "/api/v1/orders", Method: "POST", StatusCode: 422, Timestamp: base.Add(10 * time.Minute)})
	mustRecord(t, s, model.UsageLogEntry{KeyID: b.ID, Endpoint: "/api/v1/users", Method: "GET", StatusCode: 200, Timestamp: base.Add(11 * time.Minute)})

	tests := []struct {
		name   string
		filter model.LogFilter
		want   int64
	}{
		{"all", model.LogFilter{}, 7},
		{"by key", model.LogFilter{KeyID: b.ID}, 1},
		{"endpoint substring", model.LogFilter{Endpoint: "orders"}, 6},
		{"method", model.LogFilter{Method: "post"}, 1},
		{"status", model.LogFilter{StatusCode: 422}, 1},
		{"since", model.LogFilter{Since: base.Add(4 * time.Minute)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := s.ListUsageLogs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListUsageLogs: %v", err)
			}
			if total != tt.want {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}

	page, total, err := s.ListUsageLogs(ctx, model.LogFilter{KeyID: a.ID, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListUsageLogs: %v", err)
	}
	if total != 6 || len(page) != 2 {
		t.Fatalf("page len %d total %d, want 2 and 6", len(page), total)
	}
	// Newest first: offset 2 skips the POST and the 4m row.
	if !page[0].Timestamp.Equal(base.Add(3*time.Minute)) || !page[1].Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Errorf("page timestamps = %v, %v", page[0].Timestamp, page[1].Timestamp)
	}
}

func testSummaryAndTopEndpoints(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "k", base)
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 200, ResponseTimeMs: 10, Timestamp: base})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 500, ResponseTimeMs: 20, Timestamp: base})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/b", Method: "GET", StatusCode: 200, ResponseTimeMs: 30, Timestamp: base})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/old", Method: "GET", StatusCode: 200, ResponseTimeMs: 40, Timestamp: base.Add(-48 * time.Hour)})

	sum, err := s.SummarizeUsage(ctx, model.LogFilter{KeyID: k.ID, Since: base.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("SummarizeUsage: %v", err)
	}
	if sum.TotalRequests != 3 || sum.ErrorCount != 1 || sum.AvgResponseTimeMs != 20 {
		t.Errorf("summary = %+v, want 3 requests, 1 error, avg 20", sum)
	}

	empty, err := s.SummarizeUsage(ctx, model.LogFilter{KeyID: uuid.NewString()})
	if err != nil {
		t.Fatalf("SummarizeUsage: %v", err)
	}
	if empty.TotalRequests != 0 || empty.SuccessRate() != 100 {
		t.Errorf("empty summary = %+v", empty)
	}

	top, err := s.TopEndpoints(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	if len(top) != 2 || top[0].Endpoint != "/a" || top[0].TotalRequests != 2 || top[1].Endpoint != "/b" {
		t.Errorf("top endpoints = %+v", top)
	}
}

func testPurge(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	k := mustCreate(t, s, "k", base)
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 200, Timestamp: base.Add(-40 * 24 * time.Hour)})
	mustRecord(t, s, model.UsageLogEntry{KeyID: k.ID, Endpoint: "/a", Method: "GET", StatusCode: 200, Timestamp: base})

	n, err := s.PurgeUsageLogs(ctx, base.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeUsageLogs: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	_, total, _ := s.ListUsageLogs(ctx, model.LogFilter{KeyID: k.ID})
	if total != 1 {
		t.Errorf("remaining logs = %d, want 1", total)
	}

	got, _ := s.GetAPIKey(ctx, k.ID)
	if got.TotalRequests != 2 {
		t.Errorf("purge touched lifetime counters: %d", got.TotalRequests)
	}
	aggs, _ := s.ListEndpointUsage(ctx, k.ID)
	if len(aggs) != 1 || aggs[0].RequestCount != 2 {
		t.Errorf("purge touched aggregates: %+v", aggs)
	}
}

func testAdmins(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("fresh store reports an admin")
	}

	admin := &model.Admin{Email: "ops@example.com", PasswordHash: "$2a$10$hash", Name: "Ops", IsActive: true}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.ID == 0 {
		t.Error("CreateAdmin did not set ID")
	}
	if err := s.CreateAdmin(ctx, &model.Admin{Email: "ops@example.com", PasswordHash: "x"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate email: expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.Name != "Ops" || !got.IsActive || got.LastLoginAt != nil {
		t.Errorf("got %+v", got)
	}
	if err := s.UpdateAdminLastLogin(ctx, got.ID); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got, _ = s.GetAdminByEmail(ctx, "ops@example.com")
	if got.LastLoginAt == nil {
		t.Error("LastLoginAt not set")
	}
	if err := s.UpdateAdminLastLogin(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAdminByEmail(ctx, "nobody@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 1 {
		t.Errorf("expected 1 admin, got %d", len(admins))
	}
}
