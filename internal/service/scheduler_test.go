package service

import (
	"context"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

func TestSchedulerRegistersJobs(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, nil, quietLogger())
	stats := NewStatsService(store)

	tests := []struct {
		name    string
		cfg     SchedulerConfig
		windows Collector
		want    int
	}{
		{"all", SchedulerConfig{ExpireSchedule: "@every 1m", PurgeSchedule: "@daily", CollectSchedule: "@every 5m", RetentionDays: 30}, ratelimit.NewMemoryLimiter(), 3},
		{"no retention", SchedulerConfig{ExpireSchedule: "@every 1m", PurgeSchedule: "@daily", CollectSchedule: "@every 5m"}, ratelimit.NewMemoryLimiter(), 2},
		{"no windows", SchedulerConfig{ExpireSchedule: "@every 1m", CollectSchedule: "@every 5m"}, nil, 1},
		{"disabled", SchedulerConfig{}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(tt.cfg, keys, stats, tt.windows, quietLogger())
			if err != nil {
				t.Fatalf("NewScheduler: %v", err)
			}
			if got := s.Jobs(); got != tt.want {
				t.Errorf("Jobs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSchedulerInvalidSpec(t *testing.T) {
	store := newTestStore(t)
	_, err := NewScheduler(SchedulerConfig{ExpireSchedule: "every now and then"},
		NewKeyService(store, nil, quietLogger()), NewStatsService(store), nil, quietLogger())
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestSchedulerRunExpire(t *testing.T) {
	store := newTestStore(t)
	keys := NewKeyService(store, nil, quietLogger())
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	key, _, err := keys.Create(ctx, model.CreateKeyInput{Label: "temp", ExpiresAt: &expiry})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	s, err := NewScheduler(SchedulerConfig{ExpireSchedule: "@every 1m"}, keys, NewStatsService(store), nil, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	n, err := s.RunExpire(ctx)
	if err != nil || n != 0 {
		t.Fatalf("RunExpire before expiry = %d, %v; want 0", n, err)
	}

	s.now = func() time.Time { return expiry.Add(time.Minute) }
	n, err = s.RunExpire(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunExpire after expiry = %d, %v; want 1", n, err)
	}
	got, _ := keys.Get(ctx, key.ID)
	if got.IsActive() {
		t.Error("expired key still active")
	}
}

func TestSchedulerRunCollect(t *testing.T) {
	store := newTestStore(t)
	limiter := ratelimit.NewMemoryLimiter()
	ctx := context.Background()

	key := &model.APIKey{ID: "k1", Quota: model.PerWindow(1, time.Millisecond)}
	if _, err := limiter.CheckAndConsume(ctx, key, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}

	s, err := NewScheduler(SchedulerConfig{CollectSchedule: "@every 1m"},
		NewKeyService(store, limiter, quietLogger()), NewStatsService(store), limiter, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	n, err := s.RunCollect(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunCollect = %d, %v; want 1", n, err)
	}
	if limiter.Len() != 0 {
		t.Errorf("Len = %d after collect", limiter.Len())
	}
}

func TestSchedulerStartStop(t *testing.T) {
	store := newTestStore(t)
	s, err := NewScheduler(SchedulerConfig{ExpireSchedule: "@every 1h"},
		NewKeyService(store, nil, quietLogger()), NewStatsService(store), nil, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
