package service

import (
	"context"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

const (
	recentLogLimit   = 10
	topEndpointLimit = 10
	// DefaultLogPageSize applies when a log query names no limit.
	DefaultLogPageSize = 50
	// MaxLogPageSize caps a single page of logs.
	MaxLogPageSize = 500
)

// StatsService answers the dashboard and log queries.
type StatsService struct {
	store storage.Storage
	now   func() time.Time
}

func NewStatsService(store storage.Storage) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// KeyStats returns the usage view of one key over the named period.
func (s *StatsService) KeyStats(ctx context.Context, id, period string) (*model.KeyStats, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}

	name, since := model.ResolvePeriod(period, s.now().UTC())
	summary, err := s.store.SummarizeUsage(ctx, model.LogFilter{KeyID: id, Since: since})
	if err != nil {
		return nil, err
	}
	endpoints, err := s.store.ListEndpointUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	recent, _, err := s.store.ListUsageLogs(ctx, model.LogFilter{KeyID: id, Limit: recentLogLimit})
	if err != nil {
		return nil, err
	}

	return &model.KeyStats{
		Key:       key,
		Period:    name,
		Summary:   summary,
		Endpoints: endpoints,
		Recent:    recent,
	}, nil
}

// Overview returns the global usage view over the named period.
func (s *StatsService) Overview(ctx context.Context, period string) (*model.Overview, error) {
	name, since := model.ResolvePeriod(period, s.now().UTC())

	keys, err := s.store.ListAPIKeys(ctx, model.KeyFilter{})
	if err != nil {
		return nil, err
	}
	ov := &model.Overview{Period: name, TotalKeys: len(keys)}
	for _, k := range keys {
		if k.IsActive() {
			ov.ActiveKeys++
		} else {
			ov.InactiveKeys++
		}
	}

	if ov.Summary, err = s.store.SummarizeUsage(ctx, model.LogFilter{Since: since}); err != nil {
		return nil, err
	}
	ov.SuccessRate = ov.Summary.SuccessRate()

	if ov.TopEndpoints, err = s.store.TopEndpoints(ctx, since, topEndpointLimit); err != nil {
		return nil, err
	}
	if ov.Recent, _, err = s.store.ListUsageLogs(ctx, model.LogFilter{Limit: recentLogLimit}); err != nil {
		return nil, err
	}
	return ov, nil
}

// Logs returns one page of log rows and the total matching the filter. The
// page size is clamped to [1, MaxLogPageSize].
func (s *StatsService) Logs(ctx context.Context, filter model.LogFilter) ([]model.UsageLogEntry, int64, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultLogPageSize
	case filter.Limit > MaxLogPageSize:
		filter.Limit = MaxLogPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListUsageLogs(ctx, filter)
}

// PurgeOlderThan deletes log rows older than days days. Lifetime counters
// and endpoint aggregates are kept.
func (s *StatsService) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 1 || days > model.MaxRetentionDays {
		return 0, model.NewValidationError("older_than_days",
			fmt.Sprintf("must be between 1 and %d", model.MaxRetentionDays))
	}
	before := s.now().UTC().AddDate(0, 0, -days)
	n, err := s.store.PurgeUsageLogs(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge usage logs: %w", err)
	}
	return n, nil
}
