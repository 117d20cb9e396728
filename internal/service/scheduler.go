package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keygate/keygate/internal/metrics"
)

// Collector drops limiter state that can no longer affect a decision.
type Collector interface {
	Collect(now time.Time) int
}

// SchedulerConfig names the cron specs of the background jobs. Specs accept
// the standard five fields and descriptors such as "@every 5m". An empty
// spec disables that job.
type SchedulerConfig struct {
	ExpireSchedule  string
	PurgeSchedule   string
	CollectSchedule string
	RetentionDays   int
	JobTimeout      time.Duration
}

// Scheduler runs the periodic maintenance jobs: expiring keys, trimming old
// logs and collecting idle limiter windows.
type Scheduler struct {
	cron    *cron.Cron
	keys    *KeyService
	stats   *StatsService
	windows Collector
	cfg     SchedulerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler validates every schedule and registers the jobs. windows
// may be nil.
func NewScheduler(cfg SchedulerConfig, keys *KeyService, stats *StatsService, windows Collector, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(),
		keys:    keys,
		stats:   stats,
		windows: windows,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int64, error)
	}{
		{"expire", cfg.ExpireSchedule, s.RunExpire},
		{"purge", cfg.PurgeSchedule, s.RunPurge},
		{"collect", cfg.CollectSchedule, s.RunCollect},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if job.name == "purge" && cfg.RetentionDays <= 0 {
			continue
		}
		if job.name == "collect" && windows == nil {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s job %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) runJob(name string, run func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	n, err := run(ctx)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	metrics.SweepRunsTotal.WithLabelValues(name, "ok").Inc()
	metrics.SweepAffectedTotal.WithLabelValues(name).Add(float64(n))
	s.logger.Debug("scheduled job finished", "job", name, "affected", n)
}

// RunExpire deactivates every key past its expiry.
func (s *Scheduler) RunExpire(ctx context.Context) (int64, error) {
	return s.keys.DeactivateExpired(ctx, s.now())
}

// RunPurge deletes log rows older than the retention period.
func (s *Scheduler) RunPurge(ctx context.Context) (int64, error) {
	n, err := s.stats.PurgeOlderThan(ctx, s.cfg.RetentionDays)
	if err == nil && n > 0 {
		s.logger.Info("usage logs purged", "count", n, "retention_days", s.cfg.RetentionDays)
	}
	return n, err
}

// RunCollect drops closed limiter windows.
func (s *Scheduler) RunCollect(ctx context.Context) (int64, error) {
	if s.windows == nil {
		return 0, nil
	}
	return int64(s.windows.Collect(s.now())), nil
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler on its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Jobs())
}

// Stop prevents new runs and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
