// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keygate"

var (
	startTime = time.Now()

	// UptimeSeconds tracks the process uptime in seconds
	UptimeSeconds = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time passed since keygate started in seconds",
	}, func() float64 { return time.Since(startTime).Seconds() })

	// GateDecisionsTotal counts gate outcomes (outcome=admitted or a rejection code)
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Authentication decisions by outcome",
	}, []string{"outcome"})

	// GateDurationSeconds measures the time spent inside the gate
	GateDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "duration_seconds",
		Help:      "Time spent resolving, checking and metering a credential",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CacheLookupsTotal counts key lookup cache results (result=hit/miss)
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Key lookup cache results",
	}, []string{"result"})

	// RateLimitWindows reports the windows held by the in-memory limiter
	RateLimitWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "windows",
		Help:      "Quota windows currently tracked in process",
	})

	// UsageQueueDepth reports entries waiting for a recorder worker
	UsageQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "queue_depth",
		Help:      "Usage entries waiting to be written",
	})

	// UsageDroppedTotal counts entries dropped because the queue was full
	UsageDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "dropped_total",
		Help:      "Usage entries dropped on a full queue",
	})

	// UsageWritesTotal counts recorder writes (result=ok/error/orphaned)
	UsageWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "writes_total",
		Help:      "Usage writes by result",
	}, []string{"result"})

	// SweepRunsTotal counts scheduled job executions (job=expire/purge/collect)
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Scheduled job executions",
	}, []string{"job", "result"})

	// SweepAffectedTotal counts rows changed by scheduled jobs
	SweepAffectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "affected_total",
		Help:      "Rows deactivated or purged by scheduled jobs",
	}, []string{"job"})

	// HTTPRequestsTotal counts served requests by route pattern
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration measures request latency by route pattern
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
