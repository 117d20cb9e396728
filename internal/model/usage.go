package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// UsageLogEntry is one completed request attributed to a key. Rows are
// removed together with their key.
type UsageLogEntry struct {
	ID             int64     `json:"id" db:"id"`
	KeyID          string    `json:"key_id" db:"api_key_id"`
	Endpoint       string    `json:"endpoint" db:"endpoint"`
	Method         string    `json:"method" db:"method"`
	StatusCode     int       `json:"status_code" db:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms" db:"response_time_ms"`
	Origin         string    `json:"origin" db:"origin"`
	ClientAgent    string    `json:"client_agent" db:"client_agent"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
}

// IsError reports whether the entry counts against the key's error totals.
func (e *UsageLogEntry) IsError() bool { return e.StatusCode >= 400 }

// MaxRetentionDays bounds every "older than N days" cutoff.
const MaxRetentionDays = 36500

// Column widths of the usage log, in characters.
const (
	MaxEndpointLen    = 512
	MaxMethodLen      = 16
	MaxOriginLen      = 64
	MaxClientAgentLen = 512
)

// Sanitize replaces invalid UTF-8 in the client-supplied fields and
// truncates them to their column widths.
func (e *UsageLogEntry) Sanitize() {
	e.Endpoint = clip(e.Endpoint, MaxEndpointLen)
	e.Method = clip(e.Method, MaxMethodLen)
	e.Origin = clip(e.Origin, MaxOriginLen)
	e.ClientAgent = clip(e.ClientAgent, MaxClientAgentLen)
}

func clip(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// EndpointUsage is the running rollup for one (key, endpoint) pair.
type EndpointUsage struct {
	KeyID               string    `json:"key_id" db:"api_key_id"`
	Endpoint            string    `json:"endpoint" db:"endpoint"`
	RequestCount        int64     `json:"request_count" db:"request_count"`
	ErrorCount          int64     `json:"error_count" db:"error_count"`
	TotalResponseTimeMs int64     `json:"total_response_time_ms" db:"total_response_time_ms"`
	LastUsedAt          time.Time `json:"last_used_at" db:"last_used_at"`
}

// AvgResponseTimeMs returns the mean response time across all requests.
func (u *EndpointUsage) AvgResponseTimeMs() float64 {
	if u.RequestCount == 0 {
		return 0
	}
	return float64(u.TotalResponseTimeMs) / float64(u.RequestCount)
}

// LogFilter selects usage log rows. Zero values disable the matching clause.
// Endpoint matches as a substring.
type LogFilter struct {
	KeyID      string
	Endpoint   string
	Method     string
	StatusCode int
	Since      time.Time
	Limit      int
	Offset     int
}

// UsageSummary aggregates log rows over a period.
type UsageSummary struct {
	TotalRequests     int64   `json:"total_requests" db:"total_requests"`
	ErrorCount        int64   `json:"error_count" db:"error_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" db:"avg_response_time_ms"`
}

// SuccessRate returns the percentage of non-error requests, rounded to two
// decimals. An empty period reports 100.
func (s UsageSummary) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 100
	}
	rate := float64(s.TotalRequests-s.ErrorCount) / float64(s.TotalRequests) * 100
	return float64(int64(rate*100+0.5)) / 100
}

// EndpointTotal is one row of the busiest-endpoints ranking.
type EndpointTotal struct {
	Endpoint      string `json:"endpoint" db:"endpoint"`
	TotalRequests int64  `json:"total_requests" db:"total_requests"`
}

// KeyStats is the per-key dashboard view.
type KeyStats struct {
	Key       *APIKey         `json:"key"`
	Period    string          `json:"period"`
	Summary   UsageSummary    `json:"summary"`
	Endpoints []EndpointUsage `json:"endpoints"`
	Recent    []UsageLogEntry `json:"recent"`
}

// Overview is the global dashboard view across all keys.
type Overview struct {
	Period       string          `json:"period"`
	TotalKeys    int             `json:"total_keys"`
	ActiveKeys   int             `json:"active_keys"`
	InactiveKeys int             `json:"inactive_keys"`
	Summary      UsageSummary    `json:"summary"`
	SuccessRate  float64         `json:"success_rate"`
	TopEndpoints []EndpointTotal `json:"top_endpoints"`
	Recent       []UsageLogEntry `json:"recent"`
}

// Period names accepted by the stats queries.
var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// DefaultPeriod is used when a caller names no period or an unknown one.
const DefaultPeriod = "24h"

// ResolvePeriod maps a period name to its canonical name and start time.
// Unknown names fall back to DefaultPeriod.
func ResolvePeriod(name string, now time.Time) (string, time.Time) {
	d, ok := periods[name]
	if !ok {
		name = DefaultPeriod
		d = periods[DefaultPeriod]
	}
	return name, now.Add(-d)
}
