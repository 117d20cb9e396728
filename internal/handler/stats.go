package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// StatsHandler serves the usage dashboards, log queries and maintenance
// actions.
type StatsHandler struct {
	stats  *service.StatsService
	keys   *service.KeyService
	logger *slog.Logger
	now    func() time.Time
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats *service.StatsService, keys *service.KeyService, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{stats: stats, keys: keys, logger: logger, now: time.Now}
}

// KeyStats returns one key's usage over ?period= (1h, 24h, 7d, 30d).
// GET /api/v1/admin/keys/{keyId}/stats
func (h *StatsHandler) KeyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.KeyStats(r.Context(), chi.URLParam(r, "keyId"), queryString(r, "period"))
	if err != nil {
		writeServiceError(w, h.logger, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Overview returns global usage over ?period=.
// GET /api/v1/admin/stats/overview
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.stats.Overview(r.Context(), queryString(r, "period"))
	if err != nil {
		writeServiceError(w, h.logger, err, "overview")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// Logs returns a page of usage log rows, newest first. Filters: key_id,
// endpoint (substring), method, status, period. Paging: page (1-based),
// limit.
// GET /api/v1/admin/logs
func (h *StatsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", service.DefaultLogPageSize), 1, service.MaxLogPageSize)
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	filter := model.LogFilter{
		KeyID:    queryString(r, "key_id"),
		Endpoint: queryString(r, "endpoint"),
		Method:   queryString(r, "method"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}
	if s := queryString(r, "status"); s != "" {
		code, err := strconv.Atoi(s)
		if err != nil || code < 100 || code > 599 {
			writeError(w, http.StatusBadRequest, model.CodeValidationError, "status must be an HTTP status code")
			return
		}
		filter.StatusCode = code
	}
	if p := queryString(r, "period"); p != "" {
		_, filter.Since = model.ResolvePeriod(p, h.now().UTC())
	}

	logs, total, err := h.stats.Logs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "usage logs")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: logs,
		Meta: &model.ResponseMeta{
			Count:  len(logs),
			Total:  &total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		},
	})
}

// PurgeLogs deletes log rows older than ?older_than_days=N. Key counters
// and endpoint aggregates are kept.
// DELETE /api/v1/admin/logs
func (h *StatsHandler) PurgeLogs(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "older_than_days", 0)
	n, err := h.stats.PurgeOlderThan(r.Context(), days)
	if err != nil {
		writeServiceError(w, h.logger, err, "usage logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":         n,
		"older_than_days": days,
	})
}

// Sweep deactivates every expired key now instead of waiting for the
// scheduler.
// POST /api/v1/admin/sweep
func (h *StatsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.keys.DeactivateExpired(r.Context(), h.now())
	if err != nil {
		writeServiceError(w, h.logger, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deactivated": n,
	})
}
