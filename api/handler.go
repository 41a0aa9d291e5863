// Package api exposes the diagnostics surface: per-database performance
// reports, tuning recommendations, snapshot history and Prometheus-style
// metrics.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"

	"github.com/guileen/dbtune/history"
	"github.com/guileen/dbtune/monitor"
	"github.com/guileen/dbtune/report"
)

// Handler serves diagnostics for every monitor in the registry. History is
// optional; without a store the history route answers 404.
type Handler struct {
	history *history.Store
	metrics *vmetrics.Set

	mu         sync.Mutex
	registered map[string]bool
}

func NewHandler(hist *history.Store) *Handler {
	return &Handler{
		history:    hist,
		metrics:    vmetrics.NewSet(),
		registered: make(map[string]bool),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/perf", func(r chi.Router) {
		r.Get("/", h.ListReports)
		r.Get("/{name}", h.GetReport)
		r.Post("/{name}/reset", h.ResetMonitor)
		r.Get("/{name}/recommendations", h.GetRecommendations)
		r.Get("/{name}/history", h.GetHistory)
	})
	r.Get("/metrics", h.Metrics)
	r.Get("/healthz", h.Healthz)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ResetResponse struct {
	Reset string `json:"reset"`
}

type RecommendationsResponse struct {
	Database        string   `json:"database"`
	Recommendations []string `json:"recommendations"`
}

type HealthResponse struct {
	Status   string                   `json:"status"`
	Monitors map[string]report.Health `json:"monitors"`
}

// ListReports returns a name-keyed map of every registered monitor's report.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports := make(map[string]report.Report)
	monitor.Range(func(name string, m *monitor.Monitor) bool {
		reports[name] = m.GetMetrics()
		return true
	})
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.GetMetrics())
}

func (h *Handler) ResetMonitor(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	m.Reset()
	writeJSON(w, http.StatusOK, ResetResponse{Reset: chi.URLParam(r, "name")})
}

func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	recs := m.GetRecommendations()
	if recs == nil {
		recs = []string{}
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{
		Database:        m.GetMetrics().Database,
		Recommendations: recs,
	})
}

// GetHistory returns persisted snapshots, newest first. ?limit= bounds the
// page, default 20.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("history store not configured"))
		return
	}
	name := chi.URLParam(r, "name")
	limit := getIntQueryParam(r, "limit", 20)

	entries, err := h.history.Recent(name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Metrics writes Prometheus text exposition built from live monitor
// snapshots. Gauges are registered lazily, once per monitor name.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	monitor.Range(func(name string, m *monitor.Monitor) bool {
		h.registerGauges(name, m)
		return true
	})
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	h.metrics.WritePrometheus(w)
}

func (h *Handler) registerGauges(name string, m *monitor.Monitor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registered[name] {
		return
	}
	h.registered[name] = true

	label := fmt.Sprintf(`{db=%q}`, name)
	h.metrics.NewGauge("dbtune_cache_hit_rate"+label, func() float64 {
		return m.GetMetrics().Cache.HitRate
	})
	h.metrics.NewGauge("dbtune_queries_total"+label, func() float64 {
		return float64(m.GetMetrics().Performance.TotalQueries)
	})
	h.metrics.NewGauge("dbtune_slow_queries_total"+label, func() float64 {
		return float64(m.GetMetrics().Performance.SlowQueries)
	})
	h.metrics.NewGauge("dbtune_pool_in_use"+label, func() float64 {
		return float64(m.GetMetrics().Connections.Stats.InUse)
	})
	h.metrics.NewGauge("dbtune_pool_recommended_max"+label, func() float64 {
		return float64(m.GetMetrics().Connections.Recommendations.Max)
	})
	h.metrics.NewGauge("dbtune_batch_success_rate"+label, func() float64 {
		return m.GetMetrics().Batching.Metrics.SuccessRate
	})
}

// Healthz aggregates per-monitor health. Any critical monitor makes the
// endpoint fail so load balancers see it.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Monitors: make(map[string]report.Health)}
	status := http.StatusOK
	monitor.Range(func(name string, m *monitor.Monitor) bool {
		health := m.GetMetrics().OverallHealth
		resp.Monitors[name] = health
		if health == report.HealthCritical {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		return true
	})
	writeJSON(w, status, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	name := chi.URLParam(r, "name")
	m, ok := monitor.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown monitor %q", name))
		return nil, false
	}
	return m, true
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}

func getIntQueryParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
