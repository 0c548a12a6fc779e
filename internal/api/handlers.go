package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/flight"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

type handler struct {
	engine Engine
	logger *logger.Logger
}

// ============================================================
// Status
// ============================================================

// LifecycleResponse is the day lifecycle view
type LifecycleResponse struct {
	State         lifecycle.MutableState `json:"state"`
	Domains       []string               `json:"domains"`
	NextAttemptAt *string                `json:"next_attempt_at,omitempty"`
	History       []lifecycle.Transition `json:"history"`
}

// GET /api/lifecycle
func (h *handler) getLifecycle(w http.ResponseWriter, r *http.Request) {
	lc := h.engine.Lifecycle()
	resp := LifecycleResponse{
		State:   lc.State(),
		Domains: lc.Domains(),
		History: lc.History(),
	}
	if next := lc.NextAttemptAt(); !next.IsZero() {
		s := next.Format("2006-01-02T15:04:05Z07:00")
		resp.NextAttemptAt = &s
	}
	respondJSON(w, http.StatusOK, resp)
}

// QueuesResponse reports task processors and single-flight workers
type QueuesResponse struct {
	Processors []taskqueue.ProcessorStats `json:"processors"`
	Workers    []flight.Stats             `json:"workers"`
}

// GET /api/queues
func (h *handler) getQueues(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, QueuesResponse{
		Processors: h.engine.QueueStats(),
		Workers:    h.engine.WorkerStats(),
	})
}

// GET /api/refresh
func (h *handler) getRefresh(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.RefreshStatus())
}

// GET /api/ratelimit
func (h *handler) getRateLimit(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.RateLimit(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Rate limit stats unavailable")
		respondError(w, http.StatusServiceUnavailable, "Rate limiter busy")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GET /api/jobs
func (h *handler) getJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Jobs())
}

// GET /api/seats
func (h *handler) getSeats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Seats())
}

// GET /api/risk
func (h *handler) getRisk(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Risk())
}

// GET /api/quotes
func (h *handler) getQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := h.engine.Quotes()
	out := make([]contracts.Quote, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	respondJSON(w, http.StatusOK, out)
}

// GET /api/orders
func (h *handler) getOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.engine.Orders()
	if orders == nil {
		orders = []contracts.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// ============================================================
// Operator actions
// ============================================================

// POST /api/seats/{symbol}/retire
func (h *handler) retireSeat(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	next, err := h.engine.RetireSeat(symbol, reasonOf(r))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"next":   next,
	}).Info("Seat retired by operator")
	respondJSON(w, http.StatusOK, map[string]string{
		"retired": symbol,
		"next":    next,
	})
}

// POST /api/positions/{symbol}/liquidate
func (h *handler) liquidate(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if err := h.engine.Liquidate(symbol, reasonOf(r)); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	h.logger.WithField("symbol", symbol).Info("Liquidation queued by operator")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"symbol": symbol,
		"status": "queued",
	})
}

// reasonOf reads ?reason=, defaulting to "manual"
func reasonOf(r *http.Request) string {
	if reason := r.URL.Query().Get("reason"); reason != "" {
		return reason
	}
	return "manual"
}
