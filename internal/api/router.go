package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/flight"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/internal/ratelimit"
	"github.com/wonny/aegis-warrant/internal/refresh"
	"github.com/wonny/aegis-warrant/internal/risk"
	"github.com/wonny/aegis-warrant/internal/scheduler"
	"github.com/wonny/aegis-warrant/internal/seat"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// Engine is what the API reads and controls
type Engine interface {
	Lifecycle() *lifecycle.Manager
	QueueStats() []taskqueue.ProcessorStats
	WorkerStats() []flight.Stats
	RefreshStatus() refresh.Status
	RateLimit(ctx context.Context) (ratelimit.Stats, error)
	Jobs() map[string]scheduler.JobStats
	Seats() []seat.Assignment
	Risk() risk.Summary
	Quotes() map[string]contracts.Quote
	Orders() []contracts.Order
	Metrics() *metrics.Metrics

	RetireSeat(symbol, reason string) (string, error)
	Liquidate(symbol, reason string) error
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(engine Engine, log *logger.Logger) http.Handler {
	h := &handler{engine: engine, logger: log}
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	if m := engine.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler()).Methods("GET")
	}

	// Status
	r.HandleFunc("/api/lifecycle", h.getLifecycle).Methods("GET")
	r.HandleFunc("/api/queues", h.getQueues).Methods("GET")
	r.HandleFunc("/api/refresh", h.getRefresh).Methods("GET")
	r.HandleFunc("/api/ratelimit", h.getRateLimit).Methods("GET")
	r.HandleFunc("/api/jobs", h.getJobs).Methods("GET")
	r.HandleFunc("/api/seats", h.getSeats).Methods("GET")
	r.HandleFunc("/api/risk", h.getRisk).Methods("GET")
	r.HandleFunc("/api/quotes", h.getQuotes).Methods("GET")
	r.HandleFunc("/api/orders", h.getOrders).Methods("GET")

	// Operator actions
	r.HandleFunc("/api/seats/{symbol}/retire", h.retireSeat).Methods("POST")
	r.HandleFunc("/api/positions/{symbol}/liquidate", h.liquidate).Methods("POST")

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "aegis-warrant",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					respondError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
