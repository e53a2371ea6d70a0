// Package api provides the HTTP API layer for the performance
// tracking engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/guard"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/tracker"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// DefaultAnalyticsWindowMinutes is used when a request does not
// specify a window.
const DefaultAnalyticsWindowMinutes = 60

// Router represents the main API router
type Router struct {
	mux       *chi.Mux
	tracker   *tracker.Tracker
	streamer  *Streamer
	logger    logging.Logger
	version   string
	startedAt time.Time
}

// NewRouter creates a new API router with middleware and routes
func NewRouter(t *tracker.Tracker, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	r := &Router{
		mux:       chi.NewRouter(),
		tracker:   t,
		logger:    logger.WithComponent("api"),
		version:   "1.0.0",
		startedAt: time.Now(),
	}
	r.streamer = NewStreamer(t, logger)

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.mux
}

// setupMiddleware configures the middleware stack
func (r *Router) setupMiddleware() {
	// Recovery middleware (should be first)
	r.mux.Use(chimiddleware.Recoverer)

	// Logging middleware
	r.mux.Use(r.loggingMiddleware)

	// Request size limit (1MB); the API only accepts small JSON bodies
	r.mux.Use(chimiddleware.RequestSize(1 * 1024 * 1024))

	// Heartbeat for load balancer health checks
	r.mux.Use(chimiddleware.Heartbeat("/ping"))
}

// loggingMiddleware logs one line per completed request with a trace ID.
func (r *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		traceID := logging.GenerateTraceID()

		ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		r.logger.WithTraceID(traceID).Info("Request completed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	// Health check endpoint (no version prefix for load balancers)
	r.mux.Get("/health", r.handleHealth)

	// API v1 routes
	r.mux.Route("/api/v1", func(rtr chi.Router) {
		rtr.Get("/health", r.handleHealth)

		rtr.Route("/metrics", func(mr chi.Router) {
			mr.Get("/", r.handleAllMetrics)
			mr.Post("/", r.handleRecordMetric)
			mr.Get("/{key}", r.handleMetricsByKey)
			mr.Get("/{key}/history", r.handleMetricHistory)
		})

		rtr.Route("/analytics", func(ar chi.Router) {
			ar.Get("/{key}", r.handleAnalytics)
			ar.Post("/{key}/cost", r.handleSetCost)
		})

		rtr.Get("/system", r.handleSystem)
		rtr.Get("/system/history", r.handleSystemHistory)

		rtr.Route("/guard", func(gr chi.Router) {
			gr.Get("/", r.handleGuardStatus)
			gr.Post("/check", r.handleGuardCheck)
			gr.Post("/permit", r.handleAcquirePermit)
			gr.Delete("/permit", r.handleReleasePermit)
			gr.Get("/thresholds", r.handleGetThresholds)
			gr.Put("/thresholds", r.handleUpdateThresholds)
		})

		rtr.Route("/models", func(mr chi.Router) {
			mr.Get("/", r.handleModelRecords)
			mr.Post("/", r.handleRecordModel)
		})
	})

	// WebSocket stream of host samples
	r.mux.Get("/ws", r.streamer.HandleUpgrade)

	// Root endpoint with server info
	r.mux.Get("/", r.handleRoot)

	// 404 handler
	r.mux.NotFound(r.handleNotFound)
}

// handleRoot handles requests to the root endpoint
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	serverInfo := map[string]interface{}{
		"server":      "performance-tracker",
		"version":     r.version,
		"api_version": "v1",
		"status":      "running",
		"uptime":      time.Since(r.startedAt).String(),
		"endpoints": map[string]string{
			"health":    "/health",
			"metrics":   "/api/v1/metrics",
			"analytics": "/api/v1/analytics/{key}",
			"system":    "/api/v1/system",
			"guard":     "/api/v1/guard",
			"models":    "/api/v1/models",
			"websocket": "/ws",
		},
	}
	r.writeJSON(w, http.StatusOK, serverInfo)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if r.tracker.EmergencyActive() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, map[string]interface{}{
		"status":            status,
		"emergency":         r.tracker.EmergencyActive(),
		"active_operations": r.tracker.ActiveOperations(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleAllMetrics(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.tracker.GetAllLatest())
}

func (r *Router) handleMetricsByKey(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")
	sample, ok := r.tracker.GetCurrentMetrics(key)
	if !ok {
		r.writeError(w, http.StatusNotFound, "NOT_FOUND", "no metrics recorded for key")
		return
	}
	r.writeJSON(w, http.StatusOK, sample)
}

func (r *Router) handleMetricHistory(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")
	history := r.tracker.GetHistory(key)
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"count":   len(history),
		"samples": history,
	})
}

func (r *Router) handleRecordMetric(w http.ResponseWriter, req *http.Request) {
	var sample types.MetricSample
	if err := json.NewDecoder(req.Body).Decode(&sample); err != nil {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if sample.Key == "" {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", "key is required")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	r.tracker.RecordMetric(sample)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Router) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")

	window := DefaultAnalyticsWindowMinutes
	if raw := req.URL.Query().Get("window_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			r.writeError(w, http.StatusBadRequest, "INVALID_WINDOW", "window_minutes must be a positive integer")
			return
		}
		window = parsed
	}

	analytics, ok := r.tracker.GetAnalytics(key, window)
	if !ok {
		r.writeError(w, http.StatusNotFound, "NOT_FOUND", "no samples in window for key")
		return
	}
	r.writeJSON(w, http.StatusOK, analytics)
}

func (r *Router) handleSetCost(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")

	var body struct {
		CostPerToken float64 `json:"cost_per_token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if body.CostPerToken < 0 {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", "cost_per_token must not be negative")
		return
	}
	r.tracker.SetCostPerToken(key, body.CostPerToken)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleSystem(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.tracker.GetSystemMetrics(req.Context()))
}

func (r *Router) handleSystemHistory(w http.ResponseWriter, req *http.Request) {
	history := r.tracker.GetSystemHistory()
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(history),
		"samples": history,
	})
}

func (r *Router) handleGuardStatus(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"emergency":         r.tracker.EmergencyActive(),
		"active_operations": r.tracker.ActiveOperations(),
		"thresholds":        r.tracker.Thresholds(),
	})
}

// handleGuardCheck runs one admission check without taking a permit.
// Denied checks report 429 so callers can back off on status alone.
func (r *Router) handleGuardCheck(w http.ResponseWriter, req *http.Request) {
	decision := r.tracker.CheckResources(req.Context())
	code := http.StatusOK
	if !decision.Allowed {
		code = http.StatusTooManyRequests
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		}
	}
	r.writeJSON(w, code, decision)
}

// handleAcquirePermit takes one concurrency slot for an external
// operation. The caller must release it when the operation finishes.
func (r *Router) handleAcquirePermit(w http.ResponseWriter, req *http.Request) {
	if err := r.tracker.TryAcquirePermit(req.Context()); err != nil {
		code, errCode, message := permitStatus(err)
		if denied, ok := guard.IsDenied(err); ok && denied.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(denied.RetryAfter.Seconds())))
		}
		r.writeError(w, code, errCode, message)
		return
	}
	r.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"active_operations": r.tracker.ActiveOperations(),
	})
}

func (r *Router) handleReleasePermit(w http.ResponseWriter, req *http.Request) {
	r.tracker.ReleasePermit()
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_operations": r.tracker.ActiveOperations(),
	})
}

func (r *Router) handleGetThresholds(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.tracker.Thresholds())
}

func (r *Router) handleUpdateThresholds(w http.ResponseWriter, req *http.Request) {
	var thresholds types.ResourceThresholds
	if err := json.NewDecoder(req.Body).Decode(&thresholds); err != nil {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := r.tracker.UpdateThresholds(thresholds); err != nil {
		r.writeError(w, http.StatusBadRequest, "INVALID_THRESHOLDS", err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, r.tracker.Thresholds())
}

func (r *Router) handleModelRecords(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.tracker.GetModelRecords())
}

func (r *Router) handleRecordModel(w http.ResponseWriter, req *http.Request) {
	var record types.ModelRecord
	if err := json.NewDecoder(req.Body).Decode(&record); err != nil {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if record.Key == "" {
		r.writeError(w, http.StatusBadRequest, "INVALID_BODY", "key is required")
		return
	}
	r.tracker.RecordModelRecord(record)
	w.WriteHeader(http.StatusAccepted)
}

// handleNotFound handles 404 errors
func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	r.writeError(w, http.StatusNotFound, "NOT_FOUND", "the requested resource does not exist")
}

func (r *Router) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		r.logger.Error("Failed to encode response", "error", err.Error())
	}
}

func (r *Router) writeError(w http.ResponseWriter, code int, errCode, message string) {
	r.writeJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    errCode,
			"message": message,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// permitStatus maps a permit acquisition error to an HTTP status and
// error payload. Exposed for handlers that gate work behind the guard.
func permitStatus(err error) (int, string, string) {
	if denied, ok := guard.IsDenied(err); ok {
		return http.StatusTooManyRequests, "RESOURCES_EXHAUSTED", denied.Reason
	}
	if errors.Is(err, guard.ErrTooManyOperations) {
		return http.StatusTooManyRequests, "TOO_MANY_OPERATIONS", err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL", err.Error()
}
