package health

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/osakka/agentorch/pkg/logging"
)

// HTTPHandler provides HTTP endpoints for health checks
type HTTPHandler struct {
	healthManager *HealthManager
	logger        logging.Logger
}

// NewHTTPHandler creates a new health check HTTP handler
func NewHTTPHandler(healthManager *HealthManager, logger logging.Logger) *HTTPHandler {
	return &HTTPHandler{
		healthManager: healthManager,
		logger:        logger.WithComponent("health_http"),
	}
}

// RegisterRoutes mounts /health, /health/live and /health/ready.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.handleLiveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.handleReadiness).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var health OverallHealth
	if r.URL.Query().Get("full") == "true" {
		health = h.healthManager.GetHealth(r.Context())
	} else {
		health = h.healthManager.GetQuickHealth(r.Context())
	}

	statusCode := statusCodeFor(health.Status)
	h.writeHealthResponse(w, statusCode, health)

	h.logger.Debug("health_check_request",
		"status", health.Status,
		"status_code", statusCode,
		"response_time_ms", time.Since(start).Milliseconds(),
		"remote_addr", r.RemoteAddr)
}

// handleLiveness only reports that the process can answer HTTP
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeSimpleResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    h.healthManager.Uptime().String(),
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.healthManager.IsReady(r.Context()) {
		h.writeSimpleResponse(w, http.StatusOK, map[string]interface{}{
			"status":    "ready",
			"timestamp": time.Now(),
		})
		return
	}
	h.writeSimpleResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":    "not_ready",
		"timestamp": time.Now(),
		"message":   "A critical check is failing",
	})
}

// statusCodeFor maps health status to HTTP status codes. Degraded still
// serves traffic.
func statusCodeFor(status HealthStatus) int {
	switch status {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *HTTPHandler) writeHealthResponse(w http.ResponseWriter, statusCode int, health OverallHealth) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("X-Health-Status", string(health.Status))
	w.Header().Set("X-Health-Checks-Total", strconv.Itoa(health.Summary.Total))
	w.Header().Set("X-Health-Checks-Healthy", strconv.Itoa(health.Summary.Healthy))
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(health); err != nil {
		h.logger.Error("failed_to_encode_health_response",
			"error", err,
			"status", health.Status)
	}
}

func (h *HTTPHandler) writeSimpleResponse(w http.ResponseWriter, statusCode int, data map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed_to_encode_simple_response",
			"error", err,
			"status_code", statusCode)
	}
}
