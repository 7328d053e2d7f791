package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/internal/orchestrator"
	"github.com/osakka/agentorch/internal/session"
	"github.com/osakka/agentorch/pkg/capabilities"
	reqctx "github.com/osakka/agentorch/pkg/context"
	"github.com/osakka/agentorch/pkg/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ExecuteRequest is the body of POST /v1/execute
type ExecuteRequest struct {
	Query   string   `json:"query"`
	Mode    string   `json:"mode,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// InvokeRequest is the body of POST /v1/capabilities/{name}/invoke
type InvokeRequest struct {
	Args capabilities.Args `json:"args"`
}

// CapabilityInfo describes one capability for API clients
type CapabilityInfo struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Category    capabilities.Category        `json:"category"`
	Parameters  []capabilities.ParameterSpec `json:"parameters"`
	Usage       *capabilities.UsageMetrics   `json:"usage,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		s.writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	opts := []orchestrator.ExecuteOption{
		orchestrator.WithRequestContext(reqctx.GetRequestContext(r.Context()).Metadata()),
	}
	if req.Mode != "" {
		mode, err := dispatch.ParseMode(req.Mode)
		if err != nil {
			s.writeCapabilityError(w, r, err)
			return
		}
		opts = append(opts, orchestrator.WithMode(mode))
	}
	if len(req.Targets) > 0 {
		opts = append(opts, orchestrator.WithTargets(req.Targets...))
	}

	report, err := s.orch.Execute(r.Context(), req.Query, opts...)
	if err != nil {
		s.writeCapabilityError(w, r, err)
		return
	}

	if s.store != nil {
		if err := s.store.SaveExecution(r.Context(), report); err != nil {
			s.logger.WithContext(r.Context()).Warn("execution_not_persisted",
				"execution_id", report.ID,
				"error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	descriptors := s.orch.Registry().Descriptors()
	out := make([]CapabilityInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, s.capabilityInfo(d))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"capabilities": out,
		"count":        len(out),
	})
}

func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	d, err := s.orch.Registry().Describe(mux.Vars(r)["name"])
	if err != nil {
		s.writeCapabilityError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.capabilityInfo(d))
}

func (s *Server) capabilityInfo(d capabilities.Descriptor) CapabilityInfo {
	info := CapabilityInfo{
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Parameters:  d.Parameters,
	}
	if usage, ok := s.orch.Registry().Usage(d.Name); ok && usage.CallCount > 0 {
		info.Usage = &usage
	}
	return info
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Args == nil {
		req.Args = capabilities.Args{}
	}

	result, err := s.orch.Invoke(r.Context(), mux.Vars(r)["name"], req.Args)
	if err != nil {
		s.writeCapabilityError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Tracker().Stats()
	if stderrors.Is(err, session.ErrNoInteractions) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":            "No interactions yet",
			"total_interactions": 0,
		})
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]interface{}{"session": stats}
	if s.store != nil {
		if persisted, err := s.store.Stats(r.Context()); err == nil {
			body["persisted"] = persisted
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSessionRecords(w http.ResponseWriter, r *http.Request) {
	records := s.orch.Tracker().Records()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit > 0 && limit < len(records) {
			records = records[len(records)-limit:]
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records":  records,
		"count":    len(records),
		"capacity": s.orch.Tracker().Capacity(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":       s.orch.Cache().Stats(),
		"ttl_seconds": s.orch.Cache().TTL().Seconds(),
	})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	dropped := s.orch.Tracker().Size()
	s.orch.Tracker().Reset()
	s.logger.WithContext(r.Context()).Info("session_reset_by_admin",
		"subject", subjectFrom(r),
		"records_dropped", dropped)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"records_dropped": dropped})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	dropped := s.orch.Cache().Len()
	s.orch.Cache().Clear()
	s.logger.WithContext(r.Context()).Info("cache_cleared_by_admin",
		"subject", subjectFrom(r),
		"entries_dropped", dropped)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries_dropped": dropped})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": s.orch.Dispatcher().Breakers(),
		"open":     s.orch.Dispatcher().OpenBreakers(),
	})
}

func (s *Server) handleBreakersReset(w http.ResponseWriter, r *http.Request) {
	open := s.orch.Dispatcher().OpenBreakers()
	s.orch.Dispatcher().ResetBreakers()
	s.logger.WithContext(r.Context()).Info("breakers_reset_by_admin",
		"subject", subjectFrom(r),
		"open_breakers", open)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reset": open})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return stderrors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

// statusFor maps a capability error kind onto an HTTP status
func statusFor(err error) int {
	kind, ok := errors.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case errors.KindUnknownCapability:
		return http.StatusNotFound
	case errors.KindInvalidArguments, errors.KindConfiguration:
		return http.StatusBadRequest
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindDuplicateCapability:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (s *Server) writeCapabilityError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]interface{}{
		"error":       err.Error(),
		"status_code": status,
		"request_id":  reqctx.GetRequestID(r.Context()),
		"timestamp":   time.Now(),
	}
	var ce *errors.CapabilityError
	if stderrors.As(err, &ce) {
		body["kind"] = ce.Kind
		if len(ce.Available) > 0 {
			body["available"] = ce.Available
		}
	}
	s.logger.WithContext(r.Context()).Warn("request_failed",
		"path", r.URL.Path,
		"status_code", status,
		"error", err)
	s.writeJSON(w, status, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":       message,
		"status_code": status,
		"request_id":  reqctx.GetRequestID(r.Context()),
		"timestamp":   time.Now(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		s.logger.Error("failed_to_encode_response",
			"error", err,
			"status_code", status)
	}
}
