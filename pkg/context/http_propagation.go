package context

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/osakka/agentorch/pkg/logging"
)

// HTTPPropagationConfig names the headers read and written
type HTTPPropagationConfig struct {
	RequestIDHeader     string `yaml:"request_id_header"`
	CorrelationIDHeader string `yaml:"correlation_id_header"`
	TraceIDHeader       string `yaml:"trace_id_header"`
	GenerateIDs         bool   `yaml:"generate_ids"`
}

// HTTPContextPropagator moves request identifiers between headers and
// context
type HTTPContextPropagator struct {
	logger logging.Logger
	config HTTPPropagationConfig
}

// NewHTTPContextPropagator creates a new HTTP context propagator
func NewHTTPContextPropagator(logger logging.Logger) *HTTPContextPropagator {
	return &HTTPContextPropagator{
		logger: logger.WithComponent("http_context_propagator"),
		config: defaultHTTPPropagationConfig(),
	}
}

// ExtractFromRequest reads identifiers from req, generating any that are
// missing.
func (h *HTTPContextPropagator) ExtractFromRequest(req *http.Request) context.Context {
	reqCtx := &RequestContext{
		RequestID:     strings.TrimSpace(req.Header.Get(h.config.RequestIDHeader)),
		CorrelationID: strings.TrimSpace(req.Header.Get(h.config.CorrelationIDHeader)),
		TraceID:       strings.TrimSpace(req.Header.Get(h.config.TraceIDHeader)),
		StartTime:     time.Now(),
		ClientInfo: &ClientInfo{
			Name:      req.Header.Get("X-Client-Name"),
			Version:   req.Header.Get("X-Client-Version"),
			UserAgent: req.UserAgent(),
			IPAddress: extractClientIP(req),
		},
	}

	// an active span names the trace unless the caller already did
	if sc := trace.SpanContextFromContext(req.Context()); reqCtx.TraceID == "" && sc.IsValid() {
		reqCtx.TraceID = sc.TraceID().String()
	}

	if h.config.GenerateIDs {
		if reqCtx.RequestID == "" {
			reqCtx.RequestID = uuid.NewString()
		}
		if reqCtx.CorrelationID == "" {
			reqCtx.CorrelationID = reqCtx.RequestID
		}
		if reqCtx.TraceID == "" {
			reqCtx.TraceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}

	return WithRequestContext(req.Context(), reqCtx)
}

// InjectIntoResponse echoes the identifiers back to the caller
func (h *HTTPContextPropagator) InjectIntoResponse(ctx context.Context, w http.ResponseWriter) {
	reqCtx := GetRequestContext(ctx)

	if reqCtx.RequestID != "" {
		w.Header().Set(h.config.RequestIDHeader, reqCtx.RequestID)
	}
	if reqCtx.CorrelationID != "" {
		w.Header().Set(h.config.CorrelationIDHeader, reqCtx.CorrelationID)
	}
	if reqCtx.TraceID != "" {
		w.Header().Set(h.config.TraceIDHeader, reqCtx.TraceID)
	}
}

// Middleware returns HTTP middleware for automatic context propagation
func (h *HTTPContextPropagator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := h.ExtractFromRequest(r)
		h.InjectIntoResponse(ctx, w)

		rw := &timedWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(rw, r.WithContext(ctx))

		reqCtx := GetRequestContext(ctx)
		h.logger.WithContext(ctx).Info("http_request_completed",
			"request_id", reqCtx.RequestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(reqCtx.StartTime),
			"client_ip", reqCtx.ClientInfo.IPAddress)
	})
}

// timedWriter adds a response-time header just before the header is sent
type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (t *timedWriter) WriteHeader(code int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		t.status = code
		ms := float64(time.Since(t.start).Microseconds()) / 1000
		t.Header().Set("X-Response-Time-Ms", strconv.FormatFloat(ms, 'f', 2, 64))
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timedWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// extractClientIP prefers proxy headers and falls back to RemoteAddr
func extractClientIP(req *http.Request) string {
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		if ip := req.Header.Get(header); ip != "" {
			ip = strings.TrimSpace(strings.Split(ip, ",")[0])
			if ip != "" && ip != "unknown" {
				return ip
			}
		}
	}

	ip := req.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}

func defaultHTTPPropagationConfig() HTTPPropagationConfig {
	return HTTPPropagationConfig{
		RequestIDHeader:     "X-Request-ID",
		CorrelationIDHeader: "X-Correlation-ID",
		TraceIDHeader:       "X-Trace-ID",
		GenerateIDs:         true,
	}
}
