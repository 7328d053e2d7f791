// Package context carries per-request identifiers through handlers and into
// the logger.
package context

import (
	"context"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

const (
	RequestIDKey     ContextKey = "request_id"
	CorrelationIDKey ContextKey = "correlation_id"
	TraceIDKey       ContextKey = "trace_id"
	ClientInfoKey    ContextKey = "client_info"
	StartTimeKey     ContextKey = "start_time"
)

// RequestContext contains the identifiers of one inbound request
type RequestContext struct {
	RequestID     string      `json:"request_id"`
	CorrelationID string      `json:"correlation_id"`
	TraceID       string      `json:"trace_id"`
	ClientInfo    *ClientInfo `json:"client_info,omitempty"`
	StartTime     time.Time   `json:"start_time"`
}

// ClientInfo contains information about the requesting client
type ClientInfo struct {
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// WithRequestContext stores every field of reqCtx and hands the trace id
// to the logger.
func WithRequestContext(ctx context.Context, reqCtx *RequestContext) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, reqCtx.RequestID)
	ctx = context.WithValue(ctx, CorrelationIDKey, reqCtx.CorrelationID)
	ctx = context.WithValue(ctx, TraceIDKey, reqCtx.TraceID)
	ctx = context.WithValue(ctx, StartTimeKey, reqCtx.StartTime)
	if reqCtx.ClientInfo != nil {
		ctx = context.WithValue(ctx, ClientInfoKey, reqCtx.ClientInfo)
	}
	return logging.ContextWithTrace(ctx, reqCtx.TraceID, "")
}

// GetRequestContext rebuilds the request context; missing fields are zero.
func GetRequestContext(ctx context.Context) *RequestContext {
	reqCtx := &RequestContext{
		RequestID:     GetRequestID(ctx),
		CorrelationID: GetCorrelationID(ctx),
		TraceID:       GetTraceID(ctx),
	}
	if start, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		reqCtx.StartTime = start
	}
	if info, ok := ctx.Value(ClientInfoKey).(*ClientInfo); ok {
		reqCtx.ClientInfo = info
	}
	return reqCtx
}

// Metadata flattens the identifiers into the map handed to capabilities as
// request context.
func (r *RequestContext) Metadata() map[string]interface{} {
	md := map[string]interface{}{
		"request_id":     r.RequestID,
		"correlation_id": r.CorrelationID,
		"trace_id":       r.TraceID,
	}
	if r.ClientInfo != nil {
		if r.ClientInfo.Name != "" {
			md["client_name"] = r.ClientInfo.Name
		}
		if r.ClientInfo.IPAddress != "" {
			md["client_ip"] = r.ClientInfo.IPAddress
		}
	}
	return md
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
