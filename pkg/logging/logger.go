package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
}

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	if level == "" {
		return LevelInfo, nil
	}
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelRank[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func (l LogLevel) enabled(min LogLevel) bool {
	return levelRank[l] >= levelRank[min]
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is the structured logging interface used across the module.
// Operations are snake_case event names, fields are alternating key/value pairs.
type Logger interface {
	Trace(operation string, fields ...interface{})
	Debug(operation string, fields ...interface{})
	Info(operation string, fields ...interface{})
	Warn(operation string, fields ...interface{})
	Error(operation string, fields ...interface{})
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
	WithTraceID(traceID string) Logger
	WithSpanID(spanID string) Logger
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       LogLevel               `json:"level"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	TraceID     string                 `json:"trace_id,omitempty"`
	SpanID      string                 `json:"span_id,omitempty"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Context     *ExecutionContext      `json:"context,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// ExecutionContext records where a log call was made
type ExecutionContext struct {
	Goroutines int    `json:"goroutines"`
	Function   string `json:"function"`
	File       string `json:"file"`
	Line       int    `json:"line"`
}

// ErrorContext describes one link of an error chain
type ErrorContext struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	Cause   *ErrorContext `json:"cause,omitempty"`
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// ContextWithTrace stores trace identifiers that WithContext picks up.
func ContextWithTrace(ctx context.Context, traceID, spanID string) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

type structuredLogger struct {
	component string
	traceID   string
	spanID    string
	minLevel  LogLevel
	output    func(entry Entry)
}

// New creates a logger writing JSON lines to stdout at INFO and above.
func New(component string) Logger {
	return NewWithWriter(component, os.Stdout, LevelInfo)
}

// NewWithWriter creates a logger writing JSON lines to w.
func NewWithWriter(component string, w io.Writer, level LogLevel) Logger {
	zl := zerolog.New(w)
	return &structuredLogger{
		component: component,
		minLevel:  level,
		output:    zerologOutput(zl),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &structuredLogger{
		minLevel: LevelError,
		output:   func(Entry) {},
	}
}

func zerologOutput(zl zerolog.Logger) func(Entry) {
	return func(entry Entry) {
		ev := zl.WithLevel(entry.Level.zerologLevel()).
			Time("timestamp", entry.Timestamp).
			Str("component", entry.Component).
			Str("operation", entry.Operation)
		if entry.TraceID != "" {
			ev = ev.Str("trace_id", entry.TraceID)
		}
		if entry.SpanID != "" {
			ev = ev.Str("span_id", entry.SpanID)
		}
		if len(entry.Data) > 0 {
			ev = ev.Interface("data", entry.Data)
		}
		if entry.Context != nil {
			ev = ev.Str("caller", fmt.Sprintf("%s:%d", entry.Context.File, entry.Context.Line)).
				Str("function", entry.Context.Function).
				Int("goroutines", entry.Context.Goroutines)
		}
		if len(entry.Suggestions) > 0 {
			ev = ev.Strs("suggestions", entry.Suggestions)
		}
		ev.Msg(entry.Message)
	}
}

func (l *structuredLogger) log(level LogLevel, operation string, fields []interface{}) {
	if !level.enabled(l.minLevel) {
		return
	}
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: l.component,
		Operation: operation,
		TraceID:   l.traceID,
		SpanID:    l.spanID,
		Message:   formatMessage(operation, level),
		Data:      parseFields(fields),
		Context:   getExecutionContext(),
	}

	if level == LevelError || level == LevelWarn {
		entry.Suggestions = generateSuggestions(entry.Data)
	}

	l.output(entry)
}

func (l *structuredLogger) Trace(operation string, fields ...interface{}) {
	l.log(LevelTrace, operation, fields)
}

func (l *structuredLogger) Debug(operation string, fields ...interface{}) {
	l.log(LevelDebug, operation, fields)
}

func (l *structuredLogger) Info(operation string, fields ...interface{}) {
	l.log(LevelInfo, operation, fields)
}

func (l *structuredLogger) Warn(operation string, fields ...interface{}) {
	l.log(LevelWarn, operation, fields)
}

func (l *structuredLogger) Error(operation string, fields ...interface{}) {
	l.log(LevelError, operation, fields)
}

// WithContext picks up an OpenTelemetry span if one is active, then any
// identifiers stored with ContextWithTrace.
func (l *structuredLogger) WithContext(ctx context.Context) Logger {
	newLogger := *l
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		newLogger.traceID = sc.TraceID().String()
		newLogger.spanID = sc.SpanID().String()
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		newLogger.traceID = traceID
	}
	if spanID, ok := ctx.Value(spanIDKey).(string); ok {
		newLogger.spanID = spanID
	}
	return &newLogger
}

func (l *structuredLogger) WithComponent(component string) Logger {
	newLogger := *l
	newLogger.component = component
	return &newLogger
}

func (l *structuredLogger) WithTraceID(traceID string) Logger {
	newLogger := *l
	newLogger.traceID = traceID
	return &newLogger
}

func (l *structuredLogger) WithSpanID(spanID string) Logger {
	newLogger := *l
	newLogger.spanID = spanID
	return &newLogger
}

// Helper functions

func parseFields(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	data := make(map[string]interface{}, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, isErr := fields[i+1].(error); isErr {
			data[key] = err.Error()
			continue
		}
		data[key] = fields[i+1]
	}
	return data
}

func formatMessage(operation string, level LogLevel) string {
	switch level {
	case LevelError:
		return fmt.Sprintf("Error during %s", operation)
	case LevelWarn:
		return fmt.Sprintf("Warning during %s", operation)
	default:
		return fmt.Sprintf("Operation %s", operation)
	}
}

func getExecutionContext() *ExecutionContext {
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		return nil
	}
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return &ExecutionContext{
		Goroutines: runtime.NumGoroutine(),
		Function:   name,
		File:       file,
		Line:       line,
	}
}

func generateSuggestions(data map[string]interface{}) []string {
	errorType, _ := data["error_type"].(string)
	switch errorType {
	case "timeout":
		return []string{
			"Increase the per-capability timeout",
			"Check whether the capability blocks on an external call",
		}
	case "unknown_capability":
		return []string{
			"List registered capabilities and check the name",
			"Check the selector keyword table against the registry",
		}
	case "invocation_failure":
		return []string{
			"Inspect the capability arguments",
			"Invoke the capability alone to reproduce",
		}
	case "rate_limit":
		return []string{
			"Back off and retry later",
			"Raise the configured request rate if appropriate",
		}
	}
	return nil
}

// LogError logs err together with its unwrap chain
func LogError(logger Logger, err error, operation string, context map[string]interface{}) {
	fields := make([]interface{}, 0, len(context)*2+8)

	fields = append(fields,
		"error_type", fmt.Sprintf("%T", err),
		"error_message", err.Error(),
		"stack_trace", string(debug.Stack()))

	for k, v := range context {
		fields = append(fields, k, v)
	}

	if cause := buildErrorChain(err); cause != nil {
		fields = append(fields, "error_chain", cause)
	}

	logger.Error(operation, fields...)
}

func buildErrorChain(err error) *ErrorContext {
	if err == nil {
		return nil
	}

	ctx := &ErrorContext{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}

	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		if cause := unwrapper.Unwrap(); cause != nil {
			ctx.Cause = buildErrorChain(cause)
		}
	}

	return ctx
}
