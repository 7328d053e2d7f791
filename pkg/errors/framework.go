package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Kind classifies capability errors
type Kind string

const (
	KindUnknownCapability   Kind = "unknown_capability"
	KindInvocationFailure   Kind = "invocation_failure"
	KindTimeout             Kind = "timeout"
	KindDuplicateCapability Kind = "duplicate_capability"
	KindInvalidArguments    Kind = "invalid_arguments"
	KindConfiguration       Kind = "configuration"
)

// Sentinels for errors.Is matching against a CapabilityError of the same kind.
var (
	ErrUnknownCapability   = &CapabilityError{Kind: KindUnknownCapability, Message: "capability not found"}
	ErrInvocationFailure   = &CapabilityError{Kind: KindInvocationFailure, Message: "capability invocation failed"}
	ErrTimeout             = &CapabilityError{Kind: KindTimeout, Message: "capability timed out"}
	ErrDuplicateCapability = &CapabilityError{Kind: KindDuplicateCapability, Message: "capability already registered"}
	ErrInvalidArguments    = &CapabilityError{Kind: KindInvalidArguments, Message: "invalid capability arguments"}
)

// CapabilityError is the error type returned across the orchestration core
type CapabilityError struct {
	Kind       Kind   `json:"kind"`
	Capability string `json:"capability,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Message    string `json:"message"`

	// Available lists registered names for unknown-capability errors
	Available   []string `json:"available,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	Cause     error       `json:"-"`
	Timestamp time.Time   `json:"timestamp"`
	Source    ErrorSource `json:"source"`
}

// ErrorSource provides source location information
type ErrorSource struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error implements the error interface
func (e *CapabilityError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Capability != "" {
		b.WriteString(" ")
		b.WriteString(e.Capability)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap implements error unwrapping
func (e *CapabilityError) Unwrap() error {
	return e.Cause
}

// Is reports kind equality, so sentinels match any error of their kind.
func (e *CapabilityError) Is(target error) bool {
	t, ok := target.(*CapabilityError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, capability, message string, cause error) *CapabilityError {
	return &CapabilityError{
		Kind:       kind,
		Capability: capability,
		Message:    message,
		Cause:      cause,
		Timestamp:  time.Now(),
		Source:     callerSource(3),
	}
}

// UnknownCapability reports a name missing from the registry.
func UnknownCapability(name string, available []string) *CapabilityError {
	names := append([]string(nil), available...)
	sort.Strings(names)
	err := newError(KindUnknownCapability, name, "not found", nil)
	err.Available = names
	err.Suggestions = []string{"Use one of the registered capability names"}
	return err
}

// DuplicateCapability reports a registration conflict.
func DuplicateCapability(name string) *CapabilityError {
	return newError(KindDuplicateCapability, name, "already registered", nil)
}

// InvocationFailure wraps an error or recovered panic from a capability handle.
// The cause text becomes the message.
func InvocationFailure(name string, cause error) *CapabilityError {
	msg := "invocation failed"
	if cause != nil {
		msg = cause.Error()
	}
	return newError(KindInvocationFailure, name, msg, cause)
}

// Timeout reports a capability that did not finish within its budget.
func Timeout(name string, budget time.Duration) *CapabilityError {
	err := newError(KindTimeout, name, fmt.Sprintf("did not complete within %s", budget), nil)
	err.Suggestions = []string{"Increase the per-capability timeout"}
	return err
}

// InvalidArguments reports arguments rejected by a capability adapter.
func InvalidArguments(name string, problems []string) *CapabilityError {
	return newError(KindInvalidArguments, name, strings.Join(problems, "; "), nil)
}

// Configuration reports an invalid orchestrator or server setting.
func Configuration(field, message string) *CapabilityError {
	err := newError(KindConfiguration, "", message, nil)
	err.Operation = field
	return err
}

func callerSource(skip int) ErrorSource {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ErrorSource{}
	}
	name := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return ErrorSource{Function: name, File: file, Line: line}
}

// KindOf returns the kind of the first CapabilityError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ce *CapabilityError
	if stderrors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func IsTimeout(err error) bool {
	return stderrors.Is(err, ErrTimeout)
}

func IsUnknownCapability(err error) bool {
	return stderrors.Is(err, ErrUnknownCapability)
}

func IsDuplicateCapability(err error) bool {
	return stderrors.Is(err, ErrDuplicateCapability)
}

func IsInvalidArguments(err error) bool {
	return stderrors.Is(err, ErrInvalidArguments)
}
