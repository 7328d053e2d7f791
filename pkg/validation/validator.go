package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// ValidationResult represents the result of validating one argument map
type ValidationResult struct {
	Valid       bool                  `json:"valid"`
	Errors      []ValidationError     `json:"errors,omitempty"`
	Warnings    []ValidationWarning   `json:"warnings,omitempty"`
	Suggestions []string              `json:"suggestions,omitempty"`
	Performance ValidationPerformance `json:"performance"`
}

// Problems returns the error messages, one per failed field.
func (r ValidationResult) Problems() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return out
}

// ValidationError represents a validation error with context
type ValidationError struct {
	Field       string        `json:"field"`
	Message     string        `json:"message"`
	Code        string        `json:"code"`
	Value       interface{}   `json:"value,omitempty"`
	Expected    interface{}   `json:"expected,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Severity    ErrorSeverity `json:"severity"`
}

// ValidationWarning represents a validation warning
type ValidationWarning struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationPerformance tracks validation cost
type ValidationPerformance struct {
	Duration       time.Duration `json:"duration"`
	RulesEvaluated int           `json:"rules_evaluated"`
	FieldsChecked  int           `json:"fields_checked"`
}

// ErrorSeverity defines the severity of validation errors
type ErrorSeverity string

const (
	SeverityWarning ErrorSeverity = "warning"
	SeverityError   ErrorSeverity = "error"
)

// ParameterRule checks one argument against its declared spec. present is
// false when the caller omitted the argument.
type ParameterRule interface {
	Name() string
	Check(spec capabilities.ParameterSpec, value interface{}, present bool) *ValidationError
}

// Validator checks capability arguments against descriptor parameter specs
type Validator struct {
	rules   []ParameterRule
	logger  logging.Logger
	metrics metrics.Metrics
	strict  bool
}

// NewValidator creates a validator with the built-in rules. In strict mode
// arguments not declared by the descriptor are errors, otherwise warnings.
func NewValidator(logger logging.Logger, m metrics.Metrics, strict bool) *Validator {
	return &Validator{
		rules: []ParameterRule{
			&RequiredRule{},
			&TypeRule{},
			&EnumRule{},
		},
		logger:  logger.WithComponent("validator"),
		metrics: m,
		strict:  strict,
	}
}

// RegisterRule appends a rule evaluated after the built-in ones
func (v *Validator) RegisterRule(rule ParameterRule) {
	v.rules = append(v.rules, rule)
}

// ValidateArgs checks args against d.Parameters.
func (v *Validator) ValidateArgs(ctx context.Context, d capabilities.Descriptor, args capabilities.Args) ValidationResult {
	start := time.Now()
	result := ValidationResult{Valid: true}

	for _, spec := range d.Parameters {
		value, present := args[spec.Name]
		result.Performance.FieldsChecked++
		for _, rule := range v.rules {
			result.Performance.RulesEvaluated++
			if verr := rule.Check(spec, value, present); verr != nil {
				result.Errors = append(result.Errors, *verr)
				result.Suggestions = append(result.Suggestions, verr.Suggestions...)
				break
			}
		}
	}

	unknown := make([]string, 0)
	for name := range args {
		if _, ok := d.Parameter(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		if v.strict {
			result.Errors = append(result.Errors, ValidationError{
				Field:    name,
				Message:  "parameter is not accepted by this capability",
				Code:     "UNKNOWN_PARAMETER",
				Severity: SeverityError,
			})
		} else {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   name,
				Message: "parameter is ignored by this capability",
				Code:    "UNKNOWN_PARAMETER",
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	result.Suggestions = deduplicateStrings(result.Suggestions)
	result.Performance.Duration = time.Since(start)

	if v.metrics != nil {
		v.metrics.Inc("validation_total", "capability", d.Name, "valid", fmt.Sprint(result.Valid))
	}
	if !result.Valid {
		v.logger.WithContext(ctx).Debug("arguments_rejected",
			"capability", d.Name,
			"errors", result.Problems())
	}
	return result
}

// ApplyDefaults returns a copy of args with declared defaults filled in for
// omitted parameters.
func ApplyDefaults(d capabilities.Descriptor, args capabilities.Args) capabilities.Args {
	out := make(capabilities.Args, len(args)+len(d.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, spec := range d.Parameters {
		if _, ok := out[spec.Name]; !ok && spec.Default != nil {
			out[spec.Name] = spec.Default
		}
	}
	return out
}

func deduplicateStrings(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(slice))
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
