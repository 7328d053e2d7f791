package validation

import (
	"fmt"
	"reflect"

	"github.com/osakka/agentorch/pkg/capabilities"
)

// RequiredRule rejects missing or empty required parameters
type RequiredRule struct{}

func (r *RequiredRule) Name() string {
	return "required_field"
}

func (r *RequiredRule) Check(spec capabilities.ParameterSpec, value interface{}, present bool) *ValidationError {
	if !spec.Required {
		return nil
	}
	if present && !isEmpty(value) {
		return nil
	}
	return &ValidationError{
		Field:    spec.Name,
		Message:  "required parameter is missing or empty",
		Code:     "REQUIRED_FIELD_MISSING",
		Value:    value,
		Severity: SeverityError,
		Suggestions: []string{
			fmt.Sprintf("Provide a value for parameter '%s'", spec.Name),
		},
	}
}

// TypeRule checks the JSON type of present parameters
type TypeRule struct{}

func (r *TypeRule) Name() string {
	return "type_validation"
}

func (r *TypeRule) Check(spec capabilities.ParameterSpec, value interface{}, present bool) *ValidationError {
	if !present || value == nil || spec.Type == "" {
		return nil
	}
	if matchesType(spec.Type, value) {
		return nil
	}
	return &ValidationError{
		Field:    spec.Name,
		Message:  fmt.Sprintf("expected %s, got %T", spec.Type, value),
		Code:     "TYPE_MISMATCH",
		Value:    value,
		Expected: spec.Type,
		Severity: SeverityError,
	}
}

// EnumRule restricts present parameters to the declared values
type EnumRule struct{}

func (r *EnumRule) Name() string {
	return "enum_validation"
}

func (r *EnumRule) Check(spec capabilities.ParameterSpec, value interface{}, present bool) *ValidationError {
	if !present || len(spec.Enum) == 0 {
		return nil
	}
	for _, allowed := range spec.Enum {
		if reflect.DeepEqual(allowed, value) {
			return nil
		}
	}
	return &ValidationError{
		Field:    spec.Name,
		Message:  fmt.Sprintf("value %v is not one of %v", value, spec.Enum),
		Code:     "VALUE_NOT_ALLOWED",
		Value:    value,
		Expected: spec.Enum,
		Severity: SeverityError,
	}
}

func matchesType(typ string, value interface{}) bool {
	rv := reflect.ValueOf(value)
	switch typ {
	case "string":
		return rv.Kind() == reflect.String
	case "boolean":
		return rv.Kind() == reflect.Bool
	case "integer":
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			// decoded JSON numbers arrive as float64
			f := rv.Float()
			return f == float64(int64(f))
		}
		return false
	case "number":
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case "array":
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case "object":
		return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
	default:
		return true
	}
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String() == ""
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
