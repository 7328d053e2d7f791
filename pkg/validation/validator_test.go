package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/logging"
)

var riskDescriptor = capabilities.Descriptor{
	Name: "assess_portfolio_risk",
	Parameters: []capabilities.ParameterSpec{
		{Name: "portfolio", Type: "object", Required: true},
		{Name: "risk_tolerance", Type: "string", Default: "moderate",
			Enum: []interface{}{"conservative", "moderate", "aggressive"}},
		{Name: "horizon_days", Type: "integer"},
	},
}

func TestValidateArgs(t *testing.T) {
	v := NewValidator(logging.NewNop(), nil, false)
	ctx := context.Background()

	tests := []struct {
		name     string
		args     capabilities.Args
		valid    bool
		code     string
		warnings int
	}{
		{"valid", capabilities.Args{"portfolio": map[string]interface{}{"AAPL": 0.5}, "risk_tolerance": "moderate"}, true, "", 0},
		{"missing required", capabilities.Args{"risk_tolerance": "moderate"}, false, "REQUIRED_FIELD_MISSING", 0},
		{"empty required", capabilities.Args{"portfolio": map[string]interface{}{}}, false, "REQUIRED_FIELD_MISSING", 0},
		{"wrong type", capabilities.Args{"portfolio": "AAPL"}, false, "TYPE_MISMATCH", 0},
		{"not in enum", capabilities.Args{"portfolio": map[string]interface{}{"A": 1}, "risk_tolerance": "yolo"}, false, "VALUE_NOT_ALLOWED", 0},
		{"json integer", capabilities.Args{"portfolio": map[string]interface{}{"A": 1}, "horizon_days": float64(30)}, true, "", 0},
		{"fractional integer", capabilities.Args{"portfolio": map[string]interface{}{"A": 1}, "horizon_days": 2.5}, false, "TYPE_MISMATCH", 0},
		{"unknown parameter warns", capabilities.Args{"portfolio": map[string]interface{}{"A": 1}, "color": "blue"}, true, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateArgs(ctx, riskDescriptor, tt.args)
			assert.Equal(t, tt.valid, result.Valid, "errors: %v", result.Errors)
			if tt.code != "" {
				require.NotEmpty(t, result.Errors)
				assert.Equal(t, tt.code, result.Errors[0].Code)
			}
			assert.Len(t, result.Warnings, tt.warnings)
			assert.Equal(t, 3, result.Performance.FieldsChecked)
		})
	}
}

func TestStrictModeRejectsUnknownParameters(t *testing.T) {
	v := NewValidator(logging.NewNop(), nil, true)

	result := v.ValidateArgs(context.Background(), riskDescriptor,
		capabilities.Args{"portfolio": map[string]interface{}{"A": 1}, "color": "blue"})

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"color: parameter is not accepted by this capability"}, result.Problems())
}

func TestApplyDefaults(t *testing.T) {
	args := capabilities.Args{"portfolio": map[string]interface{}{"A": 1}}

	out := ApplyDefaults(riskDescriptor, args)

	assert.Equal(t, "moderate", out["risk_tolerance"])
	_, ok := out["horizon_days"]
	assert.False(t, ok)
	_, ok = args["risk_tolerance"]
	assert.False(t, ok, "input is not mutated")
}

type symbolRule struct{}

func (symbolRule) Name() string { return "symbol" }

func (symbolRule) Check(spec capabilities.ParameterSpec, value interface{}, present bool) *ValidationError {
	if spec.Name == "portfolio" && present {
		if m, ok := value.(map[string]interface{}); ok {
			if _, bad := m["???"]; bad {
				return &ValidationError{Field: spec.Name, Code: "BAD_SYMBOL", Message: "bad symbol"}
			}
		}
	}
	return nil
}

func TestRegisterRule(t *testing.T) {
	v := NewValidator(logging.NewNop(), nil, false)
	v.RegisterRule(symbolRule{})

	result := v.ValidateArgs(context.Background(), riskDescriptor,
		capabilities.Args{"portfolio": map[string]interface{}{"???": 1}})

	require.False(t, result.Valid)
	assert.Equal(t, "BAD_SYMBOL", result.Errors[0].Code)
}
