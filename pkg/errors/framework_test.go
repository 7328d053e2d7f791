package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unknown", UnknownCapability("nope", []string{"b", "a"}), IsUnknownCapability},
		{"duplicate", DuplicateCapability("news"), IsDuplicateCapability},
		{"timeout", Timeout("risk", 30*time.Second), IsTimeout},
		{"invalid", InvalidArguments("risk", []string{"symbols is required"}), IsInvalidArguments},
		{"wrapped timeout", fmt.Errorf("dispatch: %w", Timeout("risk", time.Second)), IsTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}

	assert.False(t, IsTimeout(DuplicateCapability("x")))
	assert.False(t, IsTimeout(stderrors.New("plain")))
}

func TestUnknownCapabilityListsAvailable(t *testing.T) {
	err := UnknownCapability("nope", []string{"sentiment", "news"})

	assert.Equal(t, []string{"news", "sentiment"}, err.Available)
	assert.Equal(t, "[unknown_capability] nope: not found", err.Error())
	assert.NotEmpty(t, err.Source.Function)
}

func TestInvocationFailureKeepsCause(t *testing.T) {
	root := stderrors.New("feed unavailable")
	err := InvocationFailure("check_market_news", fmt.Errorf("fetch: %w", root))

	assert.Equal(t, "fetch: feed unavailable", err.Message)
	assert.ErrorIs(t, err, root)

	kind, ok := KindOf(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Equal(t, KindInvocationFailure, kind)
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(stderrors.New("plain"))
	assert.False(t, ok)
}
