package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/pkg/errors"
)

func TestSelect(t *testing.T) {
	s := NewDefaultSelector()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"single keyword", "any headlines today?", []string{MarketNews}},
		{"case insensitive", "Show me the PRICE CHART", []string{MarketData}},
		{"table order not query order",
			"is my portfolio risk high given bearish news",
			[]string{MarketNews, MarketSentiment, PortfolioRisk}},
		{"no duplicates for repeated keywords", "risk risk drawdown var", []string{PortfolioRisk}},
		{"substring match", "trending stocks", []string{MarketConditions}},
		{"fallback", "hello there", []string{MarketConditions, TradingPatterns}},
		{"empty query falls back", "", []string{MarketConditions, TradingPatterns}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Select(tt.query))
		})
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	s := NewDefaultSelector()
	query := "give me a complete market analysis with sentiment, price data and pattern checks"

	first := s.Select(query)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, s.Select(query))
	}
	assert.Equal(t, []string{MarketData, MarketSentiment, TradingPatterns, ComprehensiveReport, MarketConditions}, first)
}

func TestSelectReturnsFreshSlices(t *testing.T) {
	s := NewDefaultSelector()
	out := s.Select("nothing matches")
	out[0] = "mutated"

	assert.Equal(t, DefaultFallback, s.Select("nothing matches"))
}

func TestNewSelectorValidation(t *testing.T) {
	_, err := NewSelector(DefaultRules, nil)
	assert.Error(t, err)

	_, err = NewSelector([]Rule{{Capability: "a", Keywords: []string{"x"}}, {Capability: "a", Keywords: []string{"y"}}}, []string{"a"})
	assert.Error(t, err)

	_, err = NewSelector([]Rule{{Capability: "a", Keywords: []string{"  "}}}, []string{"a"})
	assert.Error(t, err)

	s, err := NewSelector([]Rule{{Capability: "a", Keywords: []string{" Foo "}}}, []string{"a", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, s.Rules()[0].Keywords)
	assert.Equal(t, []string{"a"}, s.Fallback())
}

func TestCheckAgainst(t *testing.T) {
	s := NewDefaultSelector()
	registered := map[string]bool{}
	for _, name := range s.Capabilities() {
		registered[name] = true
	}
	has := func(n string) bool { return registered[n] }

	assert.NoError(t, s.CheckAgainst(has, nil))

	delete(registered, MarketNews)
	err := s.CheckAgainst(has, []string{"other"})
	assert.True(t, errors.IsUnknownCapability(err))
}
