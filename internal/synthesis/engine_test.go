package synthesis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/logging"
)

var categories = map[string]capabilities.Category{
	"news":      capabilities.CategoryNews,
	"market":    capabilities.CategoryMarketData,
	"sentiment": capabilities.CategorySentiment,
	"risk":      capabilities.CategoryRisk,
	"patterns":  capabilities.CategoryPattern,
	"overview":  capabilities.CategoryMultiple,
}

func newEngine() *Engine {
	return NewEngine(func(name string) capabilities.Category { return categories[name] }, logging.NewNop())
}

// batchOf builds a batch from name -> payload; a nil payload marks an Error
// result.
func batchOf(payloads map[string]capabilities.Payload) *dispatch.BatchResult {
	b := &dispatch.BatchResult{
		Mode:    dispatch.ModeParallel,
		Total:   len(payloads),
		Results: make(map[string]capabilities.InvocationResult, len(payloads)),
	}
	for name, p := range payloads {
		if p == nil {
			b.Results[name] = capabilities.ErrorResult(name, errors.New("boom"), 0)
			continue
		}
		b.Results[name] = capabilities.SuccessResult(name, p, 0)
		b.SuccessCount++
	}
	return b
}

func sentimentPayload(scores ...float64) capabilities.Payload {
	data := map[string]interface{}{}
	for i, s := range scores {
		data[fmt.Sprintf("SYM%d", i)] = map[string]interface{}{"composite_sentiment": s}
	}
	return capabilities.Payload{"sentiment_data": data}
}

func TestSentimentThresholds(t *testing.T) {
	cases := []struct {
		scores []float64
		want   Sentiment
	}{
		{[]float64{0.5, 0.4}, Bullish},
		{[]float64{-0.5, -0.4}, Bearish},
		{[]float64{0.1, -0.1}, Neutral},
		{[]float64{0.3}, Neutral},
		{[]float64{-0.3}, Neutral},
		{nil, Neutral},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.scores), func(t *testing.T) {
			s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
				"sentiment": sentimentPayload(tc.scores...),
			}))
			assert.Equal(t, tc.want, s.OverallSentiment)
		})
	}
}

func TestSentimentCollectsAcrossPayloads(t *testing.T) {
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"sentiment": {"composite_sentiment": 0.5},
		"overview": {"nested": []interface{}{
			map[string]interface{}{"composite_sentiment": 0.4},
			map[string]interface{}{"composite_sentiment": "not a number"},
		}},
		"news": nil,
	}))
	assert.Equal(t, Bullish, s.OverallSentiment)
	assert.Equal(t, bullishGuidance, s.Guidance)
}

func TestPartialFailureSummary(t *testing.T) {
	b := batchOf(map[string]capabilities.Payload{
		"sentiment": {"composite_sentiment": 0.5},
		"news":      nil,
	})
	b.Total = 3
	b.Results["slow"] = capabilities.TimeoutResult("slow", errors.New("timed out"), 0)

	s := newEngine().Synthesize(b)

	assert.Equal(t, Bullish, s.OverallSentiment)
	assert.Equal(t, Low, s.Confidence)
	assert.Equal(t, 3, s.CapabilitiesExecuted)
	assert.Equal(t, 1, s.SuccessfulCapabilities)
	assert.Equal(t, Medium, s.RiskLevel)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, High, classifyConfidence(4, 5))
	assert.Equal(t, Medium, classifyConfidence(3, 5))
	assert.Equal(t, Low, classifyConfidence(1, 2))
	assert.Equal(t, Low, classifyConfidence(0, 0))
}

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		payload capabilities.Payload
		want    Level
	}{
		{capabilities.Payload{"overall_risk_score": map[string]interface{}{"score": 3.9}}, Low},
		{capabilities.Payload{"overall_risk_score": map[string]interface{}{"score": 4.0}}, Medium},
		{capabilities.Payload{"risk_score": map[string]interface{}{"score": 7}}, High},
		{capabilities.Payload{"risk_score": 2.5}, Low},
		{capabilities.Payload{"risk_score": "high"}, Medium},
	}
	for _, tc := range cases {
		s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{"risk": tc.payload}))
		assert.Equal(t, tc.want, s.RiskLevel, "%v", tc.payload)
	}

	// scores outside a risk capability are ignored
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"overview": {"risk_score": 9.0},
	}))
	assert.Equal(t, Medium, s.RiskLevel)
}

func TestKeyInsightsPrecedenceAndCaps(t *testing.T) {
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"overview": {"recommendations": []interface{}{"overview-1"}},
		"sentiment": {"insights": []interface{}{"sentiment-1", "sentiment-2"}},
		"patterns": {
			"detected_patterns": []interface{}{
				map[string]interface{}{"name": "spoofing", "severity": "critical"},
				map[string]interface{}{"name": "wash", "severity": "low"},
			},
			"recommendations": []interface{}{"patterns-1"},
		},
		"risk":   {"recommendations": []interface{}{"risk-1", "risk-2", "risk-3"}},
		"market": {"analysis": map[string]interface{}{
			"SPY":  map[string]interface{}{"signals": []interface{}{"SPY above 50-day average", "ignored"}},
			"AAPL": map[string]interface{}{"signals": []interface{}{"AAPL oversold"}},
		}},
		"news": {"recommendations": []interface{}{"news-1", "news-2", "news-3"}},
	}))

	assert.Equal(t, []string{
		"news-1", "news-2",
		"AAPL oversold", "SPY above 50-day average",
		"risk-1",
	}, s.KeyInsights)
}

func TestCriticalPatternInsight(t *testing.T) {
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"patterns": {
			"detected_patterns": []interface{}{
				map[string]interface{}{"severity": "critical"},
				map[string]interface{}{"severity": "critical"},
			},
			"recommendations": []interface{}{"reduce size", "review orders"},
		},
	}))
	assert.Equal(t, []string{"2 critical trading patterns detected", "reduce size"}, s.KeyInsights)
}

func TestRecommendationsDeduplicated(t *testing.T) {
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"news":     {"recommendations": []interface{}{"a", "b"}},
		"risk":     {"recommendations": []interface{}{"b", "c", "d"}},
		"patterns": {"recommendations": []string{"B", "e", "f"}},
	}))
	assert.Equal(t, []string{"a", "b", "c", "d", "B"}, s.Recommendations)
}

func TestTargetSignals(t *testing.T) {
	s := newEngine().Synthesize(batchOf(map[string]capabilities.Payload{
		"market": {"analysis": map[string]interface{}{
			"AAPL": map[string]interface{}{"recommendation": "SELL"},
			"MSFT": map[string]interface{}{"recommendation": "hold"},
		}},
		"sentiment": {"sentiment_data": map[string]interface{}{
			"AAPL": map[string]interface{}{"composite_sentiment": 0.6},
			"MSFT": map[string]interface{}{"composite_sentiment": 0.6},
			"TSLA": map[string]interface{}{"composite_sentiment": -0.5},
		}},
	}), "AAPL", "MSFT", "TSLA", "SPY")

	require.Len(t, s.Signals, 4)

	assert.Equal(t, Sell, s.Signals["AAPL"].Signal, "bullish sentiment does not override a technical SELL")
	assert.InDelta(t, 0.7, s.Signals["AAPL"].Confidence, 1e-9)

	assert.Equal(t, Buy, s.Signals["MSFT"].Signal)
	assert.InDelta(t, 0.9, s.Signals["MSFT"].Confidence, 1e-9)
	assert.Len(t, s.Signals["MSFT"].Reasons, 2)

	assert.Equal(t, Sell, s.Signals["TSLA"].Signal)
	assert.InDelta(t, 0.7, s.Signals["TSLA"].Confidence, 1e-9)

	assert.Equal(t, TargetSignal{Signal: Hold, Confidence: 0.5}, s.Signals["SPY"])
}

func TestSynthesizeNilBatch(t *testing.T) {
	s := newEngine().Synthesize(nil, "SPY")
	assert.Equal(t, Neutral, s.OverallSentiment)
	assert.Equal(t, Low, s.Confidence)
	assert.Equal(t, Medium, s.RiskLevel)
	assert.Empty(t, s.Signals)
}

func TestSynthesizeDoesNotMutatePayloads(t *testing.T) {
	recs := make([]string, 1, 4)
	recs[0] = "only"
	payload := capabilities.Payload{"recommendations": recs, "key_insights": []string{}}

	newEngine().Synthesize(batchOf(map[string]capabilities.Payload{"overview": payload}))

	assert.Equal(t, []string{"only"}, payload["recommendations"])
	assert.Empty(t, recs[:2][1], "spare capacity left untouched")
}
