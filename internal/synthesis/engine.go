// Package synthesis folds the results of one dispatch batch into a single
// summary using fixed thresholds. It never blocks and never fails: Error and
// Timeout results only lower the confidence.
package synthesis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/logging"
)

// Sentiment is the consensus direction across sentiment signals
type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
	Neutral Sentiment = "neutral"
)

// Level is used for both confidence and risk
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Signal is a per-target trading direction
type Signal string

const (
	Buy  Signal = "BUY"
	Sell Signal = "SELL"
	Hold Signal = "HOLD"
)

const (
	SentimentThreshold = 0.3

	HighConfidenceRatio   = 0.8
	MediumConfidenceRatio = 0.6

	LowRiskBelow    = 4.0
	MediumRiskBelow = 7.0

	MaxInsights        = 5
	MaxRecommendations = 5

	baseSignalConfidence = 0.5
	signalStep           = 0.2
)

const (
	bullishGuidance = "Market sentiment is positive - consider increasing exposure to growth stocks"
	bearishGuidance = "Market sentiment is negative - consider defensive positioning"
)

// TargetSignal is the combined view for one target id
type TargetSignal struct {
	Signal     Signal   `json:"signal"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Summary is the aggregate view of one batch
type Summary struct {
	OverallSentiment Sentiment               `json:"overall_sentiment"`
	Confidence       Level                   `json:"confidence"`
	KeyInsights      []string                `json:"key_insights"`
	Recommendations  []string                `json:"recommendations"`
	Guidance         string                  `json:"guidance,omitempty"`
	RiskLevel        Level                   `json:"risk_level"`
	Signals          map[string]TargetSignal `json:"signals"`

	CapabilitiesExecuted   int `json:"capabilities_executed"`
	SuccessfulCapabilities int `json:"successful_capabilities"`
}

// CategoryFunc reports the category of a capability. Registry lookups
// satisfy it; unknown names should return "".
type CategoryFunc func(name string) capabilities.Category

// precedence is the order in which payloads are read for insights and
// recommendations. Anything not listed sorts last.
var precedence = []capabilities.Category{
	capabilities.CategoryNews,
	capabilities.CategoryMarketData,
	capabilities.CategoryRisk,
	capabilities.CategoryPattern,
	capabilities.CategorySentiment,
}

// Engine synthesizes batch results. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	categoryOf CategoryFunc
	logger     logging.Logger
}

// NewEngine creates an engine. A nil categoryOf treats every capability
// as uncategorised.
func NewEngine(categoryOf CategoryFunc, logger logging.Logger) *Engine {
	if categoryOf == nil {
		categoryOf = func(string) capabilities.Category { return "" }
	}
	return &Engine{
		categoryOf: categoryOf,
		logger:     logger.WithComponent("synthesis"),
	}
}

// source is one successful payload with its category
type source struct {
	name     string
	category capabilities.Category
	payload  capabilities.Payload
}

// Synthesize aggregates batch into a Summary. targets are the ids that get
// an entry in Signals.
func (e *Engine) Synthesize(batch *dispatch.BatchResult, targets ...string) Summary {
	summary := Summary{
		OverallSentiment: Neutral,
		Confidence:       Low,
		KeyInsights:      []string{},
		Recommendations:  []string{},
		RiskLevel:        Medium,
		Signals:          make(map[string]TargetSignal, len(targets)),
	}
	if batch == nil {
		return summary
	}

	sources := e.successful(batch)
	summary.CapabilitiesExecuted = batch.Total
	summary.SuccessfulCapabilities = len(sources)

	summary.OverallSentiment = classifySentiment(sources)
	summary.Confidence = classifyConfidence(batch.SuccessCount, batch.Total)
	summary.KeyInsights = keyInsights(sources)
	summary.Recommendations = recommendations(sources)
	summary.RiskLevel = riskLevel(sources)

	switch summary.OverallSentiment {
	case Bullish:
		summary.Guidance = bullishGuidance
	case Bearish:
		summary.Guidance = bearishGuidance
	}

	for _, target := range targets {
		summary.Signals[target] = targetSignal(sources, target)
	}

	e.logger.Debug("synthesis_completed",
		"capabilities", batch.Total,
		"successful", len(sources),
		"sentiment", summary.OverallSentiment,
		"confidence", summary.Confidence,
		"risk_level", summary.RiskLevel,
		"insights", len(summary.KeyInsights),
		"targets", len(targets))
	return summary
}

// successful returns the Success payloads in precedence order, ties broken
// by capability name.
func (e *Engine) successful(batch *dispatch.BatchResult) []source {
	var out []source
	for _, name := range batch.Names() {
		r := batch.Results[name]
		if !r.OK() || r.Payload == nil {
			continue
		}
		out = append(out, source{name: name, category: e.categoryOf(name), payload: r.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].category) < rank(out[j].category)
	})
	return out
}

func rank(c capabilities.Category) int {
	for i, p := range precedence {
		if p == c {
			return i
		}
	}
	return len(precedence)
}

// ClassifySentiment maps a mean sentiment score onto a Sentiment.
func ClassifySentiment(mean float64) Sentiment {
	switch {
	case mean > SentimentThreshold:
		return Bullish
	case mean < -SentimentThreshold:
		return Bearish
	}
	return Neutral
}

func classifySentiment(sources []source) Sentiment {
	var values []float64
	for _, s := range sources {
		values = append(values, collectNumbers(s.payload, "composite_sentiment")...)
	}
	if len(values) == 0 {
		return Neutral
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return ClassifySentiment(sum / float64(len(values)))
}

func classifyConfidence(successes, total int) Level {
	if total <= 0 {
		return Low
	}
	ratio := float64(successes) / float64(total)
	switch {
	case ratio >= HighConfidenceRatio:
		return High
	case ratio >= MediumConfidenceRatio:
		return Medium
	}
	return Low
}

// ClassifyRisk maps a 1-10 risk score onto a Level.
func ClassifyRisk(score float64) Level {
	switch {
	case score < LowRiskBelow:
		return Low
	case score < MediumRiskBelow:
		return Medium
	}
	return High
}

var riskScorePaths = [][]string{
	{"overall_risk_score", "score"},
	{"risk_score", "score"},
	{"risk_score"},
}

func riskLevel(sources []source) Level {
	for _, s := range sources {
		if s.category != capabilities.CategoryRisk {
			continue
		}
		for _, path := range riskScorePaths {
			if v, ok := lookup(s.payload, path...); ok {
				if score, ok := asFloat(v); ok {
					return ClassifyRisk(score)
				}
			}
		}
	}
	return Medium
}

func keyInsights(sources []source) []string {
	insights := make([]string, 0, MaxInsights)
	for _, s := range sources {
		insights = append(insights, insightsFrom(s)...)
		if len(insights) >= MaxInsights {
			return insights[:MaxInsights]
		}
	}
	return insights
}

// insightsFrom extracts the capped insight list for one payload.
func insightsFrom(s source) []string {
	switch s.category {
	case capabilities.CategoryNews, capabilities.CategoryRisk:
		return firstN(asStrings(s.payload["recommendations"]), 2)

	case capabilities.CategoryMarketData:
		analysis, _ := asMap(s.payload["analysis"])
		var out []string
		for _, target := range sortedMapKeys(analysis) {
			if signals := asStrings(mustLookup(analysis, target, "signals")); len(signals) > 0 {
				out = append(out, signals[0])
			}
		}
		return out

	case capabilities.CategoryPattern:
		var out []string
		if n := countSeverity(s.payload["detected_patterns"], "critical"); n > 0 {
			out = append(out, fmt.Sprintf("%d critical trading patterns detected", n))
		}
		out = append(out, asStrings(s.payload["recommendations"])...)
		return firstN(out, 2)

	case capabilities.CategorySentiment:
		return firstN(concat(s.payload["insights"], s.payload["recommendations"]), 1)
	}
	return firstN(concat(s.payload["key_insights"], s.payload["recommendations"]), 1)
}

func mustLookup(v interface{}, path ...string) interface{} {
	out, _ := lookup(v, path...)
	return out
}

func recommendations(sources []source) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, MaxRecommendations)
	for _, s := range sources {
		for _, rec := range asStrings(s.payload["recommendations"]) {
			if seen[rec] {
				continue
			}
			seen[rec] = true
			out = append(out, rec)
			if len(out) == MaxRecommendations {
				return out
			}
		}
	}
	return out
}

func targetSignal(sources []source, target string) TargetSignal {
	ts := TargetSignal{Signal: Hold, Confidence: baseSignalConfidence}

	for _, s := range sources {
		if s.category != capabilities.CategoryMarketData {
			continue
		}
		rec, ok := mustLookup(s.payload, "analysis", target, "recommendation").(string)
		if !ok {
			continue
		}
		if sig, ok := parseSignal(rec); ok {
			ts.Signal = sig
			ts.Confidence += signalStep
			ts.Reasons = append(ts.Reasons, fmt.Sprintf("%s: technical %s", s.name, sig))
			break
		}
	}

	for _, s := range sources {
		if s.category != capabilities.CategorySentiment {
			continue
		}
		score, ok := asFloat(mustLookup(s.payload, "sentiment_data", target, "composite_sentiment"))
		if !ok {
			continue
		}
		switch {
		case score > SentimentThreshold && ts.Signal != Sell:
			ts.Signal = Buy
			ts.Confidence += signalStep
			ts.Reasons = append(ts.Reasons, fmt.Sprintf("%s: sentiment %.2f", s.name, score))
		case score < -SentimentThreshold:
			ts.Signal = Sell
			ts.Confidence += signalStep
			ts.Reasons = append(ts.Reasons, fmt.Sprintf("%s: sentiment %.2f", s.name, score))
		}
		break
	}

	ts.Confidence = math.Min(math.Round(ts.Confidence*100)/100, 1.0)
	return ts
}

func parseSignal(s string) (Signal, bool) {
	switch sig := Signal(strings.ToUpper(strings.TrimSpace(s))); sig {
	case Buy, Sell, Hold:
		return sig, true
	}
	return "", false
}
