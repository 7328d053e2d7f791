package adapter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
)

// The built-in tools simulate market analysis deterministically from their
// arguments. The orchestration core treats their payloads as opaque; only
// the field names below are read back by synthesis.

func symbolsParam(description string) capabilities.ParameterSpec {
	return capabilities.ParameterSpec{Name: "symbols", Type: "array", Description: description, Required: true}
}

func toInterfaces(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

// news

type newsTool struct {
	BaseTool
}

func newNewsTool(logging.Logger) Tool {
	return &newsTool{
		BaseTool: NewBaseTool(router.MarketNews,
			"Get latest market news and headlines that could affect trading decisions",
			capabilities.CategoryNews,
			capabilities.ParameterSpec{Name: "query", Type: "string", Description: "Specific news query or 'latest' for general news", Default: "latest"},
			capabilities.ParameterSpec{Name: "focus", Type: "string", Description: "Optional focus area like 'tech', 'fed', 'earnings'"},
		),
	}
}

var headlines = []string{
	"Fed officials signal patience on rate path",
	"Chipmakers rally on stronger data-center demand",
	"Oil slides as inventories build for a third week",
	"Retail sales beat expectations in latest print",
	"Treasury yields climb ahead of auction",
	"Mega-cap earnings lift index futures",
	"Regional banks under pressure after guidance cut",
}

func (t *newsTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	query, focus := stringArg(args, "query"), stringArg(args, "focus")
	s := newSim(t.Name(), query, focus)

	count := 3 + s.intn(3)
	stories := make([]interface{}, 0, count)
	total := 0.0
	for i := 0; i < count; i++ {
		score := s.between(-1, 1)
		total += score
		stories = append(stories, map[string]interface{}{
			"headline":        headlines[(s.intn(len(headlines))+i)%len(headlines)],
			"sentiment_score": score,
			"impact":          s.pick("high", "medium", "low"),
		})
	}
	mean := round2(total / float64(count))

	overall := "neutral"
	var recommendations []string
	switch {
	case mean > 0.2:
		overall = "bullish"
		recommendations = []string{
			"Consider increasing long positions in growth sectors",
			"Monitor for continuation patterns in bullish trending stocks",
		}
	case mean < -0.2:
		overall = "bearish"
		recommendations = []string{
			"Consider defensive positions or hedging strategies",
			"Focus on quality dividend stocks for stability",
		}
	default:
		recommendations = []string{
			"Mixed signals suggest range-bound trading",
			"Wait for clearer directional signals before major position changes",
		}
	}
	recommendations = append(recommendations, "Monitor news flow for any significant developments")

	return capabilities.Payload{
		"query":            query,
		"focus":            focus,
		"news_stories":     stories,
		"market_sentiment": map[string]interface{}{"overall": overall, "score": mean},
		"recommendations":  toInterfaces(recommendations),
	}, nil
}

// market data

type marketDataTool struct {
	BaseTool
}

func newMarketDataTool(logging.Logger) Tool {
	return &marketDataTool{
		BaseTool: NewBaseTool(router.MarketData,
			"Retrieve current market data, prices, and technical indicators",
			capabilities.CategoryMarketData,
			symbolsParam("List of symbols to analyze (e.g., ['AAPL', 'SPY'])"),
			capabilities.ParameterSpec{Name: "analysis_type", Type: "string", Description: "Type of analysis: 'prices', 'technical', 'overview'",
				Default: "technical", Enum: []interface{}{"prices", "technical", "overview"}},
		),
	}
}

func (t *marketDataTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	symbols := symbolsArg(args)
	analysisType := stringArg(args, "analysis_type")

	analysis := make(map[string]interface{}, len(symbols))
	for _, sym := range symbols {
		s := newSim(t.Name(), sym)
		price := s.between(20, 600)
		movingAverage := round2(price * (1 + s.between(-0.08, 0.08)))
		rsi := s.between(15, 85)
		aboveAverage := price > movingAverage

		var signals []string
		switch {
		case rsi > 70:
			signals = append(signals, sym+": Overbought - potential sell signal")
		case rsi < 30:
			signals = append(signals, sym+": Oversold - potential buy signal")
		}
		if aboveAverage {
			signals = append(signals, sym+": Bullish trend - price above moving averages")
		} else {
			signals = append(signals, sym+": Bearish trend - price below moving averages")
		}

		recommendation := "HOLD"
		switch {
		case rsi < 30, aboveAverage && rsi < 60:
			recommendation = "BUY"
		case rsi > 70, !aboveAverage && rsi > 40:
			recommendation = "SELL"
		}

		entry := map[string]interface{}{
			"price":          price,
			"change_percent": s.between(-3, 3),
			"recommendation": recommendation,
			"signals":        toInterfaces(signals),
		}
		if analysisType != "prices" {
			entry["rsi"] = rsi
			entry["sma_50"] = movingAverage
		}
		analysis[sym] = entry
	}

	return capabilities.Payload{
		"analysis_type": analysisType,
		"symbols":       toInterfaces(symbols),
		"analysis":      analysis,
	}, nil
}

// sentiment

type sentimentTool struct {
	BaseTool
}

func newSentimentTool(logging.Logger) Tool {
	return &sentimentTool{
		BaseTool: NewBaseTool(router.MarketSentiment,
			"Analyze market sentiment from social media, options flow, and institutional data",
			capabilities.CategorySentiment,
			symbolsParam("Symbols to analyze sentiment for"),
			capabilities.ParameterSpec{Name: "sentiment_type", Type: "string", Description: "'social', 'options', 'institutional', or 'comprehensive'",
				Default: "comprehensive", Enum: []interface{}{"social", "options", "institutional", "comprehensive"}},
		),
	}
}

func (t *sentimentTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	symbols := symbolsArg(args)
	sentimentType := stringArg(args, "sentiment_type")

	data := make(map[string]interface{}, len(symbols))
	var insights []string
	for _, sym := range symbols {
		s := newSim(t.Name(), sym)
		social, options, institutional := s.between(-1, 1), s.between(-1, 1), s.between(-1, 1)

		var composite float64
		switch sentimentType {
		case "social":
			composite = social
		case "options":
			composite = options
		case "institutional":
			composite = institutional
		default:
			composite = round2(0.4*social + 0.35*options + 0.25*institutional)
		}

		data[sym] = map[string]interface{}{
			"social_sentiment":        social,
			"options_sentiment":       options,
			"institutional_sentiment": institutional,
			"composite_sentiment":     composite,
		}
		switch {
		case composite > 0.5:
			insights = append(insights, sym+": High conviction bullish sentiment - momentum play candidate")
		case composite < -0.5:
			insights = append(insights, sym+": High conviction bearish sentiment - avoid or short candidate")
		}
	}

	return capabilities.Payload{
		"sentiment_type": sentimentType,
		"sentiment_data": data,
		"insights":       toInterfaces(insights),
	}, nil
}

// risk

type riskTool struct {
	BaseTool
	logger logging.Logger
}

func newRiskTool(logger logging.Logger) Tool {
	return &riskTool{
		BaseTool: NewBaseTool(router.PortfolioRisk,
			"Analyze portfolio risk, position sizing, and risk management recommendations",
			capabilities.CategoryRisk,
			capabilities.ParameterSpec{Name: "analysis_focus", Type: "string", Description: "'portfolio', 'position_sizing', 'var', 'correlation'",
				Default: "portfolio", Enum: []interface{}{"portfolio", "position_sizing", "var", "correlation"}},
			capabilities.ParameterSpec{Name: "portfolio_data", Type: "object", Description: "Optional portfolio positions data as symbol -> weight"},
		),
		logger: logger,
	}
}

// MaxPositionWeight is the portfolio share above which a position is
// flagged as concentrated.
const MaxPositionWeight = 0.15

func (t *riskTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	focus := stringArg(args, "analysis_focus")
	portfolio, _ := args["portfolio_data"].(map[string]interface{})

	weights := make(map[string]float64, len(portfolio))
	for sym, v := range portfolio {
		w, ok := v.(float64)
		if !ok {
			if i, isInt := v.(int); isInt {
				w, ok = float64(i), true
			}
		}
		if !ok || w < 0 {
			return nil, errors.InvalidArguments(t.Name(), []string{fmt.Sprintf("portfolio_data.%s: weight must be a non-negative number", sym)})
		}
		weights[strings.ToUpper(sym)] = w
	}

	s := newSim(append([]string{t.Name(), focus}, sortedKeys(portfolio)...)...)
	score := math.Round(s.between(2, 9)*10) / 10

	var concentrated []string
	for sym, w := range weights {
		if w > MaxPositionWeight {
			concentrated = append(concentrated, sym)
		}
	}
	sort.Strings(concentrated)
	if len(concentrated) > 0 {
		score = math.Min(10, score+float64(len(concentrated)))
		t.logger.WithContext(ctx).Debug("concentrated_positions",
			"symbols", concentrated,
			"max_weight", MaxPositionWeight)
	}

	category := "moderate"
	switch {
	case score >= 8:
		category = "very high"
	case score >= 6:
		category = "high"
	case score < 4:
		category = "low"
	}

	var recommendations []string
	for _, sym := range concentrated {
		recommendations = append(recommendations, fmt.Sprintf("Reduce %s below %.0f%% of portfolio", sym, MaxPositionWeight*100))
	}
	if score > 7 {
		recommendations = append(recommendations,
			"Consider reducing position sizes due to elevated volatility",
			"Consider hedging strategies")
	} else {
		recommendations = append(recommendations,
			"Consider rebalancing if any position exceeds 15% of portfolio",
			"Consider international diversification")
	}

	return capabilities.Payload{
		"analysis_focus":     focus,
		"overall_risk_score": map[string]interface{}{"score": score, "category": category},
		"metrics": map[string]interface{}{
			"var_95":                s.between(0.01, 0.06),
			"max_drawdown":          s.between(0.05, 0.35),
			"diversification_score": s.between(0.4, 0.8),
		},
		"concentrated_positions": toInterfaces(concentrated),
		"recommendations":        toInterfaces(recommendations),
	}, nil
}

// trading patterns

type patternTool struct {
	BaseTool
	logger logging.Logger
}

func newPatternTool(logger logging.Logger) Tool {
	return &patternTool{
		BaseTool: NewBaseTool(router.TradingPatterns,
			"Analyze trading behavior for psychological patterns and anti-patterns",
			capabilities.CategoryPattern,
			capabilities.ParameterSpec{Name: "analysis_type", Type: "string", Description: "'comprehensive', 'behavioral', 'specific'",
				Default: "comprehensive", Enum: []interface{}{"comprehensive", "behavioral", "specific"}},
			capabilities.ParameterSpec{Name: "pattern_focus", Type: "string", Description: "Specific pattern name or 'all'", Default: "all"},
			capabilities.ParameterSpec{Name: "trading_data", Type: "string", Description: "Trading history or behavior data"},
		),
		logger: logger,
	}
}

var tradingPatterns = []string{
	"fomo_buying", "revenge_trading", "overtrading", "loss_aversion", "confirmation_bias", "anchoring",
}

func (t *patternTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	analysisType := stringArg(args, "analysis_type")
	focus := strings.ToLower(stringArg(args, "pattern_focus"))
	s := newSim(t.Name(), analysisType, focus, stringArg(args, "trading_data"))

	candidates := tradingPatterns
	if focus != "all" {
		candidates = nil
		for _, p := range tradingPatterns {
			if strings.Contains(p, focus) {
				candidates = append(candidates, p)
			}
		}
	}

	detected := make([]interface{}, 0, len(candidates))
	var recommendations []string
	critical := 0
	for _, name := range candidates {
		if s.r.Float64() < 0.5 {
			continue
		}
		severity := s.pick("critical", "warning", "minor")
		if severity == "critical" {
			critical++
			recommendations = append(recommendations, fmt.Sprintf("Address %s immediately - set hard trading rules", strings.ReplaceAll(name, "_", " ")))
		}
		detected = append(detected, map[string]interface{}{
			"pattern_name": name,
			"severity":     severity,
			"confidence":   s.between(0.5, 0.95),
		})
	}
	recommendations = append(recommendations, "Consider position sizing adjustments to manage risk")
	if critical > 0 {
		t.logger.WithContext(ctx).Debug("critical_patterns_detected", "count", critical, "focus", focus)
	}

	return capabilities.Payload{
		"analysis_type":     analysisType,
		"pattern_focus":     focus,
		"detected_patterns": detected,
		"summary":           map[string]interface{}{"total_patterns": len(detected), "critical_issues": critical},
		"recommendations":   toInterfaces(recommendations),
	}, nil
}

// comprehensive

type comprehensiveTool struct {
	BaseTool
}

var analysisAreas = []interface{}{"news", "sentiment", "market_data", "risk"}

func newComprehensiveTool(logging.Logger) Tool {
	return &comprehensiveTool{
		BaseTool: NewBaseTool(router.ComprehensiveReport,
			"Run comprehensive analysis using multiple agents in parallel",
			capabilities.CategoryMultiple,
			symbolsParam("Symbols to analyze comprehensively"),
			capabilities.ParameterSpec{Name: "include_agents", Type: "array", Description: "Agents to include: ['news', 'sentiment', 'market_data', 'risk']",
				Default: analysisAreas},
		),
	}
}

func (t *comprehensiveTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	symbols := symbolsArg(args)
	areas := stringList(args["include_agents"])

	var problems []string
	for _, a := range areas {
		known := false
		for _, k := range analysisAreas {
			if a == k {
				known = true
			}
		}
		if !known {
			problems = append(problems, fmt.Sprintf("include_agents: unknown analysis %q", a))
		}
	}
	if len(problems) > 0 {
		return nil, errors.InvalidArguments(t.Name(), problems)
	}

	overview := make(map[string]interface{}, len(symbols))
	for _, sym := range symbols {
		s := newSim(t.Name(), sym, strings.Join(areas, ","))
		score := s.between(-1, 1)
		outlook := "neutral"
		switch {
		case score > 0.3:
			outlook = "positive"
		case score < -0.3:
			outlook = "negative"
		}
		overview[sym] = map[string]interface{}{
			"sentiment_score": score,
			"outlook":         outlook,
			"conviction":      s.between(0.3, 0.9),
		}
	}

	return capabilities.Payload{
		"symbols":  toInterfaces(symbols),
		"analyses": toInterfaces(areas),
		"overview": overview,
		"key_insights": []interface{}{
			fmt.Sprintf("Combined view of %d symbols across %d analyses", len(symbols), len(areas)),
		},
		"recommendations": []interface{}{
			"Use appropriate position sizing based on risk tolerance",
			"Set stop losses to manage downside risk",
		},
	}, nil
}

// market conditions

type conditionsTool struct {
	BaseTool
}

func newConditionsTool(logging.Logger) Tool {
	return &conditionsTool{
		BaseTool: NewBaseTool(router.MarketConditions,
			"Get overall market conditions and trading environment assessment",
			capabilities.CategoryMultiple,
		),
	}
}

func (t *conditionsTool) Run(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
	s := newSim(t.Name())
	regime := s.pick("bull", "bear", "sideways")
	confidence := s.between(0.5, 0.9)

	var recommendation string
	switch regime {
	case "bull":
		recommendation = "Consider long positions in trending markets"
	case "bear":
		recommendation = "Consider defensive positioning"
	default:
		recommendation = "Range-bound conditions favour mean-reversion setups"
	}

	return capabilities.Payload{
		"regime": map[string]interface{}{"regime": regime, "confidence": confidence},
		"indicators": map[string]interface{}{
			"vix":           s.between(11, 35),
			"breadth_ratio": s.between(0.3, 0.8),
		},
		"key_insights":    []interface{}{fmt.Sprintf("Market regime: %s (confidence %.2f)", regime, confidence)},
		"recommendations": []interface{}{recommendation},
	}, nil
}
