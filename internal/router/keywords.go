package router

// Capability names of the built-in analysis catalog.
const (
	MarketNews          = "check_market_news"
	MarketData          = "get_market_data"
	MarketSentiment     = "analyze_market_sentiment"
	PortfolioRisk       = "assess_portfolio_risk"
	TradingPatterns     = "detect_trading_patterns"
	ComprehensiveReport = "get_comprehensive_analysis"
	MarketConditions    = "check_market_conditions"
)

// DefaultRules is the canonical keyword table. Every query is routed
// through it; output follows table order.
var DefaultRules = []Rule{
	{Capability: MarketNews, Keywords: []string{"news", "headlines", "announcement"}},
	{Capability: MarketData, Keywords: []string{"price", "data", "technical", "chart"}},
	{Capability: MarketSentiment, Keywords: []string{"sentiment", "bullish", "bearish"}},
	{Capability: PortfolioRisk, Keywords: []string{"risk", "portfolio", "var", "drawdown"}},
	{Capability: TradingPatterns, Keywords: []string{"pattern", "psychology", "bias", "fomo"}},
	{Capability: ComprehensiveReport, Keywords: []string{"comprehensive", "complete", "detailed"}},
	{Capability: MarketConditions, Keywords: []string{"market", "condition", "trend"}},
}

// DefaultFallback is returned when no keyword matches.
var DefaultFallback = []string{MarketConditions, TradingPatterns}
