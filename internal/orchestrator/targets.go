package orchestrator

import (
	"strings"

	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/pkg/capabilities"
)

var (
	// DefaultCandidateTargets are the symbols recognised in queries, in
	// match order.
	DefaultCandidateTargets = []string{"AAPL", "MSFT", "GOOGL", "TSLA", "NVDA", "META", "AMZN", "SPY", "QQQ", "IWM"}

	// DefaultTargets are used when a query names none of the candidates.
	DefaultTargets = []string{"SPY", "QQQ", "AAPL"}
)

// DefaultMaxTargets bounds how many targets one query can name
const DefaultMaxTargets = 5

// ExtractTargets returns the candidates that occur in query as
// case-insensitive substrings, in candidate order and at most limit of
// them. With no match it returns a copy of defaults.
func ExtractTargets(query string, candidates, defaults []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxTargets
	}
	upper := strings.ToUpper(query)
	found := make([]string, 0, limit)
	for _, c := range candidates {
		if len(found) == limit {
			break
		}
		if c != "" && strings.Contains(upper, strings.ToUpper(c)) {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return append([]string(nil), defaults...)
	}
	return found
}

// ArgBuilder derives one capability's arguments from the query and targets
type ArgBuilder func(query string, targets []string) capabilities.Args

func symbolArgs(extra capabilities.Args) ArgBuilder {
	return func(_ string, targets []string) capabilities.Args {
		args := capabilities.Args{"symbols": append([]string(nil), targets...)}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}
}

func fixedArgs(args capabilities.Args) ArgBuilder {
	return func(string, []string) capabilities.Args {
		out := make(capabilities.Args, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out
	}
}

var newsFocus = []string{"earnings", "fed", "tech"}

// newsArgs asks for the latest headlines, focused when the query names a
// known area.
func newsArgs(query string, _ []string) capabilities.Args {
	args := capabilities.Args{"query": "latest"}
	lower := strings.ToLower(query)
	for _, f := range newsFocus {
		if strings.Contains(lower, f) {
			args["focus"] = f
			break
		}
	}
	return args
}

// DefaultArgBuilders covers the built-in catalog. Capabilities without a
// builder are invoked with empty arguments.
func DefaultArgBuilders() map[string]ArgBuilder {
	return map[string]ArgBuilder{
		router.MarketNews:          newsArgs,
		router.MarketData:          symbolArgs(capabilities.Args{"analysis_type": "technical"}),
		router.MarketSentiment:     symbolArgs(capabilities.Args{"sentiment_type": "comprehensive"}),
		router.PortfolioRisk:       fixedArgs(capabilities.Args{"analysis_focus": "portfolio"}),
		router.TradingPatterns:     fixedArgs(capabilities.Args{"analysis_type": "comprehensive"}),
		router.ComprehensiveReport: symbolArgs(nil),
		router.MarketConditions:    fixedArgs(nil),
	}
}
