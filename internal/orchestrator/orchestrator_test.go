package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/internal/adapter"
	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/internal/session"
	"github.com/osakka/agentorch/internal/synthesis"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
	"github.com/osakka/agentorch/pkg/validation"
)

func fakeRegistry(t *testing.T, release chan struct{}) *capabilities.Registry {
	t.Helper()
	registry, err := capabilities.NewRegistry(logging.NewNop(), nil,
		capabilities.Descriptor{
			Name:     "sentiment",
			Category: capabilities.CategorySentiment,
			Handler: capabilities.HandlerFunc(func(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
				return capabilities.Payload{"composite_sentiment": 0.5}, nil
			}),
		},
		capabilities.Descriptor{
			Name:     "broken",
			Category: capabilities.CategoryNews,
			Handler: capabilities.HandlerFunc(func(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
				return nil, stderrors.New("upstream unavailable")
			}),
		},
		capabilities.Descriptor{
			Name:     "slow",
			Category: capabilities.CategoryRisk,
			Handler: capabilities.HandlerFunc(func(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
				<-release
				return capabilities.Payload{"risk_score": 9.0}, nil
			}),
		},
	)
	require.NoError(t, err)
	return registry
}

func fakeSelector(t *testing.T) *router.Selector {
	t.Helper()
	s, err := router.NewSelector([]router.Rule{
		{Capability: "sentiment", Keywords: []string{"mood", "everything"}},
		{Capability: "broken", Keywords: []string{"everything"}},
		{Capability: "slow", Keywords: []string{"everything"}},
	}, []string{"sentiment"})
	require.NoError(t, err)
	return s
}

func newFakeOrchestrator(t *testing.T, mode dispatch.Mode) *Orchestrator {
	t.Helper()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cfg := DefaultConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	cfg.Mode = mode

	o, err := New(fakeRegistry(t, release), cfg, logging.NewNop(), metrics.NewNop(), WithSelector(fakeSelector(t)))
	require.NoError(t, err)
	return o
}

func TestExecutePartialFailure(t *testing.T) {
	for _, mode := range []dispatch.Mode{dispatch.ModeParallel, dispatch.ModeSequential} {
		t.Run(string(mode), func(t *testing.T) {
			o := newFakeOrchestrator(t, mode)

			report, err := o.Execute(context.Background(), "show me everything")
			require.NoError(t, err)

			assert.Equal(t, []string{"sentiment", "broken", "slow"}, report.Capabilities)
			assert.Equal(t, 3, report.Batch.Total)
			assert.Equal(t, 1, report.Batch.SuccessCount)
			assert.Equal(t, synthesis.Bullish, report.Summary.OverallSentiment)
			assert.Equal(t, synthesis.Low, report.Summary.Confidence)
			assert.Equal(t, synthesis.Medium, report.Summary.RiskLevel, "timed out risk score is ignored")

			require.Len(t, report.Failures, 2)
			assert.Equal(t, Failure{Capability: "broken", Outcome: capabilities.OutcomeError, Message: report.Batch.Results["broken"].Message}, report.Failures[0])
			assert.Contains(t, report.Failures[0].Message, "upstream unavailable")
			assert.Equal(t, capabilities.OutcomeTimeout, report.Failures[1].Outcome)

			records := o.Tracker().Records()
			require.Len(t, records, 3)
			stats, err := o.Tracker().Stats()
			require.NoError(t, err)
			assert.Equal(t, 1, stats.SuccessCount)
		})
	}
}

func TestExecuteFallbackAndTargets(t *testing.T) {
	o := newFakeOrchestrator(t, dispatch.ModeParallel)

	report, err := o.Execute(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"sentiment"}, report.Capabilities)
	assert.Equal(t, DefaultTargets, report.Targets)
	assert.Empty(t, report.Failures)
	assert.Equal(t, synthesis.High, report.Summary.Confidence)

	report, err = o.Execute(context.Background(), "mood", WithTargets("IWM"))
	require.NoError(t, err)
	assert.Equal(t, []string{"IWM"}, report.Targets)
	assert.Contains(t, report.Summary.Signals, "IWM")
}

func TestExecuteServesRepeatsFromCache(t *testing.T) {
	o := newFakeOrchestrator(t, dispatch.ModeParallel)

	_, err := o.Execute(context.Background(), "mood")
	require.NoError(t, err)
	report, err := o.Execute(context.Background(), "mood")
	require.NoError(t, err)

	assert.True(t, report.Batch.Results["sentiment"].Cached)
	assert.Equal(t, 2, o.Tracker().Size())
}

func TestNoCacheCapabilities(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cfg := DefaultConfig()
	cfg.NoCache = []string{"sentiment"}
	o, err := New(fakeRegistry(t, release), cfg, logging.NewNop(), nil, WithSelector(fakeSelector(t)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := o.Execute(context.Background(), "mood")
		require.NoError(t, err)
		assert.False(t, report.Batch.Results["sentiment"].Cached)
	}
	assert.Zero(t, o.Cache().Len())
}

func TestRequestContextReachesCapabilities(t *testing.T) {
	var seen map[string]interface{}
	registry, err := capabilities.NewRegistry(logging.NewNop(), nil, capabilities.Descriptor{
		Name: "echo",
		Handler: capabilities.HandlerFunc(func(ctx context.Context, args capabilities.Args) (capabilities.Payload, error) {
			seen = capabilities.RequestContext(ctx)
			return capabilities.Payload{}, nil
		}),
	})
	require.NoError(t, err)
	selector, err := router.NewSelector(nil, []string{"echo"})
	require.NoError(t, err)

	o, err := New(registry, DefaultConfig(), logging.NewNop(), nil, WithSelector(selector))
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), "anything", WithRequestContext(map[string]interface{}{"account": "ira"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"account": "ira"}, seen)
}

func TestNewRejectsUnroutableSelector(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// default routing table names the built-in catalog, which is not registered here
	_, err := New(fakeRegistry(t, release), DefaultConfig(), logging.NewNop(), nil)
	assert.True(t, errors.IsUnknownCapability(err))

	_, err = New(nil, DefaultConfig(), logging.NewNop(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Mode = "eventually"
	_, err = New(fakeRegistry(t, release), cfg, logging.NewNop(), nil, WithSelector(fakeSelector(t)))
	assert.Error(t, err)
}

func TestInvoke(t *testing.T) {
	o := newFakeOrchestrator(t, dispatch.ModeParallel)

	result, err := o.Invoke(context.Background(), "sentiment", nil)
	require.NoError(t, err)
	assert.True(t, result.OK())

	result, err = o.Invoke(context.Background(), "sentiment", nil)
	require.NoError(t, err)
	assert.True(t, result.Cached)

	result, err = o.Invoke(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, capabilities.OutcomeTimeout, result.Outcome)

	_, err = o.Invoke(context.Background(), "missing", nil)
	assert.True(t, errors.IsUnknownCapability(err))

	assert.Equal(t, 3, o.Tracker().Size())
}

func TestRecorderSeesEveryTrackedInvocation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var seen []session.Record
	o, err := New(fakeRegistry(t, release), DefaultConfig(), logging.NewNop(), nil,
		WithSelector(fakeSelector(t)),
		WithRecorder(func(r session.Record) { seen = append(seen, r) }))
	require.NoError(t, err)

	report, err := o.Execute(context.Background(), "what is the mood")
	require.NoError(t, err)
	_, err = o.Invoke(context.Background(), "broken", nil)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, report.Records, seen[:1])
	assert.Equal(t, "broken", seen[1].Capability)
	assert.False(t, seen[1].Success)
	assert.Equal(t, o.Tracker().Records(), seen)
}

func TestRecordersFollowTrackerOrderUnderLoad(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var (
		mu   sync.Mutex
		seen []session.Record
	)
	cfg := DefaultConfig()
	cfg.SessionCapacity = 200
	o, err := New(fakeRegistry(t, release), cfg, logging.NewNop(), nil,
		WithSelector(fakeSelector(t)),
		WithRecorder(func(r session.Record) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "broken"
			if i%2 == 0 {
				name = "sentiment"
			}
			for j := 0; j < 20; j++ {
				_, err := o.Invoke(context.Background(), name, capabilities.Args{"n": j})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, seen, 160)
	assert.Equal(t, o.Tracker().Records(), seen)
}

func TestExecuteWithBuiltInCatalog(t *testing.T) {
	logger := logging.NewNop()
	descriptors, err := adapter.NewDefaultCatalog(logger).Descriptors(validation.NewValidator(logger, nil, false), logger)
	require.NoError(t, err)
	registry, err := capabilities.NewRegistry(logger, nil, descriptors...)
	require.NoError(t, err)

	o, err := New(registry, DefaultConfig(), logger, nil)
	require.NoError(t, err)

	report, err := o.Execute(context.Background(), "What is the news and sentiment on TSLA and nvda? Check portfolio risk and trading patterns too.")
	require.NoError(t, err)

	assert.Equal(t, []string{
		router.MarketNews,
		router.MarketSentiment,
		router.PortfolioRisk,
		router.TradingPatterns,
	}, report.Capabilities)
	assert.Equal(t, []string{"TSLA", "NVDA"}, report.Targets)
	assert.Equal(t, report.Batch.Total, report.Batch.SuccessCount, "%v", report.Failures)
	assert.Equal(t, synthesis.High, report.Summary.Confidence)
	assert.NotEqual(t, "", string(report.Summary.RiskLevel))
	assert.LessOrEqual(t, len(report.Summary.KeyInsights), synthesis.MaxInsights)
	assert.LessOrEqual(t, len(report.Summary.Recommendations), synthesis.MaxRecommendations)
	assert.Len(t, report.Summary.Signals, 2)

	again, err := o.Execute(context.Background(), "What is the news and sentiment on TSLA and nvda? Check portfolio risk and trading patterns too.")
	require.NoError(t, err)
	assert.Equal(t, report.Summary, again.Summary, "deterministic capabilities give identical summaries")
}
