package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	o := cfg.ToOrchestrator()
	assert.Equal(t, 4, o.MaxWorkers)
	assert.Equal(t, 30*time.Second, o.TaskTimeout)
	assert.Equal(t, 600*time.Second, o.CacheTTL)
	assert.Equal(t, 100, o.SessionCapacity)
	assert.Equal(t, dispatch.ModeParallel, o.Mode)
	assert.Equal(t, []string{"SPY", "QQQ", "AAPL"}, o.DefaultTargets)
	assert.Equal(t, 5, o.BreakerFailures)
	assert.Equal(t, 30*time.Second, o.BreakerReset)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, `
orchestrator:
  max_workers: 8
  task_timeout: 5s
  mode: sequential
  rules:
    - capability: check_market_news
      keywords: [news]
server:
  port: 9000
logging:
  level: debug
`)
	cfg, err := Load(path, logging.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Orchestrator.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.TaskTimeout)
	assert.Equal(t, "sequential", cfg.Orchestrator.Mode)
	require.Len(t, cfg.Orchestrator.Rules, 1)
	assert.Equal(t, []string{"news"}, cfg.Orchestrator.Rules[0].Keywords)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Orchestrator.SessionCapacity, "unset fields keep defaults")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("AGENTORCH_ORCHESTRATOR_MAX_WORKERS", "2")
	t.Setenv("AGENTORCH_ORCHESTRATOR_CACHE_TTL", "90s")
	t.Setenv("AGENTORCH_ORCHESTRATOR_DEFAULT_TARGETS", "IWM, META")
	t.Setenv("AGENTORCH_SERVER_RATE_LIMIT_ENABLED", "false")
	t.Setenv("AGENTORCH_SERVER_RATE_LIMIT_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("AGENTORCH_STORE_PATH", "")
	t.Setenv("AGENTORCH_TRACING_ENABLED", "true")
	t.Setenv("AGENTORCH_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := Load("", logging.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Orchestrator.MaxWorkers)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.CacheTTL)
	assert.Equal(t, []string{"IWM", "META"}, cfg.Orchestrator.DefaultTargets)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 2.5, cfg.Server.RateLimit.RequestsPerSecond)
	assert.Empty(t, cfg.Store.Path)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
}

func TestEnvironmentOverrideParseError(t *testing.T) {
	t.Setenv("AGENTORCH_ORCHESTRATOR_MAX_WORKERS", "lots")
	_, err := Load("", logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTORCH_ORCHESTRATOR_MAX_WORKERS")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.MaxWorkers = 0
	cfg.Orchestrator.Mode = "async"
	cfg.Orchestrator.BreakerReset = 0
	cfg.Server.Port = 70000
	cfg.Server.Admin.JWTSecret = "short"
	cfg.Logging.Level = "loud"
	cfg.Tracing.SampleRatio = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"max_workers", "mode", "breaker_reset", "server.port", "jwt_secret", "logging.level", "tracing.sample_ratio"} {
		assert.Contains(t, err.Error(), field)
	}
	kind, ok := errors.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, errors.KindConfiguration, kind)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), logging.NewNop())
	assert.Error(t, err)

	_, err = Load(writeFile(t, "orchestrator: [not, a, map]"), logging.NewNop())
	assert.Error(t, err)

	_, err = Load(writeFile(t, "orchestrator:\n  max_workers: -1\n"), logging.NewNop())
	assert.Error(t, err)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agentorch.yaml")
	loader := NewLoader(logging.NewNop())

	cfg := Defaults()
	cfg.Orchestrator.MaxTargets = 3
	require.NoError(t, loader.SaveToFile(path, cfg))

	loaded, err := Load(path, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Orchestrator.MaxTargets)
	assert.Equal(t, cfg.Orchestrator.TaskTimeout, loaded.Orchestrator.TaskTimeout)
}
