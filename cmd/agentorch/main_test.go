package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/pkg/auth"
	"github.com/osakka/agentorch/pkg/paths"
	"github.com/osakka/agentorch/pkg/process"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setup points the home directory at a temp dir and writes a config with
// persistence and admin auth enabled.
func setup(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.HomeEnv, home)

	cfg := fmt.Sprintf(`store:
  path: %s
server:
  admin:
    jwt_secret: %s
`, filepath.Join(home, "data", "test.db"), testSecret)
	file := filepath.Join(home, "agentorch.yaml")
	require.NoError(t, os.WriteFile(file, []byte(cfg), 0644))
	return file
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryPersistsAndStatsReadsBack(t *testing.T) {
	file := setup(t)

	out, err := run(t, "--config", file, "query", "--json", "latest news on AAPL")
	require.NoError(t, err)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	selected, ok := report["capabilities_selected"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, selected, router.MarketNews)
	assert.Contains(t, report["targets"], "AAPL")

	out, err = run(t, "--config", file, "stats", "--json")
	require.NoError(t, err)

	var stats struct {
		Stats struct {
			TotalInteractions int            `json:"total_interactions"`
			Usage             map[string]int `json:"usage_by_capability"`
		} `json:"stats"`
		Executions []struct {
			Query string `json:"query"`
		} `json:"executions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, len(selected), stats.Stats.TotalInteractions)
	assert.Equal(t, 1, stats.Stats.Usage[router.MarketNews])
	require.Len(t, stats.Executions, 1)
	assert.Equal(t, "latest news on AAPL", stats.Executions[0].Query)
}

func TestQueryTextOutput(t *testing.T) {
	file := setup(t)

	out, err := run(t, "--config", file, "query", "--sequential", "--targets", "MSFT", "what is the portfolio risk")
	require.NoError(t, err)
	assert.Contains(t, out, "Capabilities: "+router.PortfolioRisk)
	assert.Contains(t, out, "Targets:      MSFT")
}

func TestStatsWhenEmpty(t *testing.T) {
	file := setup(t)

	out, err := run(t, "--config", file, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "No interactions yet")
}

func TestCapabilities(t *testing.T) {
	file := setup(t)

	out, err := run(t, "--config", file, "capabilities")
	require.NoError(t, err)
	for _, name := range []string{router.MarketNews, router.MarketConditions, router.TradingPatterns} {
		assert.Contains(t, out, name)
	}

	out, err = run(t, "--config", file, "capabilities", router.MarketNews)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, router.MarketNews))

	_, err = run(t, "--config", file, "capabilities", "no_such_tool")
	assert.Error(t, err)

	out, err = run(t, "--config", file, "caps", "--prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "You have access to the following analysis tools")
}

func TestTokenIsAcceptedByValidator(t *testing.T) {
	file := setup(t)

	out, err := run(t, "--config", file, "token", "--subject", "ops")
	require.NoError(t, err)

	v, err := auth.NewJWTValidator(auth.JWTConfig{Secret: testSecret, Issuer: "agentorch"}, logger(&rootOptions{}), nil)
	require.NoError(t, err)
	claims, err := v.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasRole(auth.RoleAdmin))
}

func TestTokenWithoutSecret(t *testing.T) {
	t.Setenv(paths.HomeEnv, t.TempDir())

	_, err := run(t, "token")
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestStopWithoutServer(t *testing.T) {
	file := setup(t)

	_, err := run(t, "--config", file, "stop")
	assert.ErrorIs(t, err, process.ErrNotRunning)
}

func TestInvalidLogLevel(t *testing.T) {
	file := setup(t)

	_, err := run(t, "--config", file, "--log-level", "loud", "capabilities")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "agentorch "+Version)
}
