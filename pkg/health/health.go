// Package health aggregates component checks into liveness and readiness
// answers for the HTTP surface.
package health

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// HealthStatus represents the overall health state
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusUnknown   HealthStatus = "unknown"
)

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Duration    time.Duration          `json:"duration"`
	Timestamp   time.Time              `json:"timestamp"`
	Error       string                 `json:"error,omitempty"`
	Critical    bool                   `json:"critical"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

// OverallHealth represents the complete system health
type OverallHealth struct {
	Status      HealthStatus  `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	Version     string        `json:"version"`
	Uptime      time.Duration `json:"uptime"`
	Checks      []CheckResult `json:"checks"`
	Summary     HealthSummary `json:"summary"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// HealthSummary provides aggregated health information
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Critical  int `json:"critical"`
}

// HealthChecker defines the interface for health check implementations
type HealthChecker interface {
	Check(ctx context.Context) CheckResult
	Name() string
	IsCritical() bool
}

// HealthConfig configures health check behavior
type HealthConfig struct {
	CheckTimeout  time.Duration `yaml:"check_timeout"`
	GlobalTimeout time.Duration `yaml:"global_timeout"`
}

// HealthManager runs registered checks and caches the latest results
type HealthManager struct {
	checkers     []HealthChecker
	checkersMu   sync.RWMutex
	lastResults  map[string]CheckResult
	resultsMutex sync.RWMutex
	logger       logging.Logger
	metrics      metrics.Metrics
	startTime    time.Time
	version      string
	config       HealthConfig
}

// NewHealthManager creates a manager with no checkers registered.
func NewHealthManager(logger logging.Logger, m metrics.Metrics, version string) *HealthManager {
	if m == nil {
		m = metrics.NewNop()
	}
	return &HealthManager{
		lastResults: make(map[string]CheckResult),
		logger:      logger.WithComponent("health_manager"),
		metrics:     m,
		startTime:   time.Now(),
		version:     version,
		config:      defaultHealthConfig(),
	}
}

// RegisterChecker adds a health checker to the system
func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.checkersMu.Lock()
	hm.checkers = append(hm.checkers, checker)
	total := len(hm.checkers)
	hm.checkersMu.Unlock()

	hm.logger.Info("health_checker_registered",
		"name", checker.Name(),
		"critical", checker.IsCritical(),
		"total_checkers", total)
}

// GetHealth runs every check and returns the combined status.
func (hm *HealthManager) GetHealth(ctx context.Context) OverallHealth {
	checkCtx, cancel := context.WithTimeout(ctx, hm.config.GlobalTimeout)
	defer cancel()

	results := hm.runAllChecks(checkCtx)
	hm.updateStoredResults(results)

	overall := hm.calculateOverallHealth(results)
	hm.recordHealthMetrics(overall)
	hm.logHealthStatus(overall)
	return overall
}

// GetQuickHealth returns the cached results, running the checks once if
// nothing has been cached yet.
func (hm *HealthManager) GetQuickHealth(ctx context.Context) OverallHealth {
	hm.resultsMutex.RLock()
	results := make([]CheckResult, 0, len(hm.lastResults))
	for _, result := range hm.lastResults {
		results = append(results, result)
	}
	hm.resultsMutex.RUnlock()

	if len(results) == 0 {
		return hm.GetHealth(ctx)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return hm.calculateOverallHealth(results)
}

// IsReady returns true if every critical check is healthy.
func (hm *HealthManager) IsReady(ctx context.Context) bool {
	for _, result := range hm.GetHealth(ctx).Checks {
		if result.Critical && result.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// Uptime is the time since the manager was created.
func (hm *HealthManager) Uptime() time.Duration {
	return time.Since(hm.startTime)
}

// Monitor refreshes the cached results every interval until ctx is done.
func (hm *HealthManager) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			health := hm.GetHealth(ctx)
			hm.logger.Debug("health_status_checked",
				"status", health.Status,
				"healthy_checks", health.Summary.Healthy,
				"total_checks", health.Summary.Total)
		case <-ctx.Done():
			return
		}
	}
}

func (hm *HealthManager) runAllChecks(ctx context.Context) []CheckResult {
	hm.checkersMu.RLock()
	checkers := append([]HealthChecker(nil), hm.checkers...)
	hm.checkersMu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, c HealthChecker) {
			defer wg.Done()
			start := time.Now()

			checkCtx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
			defer cancel()

			result := c.Check(checkCtx)
			result.Name = c.Name()
			result.Critical = c.IsCritical()
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()
			results[i] = result
		}(i, checker)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// calculateOverallHealth folds check results into one status. A failed
// critical check makes the system unhealthy; anything else only degrades it.
func (hm *HealthManager) calculateOverallHealth(results []CheckResult) OverallHealth {
	summary := HealthSummary{Total: len(results)}
	status := StatusHealthy
	var suggestions []string

	for _, result := range results {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
			if status == StatusHealthy {
				status = StatusDegraded
			}
		default:
			summary.Unhealthy++
			if result.Critical {
				summary.Critical++
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		}
		suggestions = append(suggestions, result.Suggestions...)
	}

	return OverallHealth{
		Status:      status,
		Timestamp:   time.Now(),
		Version:     hm.version,
		Uptime:      time.Since(hm.startTime),
		Checks:      results,
		Summary:     summary,
		Suggestions: deduplicateStrings(suggestions),
	}
}

func (hm *HealthManager) updateStoredResults(results []CheckResult) {
	hm.resultsMutex.Lock()
	defer hm.resultsMutex.Unlock()

	for _, result := range results {
		hm.lastResults[result.Name] = result
	}
}

func (hm *HealthManager) recordHealthMetrics(health OverallHealth) {
	hm.metrics.Set("health_status", statusValue(health.Status))
	hm.metrics.Set("health_checks_total", float64(health.Summary.Total))
	hm.metrics.Set("health_checks_healthy", float64(health.Summary.Healthy))
	hm.metrics.Set("system_uptime_seconds", health.Uptime.Seconds())

	for _, check := range health.Checks {
		labels := []string{
			"check_name", check.Name,
			"critical", strconv.FormatBool(check.Critical),
		}
		hm.metrics.Observe("health_check_duration_seconds", check.Duration.Seconds(), labels...)
		if check.Status != StatusHealthy {
			hm.metrics.Inc("health_check_failures_total", labels...)
		}
	}
}

func (hm *HealthManager) logHealthStatus(health OverallHealth) {
	fields := []interface{}{
		"overall_status", health.Status,
		"uptime", health.Uptime,
		"total_checks", health.Summary.Total,
		"healthy_checks", health.Summary.Healthy,
		"degraded_checks", health.Summary.Degraded,
		"unhealthy_checks", health.Summary.Unhealthy,
	}

	switch health.Status {
	case StatusUnhealthy:
		failed := []string{}
		for _, check := range health.Checks {
			if check.Status != StatusHealthy {
				failed = append(failed, check.Name)
			}
		}
		hm.logger.Error("system_unhealthy", append(fields, "failed_checks", failed, "suggestions", health.Suggestions)...)
	case StatusDegraded:
		hm.logger.Warn("system_degraded", append(fields, "suggestions", health.Suggestions)...)
	default:
		hm.logger.Debug("health_check_completed", fields...)
	}
}

// statusValue maps a status to the gauge value exported for it
func statusValue(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	}
	return 0
}

func defaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckTimeout:  5 * time.Second,
		GlobalTimeout: 10 * time.Second,
	}
}

func deduplicateStrings(slice []string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, item := range slice {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
