package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/osakka/agentorch/pkg/cache"
)

// GoroutineHealthChecker watches the goroutine count
type GoroutineHealthChecker struct {
	WarningThreshold  int
	CriticalThreshold int
}

// NewGoroutineHealthChecker uses the default thresholds.
func NewGoroutineHealthChecker() *GoroutineHealthChecker {
	return &GoroutineHealthChecker{WarningThreshold: 1000, CriticalThreshold: 5000}
}

func (g *GoroutineHealthChecker) Name() string     { return "goroutine_count" }
func (g *GoroutineHealthChecker) IsCritical() bool { return false }

func (g *GoroutineHealthChecker) Check(ctx context.Context) CheckResult {
	count := runtime.NumGoroutine()

	result := CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Goroutines: %d", count),
		Details: map[string]interface{}{
			"count":              count,
			"warning_threshold":  g.WarningThreshold,
			"critical_threshold": g.CriticalThreshold,
		},
	}

	switch {
	case count >= g.CriticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Critical goroutine count: %d", count)
	case count >= g.WarningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", count)
	}
	if result.Status != StatusHealthy {
		result.Suggestions = []string{
			"Check for goroutine leaks",
			"Lower the dispatcher worker count",
		}
	}
	return result
}

// CapabilityCounter is satisfied by the capability registry
type CapabilityCounter interface {
	Len() int
	List() []string
}

// CapabilityHealthChecker fails when no capability is registered. Nothing
// can be served without one, so the check is critical.
type CapabilityHealthChecker struct {
	registry CapabilityCounter
}

func NewCapabilityHealthChecker(registry CapabilityCounter) *CapabilityHealthChecker {
	return &CapabilityHealthChecker{registry: registry}
}

func (c *CapabilityHealthChecker) Name() string     { return "capability_registry" }
func (c *CapabilityHealthChecker) IsCritical() bool { return true }

func (c *CapabilityHealthChecker) Check(ctx context.Context) CheckResult {
	n := c.registry.Len()
	if n == 0 {
		return CheckResult{
			Status:      StatusUnhealthy,
			Message:     "No capabilities registered",
			Suggestions: []string{"Register at least one capability before serving queries"},
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d capabilities registered", n),
		Details: map[string]interface{}{
			"count":        n,
			"capabilities": c.registry.List(),
		},
	}
}

// CacheStatter is satisfied by the result cache
type CacheStatter interface {
	Stats() cache.Stats
}

// CacheHealthChecker reports cache occupancy and hit ratio. It only fails
// if the cache cannot answer within the check deadline.
type CacheHealthChecker struct {
	cache CacheStatter
}

func NewCacheHealthChecker(c CacheStatter) *CacheHealthChecker {
	return &CacheHealthChecker{cache: c}
}

func (c *CacheHealthChecker) Name() string     { return "result_cache" }
func (c *CacheHealthChecker) IsCritical() bool { return false }

func (c *CacheHealthChecker) Check(ctx context.Context) CheckResult {
	done := make(chan cache.Stats, 1)
	go func() { done <- c.cache.Stats() }()

	select {
	case stats := <-done:
		ratio := 0.0
		if lookups := stats.Hits + stats.Misses; lookups > 0 {
			ratio = float64(stats.Hits) / float64(lookups)
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d entries cached", stats.Size),
			Details: map[string]interface{}{
				"size":        stats.Size,
				"hits":        stats.Hits,
				"misses":      stats.Misses,
				"expirations": stats.Expirations,
				"evictions":   stats.Evictions,
				"hit_ratio":   ratio,
			},
		}
	case <-ctx.Done():
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Result cache did not respond",
			Error:   ctx.Err().Error(),
		}
	}
}

// SuccessRateFunc reports how many interactions were seen and the share
// that succeeded.
type SuccessRateFunc func() (total int, rate float64)

// SessionHealthChecker degrades when recent invocations mostly fail
type SessionHealthChecker struct {
	rate       SuccessRateFunc
	Threshold  float64
	MinSamples int
}

func NewSessionHealthChecker(rate SuccessRateFunc) *SessionHealthChecker {
	return &SessionHealthChecker{rate: rate, Threshold: 0.5, MinSamples: 5}
}

func (s *SessionHealthChecker) Name() string     { return "session_success_rate" }
func (s *SessionHealthChecker) IsCritical() bool { return false }

func (s *SessionHealthChecker) Check(ctx context.Context) CheckResult {
	total, rate := s.rate()
	result := CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Success rate %.0f%% over %d interactions", rate*100, total),
		Details: map[string]interface{}{
			"total_interactions": total,
			"success_rate":       rate,
			"threshold":          s.Threshold,
		},
	}
	if total < s.MinSamples {
		result.Message = fmt.Sprintf("Only %d interactions recorded", total)
		return result
	}
	if rate < s.Threshold {
		result.Status = StatusDegraded
		result.Suggestions = []string{"Inspect failing capabilities in /v1/session/records"}
	}
	return result
}

// BreakerHealthChecker degrades while any capability is short-circuited
type BreakerHealthChecker struct {
	open func() []string
}

// NewBreakerHealthChecker takes a function listing the open breakers.
func NewBreakerHealthChecker(open func() []string) *BreakerHealthChecker {
	return &BreakerHealthChecker{open: open}
}

func (b *BreakerHealthChecker) Name() string     { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool { return false }

func (b *BreakerHealthChecker) Check(ctx context.Context) CheckResult {
	open := b.open()
	if len(open) == 0 {
		return CheckResult{Status: StatusHealthy, Message: "All circuits closed"}
	}
	return CheckResult{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d capabilities short-circuited", len(open)),
		Details: map[string]interface{}{"open": open},
		Suggestions: []string{
			"Check the failing capabilities' upstream sources",
			"POST /admin/breakers/reset once they recover",
		},
	}
}

// MemoryHealthChecker compares the live heap against fixed thresholds
type MemoryHealthChecker struct {
	WarningMB  uint64
	CriticalMB uint64
}

func NewMemoryHealthChecker() *MemoryHealthChecker {
	return &MemoryHealthChecker{WarningMB: 512, CriticalMB: 1024}
}

func (m *MemoryHealthChecker) Name() string     { return "memory" }
func (m *MemoryHealthChecker) IsCritical() bool { return false }

func (m *MemoryHealthChecker) Check(ctx context.Context) CheckResult {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	allocMB := stats.Alloc / (1024 * 1024)

	result := CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Heap %d MB", allocMB),
		Details: map[string]interface{}{
			"allocated_mb": allocMB,
			"heap_in_use":  stats.HeapInuse,
			"system_bytes": stats.Sys,
			"gc_runs":      stats.NumGC,
			"warning_mb":   m.WarningMB,
			"critical_mb":  m.CriticalMB,
		},
	}
	switch {
	case allocMB >= m.CriticalMB:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Critical heap size: %d MB", allocMB)
	case allocMB >= m.WarningMB:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High heap size: %d MB", allocMB)
	}
	if result.Status != StatusHealthy {
		result.Suggestions = []string{
			"Lower orchestrator.cache_max_entries",
			"Check for memory leaks",
		}
	}
	return result
}
