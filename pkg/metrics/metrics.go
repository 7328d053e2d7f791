package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
)

// Metrics is the core metrics interface
type Metrics interface {
	// Counters - values that only increase
	Inc(name string, labels ...string)
	Add(name string, value float64, labels ...string)

	// Gauges - values that can go up and down
	Set(name string, value float64, labels ...string)

	// Histograms - track distribution of values
	Observe(name string, value float64, labels ...string)
	Time(name string, labels ...string) Timer

	WithLabels(labels map[string]string) Metrics
	WithPrefix(prefix string) Metrics

	GetStats(name string, labels ...string) MetricStats
	GetAllStats() map[string]MetricStats
}

// Timer tracks operation duration
type Timer interface {
	Duration() time.Duration
	Stop() time.Duration
}

// Kind is the series type, used when exporting
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// MetricStats provides statistics for a metric
type MetricStats struct {
	Count       uint64    `json:"count"`
	Sum         float64   `json:"sum"`
	Average     float64   `json:"average"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	LastValue   float64   `json:"last_value"`
	LastUpdated time.Time `json:"last_updated"`
	Trend       string    `json:"trend"` // "increasing", "stable", "decreasing"
}

// Series is one named, labelled metric and its running statistics
type Series struct {
	Name   string
	Kind   Kind
	Labels map[string]string
	Stats  MetricStats
}

// ComponentMetrics provides standard request/duration/error series for a component
type ComponentMetrics struct {
	name    string
	metrics Metrics
	logger  logging.Logger

	requestsTotal   string
	durationSeconds string
	errorsTotal     string
}

// NewComponentMetrics creates metrics for a component
func NewComponentMetrics(name string, metrics Metrics, logger logging.Logger) *ComponentMetrics {
	return &ComponentMetrics{
		name:    name,
		metrics: metrics,
		logger:  logger.WithComponent("metrics." + name),

		requestsTotal:   name + "_requests_total",
		durationSeconds: name + "_duration_seconds",
		errorsTotal:     name + "_errors_total",
	}
}

// StartOperation begins tracking an operation; call the returned func when it ends.
func (cm *ComponentMetrics) StartOperation(operation string) func(error) {
	start := time.Now()

	return func(err error) {
		duration := time.Since(start)
		cm.metrics.Inc(cm.requestsTotal, "operation", operation)
		cm.metrics.Observe(cm.durationSeconds, duration.Seconds(), "operation", operation)

		if err != nil {
			cm.metrics.Inc(cm.errorsTotal, "operation", operation)
		}

		if duration > 5*time.Second {
			cm.logger.Warn("slow_operation_detected",
				"operation", operation,
				"duration_ms", duration.Milliseconds(),
				"threshold_ms", 5000)
		}
	}
}

type store struct {
	mu     sync.RWMutex
	series map[string]*Series
}

// ProductionMetrics implements Metrics with in-process collection
type ProductionMetrics struct {
	store  *store
	logger logging.Logger
	prefix string
	labels map[string]string
}

// NewProductionMetrics creates a new production metrics instance
func NewProductionMetrics(logger logging.Logger) *ProductionMetrics {
	return &ProductionMetrics{
		store:  &store{series: make(map[string]*Series)},
		logger: logger.WithComponent("metrics"),
		labels: make(map[string]string),
	}
}

func (m *ProductionMetrics) Inc(name string, labels ...string) {
	m.Add(name, 1, labels...)
}

func (m *ProductionMetrics) Add(name string, value float64, labels ...string) {
	m.record(KindCounter, name, value, labels)
}

func (m *ProductionMetrics) Observe(name string, value float64, labels ...string) {
	m.record(KindHistogram, name, value, labels)
}

func (m *ProductionMetrics) record(kind Kind, name string, value float64, labels []string) {
	key, s := m.lookup(kind, name, labels)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	existing, ok := m.store.series[key]
	if !ok {
		existing = s
		m.store.series[key] = existing
	}
	stats := &existing.Stats

	stats.Count++
	stats.Sum += value
	stats.LastValue = value
	stats.LastUpdated = time.Now()
	if value < stats.Min || stats.Count == 1 {
		stats.Min = value
	}
	if value > stats.Max || stats.Count == 1 {
		stats.Max = value
	}
	stats.Average = stats.Sum / float64(stats.Count)
	stats.Trend = trend(value, stats.Average, stats.Count)
}

func (m *ProductionMetrics) Set(name string, value float64, labels ...string) {
	key, s := m.lookup(KindGauge, name, labels)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	existing, ok := m.store.series[key]
	if !ok {
		existing = s
		m.store.series[key] = existing
	}
	stats := &existing.Stats

	stats.Trend = trend(value, stats.LastValue, stats.Count+1)
	stats.Count++
	stats.LastValue = value
	stats.Average = value
	stats.Sum = value
	stats.LastUpdated = time.Now()
	if value < stats.Min || stats.Count == 1 {
		stats.Min = value
	}
	if value > stats.Max || stats.Count == 1 {
		stats.Max = value
	}
}

func trend(value, reference float64, count uint64) string {
	switch {
	case count <= 1:
		return "stable"
	case value > reference:
		return "increasing"
	case value < reference:
		return "decreasing"
	default:
		return "stable"
	}
}

func (m *ProductionMetrics) Time(name string, labels ...string) Timer {
	return &productionTimer{
		start:   time.Now(),
		name:    name,
		labels:  labels,
		metrics: m,
	}
}

func (m *ProductionMetrics) WithLabels(labels map[string]string) Metrics {
	merged := make(map[string]string, len(m.labels)+len(labels))
	for k, v := range m.labels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return &ProductionMetrics{store: m.store, logger: m.logger, prefix: m.prefix, labels: merged}
}

func (m *ProductionMetrics) WithPrefix(prefix string) Metrics {
	newPrefix := prefix
	if m.prefix != "" {
		newPrefix = m.prefix + "_" + prefix
	}
	return &ProductionMetrics{store: m.store, logger: m.logger, prefix: newPrefix, labels: m.labels}
}

func (m *ProductionMetrics) GetStats(name string, labels ...string) MetricStats {
	key, _ := m.lookup("", name, labels)

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	if s, ok := m.store.series[key]; ok {
		return s.Stats
	}
	return MetricStats{}
}

func (m *ProductionMetrics) GetAllStats() map[string]MetricStats {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	result := make(map[string]MetricStats, len(m.store.series))
	for key, s := range m.store.series {
		result[key] = s.Stats
	}
	return result
}

// Snapshot returns a copy of every series, sorted by key.
func (m *ProductionMetrics) Snapshot() []Series {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	keys := make([]string, 0, len(m.store.series))
	for k := range m.store.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Series, 0, len(keys))
	for _, k := range keys {
		s := m.store.series[k]
		labels := make(map[string]string, len(s.Labels))
		for lk, lv := range s.Labels {
			labels[lk] = lv
		}
		out = append(out, Series{Name: s.Name, Kind: s.Kind, Labels: labels, Stats: s.Stats})
	}
	return out
}

// lookup builds the series key ("name:k=v:k=v", label keys sorted) and a
// fresh Series for it.
func (m *ProductionMetrics) lookup(kind Kind, name string, labels []string) (string, *Series) {
	full := name
	if m.prefix != "" {
		full = m.prefix + "_" + name
	}

	merged := make(map[string]string, len(m.labels)+len(labels)/2)
	for k, v := range m.labels {
		merged[k] = v
	}
	for i := 0; i+1 < len(labels); i += 2 {
		merged[labels[i]] = labels[i+1]
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(full)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(merged[k])
	}

	return b.String(), &Series{Name: full, Kind: kind, Labels: merged}
}

type productionTimer struct {
	start   time.Time
	name    string
	labels  []string
	metrics *ProductionMetrics
}

func (t *productionTimer) Duration() time.Duration {
	return time.Since(t.start)
}

// Stop records the elapsed time in seconds.
func (t *productionTimer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.metrics.Observe(t.name, duration.Seconds(), t.labels...)
	return duration
}

// NewNop returns metrics backed by a private store that nothing exports.
func NewNop() *ProductionMetrics {
	return NewProductionMetrics(logging.NewNop())
}
