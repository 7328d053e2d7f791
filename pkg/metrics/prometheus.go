package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector exports every ProductionMetrics series to Prometheus. Series
// are created lazily, so it registers as an unchecked collector.
type Collector struct {
	namespace string
	source    *ProductionMetrics
}

// NewCollector wraps source; namespace prefixes every exported name.
func NewCollector(namespace string, source *ProductionMetrics) *Collector {
	return &Collector{namespace: namespace, source: source}
}

// Describe sends nothing, which marks the collector unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Snapshot() {
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = s.Labels[k]
		}

		desc := prometheus.NewDesc(
			prometheus.BuildFQName(c.namespace, "", sanitize(s.Name)),
			string(s.Kind)+" "+s.Name, keys, nil)

		var (
			m   prometheus.Metric
			err error
		)
		switch s.Kind {
		case KindGauge:
			m, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Stats.LastValue, values...)
		case KindHistogram:
			m, err = prometheus.NewConstSummary(desc, s.Stats.Count, s.Stats.Sum, nil, values...)
		default:
			m, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, s.Stats.Sum, values...)
		}
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- m
	}
}

// NewRegistry returns a registry holding the collector plus the Go and
// process collectors.
func NewRegistry(namespace string, source *ProductionMetrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(namespace, source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
