package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by curtailment stores and the
// surrounding runtime.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with every custom level write.
type Collector interface {
	IncHotReload(file string)
	IncCustomLevelWrite(tenant, category string)
	IncRejectedWrite(tenant, category, reason string)
	SetTimelineLength(tenant, category string, entries int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                     {}
func (noopCollector) IncCustomLevelWrite(string, string)      {}
func (noopCollector) IncRejectedWrite(string, string, string) {}
func (noopCollector) SetTimelineLength(string, string, int)   {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads     *prometheus.CounterVec
	writes         *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	timelineLength *prometheus.GaugeVec
}

// Metric vectors are process wide so that every store and registry reports
// into the same series regardless of how many collectors are constructed.
var (
	registryLock        sync.Mutex
	hotReloadCounter    *prometheus.CounterVec
	writeCounter        *prometheus.CounterVec
	rejectedCounter     *prometheus.CounterVec
	timelineLengthGauge *prometheus.GaugeVec
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registryLock.Lock()
	defer registryLock.Unlock()

	if hotReloadCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "curtail_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per configuration source file.",
		}, "file")
		if err != nil {
			return nil, err
		}
		hotReloadCounter = counter
	}
	if writeCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "curtail_custom_level_writes_total",
			Help: "Number of accepted custom curtailment level writes.",
		}, "tenant", "category")
		if err != nil {
			return nil, err
		}
		writeCounter = counter
	}
	if rejectedCounter == nil {
		counter, err := registerCounter(reg, prometheus.CounterOpts{
			Name: "curtail_rejected_writes_total",
			Help: "Number of custom curtailment level writes rejected by validation.",
		}, "tenant", "category", "reason")
		if err != nil {
			return nil, err
		}
		rejectedCounter = counter
	}
	if timelineLengthGauge == nil {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curtail_timeline_entries",
			Help: "Number of custom level entries recorded per tenant and category.",
		}, []string{"tenant", "category"})
		if err := reg.Register(gauge); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				return nil, err
			}
			gauge = existing
		}
		timelineLengthGauge = gauge
	}

	return &PrometheusCollector{
		hotReloads:     hotReloadCounter,
		writes:         writeCounter,
		rejected:       rejectedCounter,
		timelineLength: timelineLengthGauge,
	}, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncCustomLevelWrite counts an accepted custom level write.
func (p *PrometheusCollector) IncCustomLevelWrite(tenant, category string) {
	if p == nil || p.writes == nil {
		return
	}
	p.writes.WithLabelValues(tenant, category).Inc()
}

// IncRejectedWrite counts a write rejected for the given reason.
func (p *PrometheusCollector) IncRejectedWrite(tenant, category, reason string) {
	if p == nil || p.rejected == nil {
		return
	}
	p.rejected.WithLabelValues(tenant, category, reason).Inc()
}

// SetTimelineLength updates the gauge tracking recorded entries.
func (p *PrometheusCollector) SetTimelineLength(tenant, category string, entries int) {
	if p == nil || p.timelineLength == nil {
		return
	}
	p.timelineLength.WithLabelValues(tenant, category).Set(float64(entries))
}
