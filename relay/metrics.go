package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caesar0301/relogger/metric"
)

// Metrics holds the engine-level counters, labeled by flow so shared
// destination addresses never collide in the registry. A nil *Metrics
// disables recording.
type Metrics struct {
	recordsRelayed *prometheus.CounterVec
	bytesRelayed   *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	activeTasks    prometheus.Gauge
}

// NewMetrics registers the engine counters. Returns nil when the registry
// is nil so callers can pass the result straight into Deps.
func NewMetrics(reg *metric.Registry) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		recordsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relogger_records_relayed_total",
			Help: "Records successfully written to a destination, by flow.",
		}, []string{"flow"}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relogger_bytes_relayed_total",
			Help: "Payload bytes successfully written to a destination, by flow.",
		}, []string{"flow"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relogger_source_errors_total",
			Help: "Unrecoverable source errors, by flow.",
		}, []string{"flow"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relogger_sink_errors_total",
			Help: "Failed destination writes, by flow.",
		}, []string{"flow"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relogger_active_source_tasks",
			Help: "Source tasks currently running.",
		}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"records_relayed_total", m.recordsRelayed},
		{"bytes_relayed_total", m.bytesRelayed},
		{"source_errors_total", m.sourceErrors},
		{"sink_errors_total", m.sinkErrors},
		{"active_source_tasks", m.activeTasks},
	}
	for _, r := range registrations {
		if err := reg.Register("relay", r.name, r.collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordRelayed(flow string, bytes int) {
	if m == nil {
		return
	}
	m.recordsRelayed.WithLabelValues(flow).Inc()
	m.bytesRelayed.WithLabelValues(flow).Add(float64(bytes))
}

func (m *Metrics) recordSourceError(flow string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(flow).Inc()
}

func (m *Metrics) recordSinkError(flow string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(flow).Inc()
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

func (m *Metrics) taskEnded() {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
}
