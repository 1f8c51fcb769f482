package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// Reasons a hint can be dropped instead of attached, used as the label of
// the hints_dropped_total counter.
const (
	DropReasonUnassociated    = "unassociated"
	DropReasonUnknownSequence = "unknown_sequence"
	DropReasonQueueOverflow   = "queue_overflow"
)

// PipelineMetrics exposes the dispatch pipeline to Prometheus. All series
// live under the traceflow namespace.
type PipelineMetrics struct {
	mu sync.Mutex

	recordsDispatched *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	hintsEmitted      *prometheus.CounterVec
	hintsDropped      *prometheus.CounterVec
	arenaRecords      prometheus.Gauge
	traceLength       prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// newPipelineCounterVec creates a counter vec in the traceflow namespace.
func newPipelineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "traceflow",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newPipelineHistogramVec creates a histogram vec in the traceflow namespace.
func newPipelineHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "traceflow",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// newPipelineGauge creates a gauge in the traceflow namespace.
func newPipelineGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "traceflow",
			Name:      name,
			Help:      help,
		},
	)
}

// NewPipelineMetrics creates the pipeline collectors. Call Register before
// dispatching records.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		registerer:        registerer,
		recordsDispatched: newPipelineCounterVec("records_dispatched_total", "Total number of event records dispatched to the sub-models", []string{"type"}),
		dispatchDuration:  newPipelineHistogramVec("dispatch_duration_seconds", "Time one sub-model spent absorbing one record", []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1}, []string{"submodel"}),
		hintsEmitted:      newPipelineCounterVec("hints_emitted_total", "Total number of hints accepted from analysis rules", []string{"rule", "severity"}),
		hintsDropped:      newPipelineCounterVec("hints_dropped_total", "Total number of hints dropped instead of attached", []string{"reason"}),
		arenaRecords:      newPipelineGauge("arena_records", "Number of event records currently held in the sequence arena"),
		traceLength:       newPipelineGauge("trace_length", "Number of serialized records in the trace copy"),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.recordsDispatched,
		m.dispatchDuration,
		m.hintsEmitted,
		m.hintsDropped,
		m.arenaRecords,
		m.traceLength,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDispatched counts one record entering fan-out.
func (m *PipelineMetrics) RecordDispatched(recordType trace.RecordType) {
	m.recordsDispatched.WithLabelValues(recordType.String()).Inc()
}

// ObserveDispatch records how long one sub-model took for one record.
func (m *PipelineMetrics) ObserveDispatch(subModel string, duration time.Duration) {
	m.dispatchDuration.WithLabelValues(subModel).Observe(duration.Seconds())
}

// HintEmitted counts one hint accepted from a rule.
func (m *PipelineMetrics) HintEmitted(rule string, severity trace.Severity) {
	m.hintsEmitted.WithLabelValues(rule, severity.String()).Inc()
}

// HintDropped counts one dropped hint.
func (m *PipelineMetrics) HintDropped(reason string) {
	m.hintsDropped.WithLabelValues(reason).Inc()
}

// AddHintsDropped counts several dropped hints at once.
func (m *PipelineMetrics) AddHintsDropped(reason string, count int) {
	if count <= 0 {
		return
	}
	m.hintsDropped.WithLabelValues(reason).Add(float64(count))
}

// SetArenaSize publishes the current arena size.
func (m *PipelineMetrics) SetArenaSize(n int) {
	m.arenaRecords.Set(float64(n))
}

// SetTraceLength publishes the current trace copy length.
func (m *PipelineMetrics) SetTraceLength(n int) {
	m.traceLength.Set(float64(n))
}
