package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/traceflow/internal/engine/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// DispatchStats tracks per-sub-model dispatch performance. One instance is
// created per registered sub-model and updated after every record fan-out.
// Snapshots marshal as JSON for the web UI.
type DispatchStats struct {
	mu sync.Mutex `json:"-"`

	subModelName string `json:"-"`

	RecordsDispatched uint64    `json:"records_dispatched"`
	RecordsFailed     uint64    `json:"records_failed"`
	TotalDispatchTime int64     `json:"total_dispatch_time_ns"`
	LastDispatchedAt  time.Time `json:"last_dispatched_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	usage            *usageSampler     `json:"-"`
}

// SubModelInfo pairs a registered sub-model with its dispatch statistics for
// introspection endpoints.
type SubModelInfo struct {
	Name  string         `json:"name"`
	Stats *DispatchStats `json:"stats"`

	sub SubModel
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS      float64 `json:"current_rps"`
	WindowSeconds   float64 `json:"window_seconds"`
	RecordsInWindow uint64  `json:"records_in_window"`
	TotalRecords    uint64  `json:"total_records"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Panic      uint64 `json:"panic"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryBytes    uint64  `json:"memory_bytes"`
	GCPauseTotalNs uint64  `json:"gc_pause_total_ns"`
	Goroutines     int     `json:"goroutines"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets dispatch errors for the per-sub-model breakdown.
type ErrorClassifier func(error) ErrorCategory

func newDispatchStats(name string, sampler *usageSampler) *DispatchStats {
	return &DispatchStats{
		subModelName:     name,
		usage:            sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

// recordDispatch folds one fan-out result into the stats. Called on the
// dispatch goroutine after each sub-model invocation, including failed ones.
func (d *DispatchStats) recordDispatch(duration time.Duration, err error, classifier ErrorClassifier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.RecordsDispatched++
	if err != nil {
		d.RecordsFailed++
	}
	d.TotalDispatchTime += int64(duration)
	d.LastDispatchedAt = time.Now().UTC()

	if d.latencyWindow != nil {
		d.latencyWindow.Add(duration)
		snapshot := d.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if d.RecordsDispatched > 0 {
			snapshot.AverageNs = d.TotalDispatchTime / int64(d.RecordsDispatched)
		}
		d.Latency = snapshot
	}

	if d.throughputWindow != nil {
		snapshot := d.throughputWindow.AddAndSnapshot(time.Now())
		d.Throughput.CurrentRPS = snapshot.CurrentRPS
		d.Throughput.WindowSeconds = snapshot.WindowSeconds
		d.Throughput.RecordsInWindow = uint64(snapshot.Count)
	}
	d.Throughput.TotalRecords = d.RecordsDispatched

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	d.Errors.Record(classifier(err), err)

	if d.usage != nil {
		d.Resource = d.usage.Sample()
	}
}

func (d *DispatchStats) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	type Alias DispatchStats
	return jsoncodec.Marshal((*Alias)(d))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

// defaultErrorClassifier buckets stream validation failures separately from
// infrastructure errors so the web UI can tell a bad trace from a bad feed.
func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unroutable *UnroutableRecordError
	if errors.As(err, &unroutable) {
		return ErrorCategoryValidation
	}
	var validation *StreamValidationError
	if errors.As(err, &validation) {
		return ErrorCategoryValidation
	}
	var panicked *PanicError
	if errors.As(err, &panicked) {
		return ErrorCategoryPanic
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}
