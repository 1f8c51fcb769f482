package engine

import (
	"sync"

	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// DefaultRecentHintsSize is the capacity of the recent-hints ring when the
// configuration leaves it unset.
const DefaultRecentHintsSize = 100

// LoggingHintListener logs every attached hint at info level.
type LoggingHintListener struct {
	logger loggingpkg.ServiceLogger
}

// NewLoggingHintListener wraps the given logger as a hint listener.
func NewLoggingHintListener(logger loggingpkg.ServiceLogger) *LoggingHintListener {
	if logger == nil {
		panic("traceflow: logging hint listener requires a logger")
	}
	return &LoggingHintListener{logger: logger}
}

func (l *LoggingHintListener) OnHint(hint *trace.HintRecord) {
	l.logger.Info("Hint attached", loggingpkg.LogFields{
		"rule":         hint.Rule,
		"severity":     hint.Severity.String(),
		"ref_sequence": hint.RefSequence,
		"message":      hint.Message,
	})
}

// RecentHints keeps the newest hints in a fixed-size ring for the web UI.
type RecentHints struct {
	mu    sync.Mutex
	hints []*trace.HintRecord
	next  int
	total uint64
}

// NewRecentHints returns a ring holding up to size hints. A size of zero or
// less selects DefaultRecentHintsSize.
func NewRecentHints(size int) *RecentHints {
	if size <= 0 {
		size = DefaultRecentHintsSize
	}
	return &RecentHints{hints: make([]*trace.HintRecord, size)}
}

func (r *RecentHints) OnHint(hint *trace.HintRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hints[r.next] = hint
	r.next = (r.next + 1) % len(r.hints)
	r.total++
}

// Snapshot returns the retained hints, oldest first.
func (r *RecentHints) Snapshot() []*trace.HintRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.hints)
	retained := int(r.total)
	if r.total > uint64(size) {
		retained = size
	}

	out := make([]*trace.HintRecord, 0, retained)
	start := r.next - retained
	if start < 0 {
		start += size
	}
	for i := 0; i < retained; i++ {
		out = append(out, r.hints[(start+i)%size])
	}
	return out
}

// Total reports how many hints have passed through the ring, including ones
// already evicted.
func (r *RecentHints) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
