package engine

import (
	"sync"
	"testing"

	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []capturedEntry
}

type capturedEntry struct {
	msg    string
	fields loggingpkg.LogFields
}

func (c *captureLogger) record(msg string, fields loggingpkg.LogFields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, capturedEntry{msg: msg, fields: fields})
}

func (c *captureLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger { return c }

func (c *captureLogger) Debug(msg string, fields loggingpkg.LogFields) { c.record(msg, fields) }

func (c *captureLogger) Info(msg string, fields loggingpkg.LogFields) { c.record(msg, fields) }

func (c *captureLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	c.record(msg, fields)
}

func (c *captureLogger) Trace(msg string, fields loggingpkg.LogFields) { c.record(msg, fields) }

func (c *captureLogger) Entries() []capturedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func ringHint(sequence int64) *trace.HintRecord {
	return &trace.HintRecord{
		Rule:        "ring-probe",
		Message:     "probe",
		RefSequence: sequence,
		Severity:    trace.SeverityWarning,
	}
}

func TestLoggingHintListenerLogsHintFields(t *testing.T) {
	logger := &captureLogger{}
	listener := NewLoggingHintListener(logger)

	listener.OnHint(&trace.HintRecord{
		Rule:        "Resource Caching",
		Message:     "URL http://example.com/a.png lacks an expiration",
		RefSequence: 7,
		Severity:    trace.SeverityCritical,
	})

	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.msg != "Hint attached" {
		t.Fatalf("unexpected log message %q", entry.msg)
	}
	if got := entry.fields["rule"]; got != "Resource Caching" {
		t.Fatalf("expected rule field, got %v", got)
	}
	if got := entry.fields["severity"]; got != trace.SeverityCritical.String() {
		t.Fatalf("expected severity field, got %v", got)
	}
	if got := entry.fields["ref_sequence"]; got != int64(7) {
		t.Fatalf("expected ref_sequence field, got %v", got)
	}
}

func TestNewLoggingHintListenerPanicsWithoutLogger(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected NewLoggingHintListener to panic without a logger")
		}
	}()
	NewLoggingHintListener(nil)
}

func TestRecentHintsSnapshotBeforeWrap(t *testing.T) {
	ring := NewRecentHints(3)
	ring.OnHint(ringHint(1))
	ring.OnHint(ringHint(2))

	got := ring.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 retained hints, got %d", len(got))
	}
	if got[0].RefSequence != 1 || got[1].RefSequence != 2 {
		t.Fatalf("expected oldest-first order, got %d then %d", got[0].RefSequence, got[1].RefSequence)
	}
	if ring.Total() != 2 {
		t.Fatalf("expected total 2, got %d", ring.Total())
	}
}

func TestRecentHintsEvictsOldestAfterWrap(t *testing.T) {
	ring := NewRecentHints(3)
	for seq := int64(1); seq <= 5; seq++ {
		ring.OnHint(ringHint(seq))
	}

	got := ring.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected ring capacity 3 retained, got %d", len(got))
	}
	for i, want := range []int64{3, 4, 5} {
		if got[i].RefSequence != want {
			t.Fatalf("position %d: expected sequence %d, got %d", i, want, got[i].RefSequence)
		}
	}
	if ring.Total() != 5 {
		t.Fatalf("expected total 5 including evicted, got %d", ring.Total())
	}
}

func TestRecentHintsZeroSizeSelectsDefault(t *testing.T) {
	ring := NewRecentHints(0)
	if len(ring.hints) != DefaultRecentHintsSize {
		t.Fatalf("expected default capacity %d, got %d", DefaultRecentHintsSize, len(ring.hints))
	}
}
