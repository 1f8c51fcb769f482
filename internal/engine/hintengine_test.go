package engine

import (
	"errors"
	"testing"

	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	"github.com/drblury/traceflow/internal/engine/trace"
)

func TestHintEngineStampsAcceptedHints(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)
	capture := &captureListener{}

	if err := engine.AddRule(&fakeRule{name: "marker"}); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}
	if err := engine.AddHintListener("capture", capture); err != nil {
		t.Fatalf("adding listener failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(7, trace.TypeLayout, 42)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}

	hints := capture.Hints()
	if len(hints) != 1 {
		t.Fatalf("expected 1 hint, got %d", len(hints))
	}
	hint := hints[0]
	if hint.ID == "" {
		t.Fatal("expected a stamped hint ID")
	}
	if hint.Rule != "marker" {
		t.Fatalf("expected rule name marker, got %s", hint.Rule)
	}
	if hint.RefSequence != 7 {
		t.Fatalf("expected ref sequence 7, got %d", hint.RefSequence)
	}
	if engine.Emitted() != 1 {
		t.Fatalf("expected 1 emitted hint, got %d", engine.Emitted())
	}
}

func TestHintEngineDeliversAfterFullRulePass(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)
	capture := &captureListener{}
	if err := engine.AddHintListener("capture", capture); err != nil {
		t.Fatalf("adding listener failed: %v", err)
	}

	first := &fakeRule{name: "first", fn: func(rec *trace.EventRecord, emit trace.EmitFunc) error {
		emit(rec.Time, "from first", rec.Sequence, trace.SeverityInfo)
		return nil
	}}
	second := &fakeRule{name: "second", fn: func(rec *trace.EventRecord, emit trace.EmitFunc) error {
		// The first rule's emission must still be staged, not delivered.
		if capture.Len() != 0 {
			t.Error("hints were delivered before the rule pass completed")
		}
		emit(rec.Time, "from second", rec.Sequence, trace.SeverityWarning)
		return nil
	}}
	if err := engine.AddRule(first); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}
	if err := engine.AddRule(second); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(0, trace.TypePaint, 1)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}

	hints := capture.Hints()
	if len(hints) != 2 {
		t.Fatalf("expected 2 hints, got %d", len(hints))
	}
	if hints[0].Message != "from first" || hints[1].Message != "from second" {
		t.Fatalf("expected emission order to be preserved, got %q then %q",
			hints[0].Message, hints[1].Message)
	}
}

func TestHintEngineCapsPendingHints(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 2)
	capture := &captureListener{}
	if err := engine.AddHintListener("capture", capture); err != nil {
		t.Fatalf("adding listener failed: %v", err)
	}

	noisy := &fakeRule{name: "noisy", fn: func(rec *trace.EventRecord, emit trace.EmitFunc) error {
		for i := 0; i < 5; i++ {
			emit(rec.Time, "finding", rec.Sequence, trace.SeverityInfo)
		}
		return nil
	}}
	if err := engine.AddRule(noisy); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(0, trace.TypeDomEvent, 1)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}

	if capture.Len() != 2 {
		t.Fatalf("expected 2 delivered hints, got %d", capture.Len())
	}
	if engine.Emitted() != 2 {
		t.Fatalf("expected 2 emitted hints, got %d", engine.Emitted())
	}
	if engine.DroppedOverflow() != 3 {
		t.Fatalf("expected 3 overflow drops, got %d", engine.DroppedOverflow())
	}
}

func TestHintEngineIsolatesRuleErrors(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	var sources []string
	engine.setReporter(func(source string, sequence int64, err error) {
		sources = append(sources, source)
	})

	broken := &fakeRule{name: "broken", fn: func(*trace.EventRecord, trace.EmitFunc) error {
		return errors.New("boom")
	}}
	healthy := &fakeRule{name: "healthy"}
	if err := engine.AddRule(broken); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}
	if err := engine.AddRule(healthy); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(3, trace.TypeDomEvent, 1)); err != nil {
		t.Fatalf("expected rule errors to be absorbed, got %v", err)
	}

	if len(sources) != 1 || sources[0] != "rule:broken" {
		t.Fatalf("expected one report from rule:broken, got %v", sources)
	}
	// The healthy rule still emitted.
	if engine.Emitted() != 1 {
		t.Fatalf("expected the healthy rule to emit, got %d", engine.Emitted())
	}
}

func TestHintEngineIsolatesRulePanics(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	var reported []error
	engine.setReporter(func(source string, sequence int64, err error) {
		reported = append(reported, err)
	})

	panicky := &fakeRule{name: "panicky", fn: func(*trace.EventRecord, trace.EmitFunc) error {
		panic("rule meltdown")
	}}
	healthy := &fakeRule{name: "healthy"}
	if err := engine.AddRule(panicky); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}
	if err := engine.AddRule(healthy); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(0, trace.TypeDomEvent, 1)); err != nil {
		t.Fatalf("expected rule panics to be absorbed, got %v", err)
	}

	if len(reported) != 1 {
		t.Fatalf("expected one failure report, got %d", len(reported))
	}
	if got := reported[0].Error(); got != "rule panicked: rule meltdown" {
		t.Fatalf("unexpected panic report: %s", got)
	}
	if engine.Emitted() != 1 {
		t.Fatalf("expected the healthy rule to emit, got %d", engine.Emitted())
	}
}

func TestHintEngineAddRuleValidation(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	if err := engine.AddRule(nil); !errors.Is(err, errspkg.ErrRuleRequired) {
		t.Fatalf("expected ErrRuleRequired, got %v", err)
	}
	if err := engine.AddRule(&fakeRule{name: ""}); !errors.Is(err, errspkg.ErrRuleNameRequired) {
		t.Fatalf("expected ErrRuleNameRequired, got %v", err)
	}
}

func TestHintEngineRemoveRule(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	for _, name := range []string{"a", "b", "a"} {
		if err := engine.AddRule(&fakeRule{name: name}); err != nil {
			t.Fatalf("adding rule failed: %v", err)
		}
	}

	if !engine.RemoveRule("a") {
		t.Fatal("expected RemoveRule to report a removal")
	}
	if engine.RemoveRule("a") {
		t.Fatal("expected the second removal to be a no-op")
	}
	if got := engine.Rules(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only rule b to remain, got %v", got)
	}
}

func TestHintEngineListenerRegistration(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	if err := engine.AddHintListener("x", nil); !errors.Is(err, errspkg.ErrListenerRequired) {
		t.Fatalf("expected ErrListenerRequired, got %v", err)
	}
	if err := engine.AddHintListener("", &captureListener{}); !errors.Is(err, errspkg.ErrListenerNameRequired) {
		t.Fatalf("expected ErrListenerNameRequired, got %v", err)
	}

	first := &captureListener{}
	second := &captureListener{}
	if err := engine.AddHintListener("first", first); err != nil {
		t.Fatalf("adding listener failed: %v", err)
	}
	if err := engine.AddHintListener("second", second); err != nil {
		t.Fatalf("adding listener failed: %v", err)
	}
	if err := engine.AddRule(&fakeRule{name: "marker"}); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	if err := engine.OnEventRecord(numberedRecord(0, trace.TypeDomEvent, 1)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}
	if first.Len() != 1 || second.Len() != 1 {
		t.Fatalf("expected both listeners to receive the hint, got %d and %d",
			first.Len(), second.Len())
	}

	if !engine.RemoveHintListener("first") {
		t.Fatal("expected RemoveHintListener to report a removal")
	}
	if err := engine.OnEventRecord(numberedRecord(1, trace.TypeDomEvent, 2)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}
	if first.Len() != 1 {
		t.Fatalf("expected the removed listener to stop receiving, got %d", first.Len())
	}
	if second.Len() != 2 {
		t.Fatalf("expected the remaining listener to keep receiving, got %d", second.Len())
	}
}

func TestHintEngineRuleChangesApplyToNextRecord(t *testing.T) {
	engine := NewHintEngine(newTestLogger(), 0)

	late := &fakeRule{name: "late"}
	registrar := &fakeRule{name: "registrar", fn: func(rec *trace.EventRecord, emit trace.EmitFunc) error {
		if len(engine.Rules()) == 1 {
			return engine.AddRule(late)
		}
		return nil
	}}
	if err := engine.AddRule(registrar); err != nil {
		t.Fatalf("adding rule failed: %v", err)
	}

	// The record that triggers the registration is evaluated against the
	// rule set it arrived with.
	if err := engine.OnEventRecord(numberedRecord(0, trace.TypeDomEvent, 1)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}
	if engine.Emitted() != 0 {
		t.Fatalf("expected the late rule to be skipped for record 0, got %d emissions", engine.Emitted())
	}

	if err := engine.OnEventRecord(numberedRecord(1, trace.TypeDomEvent, 2)); err != nil {
		t.Fatalf("record evaluation failed: %v", err)
	}
	if engine.Emitted() != 1 {
		t.Fatalf("expected the late rule to run for record 1, got %d emissions", engine.Emitted())
	}
}
