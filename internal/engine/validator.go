package engine

import (
	"fmt"
	"sync"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// StreamValidatorName is the sub-model name the validator registers under.
const StreamValidatorName = "stream_validator"

// UnroutableRecordError reports a record whose type no built-in sub-model
// understands. Production dispatch ignores unknown types; the validator
// turns them into loud failures during development.
type UnroutableRecordError struct {
	Type     trace.RecordType
	Sequence int64
}

func (e *UnroutableRecordError) Error() string {
	return fmt.Sprintf("unroutable record: unknown type %d at sequence %d", int(e.Type), e.Sequence)
}

// StreamValidationError reports an ordering violation in the record stream:
// a sequence number that did not increase or a timestamp that went backwards.
type StreamValidationError struct {
	Sequence int64
	Reason   string
}

func (e *StreamValidationError) Error() string {
	return fmt.Sprintf("invalid record stream at sequence %d: %s", e.Sequence, e.Reason)
}

// StreamValidator asserts the invariants the analysis relies on: strictly
// increasing sequence numbers, non-decreasing timestamps, and known record
// types. It registers first so a broken stream fails before any state is
// accumulated. Intended for debug mode; a rejected record skips every
// later sub-model.
type StreamValidator struct {
	mu           sync.Mutex
	seen         bool
	lastSequence int64
	lastTime     float64
	checked      uint64
}

// NewStreamValidator returns a validator with no stream history.
func NewStreamValidator() *StreamValidator {
	return &StreamValidator{}
}

func (v *StreamValidator) Name() string { return StreamValidatorName }

func (v *StreamValidator) OnEventRecord(rec *trace.EventRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !rec.Type.Known() {
		return &UnroutableRecordError{Type: rec.Type, Sequence: rec.Sequence}
	}
	if v.seen {
		if rec.Sequence <= v.lastSequence {
			return &StreamValidationError{
				Sequence: rec.Sequence,
				Reason:   fmt.Sprintf("sequence %d does not follow %d", rec.Sequence, v.lastSequence),
			}
		}
		if rec.Time < v.lastTime {
			return &StreamValidationError{
				Sequence: rec.Sequence,
				Reason:   fmt.Sprintf("time %.1fms went backwards from %.1fms", rec.Time, v.lastTime),
			}
		}
	}

	v.seen = true
	v.lastSequence = rec.Sequence
	v.lastTime = rec.Time
	v.checked++
	return nil
}

// Checked reports how many records passed validation.
func (v *StreamValidator) Checked() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.checked
}

// Reset forgets the stream history, for example after a session Clear.
func (v *StreamValidator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = false
	v.lastSequence = 0
	v.lastTime = 0
	v.checked = 0
}
