package engine

import (
	"fmt"
	"sync"

	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	idspkg "github.com/drblury/traceflow/internal/engine/ids"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// DefaultMaxPendingHints caps how many hints one record's rule pass may
// stage before further emissions are dropped.
const DefaultMaxPendingHints = 256

// Rule inspects event records and emits hints about likely performance
// problems. Rules are evaluated in registration order for every record the
// hint engine receives; a rule that does not recognize the record type
// returns nil without emitting.
type Rule interface {
	Name() string
	OnEventRecord(rec *trace.EventRecord, emit trace.EmitFunc) error
}

// HintListener receives every hint the engine accepts from a rule, in
// emission order, after the rule pass for the triggering record completes.
type HintListener interface {
	OnHint(hint *trace.HintRecord)
}

// HintListenerFunc adapts a plain function to the HintListener interface.
type HintListenerFunc func(hint *trace.HintRecord)

func (f HintListenerFunc) OnHint(hint *trace.HintRecord) { f(hint) }

// HintListenerRegistration names a listener so it can be removed later.
type HintListenerRegistration struct {
	Name     string
	Listener HintListener
}

type namedRule struct {
	name string
	rule Rule
}

type namedListener struct {
	name     string
	listener HintListener
}

// HintEngine hosts the analysis rules. It is registered on the session as
// an ordinary sub-model, last by default, so every other sub-model has
// absorbed a record before rules inspect it.
//
// Rule emissions are staged in a bounded per-record queue and forwarded to
// the listeners only after every rule has seen the record. Rule failures
// (errors and panics) are isolated per rule: the failure is reported and the
// remaining rules still evaluate, so one broken rule cannot silence the
// others or fail the dispatch.
type HintEngine struct {
	logger     loggingpkg.ServiceLogger
	maxPending int

	rulesMu sync.RWMutex
	rules   []namedRule

	listenersMu sync.RWMutex
	listeners   []namedListener

	statsMu         sync.Mutex
	emitted         uint64
	droppedOverflow uint64

	reporter FailureReporter
	metrics  *PipelineMetrics
}

// NewHintEngine returns a host with no rules and no listeners. maxPending
// of zero or less selects DefaultMaxPendingHints.
func NewHintEngine(logger loggingpkg.ServiceLogger, maxPending int) *HintEngine {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingHints
	}
	return &HintEngine{
		logger:     logger,
		maxPending: maxPending,
	}
}

func (e *HintEngine) Name() string { return HintEngineName }

// AddRule registers a rule. It takes effect for the next record; the record
// currently being evaluated keeps the rule set it arrived with.
func (e *HintEngine) AddRule(rule Rule) error {
	if rule == nil {
		return errspkg.ErrRuleRequired
	}
	name := rule.Name()
	if name == "" {
		return errspkg.ErrRuleNameRequired
	}

	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.rules = append(e.rules, namedRule{name: name, rule: rule})
	return nil
}

// RemoveRule unregisters every rule with the given name, effective for the
// next record. It reports whether any rule was removed.
func (e *HintEngine) RemoveRule(name string) bool {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	kept := e.rules[:0]
	removed := false
	for _, r := range e.rules {
		if r.name == name {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	e.rules = kept
	return removed
}

// Rules returns the names of the registered rules in evaluation order.
func (e *HintEngine) Rules() []string {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()

	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}

// AddHintListener registers a named listener. Listeners receive hints in
// registration order, effective for the next record.
func (e *HintEngine) AddHintListener(name string, listener HintListener) error {
	if listener == nil {
		return errspkg.ErrListenerRequired
	}
	if name == "" {
		return errspkg.ErrListenerNameRequired
	}

	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, namedListener{name: name, listener: listener})
	return nil
}

// RemoveHintListener unregisters every listener with the given name. It
// reports whether any listener was removed.
func (e *HintEngine) RemoveHintListener(name string) bool {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	kept := e.listeners[:0]
	removed := false
	for _, l := range e.listeners {
		if l.name == name {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	e.listeners = kept
	return removed
}

// OnEventRecord evaluates all registered rules against the record, then
// drains the staged hints to the listeners. It never fails the dispatch:
// rule failures are reported through the failure reporter instead.
func (e *HintEngine) OnEventRecord(rec *trace.EventRecord) error {
	e.rulesMu.RLock()
	rules := make([]namedRule, len(e.rules))
	copy(rules, e.rules)
	e.rulesMu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	pending := make([]*trace.HintRecord, 0, 4)
	dropped := 0

	for _, r := range rules {
		ruleName := r.name
		emit := func(timestamp float64, message string, refSequence int64, severity trace.Severity) {
			if len(pending) >= e.maxPending {
				dropped++
				return
			}
			hint := trace.NewHintRecord(ruleName, timestamp, message, refSequence, severity)
			hint.ID = idspkg.CreateULID()
			pending = append(pending, hint)
		}

		if err := e.evaluateRule(r.rule, rec, emit); err != nil {
			e.reportRuleFailure(ruleName, rec.Sequence, err)
		}
	}

	if dropped > 0 {
		e.statsMu.Lock()
		e.droppedOverflow += uint64(dropped)
		e.statsMu.Unlock()
		if e.metrics != nil {
			e.metrics.AddHintsDropped(DropReasonQueueOverflow, dropped)
		}
		if e.logger != nil {
			e.logger.Info("Dropped hints over the pending queue cap", loggingpkg.LogFields{
				"sequence": rec.Sequence,
				"dropped":  dropped,
				"cap":      e.maxPending,
			})
		}
	}

	if len(pending) == 0 {
		return nil
	}

	e.listenersMu.RLock()
	listeners := make([]namedListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	e.statsMu.Lock()
	e.emitted += uint64(len(pending))
	e.statsMu.Unlock()

	for _, hint := range pending {
		if e.metrics != nil {
			e.metrics.HintEmitted(hint.Rule, hint.Severity)
		}
		for _, l := range listeners {
			l.listener.OnHint(hint)
		}
	}
	return nil
}

// evaluateRule runs one rule with panic isolation.
func (e *HintEngine) evaluateRule(rule Rule, rec *trace.EventRecord, emit trace.EmitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.OnEventRecord(rec, emit)
}

func (e *HintEngine) reportRuleFailure(ruleName string, sequence int64, err error) {
	if e.reporter != nil {
		e.reporter("rule:"+ruleName, sequence, err)
		return
	}
	if e.logger != nil {
		e.logger.Error("Rule failed", err, loggingpkg.LogFields{
			"rule":     ruleName,
			"sequence": sequence,
		})
	}
}

// Emitted reports how many hints have been accepted from rules.
func (e *HintEngine) Emitted() uint64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.emitted
}

// DroppedOverflow reports how many hints were dropped because a record's
// rule pass exceeded the pending queue cap.
func (e *HintEngine) DroppedOverflow() uint64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.droppedOverflow
}

func (e *HintEngine) setReporter(reporter FailureReporter) {
	e.reporter = reporter
}

func (e *HintEngine) setMetrics(metrics *PipelineMetrics) {
	e.metrics = metrics
}
