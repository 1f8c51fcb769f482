package engine

import (
	"fmt"
	"sync"
	"time"

	configpkg "github.com/drblury/traceflow/internal/engine/config"
	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	"github.com/drblury/traceflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	rulespkg "github.com/drblury/traceflow/internal/engine/rules"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// SubModel is a consumer of the event record stream. The session fans every
// record out to all registered sub-models in registration order. Sub-models
// must not mutate the record's Sequence, Type, Time, or Data.
type SubModel interface {
	Name() string
	OnEventRecord(rec *trace.EventRecord) error
}

// FailureReporter receives dispatch and rule failures. Source is the name of
// the failing sub-model, or "rule:<name>" for an isolated rule failure.
type FailureReporter func(source string, sequence int64, err error)

// SessionDependencies holds the optional collaborators a Session can use.
// The zero value selects the default sub-models, rules, and middlewares.
type SessionDependencies struct {
	// SubModels are appended after the default sub-models and before the
	// hint engine, in slice order.
	SubModels []SubModel
	// DisableDefaultSubModels skips the UI event, network resource, tab
	// change, and profile models. The hint engine host is structural and
	// always registered; the stream validator is governed by DebugMode.
	DisableDefaultSubModels bool

	// Rules are appended after the default rules.
	Rules []Rule
	// DisableDefaultRules skips the built-in caching rule.
	DisableDefaultRules bool

	// HintListeners are registered after the session's own hint sink.
	HintListeners []HintListenerRegistration

	// Hooks are invoked around every sub-model dispatch.
	Hooks SessionHooks

	// Middlewares are appended after the default middleware chain.
	Middlewares []MiddlewareRegistration
	// DisableDefaultMiddlewares skips the default chain when true.
	DisableDefaultMiddlewares bool

	// FailureReporter replaces the default reporter, which logs failures.
	FailureReporter FailureReporter

	// ErrorClassifier replaces the default dispatch stats classifier.
	ErrorClassifier ErrorClassifier

	// Metrics overrides the pipeline metrics instance, mainly so tests can
	// supply a private registry. Nil builds one when metrics are enabled.
	Metrics *PipelineMetrics
}

// SessionSnapshot is a point-in-time aggregate of the session state, served
// by the web UI.
type SessionSnapshot struct {
	Records                uint64            `json:"records"`
	ArenaSize              int               `json:"arena_size"`
	TraceLength            int               `json:"trace_length"`
	NextSequence           int64             `json:"next_sequence"`
	HintsAttached          uint64            `json:"hints_attached"`
	HintsBySeverity        map[string]uint64 `json:"hints_by_severity"`
	DroppedUnassociated    uint64            `json:"dropped_unassociated"`
	DroppedUnknownSequence uint64            `json:"dropped_unknown_sequence"`
	DroppedOverflow        uint64            `json:"dropped_overflow"`
}

// Session is the dispatch hub for one traced browser target. Records enter
// through OnEventRecord, one at a time; the session owns sequence
// assignment, the trace copy, the sequence arena, and the fan-out to the
// sub-models. Hints come back through OnHint and are attached to the arena
// record they reference.
//
// Dispatch is single-threaded by contract: callers must not invoke
// OnEventRecord concurrently. Accessors and OnHint are safe from any
// goroutine.
type Session struct {
	conf   *configpkg.Config
	logger loggingpkg.ServiceLogger

	mu                sync.RWMutex
	nextSeq           int64
	arena             map[int64]*trace.EventRecord
	traceCopy         []string
	records           uint64
	hintsAttached     uint64
	hintsBySeverity   map[trace.Severity]uint64
	droppedUnassoc    uint64
	droppedUnknownSeq uint64

	subModels []*SubModelInfo

	dispatch    Dispatch
	middlewares []DispatchMiddleware

	validator  *StreamValidator
	uiEvents   *UIEventModel
	network    *NetworkResourceModel
	navigation *TabChangeModel
	profile    *ProfileModel
	hintEngine *HintEngine

	reporter        FailureReporter
	errorClassifier ErrorClassifier
	usage           *usageSampler
	metrics         *PipelineMetrics
}

// NewSession constructs a session for the supplied configuration. The
// sub-model set is fixed once this returns; rules and hint listeners can
// still be added at runtime through the hint engine.
func NewSession(conf *configpkg.Config, logger loggingpkg.ServiceLogger, deps SessionDependencies) (*Session, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	s := &Session{
		conf:            conf,
		logger:          logger,
		arena:           make(map[int64]*trace.EventRecord),
		hintsBySeverity: make(map[trace.Severity]uint64),
		usage:           newUsageSampler(),
	}

	if deps.FailureReporter != nil {
		s.reporter = deps.FailureReporter
	} else {
		s.reporter = s.logFailure
	}
	if deps.ErrorClassifier != nil {
		s.errorClassifier = deps.ErrorClassifier
	} else {
		s.errorClassifier = defaultErrorClassifier
	}

	if deps.Metrics != nil {
		s.metrics = deps.Metrics
	} else if conf.MetricsEnabled {
		s.metrics = NewPipelineMetrics(nil)
	}
	if s.metrics != nil {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}

	s.hintEngine = NewHintEngine(logger, conf.MaxPendingHints)
	s.hintEngine.setReporter(s.reportFailure)
	s.hintEngine.setMetrics(s.metrics)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	if err := s.registerConfiguredSubModels(deps); err != nil {
		return nil, err
	}

	if !deps.DisableDefaultRules && s.network != nil {
		if err := s.hintEngine.AddRule(rulespkg.NewCacheControl(s.network)); err != nil {
			return nil, err
		}
	}
	for _, rule := range deps.Rules {
		if err := s.hintEngine.AddRule(rule); err != nil {
			return nil, err
		}
	}

	if err := s.hintEngine.AddHintListener("session", HintListenerFunc(s.OnHint)); err != nil {
		return nil, err
	}
	for _, reg := range deps.HintListeners {
		if err := s.hintEngine.AddHintListener(reg.Name, reg.Listener); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Session) registerConfiguredMiddlewares(deps SessionDependencies) error {
	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = DefaultMiddlewares()
	}
	registrations = append(registrations, deps.Middlewares...)
	if !deps.Hooks.empty() {
		registrations = append(registrations, HooksMiddleware(deps.Hooks))
	}

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	if s.dispatch == nil {
		s.rebuildDispatch()
	}
	return nil
}

func (s *Session) registerConfiguredSubModels(deps SessionDependencies) error {
	if s.conf.DebugMode {
		s.validator = NewStreamValidator()
		if err := s.registerSubModel(s.validator); err != nil {
			return err
		}
	}

	if !deps.DisableDefaultSubModels {
		s.uiEvents = NewUIEventModel()
		s.network = NewNetworkResourceModel()
		s.navigation = NewTabChangeModel()
		s.profile = NewProfileModel()
		for _, sub := range []SubModel{s.uiEvents, s.network, s.navigation, s.profile} {
			if err := s.registerSubModel(sub); err != nil {
				return err
			}
		}
	}

	for _, sub := range deps.SubModels {
		if err := s.registerSubModel(sub); err != nil {
			return err
		}
	}

	// The hint engine goes last so every other sub-model has absorbed the
	// record before rules inspect it.
	return s.registerSubModel(s.hintEngine)
}

func (s *Session) registerSubModel(sub SubModel) error {
	if sub == nil {
		return errspkg.ErrSubModelRequired
	}
	name := sub.Name()
	if name == "" {
		return errspkg.ErrSubModelNameRequired
	}
	for _, info := range s.subModels {
		if info.Name == name {
			return fmt.Errorf("%w: %s", errspkg.ErrDuplicateSubModel, name)
		}
	}

	s.subModels = append(s.subModels, &SubModelInfo{
		Name:  name,
		Stats: newDispatchStats(name, s.usage),
		sub:   sub,
	})
	return nil
}

// OnEventRecord ingests one event record: it assigns a sequence when the
// record arrived unnumbered, appends the serialized form to the trace copy,
// indexes the record in the arena, and fans it out to the sub-models in
// registration order.
//
// Fan-out is fail-fast per record: the first sub-model failure is reported
// and the remaining sub-models are skipped for this record only. The next
// record processes normally.
func (s *Session) OnEventRecord(rec *trace.EventRecord) error {
	if rec == nil {
		return errspkg.ErrRecordRequired
	}

	s.mu.Lock()
	if rec.Sequence < 0 {
		rec.Sequence = s.nextSeq
	}
	if rec.Sequence >= s.nextSeq {
		s.nextSeq = rec.Sequence + 1
	}

	serialized, err := jsoncodec.MarshalToString(rec)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to serialize event record: %w", err)
	}
	s.traceCopy = append(s.traceCopy, serialized)
	s.arena[rec.Sequence] = rec
	s.records++
	arenaSize := len(s.arena)
	traceLength := len(s.traceCopy)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDispatched(rec.Type)
		s.metrics.SetArenaSize(arenaSize)
		s.metrics.SetTraceLength(traceLength)
	}

	for _, info := range s.subModels {
		start := time.Now()
		err := s.dispatch(info.sub, rec)
		info.Stats.recordDispatch(time.Since(start), err, s.errorClassifier)
		if err != nil {
			s.reportFailure(info.Name, rec.Sequence, err)
			return fmt.Errorf("sub-model %s rejected record %d: %w", info.Name, rec.Sequence, err)
		}
	}
	return nil
}

// OnHint attaches a hint to the event record its RefSequence names. Hints
// carrying the unassociated sentinel or referencing a sequence the arena
// does not hold are dropped silently and counted.
func (s *Session) OnHint(hint *trace.HintRecord) {
	if hint == nil {
		return
	}

	if hint.RefSequence < 0 {
		s.mu.Lock()
		s.droppedUnassoc++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.HintDropped(DropReasonUnassociated)
		}
		return
	}

	s.mu.Lock()
	rec, ok := s.arena[hint.RefSequence]
	if !ok {
		s.droppedUnknownSeq++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.HintDropped(DropReasonUnknownSequence)
		}
		return
	}
	rec.AddHint(hint)
	s.hintsAttached++
	s.hintsBySeverity[hint.Severity]++
	s.mu.Unlock()
}

// Clear atomically replaces the arena and the trace copy with fresh empty
// instances. Sub-model state is untouched; resetting a sub-model is an
// explicit, separate operation. Lifetime counters keep counting.
func (s *Session) Clear() {
	s.mu.Lock()
	s.arena = make(map[int64]*trace.EventRecord)
	s.traceCopy = nil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetArenaSize(0)
		s.metrics.SetTraceLength(0)
	}
}

// FindEventRecord returns the arena record with the given sequence number.
// The record is live: hints may still attach to it while held.
func (s *Session) FindEventRecord(sequence int64) (*trace.EventRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.arena[sequence]
	return rec, ok
}

// TraceCopy returns a copy of the serialized record snapshots in arrival
// order, for export.
func (s *Session) TraceCopy() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.traceCopy))
	copy(out, s.traceCopy)
	return out
}

// Snapshot returns a point-in-time aggregate of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeverity := make(map[string]uint64, len(s.hintsBySeverity))
	for sev, count := range s.hintsBySeverity {
		bySeverity[sev.String()] = count
	}

	return SessionSnapshot{
		Records:                s.records,
		ArenaSize:              len(s.arena),
		TraceLength:            len(s.traceCopy),
		NextSequence:           s.nextSeq,
		HintsAttached:          s.hintsAttached,
		HintsBySeverity:        bySeverity,
		DroppedUnassociated:    s.droppedUnassoc,
		DroppedUnknownSequence: s.droppedUnknownSeq,
		DroppedOverflow:        s.hintEngine.DroppedOverflow(),
	}
}

// SubModels returns the registered sub-models with their dispatch stats, in
// registration order.
func (s *Session) SubModels() []*SubModelInfo {
	out := make([]*SubModelInfo, len(s.subModels))
	copy(out, s.subModels)
	return out
}

// UIEvents returns the default UI event model, nil when defaults are
// disabled.
func (s *Session) UIEvents() *UIEventModel { return s.uiEvents }

// NetworkResources returns the default network resource model, nil when
// defaults are disabled.
func (s *Session) NetworkResources() *NetworkResourceModel { return s.network }

// Navigation returns the default tab change model, nil when defaults are
// disabled.
func (s *Session) Navigation() *TabChangeModel { return s.navigation }

// Profile returns the default profile model, nil when defaults are disabled.
func (s *Session) Profile() *ProfileModel { return s.profile }

// HintEngine returns the hint engine host. Never nil.
func (s *Session) HintEngine() *HintEngine { return s.hintEngine }

// Validator returns the stream validator, nil outside debug mode.
func (s *Session) Validator() *StreamValidator { return s.validator }

// Metrics returns the pipeline metrics, nil when metrics are disabled.
func (s *Session) Metrics() *PipelineMetrics { return s.metrics }

func (s *Session) reportFailure(source string, sequence int64, err error) {
	if s.reporter != nil {
		s.reporter(source, sequence, err)
		return
	}
	s.logFailure(source, sequence, err)
}

func (s *Session) logFailure(source string, sequence int64, err error) {
	s.logger.Error("Dispatch failure", err, loggingpkg.LogFields{
		"source":   source,
		"sequence": sequence,
	})
}
