package engine

import (
	"time"

	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// RecordContext provides information about one sub-model dispatch to hooks.
type RecordContext struct {
	// SubModel is the name of the sub-model the record was dispatched to.
	SubModel string
	// Sequence is the record's sequence number.
	Sequence int64
	// Type is the record's type.
	Type trace.RecordType
	// Time is the record's trace timestamp in milliseconds.
	Time float64
	// StartedAt is when the dispatch started.
	StartedAt time.Time
	// Duration is how long the dispatch took (only set in OnRecordDone and
	// OnRecordError).
	Duration time.Duration
}

// SessionHooks defines callbacks for record dispatch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type SessionHooks struct {
	// OnRecordStart is called before a record is handed to a sub-model.
	OnRecordStart func(ctx RecordContext)

	// OnRecordDone is called when a sub-model accepts a record.
	// Duration will be set to how long the dispatch took.
	OnRecordDone func(ctx RecordContext)

	// OnRecordError is called when a sub-model rejects a record.
	// The error is passed as the second argument.
	// Duration will be set to how long the dispatch took before failing.
	OnRecordError func(ctx RecordContext, err error)
}

// Merge combines two SessionHooks, creating a new SessionHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h SessionHooks) Merge(other SessionHooks) SessionHooks {
	return SessionHooks{
		OnRecordStart: chainStartHooks(h.OnRecordStart, other.OnRecordStart),
		OnRecordDone:  chainDoneHooks(h.OnRecordDone, other.OnRecordDone),
		OnRecordError: chainErrorHooks(h.OnRecordError, other.OnRecordError),
	}
}

func (h SessionHooks) empty() bool {
	return h.OnRecordStart == nil && h.OnRecordDone == nil && h.OnRecordError == nil
}

func chainStartHooks(a, b func(RecordContext)) func(RecordContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RecordContext) {
		a(ctx)
		b(ctx)
	}
}

func chainDoneHooks(a, b func(RecordContext)) func(RecordContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RecordContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(RecordContext, error)) func(RecordContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RecordContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// HooksMiddleware creates a dispatch middleware that invokes the provided
// hooks around every sub-model dispatch.
func HooksMiddleware(hooks SessionHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "session_hooks",
		Builder: func(s *Session) (DispatchMiddleware, error) {
			return sessionHooksMiddleware(hooks), nil
		},
	}
}

func sessionHooksMiddleware(hooks SessionHooks) DispatchMiddleware {
	return func(next Dispatch) Dispatch {
		return func(sub SubModel, rec *trace.EventRecord) error {
			startTime := time.Now()

			recordCtx := RecordContext{
				SubModel:  sub.Name(),
				Sequence:  rec.Sequence,
				Type:      rec.Type,
				Time:      rec.Time,
				StartedAt: startTime,
			}

			if hooks.OnRecordStart != nil {
				hooks.OnRecordStart(recordCtx)
			}

			err := next(sub, rec)

			recordCtx.Duration = time.Since(startTime)

			if err != nil {
				if hooks.OnRecordError != nil {
					hooks.OnRecordError(recordCtx, err)
				}
			} else {
				if hooks.OnRecordDone != nil {
					hooks.OnRecordDone(recordCtx)
				}
			}

			return err
		}
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger interface {
	Info(msg string, fields loggingpkg.LogFields)
	Error(msg string, err error, fields loggingpkg.LogFields)
}) SessionHooks {
	return SessionHooks{
		OnRecordStart: func(ctx RecordContext) {
			logger.Info("Dispatch started", loggingpkg.LogFields{
				"submodel": ctx.SubModel,
				"sequence": ctx.Sequence,
				"type":     ctx.Type.String(),
			})
		},
		OnRecordDone: func(ctx RecordContext) {
			logger.Info("Dispatch completed", loggingpkg.LogFields{
				"submodel":    ctx.SubModel,
				"sequence":    ctx.Sequence,
				"type":        ctx.Type.String(),
				"duration_us": ctx.Duration.Microseconds(),
			})
		},
		OnRecordError: func(ctx RecordContext, err error) {
			logger.Error("Dispatch failed", err, loggingpkg.LogFields{
				"submodel":    ctx.SubModel,
				"sequence":    ctx.Sequence,
				"type":        ctx.Type.String(),
				"duration_us": ctx.Duration.Microseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that feed dispatch events to counters.
func MetricsHooks(onStart, onDone, onError func(subModel string, recordType trace.RecordType)) SessionHooks {
	return SessionHooks{
		OnRecordStart: func(ctx RecordContext) {
			if onStart != nil {
				onStart(ctx.SubModel, ctx.Type)
			}
		},
		OnRecordDone: func(ctx RecordContext) {
			if onDone != nil {
				onDone(ctx.SubModel, ctx.Type)
			}
		},
		OnRecordError: func(ctx RecordContext, err error) {
			if onError != nil {
				onError(ctx.SubModel, ctx.Type)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch errors.
func AlertingHooks(alertFunc func(ctx RecordContext, err error)) SessionHooks {
	return SessionHooks{
		OnRecordError: alertFunc,
	}
}
