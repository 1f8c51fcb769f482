package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// Dispatch hands one event record to one sub-model.
type Dispatch func(sub SubModel, rec *trace.EventRecord) error

// DispatchMiddleware wraps a Dispatch with cross-cutting behaviour. The
// chain wraps every sub-model invocation of the fan-out individually.
type DispatchMiddleware func(next Dispatch) Dispatch

// MiddlewareBuilder constructs a dispatch middleware using the session it is
// registered on.
type MiddlewareBuilder func(*Session) (DispatchMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a
// Session. Middleware takes precedence over Builder when both are set.
type MiddlewareRegistration struct {
	Name       string
	Middleware DispatchMiddleware
	Builder    MiddlewareBuilder
}

// PanicError wraps a panic recovered during sub-model dispatch so it can
// travel the ordinary error path.
type PanicError struct {
	SubModel string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("sub-model %s panicked: %v", e.SubModel, e.Value)
}

// DefaultMiddlewares returns the standard middleware chain used by the
// Session constructor. Order matters: the first registration is outermost,
// so the recoverer sits directly around the sub-model and converts panics
// into errors before the other layers observe the result.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogRecordsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// LogRecordsMiddleware logs every sub-model dispatch at debug level.
func LogRecordsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_records",
		Builder: func(s *Session) (DispatchMiddleware, error) {
			l := logger
			if l == nil {
				l = s.logger
			}
			if l == nil {
				return nil, errors.New("log records middleware requires a logger")
			}
			return logRecordsMiddleware(l), nil
		},
	}
}

func logRecordsMiddleware(logger loggingpkg.ServiceLogger) DispatchMiddleware {
	return func(next Dispatch) Dispatch {
		return func(sub SubModel, rec *trace.EventRecord) error {
			logger.Debug("Dispatching record", loggingpkg.LogFields{
				"submodel": sub.Name(),
				"sequence": rec.Sequence,
				"type":     rec.Type.String(),
				"time_ms":  rec.Time,
			})
			return next(sub, rec)
		}
	}
}

// TracerMiddleware wraps each sub-model dispatch in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Session) (DispatchMiddleware, error) {
			return tracerMiddleware(), nil
		},
	}
}

func tracerMiddleware() DispatchMiddleware {
	return func(next Dispatch) Dispatch {
		return func(sub SubModel, rec *trace.EventRecord) error {
			tracer := otel.Tracer("traceflow-dispatch")
			_, span := tracer.Start(
				context.Background(),
				sub.Name(),
				oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.Int64("record.sequence", rec.Sequence),
				attribute.String("record.type", rec.Type.String()),
				attribute.Float64("record.time_ms", rec.Time),
			)

			err := next(sub, rec)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// MetricsMiddleware observes per-sub-model dispatch durations in the
// session's pipeline metrics. Skipped when metrics are disabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Session) (DispatchMiddleware, error) {
			m := s.metrics
			if m == nil {
				return nil, nil
			}
			return func(next Dispatch) Dispatch {
				return func(sub SubModel, rec *trace.EventRecord) error {
					start := time.Now()
					err := next(sub, rec)
					m.ObserveDispatch(sub.Name(), time.Since(start))
					return err
				}
			}, nil
		},
	}
}

// RecovererMiddleware converts sub-model panics into errors so they feed the
// fail-fast path instead of crashing the dispatch goroutine.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Middleware: func(next Dispatch) Dispatch {
			return func(sub SubModel, rec *trace.EventRecord) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = &PanicError{SubModel: sub.Name(), Value: r}
					}
				}()
				return next(sub, rec)
			}
		},
	}
}

// RegisterMiddleware attaches the supplied middleware to the session's
// dispatch chain. Middlewares registered earlier run further out.
func (s *Session) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw DispatchMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.middlewares = append(s.middlewares, mw)
	s.rebuildDispatch()
	return nil
}

func (s *Session) rebuildDispatch() {
	dispatch := func(sub SubModel, rec *trace.EventRecord) error {
		return sub.OnEventRecord(rec)
	}
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		dispatch = s.middlewares[i](dispatch)
	}
	s.dispatch = dispatch
}
