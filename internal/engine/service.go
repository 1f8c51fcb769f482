package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/traceflow/internal/engine/config"
	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	feedpkg "github.com/drblury/traceflow/internal/engine/feed"
	handlerspkg "github.com/drblury/traceflow/internal/engine/handlers"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// recordPumpName is the Watermill handler name of the single record pump.
const recordPumpName = "traceflow_record_pump"

// ServiceDependencies holds the optional collaborators that the Service can
// use. Leave fields zero to get the defaults.
type ServiceDependencies struct {
	// Session customizes the session the service builds.
	Session SessionDependencies
	// FeedFactory overrides how the record feed is built. Nil selects the
	// registry-backed default.
	FeedFactory feedpkg.Factory
}

// Service wires a record feed, the dispatch session, hint egress, and the
// observability surfaces. The pump is a single Watermill handler, so
// dispatch stays single-threaded by construction.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	session *Session

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	recentHints *RecentHints

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Add rules
// and listeners through Session().HintEngine() before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if conf == nil {
		panic(errspkg.ErrConfigRequired)
	}
	if log == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	if err := conf.Validate(); err != nil {
		panic(errspkg.NewConfigValidationError(err))
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating trace analysis service",
		loggingpkg.LogFields{
			"feed_system": conf.FeedSystem,
			"config":      conf,
		})

	session, err := NewSession(conf, log, deps.Session)
	if err != nil {
		panic(err)
	}

	s := &Service{
		Conf:    conf,
		Logger:  log,
		session: session,
	}

	factory := deps.FeedFactory
	if factory == nil {
		factory = feedpkg.DefaultFactory()
	}
	fd, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}

	s.publisher = fd.Publisher
	s.subscriber = fd.Subscriber

	if caps := feedpkg.GetCapabilities(conf.FeedSystem); caps.RequiresSequenceAudit() && !conf.DebugMode {
		log.Info("Feed does not guarantee ordering; analysis assumes the producer numbers the stream",
			loggingpkg.LogFields{"feed_system": conf.FeedSystem})
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	s.registerPump()
	s.registerHintEgress()

	if conf.WebUIEnabled {
		s.recentHints = NewRecentHints(conf.RecentHintsSize)
		if err := session.HintEngine().AddHintListener("recent_hints", s.recentHints); err != nil {
			panic(err)
		}
	}

	if conf.MetricsEnabled && conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.Handler())
	}

	return s
}

// Start runs the record pump until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.StartWebUIServer()
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Session returns the dispatch session the service pumps records into.
func (s *Service) Session() *Session {
	return s.session
}

func (s *Service) registerPump() {
	topic := s.Conf.RecordsTopic
	if topic == "" {
		topic = configpkg.DefaultRecordsTopic
	}

	s.router.AddNoPublisherHandler(
		recordPumpName,
		topic,
		s.subscriber,
		s.pumpRecordMessage,
	)
}

// pumpRecordMessage is the single Watermill handler feeding the session. A
// decode failure nacks the message; a sub-model failure does not, because
// the failure has already been reported and redelivering the record would
// double-count it in every sub-model that accepted it.
func (s *Service) pumpRecordMessage(msg *message.Message) error {
	log := s.Logger.With(loggingpkg.LogFields{"message_uuid": msg.UUID})

	rec, err := handlerspkg.DecodeRecord(msg)
	if err != nil {
		log.Error("Rejecting undecodable record message", err, nil)
		return err
	}

	if lag := handlerspkg.FeedLag(msg, time.Now()); lag > 0 {
		log.Trace("Record pulled from feed", loggingpkg.LogFields{
			"feed_lag_ms": lag.Milliseconds(),
		})
	}

	if err := s.session.OnEventRecord(rec); err != nil {
		log.Error("Record dispatch failed", err, loggingpkg.LogFields{
			"sequence": rec.Sequence,
		})
	}
	return nil
}

func (s *Service) registerHintEgress() {
	if s.Conf.HintsTopic == "" {
		return
	}

	publisher, err := NewHintPublisher(s.publisher, s.Conf.HintsTopic, s.Logger)
	if err != nil {
		panic(err)
	}
	if err := s.session.HintEngine().AddHintListener("hint_egress", publisher); err != nil {
		panic(err)
	}
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
