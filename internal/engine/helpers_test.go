package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/traceflow/internal/engine/config"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	"github.com/drblury/traceflow/internal/engine/trace"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{FeedSystem: "channel"}
}

func newTestSession(t *testing.T, conf *configpkg.Config, deps SessionDependencies) *Session {
	t.Helper()
	if conf == nil {
		conf = newTestConfig()
	}
	session, err := NewSession(conf, newTestLogger(), deps)
	if err != nil {
		t.Fatalf("session init failed: %v", err)
	}
	return session
}

type publishedMessage struct {
	topic string
	msg   *message.Message
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: msg})
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Published() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]publishedMessage, len(p.published))
	copy(clone, p.published)
	return clone
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

// fakeSubModel records the sequences it receives and fails or panics on
// demand.
type fakeSubModel struct {
	name     string
	err      error
	panicVal any

	mu   sync.Mutex
	seen []int64
}

func (f *fakeSubModel) Name() string { return f.name }

func (f *fakeSubModel) OnEventRecord(rec *trace.EventRecord) error {
	f.mu.Lock()
	f.seen = append(f.seen, rec.Sequence)
	f.mu.Unlock()
	if f.panicVal != nil {
		panic(f.panicVal)
	}
	return f.err
}

func (f *fakeSubModel) Seen() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]int64, len(f.seen))
	copy(clone, f.seen)
	return clone
}

// fakeRule delegates to fn, or emits one info hint per record when fn is
// nil.
type fakeRule struct {
	name string
	fn   func(rec *trace.EventRecord, emit trace.EmitFunc) error
}

func (r *fakeRule) Name() string { return r.name }

func (r *fakeRule) OnEventRecord(rec *trace.EventRecord, emit trace.EmitFunc) error {
	if r.fn != nil {
		return r.fn(rec, emit)
	}
	emit(rec.Time, "finding from "+r.name, rec.Sequence, trace.SeverityInfo)
	return nil
}

// captureListener collects every hint it is handed.
type captureListener struct {
	mu    sync.Mutex
	hints []*trace.HintRecord
}

func (c *captureListener) OnHint(hint *trace.HintRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hints = append(c.hints, hint)
}

func (c *captureListener) Hints() []*trace.HintRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := make([]*trace.HintRecord, len(c.hints))
	copy(clone, c.hints)
	return clone
}

func (c *captureListener) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hints)
}

func unnumberedRecord(recordType trace.RecordType, time float64) *trace.EventRecord {
	return trace.NewEventRecord(recordType, time, nil)
}

func numberedRecord(sequence int64, recordType trace.RecordType, time float64) *trace.EventRecord {
	rec := trace.NewEventRecord(recordType, time, nil)
	rec.Sequence = sequence
	return rec
}
