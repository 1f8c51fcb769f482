package engine

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/traceflow/internal/engine/errors"
	handlerspkg "github.com/drblury/traceflow/internal/engine/handlers"
	loggingpkg "github.com/drblury/traceflow/internal/engine/logging"
	metadatapkg "github.com/drblury/traceflow/internal/engine/metadata"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// Producer pushes event records onto a feed. Agents and replay tools use it
// without touching the Watermill APIs directly.
type Producer interface {
	PublishRecord(ctx context.Context, topic string, rec *trace.EventRecord, metadata metadatapkg.Metadata) error
}

// PublishRecord serializes the record and publishes it to the provided topic
// with the reserved record metadata stamped. Extra metadata entries are
// merged in without overriding the reserved keys.
func PublishRecord(ctx context.Context, publisher message.Publisher, topic string, rec *trace.EventRecord, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := handlerspkg.NewRecordMessage(rec)
	if err != nil {
		return err
	}

	metadata.MergeInto(msg.Metadata)

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishRecord emits the record using the Service publisher, typically to
// feed a locally captured trace back through the engine's own feed.
func (s *Service) PublishRecord(ctx context.Context, topic string, rec *trace.EventRecord, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("trace analysis service is nil")
	}
	return PublishRecord(ctx, s.publisher, topic, rec, metadata)
}

// HintPublisher is a hint listener that publishes every attached hint to a
// feed topic. The hint's ULID becomes the message UUID and the rule,
// severity, and referenced sequence ride in metadata so consumers can filter
// without decoding payloads.
type HintPublisher struct {
	publisher message.Publisher
	topic     string
	logger    loggingpkg.ServiceLogger
}

// NewHintPublisher builds a hint egress listener for the given topic.
func NewHintPublisher(publisher message.Publisher, topic string, logger loggingpkg.ServiceLogger) (*HintPublisher, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	return &HintPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}, nil
}

// OnHint publishes the hint. Publish failures are logged, not propagated:
// hint egress is best-effort and must never stall the dispatch.
func (p *HintPublisher) OnHint(hint *trace.HintRecord) {
	msg, err := handlerspkg.NewHintMessage(hint)
	if err != nil {
		p.logger.Error("Failed to build hint message", err, loggingpkg.LogFields{
			"rule": hint.Rule,
		})
		return
	}

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		p.logger.Error("Failed to publish hint", err, loggingpkg.LogFields{
			"topic":        p.topic,
			"rule":         hint.Rule,
			"ref_sequence": hint.RefSequence,
		})
	}
}
