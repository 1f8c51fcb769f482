// Package kafka provides a Kafka feed for traceflow. Partition retention
// doubles as a trace archive: a replay consumer with a fresh group can walk
// the log from the oldest offset.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/traceflow/feed"
)

// FeedName is the name used to register this feed.
const FeedName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds this feed to the default registry. Called automatically on
// import; exposed for tests that rebuild the registry.
func Register() {
	feed.RegisterWithCapabilities(FeedName, Build, feed.KafkaCapabilities)
}

// Build creates a new Kafka feed.
func Build(ctx context.Context, cfg feed.Config, logger watermill.LoggerAdapter) (feed.Feed, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return feed.Feed{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		return feed.Feed{}, err
	}

	return feed.Feed{
		Publisher: publisher,
		Subscriber: &Subscriber{
			Subscriber: subscriber,
			brokers:    brokers,
			logger:     logger,
		},
	}, nil
}

// Capabilities returns the capabilities of this feed.
func Capabilities() feed.Capabilities {
	return feed.KafkaCapabilities
}

// Subscriber wraps the watermill Kafka subscriber with trace replay.
type Subscriber struct {
	message.Subscriber
	brokers []string
	logger  watermill.LoggerAdapter
}

var _ feed.Replayer = (*Subscriber)(nil)

// Replay re-reads the topic from the oldest retained offset using a
// throwaway consumer group, leaving the session group's offsets untouched.
// A partitioned log has no end marker, so the channel stays open and keeps
// delivering live records until ctx is cancelled.
func (s *Subscriber) Replay(ctx context.Context, topic string) (<-chan *message.Message, error) {
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	replaySub, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               s.brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         fmt.Sprintf("traceflow-replay-%d", time.Now().UnixNano()),
			OverwriteSaramaConfig: saramaCfg,
		},
		s.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay consumer: %w", err)
	}

	out, err := replaySub.Subscribe(ctx, topic)
	if err != nil {
		replaySub.Close()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if err := replaySub.Close(); err != nil && s.logger != nil {
			s.logger.Error("Failed to close replay consumer", err, nil)
		}
	}()

	return out, nil
}
