// Package feed defines the core interfaces and types for traceflow record
// feeds: the channels that carry browser event records into a session and
// analysis hints back out. Each feed implementation (kafka, rabbitmq, aws,
// etc.) lives in its own sub-package and registers itself with the feed
// registry.
package feed

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Feed combines a publisher and subscriber pair produced by a factory. The
// subscriber side delivers event records to the session pump; the publisher
// side carries hint egress and producer-embedded record publishing.
type Feed struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a feed from config.
// Each feed package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Feed, error)

// Config provides the configuration values needed by feeds. This interface
// lets feeds access only the config they need without depending on the full
// config package.
type Config interface {
	// GetFeedSystem returns the feed type name.
	GetFeedSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS (core and JetStream)
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO (JSON-lines trace files)
	GetTraceFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by feeds that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Replayer is implemented by feeds that can re-deliver an archived trace
// from the beginning, independent of consume-once delivery state.
type Replayer interface {
	// Replay returns a channel that yields every archived message for the
	// topic in original publish order, regardless of delivery status.
	Replay(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// QueueIntrospector is implemented by feeds that can report how many records
// are waiting for dispatch.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}
