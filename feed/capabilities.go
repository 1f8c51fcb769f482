package feed

// Capabilities describes the features supported by a feed backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsOrdering indicates the feed guarantees record ordering. The
	// dispatch pipeline assumes arrival order matches production order;
	// feeds without this guarantee rely on producer-assigned sequence
	// numbers surviving reordering, which the stream validator can audit.
	SupportsOrdering bool

	// SupportsReplay indicates the feed retains records after delivery and
	// can re-deliver an archived trace from the beginning.
	SupportsReplay bool

	// SupportsTracing indicates the feed propagates tracing headers
	// natively.
	SupportsTracing bool

	// SupportsBatching indicates the feed can batch multiple records.
	SupportsBatching bool

	// SupportsAck indicates the feed supports explicit record
	// acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the feed supports negative acknowledgment
	// (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates the feed supports record
	// partitioning.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum record size in bytes (0 =
	// unlimited/unknown). Profile-data records run large; feeds with a
	// cap may need agents to split payloads.
	MaxMessageSize int64

	// Name is the human-readable name of the feed.
	Name string

	// Version is the feed/driver version.
	Version string
}

// SupportsReliableDelivery returns true if the feed supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// RequiresSequenceAudit returns true if the feed cannot guarantee record
// ordering, meaning the stream validator should be enabled to catch
// out-of-order arrivals before they skew the analysis.
func (c Capabilities) RequiresSequenceAudit() bool {
	return !c.SupportsOrdering
}

// Predefined capability sets for common feeds.
var (
	// ChannelCapabilities for the in-memory Go channel feed.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsReplay:   false,
		SupportsTracing:  false,
		SupportsBatching: false,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka feed.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsReplay:       true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsNack:         false,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP feed.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsReplay:   false,
		SupportsTracing:  true,
		SupportsBatching: false,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for the NATS Core feed.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: false,
		SupportsReplay:   false,
		SupportsTracing:  true,
		SupportsBatching: false,
		SupportsAck:      false,
		SupportsNack:     false,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream feed.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsReplay:   true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for the AWS SNS/SQS feed.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsReplay:   false,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144, // 256KB
	}

	// SQLiteCapabilities for the SQLite trace archive feed.
	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsOrdering: true,
		SupportsReplay:   true,
		SupportsTracing:  false,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// PostgresCapabilities for the PostgreSQL trace archive feed.
	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsOrdering: true,
		SupportsReplay:   true,
		SupportsTracing:  false,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// HTTPCapabilities for the HTTP feed.
	HTTPCapabilities = Capabilities{
		Name:             "http",
		SupportsOrdering: false,
		SupportsReplay:   false,
		SupportsTracing:  true,
		SupportsBatching: false,
		SupportsAck:      false,
		SupportsNack:     false,
	}

	// IOCapabilities for the JSON-lines trace file feed.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsReplay:   true,
		SupportsTracing:  false,
		SupportsBatching: false,
		SupportsAck:      false,
		SupportsNack:     false,
	}
)

// GetCapabilities returns the capabilities for a feed by name.
// Uses the registry to look up capabilities registered by each feed package.
// Returns a zero Capabilities struct if the feed is unknown.
func GetCapabilities(feedName string) Capabilities {
	return DefaultRegistry.GetCapabilities(feedName)
}
