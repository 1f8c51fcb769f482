// Package traceflow is a dispatch and analysis engine for browser performance
// traces, built on Watermill. It consumes a stream of timestamped event
// records (DOM events, layouts, paints, network resource lifecycles, timer
// fires, profiler samples), assigns each record a stable sequence number, and
// fans it out through a middleware chain to registered sub-models that build
// up views of the trace: UI event aggregates, network resource state machines,
// navigation history, and a pluggable hint engine that runs analysis rules
// and routes their findings back onto the records that triggered them.
//
// Service hosts the record pump and the session: it reads the feed system
// (Kafka, RabbitMQ, AWS SNS/SQS, NATS, JetStream, HTTP, I/O, SQLite,
// PostgreSQL, or Go Channels) from Config, bootstraps a Watermill router with
// a single no-publisher handler so dispatch stays strictly ordered, and wires
// hint egress, Prometheus metrics, and the web UI endpoints when enabled. A
// minimal setup therefore involves filling Config, creating a Service, adding
// rules through Session().HintEngine(), and calling Start; see README.md for
// a copy/paste quick start snippet.
//
// # Feeds
//
// Traceflow supports 10 record feeds out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: High-performance messaging
//   - jetstream: NATS JetStream with at-least-once delivery
//   - http: Request/response record ingestion
//   - io: JSON-lines trace files for capture and replay
//   - sqlite: Embedded persistent record queue with replay
//   - postgres: Production-ready PostgreSQL queue with SKIP LOCKED
//
// # Middleware
//
// The default dispatch chain includes structured record logging, OpenTelemetry
// tracing, Prometheus metrics, and panic recovery. Custom middleware can be
// added via SessionDependencies.Middlewares.
//
// # Session Hooks
//
// HooksMiddleware provides OnRecordStart, OnRecordDone, and OnRecordError
// callbacks for custom logging, metrics collection, and alerting around
// sub-model execution.
//
// When you need more control, ServiceDependencies exposes well-scoped knobs:
// bring your own sub-models, rules, hint listeners, middleware registrations,
// failure reporter, or even an entire FeedFactory to plug in custom brokers.
// The README organises these knobs by topic so you can dive into the exact
// setting you want to adjust without rereading the whole guide.
package traceflow
