/*
Package engine provides the core record dispatch and analysis infrastructure
for traceflow.

# Architecture Overview

The engine implements a single-threaded dispatch pipeline over browser
performance event records. A feed delivers records in stream order; the
session assigns sequence numbers, keeps a serialized trace copy and a
sequence-indexed arena, and fans each record out to a fixed set of
sub-models. The hint engine host runs last, evaluating pluggable analysis
rules whose findings attach back onto the records they reference.

# Package Structure

The engine package is organized into the following components:

## Session (session.go)

The Session struct is the dispatch hub for one traced target:
  - Sequence assignment and the sequence->record arena
  - Trace copy of every record as serialized JSON
  - Fan-out to sub-models in registration order, fail-fast per record
  - Hint back-association by referenced sequence number

## Sub-models (submodels.go, netresources.go, validator.go)

Default consumers of the record stream:
  - UIEventModel: main-thread activity aggregates
  - NetworkResourceModel: per-request resource snapshots for rules
  - TabChangeModel: page navigation history
  - ProfileModel: profiler sample aggregates
  - StreamValidator: debug-mode stream invariant assertions

## Hint Engine (hintengine.go, listeners.go)

The HintEngine hosts analysis rules and hint listeners. Emissions are
staged per record in a bounded queue and drained to the listeners after
the rule pass completes, so hints for record N attach before record N+1
begins fan-out. Rule failures are isolated per rule.

## Middleware (middleware.go)

The middleware system wraps every sub-model dispatch:
  - LogRecords: debug logging of dispatched records
  - Tracer: OpenTelemetry span per dispatch
  - Metrics: Prometheus dispatch histogram
  - Recoverer: converts sub-model panics into errors

## Stats & Monitoring (stats.go, resources.go, metrics.go)

Extended metrics collection for dispatch performance:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error categorization
  - Resource usage sampling
  - Prometheus pipeline counters and gauges

## Service & Pump (service.go, publisher.go)

The Service wires a feed to a session through a single Watermill handler,
publishes attached hints to the hints topic, and exposes the HTTP
surfaces.

## WebUI (webui.go)

HTTP API for introspecting session state, sub-model statistics, and the
recent hints ring.

# Sub-packages

  - config/: Service configuration with validation
  - errors/: Sentinel errors and error types
  - handlers/: Record and hint message codecs
  - ids/: ULID generation for hints and message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - rules/: Built-in analysis rules
  - trace/: Event record, hint, and resource snapshot types
  - feed/: Feed factory indirection over the public feed registry

# Usage Example

	cfg := &config.Config{
		FeedSystem:     "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		HintsTopic:     "traceflow.hints",
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := engine.NewService(cfg, logger, ctx, engine.ServiceDependencies{})
	if err := svc.Start(ctx); err != nil {
		log.Fatal(err)
	}
*/
package engine
