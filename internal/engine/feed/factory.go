// Package feed bridges the engine to the modular feed registry.
package feed

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	pubfeed "github.com/drblury/traceflow/feed"
	"github.com/drblury/traceflow/internal/engine/config"

	// Import all feed packages to register them.
	_ "github.com/drblury/traceflow/feed/aws"
	_ "github.com/drblury/traceflow/feed/channel"
	_ "github.com/drblury/traceflow/feed/http"
	_ "github.com/drblury/traceflow/feed/io"
	_ "github.com/drblury/traceflow/feed/jetstream"
	_ "github.com/drblury/traceflow/feed/kafka"
	_ "github.com/drblury/traceflow/feed/nats"
	_ "github.com/drblury/traceflow/feed/postgres"
	_ "github.com/drblury/traceflow/feed/rabbitmq"
	_ "github.com/drblury/traceflow/feed/sqlite"
)

// Feed combines a publisher and subscriber pair produced by a factory.
type Feed struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Factory abstracts how the engine initialises record feeds.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Feed, error)
}

// DefaultFactory returns the built-in feed factory backed by the modular
// feed registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Feed, error) {
	if conf == nil {
		return Feed{}, fmt.Errorf("config is required")
	}

	f, err := pubfeed.Build(ctx, conf, logger)
	if err != nil {
		return Feed{}, err
	}

	return Feed{
		Publisher:  f.Publisher,
		Subscriber: f.Subscriber,
	}, nil
}

// Capabilities is an alias for the modular feed Capabilities.
type Capabilities = pubfeed.Capabilities

// GetCapabilities returns the capabilities for a feed by name.
func GetCapabilities(feedName string) Capabilities {
	return pubfeed.GetCapabilities(feedName)
}
