package jetstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/traceflow/feed"
)

func TestRegister(t *testing.T) {
	feed.DefaultRegistry = feed.NewRegistry()
	Register()

	caps := feed.GetCapabilities(FeedName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsReplay)
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, feed.NATSJetStreamCapabilities, caps)
	assert.Equal(t, "nats-jetstream", caps.Name)
}

func TestFeedName(t *testing.T) {
	assert.Equal(t, "nats-jetstream", FeedName)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg := Config{}
		result := cfg.withDefaults()

		assert.Equal(t, "TRACEFLOW", result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://localhost:4222",
			StreamName:      "CUSTOM",
			MaxDeliver:      5,
			AckWait:         60,
			MaxAge:          time.Hour,
			Replicas:        3,
			RetentionPolicy: "workqueue",
		}
		result := cfg.withDefaults()

		assert.Equal(t, "nats://localhost:4222", result.URL)
		assert.Equal(t, "CUSTOM", result.StreamName)
		assert.Equal(t, 5, result.MaxDeliver)
		assert.Equal(t, cfg.AckWait, result.AckWait)
		assert.Equal(t, time.Hour, result.MaxAge)
		assert.Equal(t, 3, result.Replicas)
		assert.Equal(t, "workqueue", result.RetentionPolicy)
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		cfg := Config{
			MaxDeliver: -1,
			AckWait:    -1,
			MaxAge:     -1,
			Replicas:   -1,
		}
		result := cfg.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultMaxAge, result.MaxAge)
		assert.Equal(t, 1, result.Replicas)
	})
}

func TestTopicToConsumer_SanitizesDots(t *testing.T) {
	tr := &Transport{config: Config{StreamName: "TRACEFLOW"}.withDefaults()}

	assert.Equal(t, "consumer_traceflow_records", tr.topicToConsumer("traceflow.records"))
	assert.Equal(t, "consumer_hints", tr.topicToConsumer("hints"))
}

func TestTopicToSubject(t *testing.T) {
	tr := &Transport{config: Config{StreamName: "TRACEFLOW"}.withDefaults()}

	assert.Equal(t, "TRACEFLOW.traceflow.records", tr.topicToSubject("traceflow.records"))
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 3, DefaultMaxDeliver)
	assert.Equal(t, 30*time.Second, DefaultAckWait)
	assert.Equal(t, 7*24*time.Hour, DefaultMaxAge)
}
