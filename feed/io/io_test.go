package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/traceflow/feed"
)

func TestRegister(t *testing.T) {
	feed.DefaultRegistry = feed.NewRegistry()
	Register()

	caps := feed.GetCapabilities(FeedName)
	assert.Equal(t, "io", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsReplay)
	assert.False(t, caps.SupportsAck)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, feed.IOCapabilities, caps)
	assert.Equal(t, "io", caps.Name)
}

func TestFeedName(t *testing.T) {
	assert.Equal(t, "io", FeedName)
}

func TestDefaultFilePath(t *testing.T) {
	assert.Equal(t, "trace.log", DefaultFilePath)
}

func TestBuild(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test_trace.log")

	t.Run("creates feed with custom file", func(t *testing.T) {
		cfg := &mockConfig{traceFile: testFile}
		f, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, f.Publisher)
		assert.NotNil(t, f.Subscriber)
	})

	t.Run("uses default file path when empty", func(t *testing.T) {
		cfg := &mockConfig{traceFile: ""}
		f, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.NotNil(t, f.Publisher)
		assert.NotNil(t, f.Subscriber)

		os.Remove(DefaultFilePath)
	})

	t.Run("uses custom publisher factory", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		mockPub := &Publisher{filePath: "mock"}
		PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}

		cfg := &mockConfig{traceFile: testFile}
		f, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, f.Publisher)
	})

	t.Run("uses custom subscriber factory", func(t *testing.T) {
		originalFactory := SubscriberFactory
		defer func() { SubscriberFactory = originalFactory }()

		mockSub := &Subscriber{filePath: "mock"}
		SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return mockSub, nil
		}

		cfg := &mockConfig{traceFile: testFile}
		f, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockSub, f.Subscriber)
	})
}

func TestPublisher_Publish(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "publish_test.log")

	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}

	t.Run("captures single record", func(t *testing.T) {
		msg := message.NewMessage("test-uuid-1", []byte(`{"sequence":0,"type":2,"time":10}`))
		msg.Metadata.Set("traceflow_record_type", "paint")

		err := pub.Publish("traceflow.records", msg)
		require.NoError(t, err)

		content, err := os.ReadFile(testFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test-uuid-1")
		assert.Contains(t, string(content), "traceflow.records")
		// Payload is base64-encoded in JSON, so check the metadata instead
		assert.Contains(t, string(content), `"traceflow_record_type":"paint"`)
	})

	t.Run("captures multiple records", func(t *testing.T) {
		msg1 := message.NewMessage("multi-uuid-1", []byte("payload 1"))
		msg2 := message.NewMessage("multi-uuid-2", []byte("payload 2"))

		err := pub.Publish("traceflow.records", msg1, msg2)
		require.NoError(t, err)

		content, err := os.ReadFile(testFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "multi-uuid-1")
		assert.Contains(t, string(content), "multi-uuid-2")
	})
}

func TestPublisher_Close(t *testing.T) {
	pub := &Publisher{}
	err := pub.Close()
	assert.NoError(t, err)
}

func TestSubscriber_Subscribe(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "subscribe_test.log")

	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}
	msg := message.NewMessage("sub-uuid-1", []byte("subscribe test"))
	err := pub.Publish("sub.topic", msg)
	require.NoError(t, err)

	sub := &Subscriber{filePath: testFile, logger: watermill.NopLogger{}}

	t.Run("subscribes and receives message", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		msgChan, err := sub.Subscribe(ctx, "sub.topic")
		require.NoError(t, err)

		select {
		case received := <-msgChan:
			assert.Equal(t, "sub-uuid-1", received.UUID)
			assert.EqualValues(t, []byte("subscribe test"), received.Payload)
			received.Ack()
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("filters by topic", func(t *testing.T) {
		msg := message.NewMessage("other-topic-uuid", []byte("other topic"))
		err := pub.Publish("other.topic", msg)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		msgChan, err := sub.Subscribe(ctx, "non.existent.topic")
		require.NoError(t, err)

		select {
		case <-msgChan:
			t.Fatal("should not receive message for different topic")
		case <-ctx.Done():
			// Expected timeout
		}
	})
}

func TestSubscriber_Subscribe_BareRecordLines(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "agent_dump.log")

	// A raw agent dump: record JSON per line, no envelope.
	dump := `{"sequence":0,"type":5,"time":100.0,"data":{"identifier":"r1"}}` + "\n" +
		`{"sequence":1,"type":8,"time":250.0,"data":{"identifier":"r1"}}` + "\n"
	require.NoError(t, os.WriteFile(testFile, []byte(dump), 0600))

	sub := &Subscriber{filePath: testFile, logger: watermill.NopLogger{}}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	msgChan, err := sub.Subscribe(ctx, "traceflow.records")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case received := <-msgChan:
			assert.NotEmpty(t, received.UUID)
			assert.Contains(t, string(received.Payload), `"sequence":`)
			received.Ack()
		case <-ctx.Done():
			t.Fatalf("timeout waiting for bare record %d", i)
		}
	}
}

func TestSubscriber_Replay(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "replay_test.log")

	pub := &Publisher{filePath: testFile, logger: watermill.NopLogger{}}
	for _, uuid := range []string{"replay-1", "replay-2", "replay-3"} {
		msg := message.NewMessage(uuid, []byte(uuid+" payload"))
		require.NoError(t, pub.Publish("replay.topic", msg))
	}
	// One message on another topic that replay must skip.
	require.NoError(t, pub.Publish("other.topic", message.NewMessage("skip-me", []byte("x"))))

	sub := &Subscriber{filePath: testFile, logger: watermill.NopLogger{}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgChan, err := sub.Replay(ctx, "replay.topic")
	require.NoError(t, err)

	var got []string
	for msg := range msgChan {
		got = append(got, msg.UUID)
		msg.Ack()
	}

	// Replay delivers in file order and closes the channel at EOF.
	assert.Equal(t, []string{"replay-1", "replay-2", "replay-3"}, got)
}

func TestSubscriber_Replay_MissingFile(t *testing.T) {
	sub := &Subscriber{filePath: "/nonexistent/trace.log", logger: watermill.NopLogger{}}
	_, err := sub.Replay(context.Background(), "any.topic")
	assert.Error(t, err)
}

func TestSubscriber_Close(t *testing.T) {
	sub := &Subscriber{}
	err := sub.Close()
	assert.NoError(t, err)
}

func TestStoredMessage_Structure(t *testing.T) {
	sm := storedMessage{
		UUID:     "test-uuid",
		Metadata: map[string]string{"key": "value"},
		Payload:  []byte("test payload"),
		Topic:    "test.topic",
	}

	assert.Equal(t, "test-uuid", sm.UUID)
	assert.Equal(t, "value", sm.Metadata["key"])
	assert.Equal(t, []byte("test payload"), sm.Payload)
	assert.Equal(t, "test.topic", sm.Topic)
}

type mockConfig struct {
	traceFile string
}

func (m *mockConfig) GetFeedSystem() string         { return "io" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetTraceFile() string          { return m.traceFile }
func (m *mockConfig) GetSQLiteFile() string         { return "" }
func (m *mockConfig) GetPostgresURL() string        { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }
