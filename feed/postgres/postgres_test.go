package postgres

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/traceflow/feed"
)

func TestRegister(t *testing.T) {
	feed.DefaultRegistry = feed.NewRegistry()
	Register()

	// Test main name
	caps := feed.GetCapabilities(FeedName)
	assert.Equal(t, "postgres", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsReplay)
	assert.False(t, caps.SupportsTracing)

	// Test alias
	capsAlias := feed.GetCapabilities("postgresql")
	assert.Equal(t, "postgres", capsAlias.Name)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, feed.PostgresCapabilities, caps)
	assert.Equal(t, "postgres", caps.Name)
}

func TestFeedName(t *testing.T) {
	assert.Equal(t, "postgres", FeedName)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg := Config{}
		result := cfg.withDefaults()

		assert.Equal(t, DefaultPollInterval, result.PollInterval)
		assert.Equal(t, DefaultLockDuration, result.LockDuration)
		assert.Equal(t, "traceflow", result.SchemaName)
		assert.Equal(t, 10, result.MaxOpenConns)
		assert.Equal(t, 5, result.MaxIdleConns)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			ConnectionString: "postgres://localhost:5432/test",
			PollInterval:     200 * time.Millisecond,
			LockDuration:     60 * time.Second,
			SchemaName:       "custom",
			MaxOpenConns:     20,
			MaxIdleConns:     8,
		}
		result := cfg.withDefaults()

		assert.Equal(t, "postgres://localhost:5432/test", result.ConnectionString)
		assert.Equal(t, 200*time.Millisecond, result.PollInterval)
		assert.Equal(t, 60*time.Second, result.LockDuration)
		assert.Equal(t, "custom", result.SchemaName)
		assert.Equal(t, 20, result.MaxOpenConns)
		assert.Equal(t, 8, result.MaxIdleConns)
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		cfg := Config{
			PollInterval: -1,
			LockDuration: -1,
			MaxOpenConns: -1,
			MaxIdleConns: -1,
		}
		result := cfg.withDefaults()

		assert.Equal(t, DefaultPollInterval, result.PollInterval)
		assert.Equal(t, DefaultLockDuration, result.LockDuration)
		assert.Equal(t, 10, result.MaxOpenConns)
		assert.Equal(t, 5, result.MaxIdleConns)
	})
}

func TestNew_RequiresConnectionString(t *testing.T) {
	_, err := New(Config{}, watermill.NopLogger{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")
}

func TestNew_RejectsBadSchemaName(t *testing.T) {
	cfg := Config{
		ConnectionString: "postgres://localhost:5432/test",
		SchemaName:       "bad-name; DROP TABLE",
	}
	_, err := New(cfg, watermill.NopLogger{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schema name")
}

func TestSchemaNamePattern(t *testing.T) {
	valid := []string{"traceflow", "my_schema", "_private", "Schema2"}
	for _, name := range valid {
		assert.True(t, schemaNamePattern.MatchString(name), "expected %q to be valid", name)
	}

	invalid := []string{"", "2fast", "bad-name", "a.b", "x;y", "sp ace"}
	for _, name := range invalid {
		assert.False(t, schemaNamePattern.MatchString(name), "expected %q to be invalid", name)
	}
}
