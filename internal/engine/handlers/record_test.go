package handlers

import (
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/traceflow/internal/engine/jsoncodec"
	"github.com/drblury/traceflow/internal/engine/trace"
)

func TestDecodeRecord(t *testing.T) {
	msg := message.NewMessage("m1", []byte(`{"sequence":3,"type":8,"time":120.5,"data":{"identifier":"req-1"}}`))

	rec, err := DecodeRecord(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Sequence)
	assert.Equal(t, trace.TypeResourceFinish, rec.Type)
	assert.Equal(t, 120.5, rec.Time)
	id, _ := rec.Data.GetString("identifier")
	assert.Equal(t, "req-1", id)
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"truncated JSON", []byte(`{"type":8`)},
		{"array payload", []byte(`[1,2]`)},
		{"negative time", []byte(`{"type":1,"time":-5}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord(message.NewMessage("m", tt.payload))
			assert.Error(t, err)
		})
	}

	_, err := DecodeRecord(nil)
	assert.Error(t, err)
}

func TestNewRecordMessage(t *testing.T) {
	rec := trace.NewEventRecord(trace.TypePaint, 50, trace.Data{"width": 800})
	rec.Sequence = 7

	msg, err := NewRecordMessage(rec)
	require.NoError(t, err)
	assert.Len(t, msg.UUID, 26)
	assert.Equal(t, "paint", msg.Metadata.Get(MetadataKeyRecordType))
	assert.Equal(t, "7", msg.Metadata.Get(MetadataKeyRecordSequence))
	assert.NotEmpty(t, msg.Metadata.Get(MetadataKeyEnqueuedAt))

	// The message decodes back to an equivalent record.
	decoded, err := DecodeRecord(msg)
	require.NoError(t, err)
	assert.Equal(t, rec.Sequence, decoded.Sequence)
	assert.Equal(t, rec.Type, decoded.Type)
}

func TestNewRecordMessageUnassignedSequence(t *testing.T) {
	rec := trace.NewEventRecord(trace.TypeDomEvent, 10, nil)

	msg, err := NewRecordMessage(rec)
	require.NoError(t, err)
	assert.Empty(t, msg.Metadata.Get(MetadataKeyRecordSequence))

	_, err = NewRecordMessage(nil)
	assert.Error(t, err)
}

func TestNewHintMessage(t *testing.T) {
	h := trace.NewHintRecord("Resource Caching", 120, "missing expiration", 3, trace.SeverityCritical)
	h.ID = "01HX5ZZKBKACTAV9WEVGEMMVRZ"

	msg, err := NewHintMessage(h)
	require.NoError(t, err)
	assert.Equal(t, h.ID, msg.UUID)
	assert.Equal(t, "Resource Caching", msg.Metadata.Get(MetadataKeyHintRule))
	assert.Equal(t, "critical", msg.Metadata.Get(MetadataKeyHintSeverity))
	assert.Equal(t, strconv.FormatInt(h.RefSequence, 10), msg.Metadata.Get(MetadataKeyHintRefSequence))

	var decoded trace.HintRecord
	require.NoError(t, jsoncodec.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, *h, decoded)
}

func TestNewHintMessageGeneratesUUID(t *testing.T) {
	h := trace.NewHintRecord("r", 0, "m", trace.UnassociatedSequence, trace.SeverityInfo)

	msg, err := NewHintMessage(h)
	require.NoError(t, err)
	assert.Len(t, msg.UUID, 26)

	_, err = NewHintMessage(nil)
	assert.Error(t, err)
}

func TestFeedLag(t *testing.T) {
	now := time.Now().UTC()

	msg := message.NewMessage("m", nil)
	assert.Equal(t, time.Duration(0), FeedLag(msg, now))

	msg.Metadata.Set(MetadataKeyEnqueuedAt, now.Add(-2*time.Second).Format(time.RFC3339Nano))
	lag := FeedLag(msg, now)
	assert.InDelta(t, float64(2*time.Second), float64(lag), float64(time.Millisecond))

	// Clock skew must not produce negative lag.
	msg.Metadata.Set(MetadataKeyEnqueuedAt, now.Add(time.Minute).Format(time.RFC3339Nano))
	assert.Equal(t, time.Duration(0), FeedLag(msg, now))

	msg.Metadata.Set(MetadataKeyEnqueuedAt, "not-a-time")
	assert.Equal(t, time.Duration(0), FeedLag(msg, now))
}
