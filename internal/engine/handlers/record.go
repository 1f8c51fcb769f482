// Package handlers converts between feed messages and the engine's record
// and hint types. Payloads stay byte-for-byte what the producing agent sent;
// delivery details travel in message metadata under reserved traceflow keys.
package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/traceflow/internal/engine/ids"
	"github.com/drblury/traceflow/internal/engine/jsoncodec"
	"github.com/drblury/traceflow/internal/engine/trace"
)

// DecodeRecord parses a feed message payload into an event record. The
// payload must be a JSON object in the browser trace wire format; anything
// else is a decode failure and the message should be nacked.
func DecodeRecord(msg *message.Message) (*trace.EventRecord, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	rec := &trace.EventRecord{}
	if err := jsoncodec.Unmarshal(msg.Payload, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event record: %w", err)
	}
	return rec, nil
}

// NewRecordMessage serializes an event record into a feed message with a
// ULID UUID and the reserved metadata stamped.
func NewRecordMessage(rec *trace.EventRecord) (*message.Message, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}

	payload, err := jsoncodec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event record: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(MetadataKeyRecordType, rec.Type.String())
	if rec.Sequence >= 0 {
		msg.Metadata.Set(MetadataKeyRecordSequence, strconv.FormatInt(rec.Sequence, 10))
	}
	msg.Metadata.Set(MetadataKeyEnqueuedAt, time.Now().UTC().Format(time.RFC3339Nano))
	return msg, nil
}

// NewHintMessage serializes a hint into a feed message for egress. The rule
// name, severity, and referenced sequence ride in metadata so consumers can
// filter without decoding payloads.
func NewHintMessage(h *trace.HintRecord) (*message.Message, error) {
	if h == nil {
		return nil, fmt.Errorf("hint is nil")
	}

	payload, err := jsoncodec.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hint record: %w", err)
	}

	uuid := h.ID
	if uuid == "" {
		uuid = idspkg.CreateULID()
	}

	msg := message.NewMessage(uuid, payload)
	msg.Metadata.Set(MetadataKeyHintRule, h.Rule)
	msg.Metadata.Set(MetadataKeyHintSeverity, h.Severity.String())
	msg.Metadata.Set(MetadataKeyHintRefSequence, strconv.FormatInt(h.RefSequence, 10))
	msg.Metadata.Set(MetadataKeyEnqueuedAt, time.Now().UTC().Format(time.RFC3339Nano))
	return msg, nil
}

// FeedLag reports how long a message sat on the feed before dispatch, based
// on the enqueued-at metadata stamp. Returns zero when the stamp is missing
// or unparsable, or when clocks disagree enough to produce a negative lag.
func FeedLag(msg *message.Message, now time.Time) time.Duration {
	stamp := msg.Metadata.Get(MetadataKeyEnqueuedAt)
	if stamp == "" {
		return 0
	}
	enqueued, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return 0
	}
	lag := now.Sub(enqueued)
	if lag < 0 {
		return 0
	}
	return lag
}
