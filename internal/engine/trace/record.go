// Package trace defines the value types that flow through a traceflow
// session: browser performance event records, the hints that analysis rules
// attach to them, and the network resource snapshots rules inspect. The JSON
// shapes mirror what browser instrumentation agents emit, so payloads decode
// directly off the wire.
package trace

import (
	"encoding/json"
	"fmt"
)

// RecordType identifies the kind of browser occurrence an event record
// describes. The numeric values are part of the wire contract between
// producers and the engine and must never be reordered.
type RecordType int

const (
	// TypeDomEvent is a DOM event handler invocation (click, load, ...).
	TypeDomEvent RecordType = 0
	// TypeLayout is a document layout (reflow) pass.
	TypeLayout RecordType = 1
	// TypePaint is a repaint of a region of the page.
	TypePaint RecordType = 2
	// TypeParseHTML is a chunk of HTML parsing work.
	TypeParseHTML RecordType = 3
	// TypeTimerFired is a timer callback invocation.
	TypeTimerFired RecordType = 4
	// TypeResourceSendRequest marks an outgoing network request.
	TypeResourceSendRequest RecordType = 5
	// TypeResourceReceiveResponse marks response headers arriving.
	TypeResourceReceiveResponse RecordType = 6
	// TypeResourceDataReceived marks a chunk of response body arriving.
	TypeResourceDataReceived RecordType = 7
	// TypeResourceFinish marks a network request completing or failing.
	TypeResourceFinish RecordType = 8
	// TypeTabChanged marks a navigation or tab focus change.
	TypeTabChanged RecordType = 9
	// TypeProfileData carries a slice of sampling profiler output.
	TypeProfileData RecordType = 10
)

var recordTypeNames = map[RecordType]string{
	TypeDomEvent:                "dom_event",
	TypeLayout:                  "layout",
	TypePaint:                   "paint",
	TypeParseHTML:               "parse_html",
	TypeTimerFired:              "timer_fired",
	TypeResourceSendRequest:     "resource_send_request",
	TypeResourceReceiveResponse: "resource_receive_response",
	TypeResourceDataReceived:    "resource_data_received",
	TypeResourceFinish:          "resource_finish",
	TypeTabChanged:              "tab_changed",
	TypeProfileData:             "profile_data",
}

// String returns the stable lowercase name for the record type, or a
// numeric placeholder for types this engine version does not know.
func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Known reports whether the type is one this engine version understands.
// Unknown types still flow through the session so saved traces survive
// producer/engine version skew; only the stream validator complains.
func (t RecordType) Known() bool {
	_, ok := recordTypeNames[t]
	return ok
}

// IsResourceEvent reports whether the type belongs to the network resource
// lifecycle (send-request through finish).
func (t RecordType) IsResourceEvent() bool {
	switch t {
	case TypeResourceSendRequest, TypeResourceReceiveResponse,
		TypeResourceDataReceived, TypeResourceFinish:
		return true
	default:
		return false
	}
}

// UnassignedSequence marks a record that has not yet been through a session.
// The session assigns the next sequence number on arrival.
const UnassignedSequence int64 = -1

// Data holds the type-specific payload of an event record. Browser agents
// emit loosely-typed JSON, so values are accessed through the typed getters
// which coerce the usual JSON number/string representations.
type Data map[string]any

// GetString retrieves a payload value as a string.
func (d Data) GetString(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// GetInt64 retrieves a payload value as an int64, coercing the numeric
// representations JSON decoding produces.
func (d Data) GetInt64(key string) (int64, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// GetFloat64 retrieves a payload value as a float64.
func (d Data) GetFloat64(key string) (float64, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// GetBool retrieves a payload value as a bool.
func (d Data) GetBool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetData retrieves a nested JSON object as Data.
func (d Data) GetData(key string) (Data, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return nil, false
	}
	switch m := v.(type) {
	case Data:
		return m, true
	case map[string]any:
		return Data(m), true
	default:
		return nil, false
	}
}

// GetHeaders retrieves a nested JSON object as HTTP headers. Non-string
// values are stringified, matching how agents serialize header maps.
func (d Data) GetHeaders(key string) (Headers, bool) {
	m, ok := d.GetData(key)
	if !ok {
		return nil, false
	}
	h := make(Headers, len(m))
	for name := range m {
		if s, ok := m.GetString(name); ok {
			h[name] = s
		}
	}
	return h, true
}

// EventRecord is a single timestamped occurrence captured from a browser.
// Records are immutable once dispatched except for the hints that analysis
// rules attach to them afterwards.
type EventRecord struct {
	// Sequence is the session-scoped arrival index. Producers normally
	// leave it unassigned and let the session number records; a
	// non-negative value is preserved as-is.
	Sequence int64

	// Type discriminates the payload shape.
	Type RecordType

	// Time is the occurrence timestamp in milliseconds relative to the
	// start of the recording.
	Time float64

	// Data carries the type-specific payload.
	Data Data

	hints []*HintRecord
}

// NewEventRecord creates a record with an unassigned sequence number.
func NewEventRecord(recordType RecordType, time float64, data Data) *EventRecord {
	if data == nil {
		data = Data{}
	}
	return &EventRecord{
		Sequence: UnassignedSequence,
		Type:     recordType,
		Time:     time,
		Data:     data,
	}
}

// AddHint attaches a hint produced by an analysis rule to this record.
func (r *EventRecord) AddHint(h *HintRecord) {
	if h == nil {
		return
	}
	r.hints = append(r.hints, h)
}

// HasHints reports whether any rule has flagged this record.
func (r *EventRecord) HasHints() bool {
	return len(r.hints) > 0
}

// Hints returns a copy of the attached hints in attachment order.
func (r *EventRecord) Hints() []*HintRecord {
	if len(r.hints) == 0 {
		return nil
	}
	out := make([]*HintRecord, len(r.hints))
	copy(out, r.hints)
	return out
}

// Validate checks the structural invariants a record must satisfy before
// entering a session. Unknown types pass: version skew between producers
// and the engine must not poison the stream.
func (r *EventRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.Time < 0 {
		return fmt.Errorf("record time must not be negative, got %v", r.Time)
	}
	return nil
}

// String renders a compact one-line description for logs.
func (r *EventRecord) String() string {
	return fmt.Sprintf("seq=%d type=%s t=%.1fms", r.Sequence, r.Type, r.Time)
}

// MarshalJSON renders the browser trace wire format: the envelope attributes
// plus the payload under "data", with hints included once rules have
// attached any.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 5)
	m["sequence"] = r.Sequence
	m["type"] = int(r.Type)
	m["time"] = r.Time
	if len(r.Data) > 0 {
		m["data"] = r.Data
	}
	if len(r.hints) > 0 {
		m["hints"] = r.hints
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the browser trace wire format. Agents disagree on
// whether payload fields live under "data" or at the top level, so unknown
// top-level attributes are folded into Data alongside the nested object.
func (r *EventRecord) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	knownAttrs := map[string]bool{
		"sequence": true,
		"type":     true,
		"time":     true,
		"data":     true,
		"hints":    true,
	}

	r.Sequence = UnassignedSequence
	if raw, ok := m["sequence"]; ok {
		if err := json.Unmarshal(raw, &r.Sequence); err != nil {
			return fmt.Errorf("invalid sequence: %w", err)
		}
	}
	if raw, ok := m["type"]; ok {
		var t int
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("invalid type: %w", err)
		}
		r.Type = RecordType(t)
	}
	if raw, ok := m["time"]; ok {
		if err := json.Unmarshal(raw, &r.Time); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
	}

	r.Data = Data{}
	if raw, ok := m["data"]; ok {
		if err := json.Unmarshal(raw, &r.Data); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
	}

	if raw, ok := m["hints"]; ok {
		if err := json.Unmarshal(raw, &r.hints); err != nil {
			return fmt.Errorf("invalid hints: %w", err)
		}
	}

	// Fold stray top-level attributes into the payload.
	for k, raw := range m {
		if knownAttrs[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid attribute %q: %w", k, err)
		}
		r.Data[k] = v
	}

	return nil
}
