package engine

import (
	"sync"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// Names the default sub-models register under.
const (
	UIEventModelName         = "ui_events"
	NetworkResourceModelName = "network_resources"
	TabChangeModelName       = "tab_changes"
	ProfileModelName         = "profile"
	HintEngineName           = "hint_engine"
)

// UIEventTypeStats accumulates dispatch counts and durations for one record
// type.
type UIEventTypeStats struct {
	Count      uint64  `json:"count"`
	TotalMs    float64 `json:"total_ms"`
	MaxMs      float64 `json:"max_ms"`
	LastTimeMs float64 `json:"last_time_ms"`
}

// UIEventModel aggregates the browser's main-thread activity records: DOM
// events, layout and paint passes, HTML parsing, and timer fires. Record
// payloads carry the event duration under "duration" in milliseconds; a
// missing duration counts the event with zero cost.
type UIEventModel struct {
	mu      sync.Mutex
	perType map[trace.RecordType]*UIEventTypeStats
}

// NewUIEventModel returns an empty UI event aggregate.
func NewUIEventModel() *UIEventModel {
	return &UIEventModel{perType: make(map[trace.RecordType]*UIEventTypeStats)}
}

func (m *UIEventModel) Name() string { return UIEventModelName }

func (m *UIEventModel) OnEventRecord(rec *trace.EventRecord) error {
	switch rec.Type {
	case trace.TypeDomEvent, trace.TypeLayout, trace.TypePaint, trace.TypeParseHTML, trace.TypeTimerFired:
	default:
		return nil
	}

	duration, _ := rec.Data.GetFloat64("duration")

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.perType[rec.Type]
	if !ok {
		stats = &UIEventTypeStats{}
		m.perType[rec.Type] = stats
	}
	stats.Count++
	stats.TotalMs += duration
	if duration > stats.MaxMs {
		stats.MaxMs = duration
	}
	stats.LastTimeMs = rec.Time
	return nil
}

// Snapshot returns the per-type aggregates keyed by record type name.
func (m *UIEventModel) Snapshot() map[string]UIEventTypeStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]UIEventTypeStats, len(m.perType))
	for t, stats := range m.perType {
		out[t.String()] = *stats
	}
	return out
}

// Events reports the total number of UI activity records seen.
func (m *UIEventModel) Events() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for _, stats := range m.perType {
		total += stats.Count
	}
	return total
}

// Reset discards all accumulated aggregates.
func (m *UIEventModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perType = make(map[trace.RecordType]*UIEventTypeStats)
}

// NavigationEntry is one page transition observed in the record stream.
type NavigationEntry struct {
	URL    string  `json:"url"`
	TimeMs float64 `json:"time_ms"`
}

// TabChangeModel tracks the page the traced tab currently shows. Tab change
// records carry the new page URL under "url".
type TabChangeModel struct {
	mu         sync.Mutex
	currentURL string
	history    []NavigationEntry
}

// NewTabChangeModel returns a navigation model with no history.
func NewTabChangeModel() *TabChangeModel {
	return &TabChangeModel{}
}

func (m *TabChangeModel) Name() string { return TabChangeModelName }

func (m *TabChangeModel) OnEventRecord(rec *trace.EventRecord) error {
	if rec.Type != trace.TypeTabChanged {
		return nil
	}

	url, ok := rec.Data.GetString("url")
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentURL = url
	m.history = append(m.history, NavigationEntry{URL: url, TimeMs: rec.Time})
	return nil
}

// CurrentURL returns the page the tab last navigated to, empty before the
// first tab change record.
func (m *TabChangeModel) CurrentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL
}

// History returns the observed navigations in stream order.
func (m *TabChangeModel) History() []NavigationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NavigationEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Reset discards the navigation history and current URL.
func (m *TabChangeModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentURL = ""
	m.history = nil
}

// ProfileModel counts profiler samples delivered via profile-data records.
// Payloads carry the profiler output format under "format" and the sampled
// interval under "duration" in milliseconds.
type ProfileModel struct {
	mu        sync.Mutex
	records   uint64
	totalMs   float64
	perFormat map[string]uint64
}

// NewProfileModel returns an empty profile aggregate.
func NewProfileModel() *ProfileModel {
	return &ProfileModel{perFormat: make(map[string]uint64)}
}

func (m *ProfileModel) Name() string { return ProfileModelName }

func (m *ProfileModel) OnEventRecord(rec *trace.EventRecord) error {
	if rec.Type != trace.TypeProfileData {
		return nil
	}

	duration, _ := rec.Data.GetFloat64("duration")
	format, _ := rec.Data.GetString("format")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records++
	m.totalMs += duration
	if format != "" {
		m.perFormat[format]++
	}
	return nil
}

// Records reports how many profile-data records were seen.
func (m *ProfileModel) Records() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records
}

// TotalMs reports the cumulative profiled time in milliseconds.
func (m *ProfileModel) TotalMs() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalMs
}

// Formats returns per-format record counts.
func (m *ProfileModel) Formats() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.perFormat))
	for k, v := range m.perFormat {
		out[k] = v
	}
	return out
}

// Reset discards all accumulated profile data.
func (m *ProfileModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = 0
	m.totalMs = 0
	m.perFormat = make(map[string]uint64)
}
