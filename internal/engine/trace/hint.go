package trace

import (
	"encoding/json"
	"fmt"
)

// Severity grades how urgently a hint deserves attention. The ordering is
// meaningful: higher values are more severe.
type Severity int

const (
	// SeverityInfo flags something worth knowing, not necessarily fixing.
	SeverityInfo Severity = 0
	// SeverityWarning flags a likely performance problem.
	SeverityWarning Severity = 1
	// SeverityCritical flags a problem with a material user-visible cost.
	SeverityCritical Severity = 2
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityCritical: "critical",
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalJSON renders the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	name, ok := severityNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON accepts either the lowercase name or the numeric value.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for sev, n := range severityNames {
			if n == name {
				*s = sev
				return nil
			}
		}
		return fmt.Errorf("unknown severity %q", name)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}
	sev := Severity(n)
	if _, ok := severityNames[sev]; !ok {
		return fmt.Errorf("unknown severity %d", n)
	}
	*s = sev
	return nil
}

// UnassociatedSequence is the RefSequence value of a hint that does not
// point at any event record. The session drops such hints silently.
const UnassociatedSequence int64 = -1

// EmitFunc is handed to an analysis rule for each record it evaluates.
// Calling it stages a hint; staged hints are delivered after the rule pass
// for the record completes, so a failing rule never publishes partial
// findings. RefSequence names the record the hint is about, normally the
// sequence of the record under evaluation.
type EmitFunc func(timestamp float64, message string, refSequence int64, severity Severity)

// HintRecord is a finding an analysis rule produced about a trace. Hints
// reference the offending event record by sequence number and are attached
// back onto it by the session.
type HintRecord struct {
	// ID uniquely identifies the hint. The engine stamps a ULID when the
	// hint is accepted from a rule.
	ID string `json:"id,omitempty"`

	// Rule is the name of the rule that produced the hint.
	Rule string `json:"rule"`

	// Timestamp is the trace-relative time in milliseconds the finding
	// refers to, normally the time of the referenced record.
	Timestamp float64 `json:"timestamp"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// RefSequence is the sequence number of the event record the hint is
	// about, or UnassociatedSequence if it references none.
	RefSequence int64 `json:"ref_sequence"`

	// Severity grades the finding.
	Severity Severity `json:"severity"`
}

// NewHintRecord creates a hint produced by the named rule.
func NewHintRecord(rule string, timestamp float64, message string, refSequence int64, severity Severity) *HintRecord {
	return &HintRecord{
		Rule:        rule,
		Timestamp:   timestamp,
		Message:     message,
		RefSequence: refSequence,
		Severity:    severity,
	}
}

// Associated reports whether the hint references an event record.
func (h *HintRecord) Associated() bool {
	return h.RefSequence != UnassociatedSequence && h.RefSequence >= 0
}

// String renders a compact one-line description for logs.
func (h *HintRecord) String() string {
	return fmt.Sprintf("rule=%s severity=%s ref=%d msg=%q", h.Rule, h.Severity, h.RefSequence, h.Message)
}
