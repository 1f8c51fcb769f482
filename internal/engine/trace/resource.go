package trace

import "strings"

// Headers is a case-preserving HTTP header map. Browsers report headers
// with whatever casing the server used, so lookups are case-insensitive.
type Headers map[string]string

// Get returns the value of the named header, matching case-insensitively.
func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Has reports whether the named header is present, even with an empty value.
func (h Headers) Has(name string) bool {
	if _, ok := h[name]; ok {
		return true
	}
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Clone returns a copy of the header map.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ResourceSnapshot is the accumulated view of one network request, built up
// from the resource lifecycle records (send-request, receive-response,
// data-received, finish). Analysis rules read snapshots through a
// SnapshotProvider instead of re-parsing the raw records.
type ResourceSnapshot struct {
	// Identifier is the browser-assigned request identifier that ties the
	// lifecycle records together.
	Identifier string `json:"identifier"`

	// URL is the requested resource URL.
	URL string `json:"url"`

	// Method is the HTTP method of the request.
	Method string `json:"method,omitempty"`

	// StatusCode is the HTTP response status, zero until a response
	// arrives.
	StatusCode int `json:"status_code,omitempty"`

	// MimeType is the response content type as reported by the browser.
	MimeType string `json:"mime_type,omitempty"`

	// RequestHeaders holds the request headers, when the agent captured
	// them.
	RequestHeaders Headers `json:"request_headers,omitempty"`

	// ResponseHeaders holds the response headers, when the agent captured
	// them. Rules that reason about caching require these.
	ResponseHeaders Headers `json:"response_headers,omitempty"`

	// StartTime is the send-request time in trace milliseconds.
	StartTime float64 `json:"start_time"`

	// ResponseTime is the receive-response time, zero until headers
	// arrive.
	ResponseTime float64 `json:"response_time,omitempty"`

	// EndTime is the finish time, zero until the request completes.
	EndTime float64 `json:"end_time,omitempty"`

	// ContentLength is the number of body bytes observed via
	// data-received records.
	ContentLength int64 `json:"content_length,omitempty"`

	// Complete reports whether a finish record has been seen.
	Complete bool `json:"complete"`

	// DidFail reports whether the finish record flagged an error.
	DidFail bool `json:"did_fail,omitempty"`
}

// HasResponseHeaders reports whether the agent captured response headers
// for this resource. Header-driven rules no-op without them.
func (s *ResourceSnapshot) HasResponseHeaders() bool {
	return s != nil && len(s.ResponseHeaders) > 0
}

// SnapshotProvider exposes accumulated resource state to analysis rules.
// The network resource sub-model implements it; rules receive it at
// construction so they stay free of session internals.
type SnapshotProvider interface {
	// GetResourceData returns the snapshot for a request identifier.
	// The second return is false when the identifier is unknown.
	GetResourceData(identifier string) (*ResourceSnapshot, bool)
}
