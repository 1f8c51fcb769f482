package engine

import (
	"sync"

	"github.com/drblury/traceflow/internal/engine/trace"
)

// NetworkResourceModel folds the resource lifecycle records into one
// ResourceSnapshot per request identifier and serves them to analysis rules
// through the trace.SnapshotProvider interface.
//
// Payload keys follow the agent wire format: "identifier" ties the lifecycle
// together; send-request adds "url", "method", and request "headers";
// receive-response adds "statusCode", "mimeType", and response "headers";
// data-received adds "dataLength"; finish adds "didFail". Lifecycle records
// for an identifier that never sent a request are kept too, so late joiners
// (a trace started mid-request) still accumulate partial snapshots.
type NetworkResourceModel struct {
	mu        sync.RWMutex
	resources map[string]*trace.ResourceSnapshot
}

var _ trace.SnapshotProvider = (*NetworkResourceModel)(nil)

// NewNetworkResourceModel returns an empty resource model.
func NewNetworkResourceModel() *NetworkResourceModel {
	return &NetworkResourceModel{resources: make(map[string]*trace.ResourceSnapshot)}
}

func (m *NetworkResourceModel) Name() string { return NetworkResourceModelName }

func (m *NetworkResourceModel) OnEventRecord(rec *trace.EventRecord) error {
	if !rec.Type.IsResourceEvent() {
		return nil
	}

	identifier, ok := rec.Data.GetString("identifier")
	if !ok || identifier == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.resources[identifier]
	if !ok {
		res = &trace.ResourceSnapshot{Identifier: identifier}
		m.resources[identifier] = res
	}

	switch rec.Type {
	case trace.TypeResourceSendRequest:
		if url, ok := rec.Data.GetString("url"); ok {
			res.URL = url
		}
		if method, ok := rec.Data.GetString("method"); ok {
			res.Method = method
		}
		if headers, ok := rec.Data.GetHeaders("headers"); ok {
			res.RequestHeaders = headers
		}
		res.StartTime = rec.Time

	case trace.TypeResourceReceiveResponse:
		if status, ok := rec.Data.GetInt64("statusCode"); ok {
			res.StatusCode = int(status)
		}
		if mime, ok := rec.Data.GetString("mimeType"); ok {
			res.MimeType = mime
		}
		if headers, ok := rec.Data.GetHeaders("headers"); ok {
			res.ResponseHeaders = headers
		}
		res.ResponseTime = rec.Time

	case trace.TypeResourceDataReceived:
		if length, ok := rec.Data.GetInt64("dataLength"); ok {
			res.ContentLength += length
		}

	case trace.TypeResourceFinish:
		if didFail, ok := rec.Data.GetBool("didFail"); ok {
			res.DidFail = didFail
		}
		res.EndTime = rec.Time
		res.Complete = true
	}

	return nil
}

// GetResourceData returns the snapshot accumulated for a request identifier.
func (m *NetworkResourceModel) GetResourceData(identifier string) (*trace.ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[identifier]
	return res, ok
}

// Resources returns a copy of the identifier index in no particular order.
func (m *NetworkResourceModel) Resources() []*trace.ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*trace.ResourceSnapshot, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, res)
	}
	return out
}

// Len reports how many distinct request identifiers have been observed.
func (m *NetworkResourceModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}

// Reset discards every accumulated snapshot. A session Clear never calls
// this; trimming resource state is an explicit, separate decision.
func (m *NetworkResourceModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = make(map[string]*trace.ResourceSnapshot)
}
