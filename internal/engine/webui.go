package engine

import (
	"net/http"
	"strings"
	"time"

	idspkg "github.com/drblury/traceflow/internal/engine/ids"
	"github.com/drblury/traceflow/internal/engine/jsoncodec"
	"github.com/drblury/traceflow/internal/engine/trace"
)

func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/session", http.HandlerFunc(s.handleGetSession))
	s.RegisterHTTPHandler(port, "/api/submodels", http.HandlerFunc(s.handleGetSubModels))
	s.RegisterHTTPHandler(port, "/api/hints", http.HandlerFunc(s.handleGetHints))
	s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealthz))
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.beginAPIResponse(w, r) {
		return
	}
	s.writeJSON(w, s.session.Snapshot())
}

func (s *Service) handleGetSubModels(w http.ResponseWriter, r *http.Request) {
	if s.beginAPIResponse(w, r) {
		return
	}
	s.writeJSON(w, s.session.SubModels())
}

// hintView decorates a hint with the wall-clock emission time recovered from
// its ULID, so API clients do not have to decode the ID themselves.
type hintView struct {
	*trace.HintRecord
	EmittedAt string `json:"emitted_at,omitempty"`
}

func (s *Service) handleGetHints(w http.ResponseWriter, r *http.Request) {
	if s.beginAPIResponse(w, r) {
		return
	}

	var hints []*trace.HintRecord
	if s.recentHints != nil {
		hints = s.recentHints.Snapshot()
	}
	views := make([]hintView, 0, len(hints))
	for _, h := range hints {
		view := hintView{HintRecord: h}
		if emitted, ok := idspkg.Time(h.ID); ok {
			view.EmittedAt = emitted.UTC().Format(time.RFC3339Nano)
		}
		views = append(views, view)
	}
	s.writeJSON(w, views)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.beginAPIResponse(w, r) {
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// beginAPIResponse writes the shared response headers and reports whether
// the request was fully handled (a CORS preflight).
func (s *Service) beginAPIResponse(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")

	// Set CORS headers based on configuration
	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *Service) writeJSON(w http.ResponseWriter, payload any) {
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		s.Logger.Error("Failed to encode API response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(body); err != nil {
		s.Logger.Error("Failed to write API response", err, nil)
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
