package server

import (
	"encoding/json"
	"net/http"
)

// NewHTTPHandler returns an http.Handler with all routes registered behind
// capability resolution and request logging.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contests/{cid}/event-feed", s.handleEventFeed)
	mux.HandleFunc("GET /api/contests/{cid}/state", s.handleGetState)
	mux.HandleFunc("GET /api/contests/{cid}/status", s.handleGetStatus)
	mux.HandleFunc("GET /api/contests/{cid}", s.handleGetContest)
	mux.HandleFunc("PATCH /api/contests/{cid}", s.handleSetStartTime)
	mux.HandleFunc("GET /api/feeds", s.handleFeedRoster)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return LoggingMiddleware(s.logger, CapabilityMiddleware(s.auth, mux))
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireCapability writes 403 and returns false when the caller lacks c.
func requireCapability(w http.ResponseWriter, r *http.Request, c Capability) bool {
	if CapabilitiesFrom(r.Context()).Has(c) {
		return true
	}
	writeError(w, http.StatusForbidden, "Access denied: requires "+string(c))
	return false
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
