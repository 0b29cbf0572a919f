package server

import (
	"net/http"

	"github.com/alfredjeanlab/contestfeed/internal/presence"
)

// handleFeedRoster handles GET /api/feeds.
// Returns the open feed sessions from the presence tracker, optionally
// limited to one contest with ?contest=<cid>.
func (s *Server) handleFeedRoster(w http.ResponseWriter, r *http.Request) {
	if !requireCapability(w, r, CapReader) {
		return
	}

	var contestID int64
	if cid := r.URL.Query().Get("contest"); cid != "" {
		contest, err := s.lookupContest(r.Context(), cid)
		if err != nil {
			s.writeLookupError(w, r, err)
			return
		}
		contestID = contest.ID
	}

	entries := s.dispatcher.Presence().Roster(contestID)
	if entries == nil {
		entries = []presence.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": entries,
		"count":    len(entries),
	})
}
