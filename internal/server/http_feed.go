package server

import (
	"errors"
	"net/http"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// handleEventFeed handles GET /api/contests/{cid}/event-feed.
//
// Everything that can reject the request happens before the status line is
// written; once streaming starts, failures only end the stream.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tier := CapabilitiesFrom(ctx).Tier()

	contest, err := s.visibleContest(ctx, r.PathValue("cid"), tier)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}

	sse := wantsSSE(r)
	query := r.URL.Query()
	if last := r.Header.Get("Last-Event-ID"); sse && last != "" && !query.Has("since_id") {
		query.Set("since_id", last)
	}
	params, err := feed.ParseParams(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.dispatcher.Open(ctx, contest, params, tier, feed.Peer{Transport: "http", Remote: r.RemoteAddr})
	if err != nil {
		var verr *feed.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Message)
		case errors.Is(err, store.ErrUnavailable):
			w.Header().Set("Retry-After", "1")
			s.writeLookupError(w, r, err)
		default:
			s.writeLookupError(w, r, err)
		}
		return
	}

	var sink feed.Sink
	lw := newLineWriter(w, s.writeTimeout)
	if sse {
		setStreamHeaders(w, "text/event-stream")
		sink = sseSink{lw}
	} else {
		setStreamHeaders(w, "application/x-ndjson")
		sink = ndjsonSink{lw}
	}
	w.WriteHeader(http.StatusOK)
	if err := lw.rc.Flush(); err != nil {
		s.logger.Warn("event feed: flush headers", "session", session.ID(), "error", err)
		return
	}

	if err := session.Run(ctx, sink); err != nil && !errors.Is(err, feed.ErrInvariant) {
		// Invariant violations are logged by the session itself.
		s.logger.Warn("event feed ended", "session", session.ID(), "cursor", session.Cursor(), "error", err)
	}
}
