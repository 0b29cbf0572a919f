// Package server exposes the event feed, the contest clock and the status
// query over HTTP and gRPC.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/access"
	"github.com/alfredjeanlab/contestfeed/internal/clock"
	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// DefaultWriteTimeout bounds a single feed write to a client.
const DefaultWriteTimeout = 30 * time.Second

// Config wires a Server.
type Config struct {
	Store      store.Store
	Dispatcher *feed.Dispatcher
	Clock      *clock.Controller
	Auth       *Authenticator
	Logger     *slog.Logger
	Now        func() time.Time

	// WriteTimeout is the deadline for each write of a streaming response.
	// A client that stops reading is dropped once it expires.
	WriteTimeout time.Duration
}

// Server serves the contest feed API.
type Server struct {
	store        store.Store
	dispatcher   *feed.Dispatcher
	clock        *clock.Controller
	auth         *Authenticator
	logger       *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	s := &Server{
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		clock:        cfg.Clock,
		auth:         cfg.Auth,
		logger:       cfg.Logger,
		now:          cfg.Now,
		writeTimeout: cfg.WriteTimeout,
	}
	if s.auth == nil {
		s.auth = NewAuthenticator(nil, nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.writeTimeout == 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	return s
}

// errContestNotFound is reported for unknown contests and for contests the
// caller may not see.
type errContestNotFound string

func (e errContestNotFound) Error() string {
	return "Contest with ID '" + string(e) + "' not found"
}

// lookupContest resolves a path contest id: the external id first, then
// the numeric id.
func (s *Server) lookupContest(ctx context.Context, cid string) (*model.Contest, error) {
	c, err := s.store.GetContestByExternalID(ctx, cid)
	if errors.Is(err, store.ErrNotFound) {
		if id, perr := strconv.ParseInt(cid, 10, 64); perr == nil {
			c, err = s.store.GetContest(ctx, id)
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, errContestNotFound(cid)
	}
	return c, err
}

// visibleContest is lookupContest restricted to contests tier may see.
func (s *Server) visibleContest(ctx context.Context, cid string, tier access.Tier) (*model.Contest, error) {
	c, err := s.lookupContest(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !access.ContestVisible(c, tier, s.now()) {
		return nil, errContestNotFound(cid)
	}
	return c, nil
}

// writeLookupError maps contest and store errors onto HTTP responses.
func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound errContestNotFound
	switch {
	case errors.As(err, &notFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Warn("request failed: store unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
