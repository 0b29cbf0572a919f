// Package feed streams a contest's event log to a viewer: it validates the
// cursor, bootstraps the log, then polls, filters and delivers records
// until the viewer leaves or, without streaming, the log is drained.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/access"
	"github.com/alfredjeanlab/contestfeed/internal/idgen"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/presence"
	"github.com/alfredjeanlab/contestfeed/internal/store"
	"github.com/alfredjeanlab/contestfeed/internal/strict"
	"github.com/alfredjeanlab/contestfeed/internal/synth"
)

// ErrInvariant halts a session whose log contradicts itself.
var ErrInvariant = synth.ErrInvariant

// Defaults for Options.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultBatchSize         = 1000
)

// Sink receives a session's output. Send and Keepalive may block; the
// session produces nothing more until they return.
type Sink interface {
	Send(Record) error
	Keepalive() error
}

// Waker signals that a contest's log may have grown.
type Waker interface {
	Watch(contestID int64) (<-chan struct{}, func(), error)
}

// Options tune a Dispatcher. Zero values take the defaults.
type Options struct {
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
	BatchSize         int
	Now               func() time.Time
	Waker             Waker
	Presence          *presence.Tracker
	Logger            *slog.Logger
}

// Dispatcher opens feed sessions.
type Dispatcher struct {
	store store.Store
	synth *synth.Synthesizer
	opts  Options
}

// NewDispatcher returns a Dispatcher reading from s and synthesizing with syn.
func NewDispatcher(s store.Store, syn *synth.Synthesizer, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Presence == nil {
		opts.Presence = presence.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{store: s, synth: syn, opts: opts}
}

// Presence returns the roster of open sessions.
func (d *Dispatcher) Presence() *presence.Tracker {
	return d.opts.Presence
}

// Peer describes who a session serves, for the roster.
type Peer struct {
	Transport string
	Remote    string
}

// Open validates the request and bootstraps the contest's log. Every error
// it returns happens before anything is delivered.
func (d *Dispatcher) Open(ctx context.Context, contest *model.Contest, params Params, tier access.Tier, peer Peer) (*Session, error) {
	var cursor int64
	if params.SinceID != nil {
		if _, err := d.store.GetEvent(ctx, contest.ID, *params.SinceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrInvalidCursor
			}
			return nil, fmt.Errorf("validate cursor: %w", err)
		}
		cursor = *params.SinceID
	}

	var table *strict.Table
	if params.Strict {
		var err error
		if table, err = strict.Load(); err != nil {
			return nil, err
		}
	}

	if _, err := d.synth.Bootstrap(ctx, contest.ID); err != nil {
		if errors.Is(err, ErrInvariant) {
			d.opts.Logger.Error("feed bootstrap found an inconsistent log", "contest", contest.ID, "error", err)
		}
		return nil, err
	}

	s := &Session{
		id:        idgen.SessionID(),
		contestID: contest.ID,
		params:    params,
		tier:      tier,
		peer:      peer,
		table:     table,
		cursor:    cursor,
		d:         d,
		logger:    d.opts.Logger,
	}
	s.logger = s.logger.With("session", s.id, "contest", contest.ID)
	return s, nil
}

// Session is one viewer's position in a contest's log. A Session is not
// safe for concurrent use; Run drives it to completion.
type Session struct {
	id        string
	contestID int64
	params    Params
	tier      access.Tier
	peer      Peer
	table     *strict.Table
	cursor    int64
	d         *Dispatcher
	logger    *slog.Logger
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Cursor returns the id of the last event the session has passed.
func (s *Session) Cursor() int64 { return s.cursor }

// Run polls and delivers until ctx is cancelled, the sink fails, the log
// is drained of a non-streaming session, or the log is found inconsistent.
// Cancellation and drain return nil.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := s.d.opts.Presence
	tracker.Open(s.info(), s.cursor, cancel)
	defer tracker.Close(s.id)

	var wake <-chan struct{}
	if s.d.opts.Waker != nil && s.params.Stream {
		ch, stop, err := s.d.opts.Waker.Watch(s.contestID)
		if err != nil {
			s.logger.Warn("feed wake-ups unavailable, polling only", "error", err)
		} else {
			wake = ch
			defer stop()
		}
	}

	s.logger.Info("feed session opened",
		"tier", s.tier, "cursor", s.cursor, "strict", s.params.Strict, "stream", s.params.Stream)
	start := s.d.opts.Now()
	defer func() {
		s.logger.Info("feed session closed", "cursor", s.cursor, "duration", s.d.opts.Now().Sub(start))
	}()

	poll := time.NewTimer(s.d.opts.PollInterval)
	poll.Stop()
	defer poll.Stop()
	lastDelivery := s.d.opts.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		returned, delivered, err := s.poll(ctx, sink)
		unavailable := false
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrInvariant):
			s.logger.Error("feed session halted: inconsistent event log", "cursor", s.cursor, "error", err)
			return err
		case errors.Is(err, store.ErrUnavailable):
			s.logger.Warn("feed poll skipped: store unavailable", "cursor", s.cursor, "error", err)
			unavailable = true
		default:
			return err
		}

		if delivered > 0 {
			lastDelivery = s.d.opts.Now()
		}
		if returned > 0 {
			continue
		}
		if !s.params.Stream && !unavailable {
			return nil
		}

		if now := s.d.opts.Now(); now.Sub(lastDelivery) > s.d.opts.KeepaliveInterval {
			if err := sink.Keepalive(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			tracker.Keepalive(s.id)
			lastDelivery = now
		}

		poll.Reset(s.d.opts.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
			poll.Stop()
		}
	}
}

// poll runs one iteration: synthesize due state events, read the next
// batch after the cursor, and deliver what the tier may see. It reports
// how many events the store returned and how many records were sent.
func (s *Session) poll(ctx context.Context, sink Sink) (returned, delivered int, err error) {
	now := s.d.opts.Now()
	if _, err := s.d.synth.AddMissingStateEvents(ctx, s.contestID, now); err != nil {
		return 0, 0, err
	}
	// The contest is re-read every iteration: its start time decides
	// whether public viewers may see problems.
	contest, err := s.d.store.GetContest(ctx, s.contestID)
	if err != nil {
		return 0, 0, fmt.Errorf("load contest: %w", err)
	}

	events, err := s.d.store.ListEvents(ctx, model.EventFilter{
		ContestID: s.contestID,
		AfterID:   s.cursor,
		Types:     s.params.Types,
		Limit:     s.d.opts.BatchSize,
	})
	if err != nil {
		return 0, 0, err
	}

	tracker := s.d.opts.Presence
	for _, e := range events {
		if e.ID <= s.cursor {
			return returned, delivered, fmt.Errorf("%w: event %d returned after cursor %d", ErrInvariant, e.ID, s.cursor)
		}
		returned++

		data, ok := access.Filter(contest, now, s.tier, e)
		if ok && s.table != nil {
			if data, err = s.table.Apply(e.EndpointType, data); err != nil {
				s.logger.Warn("dropping event with unparseable payload", "event_id", e.ID, "error", err)
				ok = false
			}
		}
		if ok {
			if err := sink.Send(newRecord(e, data, s.table != nil)); err != nil {
				return returned, delivered, err
			}
			delivered++
			s.cursor = e.ID
			tracker.Delivered(s.id, s.cursor)
			continue
		}
		// Dropped events still move the cursor so they are never re-read.
		s.cursor = e.ID
		tracker.Advanced(s.id, s.cursor)
	}
	return returned, delivered, nil
}

func (s *Session) info() presence.Session {
	types := make([]string, len(s.params.Types))
	for i, t := range s.params.Types {
		types[i] = string(t)
	}
	return presence.Session{
		ID:        s.id,
		ContestID: s.contestID,
		Tier:      s.tier.String(),
		Types:     types,
		Strict:    s.params.Strict,
		Stream:    s.params.Stream,
		Transport: s.peer.Transport,
		Remote:    s.peer.Remote,
	}
}
