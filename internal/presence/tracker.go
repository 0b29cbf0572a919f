// Package presence tracks live event feed sessions for the operator roster.
//
// Feed sessions register when they open and report every delivery. A
// background reaper cancels sessions that made no progress (no record and
// no keepalive) for longer than a threshold: a session that keeps its
// keepalive cadence can only stall when the client stopped reading.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Session describes a feed session when it opens.
type Session struct {
	ID        string   `json:"id"`
	ContestID int64    `json:"contest_id"`
	Tier      string   `json:"tier"`
	Types     []string `json:"types,omitempty"`
	Strict    bool     `json:"strict"`
	Stream    bool     `json:"stream"`
	Transport string   `json:"transport"` // "http" or "grpc"
	Remote    string   `json:"remote,omitempty"`
}

// Entry is a snapshot of one live session.
type Entry struct {
	Session
	OpenedAt     time.Time `json:"opened_at"`
	LastProgress time.Time `json:"last_progress"`
	Cursor       int64     `json:"cursor"`
	Delivered    int64     `json:"delivered"`
	Keepalives   int64     `json:"keepalives"`
	IdleSecs     float64   `json:"idle_secs"`
	Stalled      bool      `json:"stalled,omitempty"`
}

// ReaperConfig configures the background stall reaper.
type ReaperConfig struct {
	// StallThreshold is how long a session may go without progress.
	// Default: 2 minutes.
	StallThreshold time.Duration

	// SweepInterval is how often the reaper scans. Default: 15 seconds.
	SweepInterval time.Duration
}

// Tracker maintains the in-memory roster of open sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	now      func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type sessionState struct {
	info         Session
	cancel       func()
	openedAt     time.Time
	lastProgress time.Time
	cursor       int64
	delivered    int64
	keepalives   int64
	stalled      bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

// Open registers a session. cancel is called if the reaper finds it stalled.
func (t *Tracker) Open(info Session, cursor int64, cancel func()) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[info.ID] = &sessionState{
		info:         info,
		cancel:       cancel,
		openedAt:     now,
		lastProgress: now,
		cursor:       cursor,
	}
}

// Delivered records that a record was sent and the cursor moved.
func (t *Tracker) Delivered(id string, cursor int64) {
	t.update(id, func(s *sessionState) {
		s.delivered++
		s.cursor = cursor
	})
}

// Advanced records a cursor move past events the session did not send.
func (t *Tracker) Advanced(id string, cursor int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.cursor = cursor
	}
}

// Keepalive records that a keepalive was sent.
func (t *Tracker) Keepalive(id string) {
	t.update(id, func(s *sessionState) { s.keepalives++ })
}

func (t *Tracker) update(id string, fn func(*sessionState)) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	fn(s)
	s.lastProgress = now
	if s.stalled {
		slog.Info("presence: stalled session resumed", "session", id)
		s.stalled = false
	}
}

// Close removes a session.
func (t *Tracker) Close(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Roster returns a snapshot of all open sessions, oldest first. When
// contestID is non-zero only that contest's sessions are returned.
func (t *Tracker) Roster(contestID int64) []Entry {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.sessions))
	for _, s := range t.sessions {
		if contestID != 0 && s.info.ContestID != contestID {
			continue
		}
		entries = append(entries, Entry{
			Session:      s.info,
			OpenedAt:     s.openedAt,
			LastProgress: s.lastProgress,
			Cursor:       s.cursor,
			Delivered:    s.delivered,
			Keepalives:   s.keepalives,
			IdleSecs:     now.Sub(s.lastProgress).Seconds(),
			Stalled:      s.stalled,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OpenedAt.Equal(entries[j].OpenedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].OpenedAt.Before(entries[j].OpenedAt)
	})
	return entries
}

// Len returns the number of open sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// StartReaper launches a background goroutine that cancels stalled
// sessions. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = 2 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"stall_threshold", cfg.StallThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()

	type stalledSession struct {
		id     string
		idle   time.Duration
		cancel func()
	}
	var newlyStalled []stalledSession

	t.mu.Lock()
	for id, s := range t.sessions {
		if s.stalled {
			continue
		}
		idle := now.Sub(s.lastProgress)
		if idle > cfg.StallThreshold {
			s.stalled = true
			newlyStalled = append(newlyStalled, stalledSession{id: id, idle: idle, cancel: s.cancel})
		}
	}
	t.mu.Unlock()

	// Cancel outside the lock: cancellation makes the session call Close.
	for _, s := range newlyStalled {
		slog.Warn("presence: cancelling stalled feed session",
			"session", s.id,
			"idle", s.idle,
			"threshold", cfg.StallThreshold)
		if s.cancel != nil {
			s.cancel()
		}
	}
}
