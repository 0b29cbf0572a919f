// Package clock implements the guarded mutation of a contest's start time.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/eventlog"
	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// GuardWindow is how close to now a start time may be before changing it
// requires force.
const GuardWindow = 30 * time.Second

// Kind classifies a rejected mutation.
type Kind int

const (
	KindInvalidID   Kind = iota + 1 // missing or wrong contest id (400)
	KindInvalidTime                 // unparseable start time (400)
	KindGuard                       // inside the safety window (403)
)

// Error is a rejected mutation. Nothing was changed and no event was logged.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func reject(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Request is one start-time mutation. A nil, empty or "null" StartTime
// pauses the contest.
type Request struct {
	ContestID   int64
	RequestedID *string
	StartTime   *string
	Force       bool
}

func (r Request) pause() bool {
	if r.StartTime == nil {
		return true
	}
	s := strings.TrimSpace(*r.StartTime)
	return s == "" || s == "null"
}

// Result describes a committed mutation.
type Result struct {
	Message string
	Contest *model.Contest
	Event   *model.Event
}

// Controller validates and applies start-time mutations.
type Controller struct {
	log      *eventlog.Log
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLocation sets the zone for times given without an offset and for
// the confirmation message.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.location = loc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New returns a Controller writing through log.
func New(log *eventlog.Log, opts ...Option) *Controller {
	c := &Controller{
		log:      log,
		now:      time.Now,
		location: time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetStartTime applies req. Checks run in a fixed order and the first
// failure wins: contest id, safety window on the current start, then the
// requested time. The contest row stays locked from the checks until the
// contests update event is committed.
func (c *Controller) SetStartTime(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := c.log.Update(ctx, func(tx *eventlog.Tx) error {
		contest, err := tx.LockContest(ctx, req.ContestID)
		if err != nil {
			return err
		}
		now := c.now()

		if req.RequestedID == nil {
			return reject(KindInvalidID, `Missing "id" in request.`)
		}
		if *req.RequestedID != contest.ExternalID {
			return reject(KindInvalidID, `Invalid "id" in request.`)
		}
		if start := contest.Start(); !req.Force && start != nil && !start.After(now.Add(GuardWindow)) {
			return reject(KindGuard, "Current contest already started or about to start.")
		}

		var msg string
		if req.pause() {
			contest.StartTimeEnabled = false
			msg = "Contest paused :-/."
		} else {
			start, err := ParseTime(*req.StartTime, c.location)
			if err != nil {
				return reject(KindInvalidTime, `Invalid "start_time" in request.`)
			}
			if !req.Force && start.Before(now.Add(GuardWindow)) {
				return reject(KindGuard, "New start_time not far enough in the future.")
			}
			contest.StartTime = start
			contest.StartTimeEnabled = true
			msg = "Contest start time changed to " + FormatConfirmation(start, c.location)
		}

		if err := tx.UpdateContestStart(ctx, contest); err != nil {
			return err
		}
		data, err := contest.APIData()
		if err != nil {
			return err
		}
		e := &model.Event{
			ContestID:    contest.ID,
			EndpointType: model.EndpointContests,
			EntityID:     contest.ExternalID,
			Action:       model.ActionUpdate,
			Data:         data,
		}
		if err := tx.Append(ctx, e); err != nil {
			return err
		}
		res = &Result{Message: msg, Contest: contest, Event: e}
		return nil
	})
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			return nil, cerr
		}
		return nil, fmt.Errorf("set start time of contest %d: %w", req.ContestID, err)
	}

	c.logger.Info("contest start time changed",
		"contest", req.ContestID, "enabled", res.Contest.StartTimeEnabled,
		"start", res.Contest.StartTime, "force", req.Force)
	return res, nil
}

// layouts are tried in order. The first two carry their own offset.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTime accepts RFC 3339, a few space-separated variants, and
// "@<unix seconds>". Times without an offset are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "@"); ok {
		secs, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse unix time %q: %w", s, err)
		}
		return time.Unix(secs, 0).In(loc), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// FormatConfirmation renders t as "2006-01-02 15:04:05 <zone name>".
func FormatConfirmation(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04:05") + " " + loc.String()
}
