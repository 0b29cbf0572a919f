package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// absTimeLayout is the absolute timestamp format used in API payloads.
const absTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatAbsTime renders t in the API's absolute time format.
func FormatAbsTime(t time.Time) string {
	return t.Format(absTimeLayout)
}

// FormatRelTime renders d as the API's relative time, e.g. "5:00:00.000".
func FormatRelTime(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, s, ms)
}

// APITime is a timestamp that encodes in the API's absolute time format.
type APITime time.Time

func (t APITime) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatAbsTime(time.Time(t)))
}

func (t *APITime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(absTimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse api time %q: %w", s, err)
		}
	}
	*t = APITime(parsed)
	return nil
}

func apiTime(t *time.Time) *APITime {
	if t == nil {
		return nil
	}
	at := APITime(*t)
	return &at
}

// Contest is the scheduling and visibility configuration of one contest.
// All schedule boundaries are offsets from the start time, so moving the
// start moves every boundary with it.
type Contest struct {
	ID               int64
	ExternalID       string
	Name             string
	ShortName        string
	StartTime        time.Time
	StartTimeEnabled bool
	Duration         time.Duration
	FreezeDuration   *time.Duration // scoreboard freeze length before the end
	UnfreezeOffset   *time.Duration // from start
	FinalizeOffset   *time.Duration // from start
	Enabled          bool
	Public           bool
	ActivateTime     *time.Time
	DeactivateTime   *time.Time
	PenaltyTime      int // minutes
}

// Start returns the armed start time, or nil when the clock is paused/unset.
func (c *Contest) Start() *time.Time {
	if !c.StartTimeEnabled || c.StartTime.IsZero() {
		return nil
	}
	t := c.StartTime
	return &t
}

func (c *Contest) offset(d *time.Duration) *time.Time {
	start := c.Start()
	if start == nil || d == nil {
		return nil
	}
	t := start.Add(*d)
	return &t
}

// End returns the end of the contest, nil while the start is unset.
func (c *Contest) End() *time.Time {
	return c.offset(&c.Duration)
}

// Freeze returns when the scoreboard freezes, if it does.
func (c *Contest) Freeze() *time.Time {
	if c.FreezeDuration == nil {
		return nil
	}
	d := c.Duration - *c.FreezeDuration
	return c.offset(&d)
}

// Unfreeze returns when the scoreboard thaws. A thaw without a freeze is
// meaningless and reported as nil.
func (c *Contest) Unfreeze() *time.Time {
	if c.Freeze() == nil {
		return nil
	}
	return c.offset(c.UnfreezeOffset)
}

// Finalize returns when results become final, if scheduled.
func (c *Contest) Finalize() *time.Time {
	return c.offset(c.FinalizeOffset)
}

// Active reports whether non-privileged viewers may see the contest at now.
func (c *Contest) Active(now time.Time) bool {
	if !c.Enabled || !c.Public {
		return false
	}
	if c.ActivateTime != nil && now.Before(*c.ActivateTime) {
		return false
	}
	if c.DeactivateTime != nil && !now.Before(*c.DeactivateTime) {
		return false
	}
	return true
}

// Started reports whether the contest has an armed start at or before now.
func (c *Contest) Started(now time.Time) bool {
	start := c.Start()
	return start != nil && !now.Before(*start)
}

// ContestData is the API representation of a contest.
type ContestData struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	FormalName               string   `json:"formal_name"`
	ShortName                string   `json:"shortname"`
	StartTime                *APITime `json:"start_time"`
	Duration                 string   `json:"duration"`
	ScoreboardFreezeDuration *string  `json:"scoreboard_freeze_duration"`
	PenaltyTime              int      `json:"penalty_time"`
}

// APIData renders the contest as an event payload.
func (c *Contest) APIData() (Payload, error) {
	data := ContestData{
		ID:          c.ExternalID,
		Name:        c.Name,
		FormalName:  c.Name,
		ShortName:   c.ShortName,
		StartTime:   apiTime(c.Start()),
		Duration:    FormatRelTime(c.Duration),
		PenaltyTime: c.PenaltyTime,
	}
	if c.FreezeDuration != nil {
		fd := FormatRelTime(*c.FreezeDuration)
		data.ScoreboardFreezeDuration = &fd
	}
	return NewPayload(data)
}

// ContestState is the API state object. A nil field means the transition
// has not happened.
type ContestState struct {
	Started      *APITime `json:"started"`
	Frozen       *APITime `json:"frozen"`
	Ended        *APITime `json:"ended"`
	Thawed       *APITime `json:"thawed"`
	Finalized    *APITime `json:"finalized"`
	EndOfUpdates *APITime `json:"end_of_updates"`
}

// Transition names, in the order their fields appear in ContestState.
const (
	TransitionStarted      = "started"
	TransitionFrozen       = "frozen"
	TransitionEnded        = "ended"
	TransitionThawed       = "thawed"
	TransitionFinalized    = "finalized"
	TransitionEndOfUpdates = "end_of_updates"
)

// TransitionNames lists every transition in state field order.
var TransitionNames = []string{
	TransitionStarted,
	TransitionFrozen,
	TransitionEnded,
	TransitionThawed,
	TransitionFinalized,
	TransitionEndOfUpdates,
}

// Has reports whether the named transition is recorded in s.
func (s *ContestState) Has(name string) bool {
	switch name {
	case TransitionStarted:
		return s.Started != nil
	case TransitionFrozen:
		return s.Frozen != nil
	case TransitionEnded:
		return s.Ended != nil
	case TransitionThawed:
		return s.Thawed != nil
	case TransitionFinalized:
		return s.Finalized != nil
	case TransitionEndOfUpdates:
		return s.EndOfUpdates != nil
	}
	return false
}

// Transition is one scheduled lifecycle boundary.
type Transition struct {
	Name string
	At   time.Time
}

// Transitions returns the contest's scheduled boundaries in chronological
// order. It is empty while the start time is unset.
func (c *Contest) Transitions() []Transition {
	start := c.Start()
	if start == nil {
		return nil
	}
	var out []Transition
	add := func(name string, t *time.Time) {
		if t != nil {
			out = append(out, Transition{Name: name, At: *t})
		}
	}
	add(TransitionStarted, start)
	add(TransitionFrozen, c.Freeze())
	add(TransitionEnded, c.End())
	add(TransitionThawed, c.Unfreeze())
	add(TransitionFinalized, c.Finalize())
	add(TransitionEndOfUpdates, c.endOfUpdates())

	// Stable so that boundaries at the same instant keep the state field order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// endOfUpdates is reached once results are final and, if the scoreboard was
// frozen, after it thawed.
func (c *Contest) endOfUpdates() *time.Time {
	finalize := c.Finalize()
	if finalize == nil {
		return nil
	}
	if c.Freeze() == nil {
		return finalize
	}
	thaw := c.Unfreeze()
	if thaw == nil {
		return nil
	}
	if thaw.After(*finalize) {
		return thaw
	}
	return finalize
}

// Set records the named transition at the given time.
func (s *ContestState) Set(name string, at time.Time) {
	t := APITime(at)
	switch name {
	case TransitionStarted:
		s.Started = &t
	case TransitionFrozen:
		s.Frozen = &t
	case TransitionEnded:
		s.Ended = &t
	case TransitionThawed:
		s.Thawed = &t
	case TransitionFinalized:
		s.Finalized = &t
	case TransitionEndOfUpdates:
		s.EndOfUpdates = &t
	}
}

// State returns the contest state as of now.
func (c *Contest) State(now time.Time) ContestState {
	var s ContestState
	for _, tr := range c.Transitions() {
		if !tr.At.After(now) {
			s.Set(tr.Name, tr.At)
		}
	}
	return s
}

// ContestStats is the status projection over submissions and judgings.
type ContestStats struct {
	NumSubmissions int `json:"num_submissions"`
	NumQueued      int `json:"num_queued"`
	NumJudging     int `json:"num_judging"`
}

// Entity is one reference-data row (problem, team, ...) as the storage
// layer currently holds it.
type Entity struct {
	Type EndpointType
	ID   string
	Data Payload
}
