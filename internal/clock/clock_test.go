package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/eventlog"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
	"github.com/alfredjeanlab/contestfeed/internal/store/memory"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func newTestController(t *testing.T, start *time.Time) (*Controller, *memory.MemoryStore) {
	t.Helper()
	s := memory.New()
	c := &model.Contest{ID: 1, ExternalID: "wf", Name: "World Finals", Duration: 5 * time.Hour, Enabled: true}
	if start != nil {
		c.StartTime = *start
		c.StartTimeEnabled = true
	}
	if err := s.PutContest(context.Background(), c); err != nil {
		t.Fatalf("PutContest: %v", err)
	}
	ctrl := New(eventlog.New(s, nil, nil), WithClock(func() time.Time { return now }))
	return ctrl, s
}

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func countEvents(t *testing.T, s store.Store) int {
	t.Helper()
	events, err := s.ListEvents(context.Background(), model.EventFilter{ContestID: 1})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return len(events)
}

func TestSetStartTime_Rejections(t *testing.T) {
	for _, tc := range []struct {
		name    string
		current *time.Time
		req     Request
		kind    Kind
		message string
	}{
		{
			name:    "MissingID",
			req:     Request{ContestID: 1, StartTime: strp("2026-03-01T12:00:00Z")},
			kind:    KindInvalidID,
			message: `Missing "id" in request.`,
		},
		{
			name:    "WrongID",
			req:     Request{ContestID: 1, RequestedID: strp("other"), StartTime: strp("2026-03-01T12:00:00Z")},
			kind:    KindInvalidID,
			message: `Invalid "id" in request.`,
		},
		{
			name:    "WrongIDBeatsGuard",
			current: at(10 * time.Second),
			req:     Request{ContestID: 1, RequestedID: strp("WF")},
			kind:    KindInvalidID,
			message: `Invalid "id" in request.`,
		},
		{
			name:    "PauseTenSecondsBeforeStart",
			current: at(10 * time.Second),
			req:     Request{ContestID: 1, RequestedID: strp("wf")},
			kind:    KindGuard,
			message: "Current contest already started or about to start.",
		},
		{
			name:    "GuardIsInclusive",
			current: at(GuardWindow),
			req:     Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp("2026-03-01T12:00:00Z")},
			kind:    KindGuard,
			message: "Current contest already started or about to start.",
		},
		{
			name:    "AlreadyStarted",
			current: at(-time.Hour),
			req:     Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp("2026-03-01T12:00:00Z")},
			kind:    KindGuard,
			message: "Current contest already started or about to start.",
		},
		{
			name:    "GarbageTime",
			req:     Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp("next tuesday")},
			kind:    KindInvalidTime,
			message: `Invalid "start_time" in request.`,
		},
		{
			name:    "TwentySecondsAhead",
			req:     Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp(now.Add(20 * time.Second).Format(time.RFC3339))},
			kind:    KindGuard,
			message: "New start_time not far enough in the future.",
		},
		{
			name:    "InThePast",
			current: at(time.Hour),
			req:     Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp("2026-03-01 08:00:00")},
			kind:    KindGuard,
			message: "New start_time not far enough in the future.",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl, s := newTestController(t, tc.current)
			_, err := ctrl.SetStartTime(context.Background(), tc.req)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cerr.Kind != tc.kind || cerr.Message != tc.message {
				t.Errorf("got (%d, %q), want (%d, %q)", cerr.Kind, cerr.Message, tc.kind, tc.message)
			}
			if n := countEvents(t, s); n != 0 {
				t.Errorf("rejected mutation logged %d events", n)
			}
			c, _ := s.GetContest(context.Background(), 1)
			if tc.current != nil && (c.Start() == nil || !c.Start().Equal(*tc.current)) {
				t.Errorf("contest start changed to %v", c.Start())
			}
		})
	}
}

func TestSetStartTime_ForcedPause(t *testing.T) {
	ctrl, s := newTestController(t, at(10*time.Second))

	res, err := ctrl.SetStartTime(context.Background(), Request{ContestID: 1, RequestedID: strp("wf"), Force: true})
	if err != nil {
		t.Fatalf("SetStartTime: %v", err)
	}
	if res.Message != "Contest paused :-/." {
		t.Errorf("Message = %q", res.Message)
	}
	c, _ := s.GetContest(context.Background(), 1)
	if c.Start() != nil {
		t.Errorf("contest still armed at %v", c.Start())
	}
	if res.Event == nil || res.Event.EndpointType != model.EndpointContests || res.Event.Action != model.ActionUpdate {
		t.Fatalf("unexpected event: %+v", res.Event)
	}
	if v, ok := res.Event.Data.Get("start_time"); !ok || string(v) != "null" {
		t.Errorf("start_time = %s, want null", v)
	}
	if n := countEvents(t, s); n != 1 {
		t.Errorf("logged %d events, want 1", n)
	}
}

func TestSetStartTime_ForcedNearFuture(t *testing.T) {
	ctrl, s := newTestController(t, nil)
	target := now.Add(20 * time.Second)

	res, err := ctrl.SetStartTime(context.Background(), Request{
		ContestID:   1,
		RequestedID: strp("wf"),
		StartTime:   strp(target.Format(time.RFC3339)),
		Force:       true,
	})
	if err != nil {
		t.Fatalf("SetStartTime: %v", err)
	}
	if res.Message != "Contest start time changed to 2026-03-01 09:00:20 UTC" {
		t.Errorf("Message = %q", res.Message)
	}
	c, _ := s.GetContest(context.Background(), 1)
	if c.Start() == nil || !c.Start().Equal(target) {
		t.Errorf("Start() = %v, want %v", c.Start(), target)
	}
}

func TestSetStartTime_PauseUnsetContest(t *testing.T) {
	ctrl, _ := newTestController(t, nil)
	for _, st := range []*string{nil, strp(""), strp("null")} {
		res, err := ctrl.SetStartTime(context.Background(), Request{ContestID: 1, RequestedID: strp("wf"), StartTime: st})
		if err != nil {
			t.Fatalf("SetStartTime(%v): %v", st, err)
		}
		if res.Message != "Contest paused :-/." {
			t.Errorf("Message = %q", res.Message)
		}
	}
}

func TestSetStartTime_RearmsAndMovesSchedule(t *testing.T) {
	ctrl, s := newTestController(t, at(2*time.Hour))

	res, err := ctrl.SetStartTime(context.Background(), Request{ContestID: 1, RequestedID: strp("wf"), StartTime: strp("2026-03-01 12:00:00")})
	if err != nil {
		t.Fatalf("SetStartTime: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, _ := s.GetContest(context.Background(), 1)
	if !c.Start().Equal(want) {
		t.Errorf("Start() = %v, want %v", c.Start(), want)
	}
	if end := c.End(); end == nil || !end.Equal(want.Add(5*time.Hour)) {
		t.Errorf("End() = %v", end)
	}
	if res.Event.ID == 0 {
		t.Error("event not committed")
	}
}

func TestSetStartTime_UnknownContest(t *testing.T) {
	ctrl, _ := newTestController(t, nil)
	_, err := ctrl.SetStartTime(context.Background(), Request{ContestID: 42, RequestedID: strp("wf")})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseTime(t *testing.T) {
	amsterdam, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2026-03-01T11:00:00Z",
		"2026-03-01T12:00:00+01:00",
		"2026-03-01T11:00:00.000Z",
		"2026-03-01 12:00:00 +01:00",
		"2026-03-01T12:00:00",
		"2026-03-01 12:00:00",
		"2026-03-01 12:00",
		"@1772362800",
	} {
		got, err := ParseTime(in, amsterdam)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", in, got, want)
		}
	}
	for _, in := range []string{"", "tomorrow", "2026-13-01 00:00:00", "@soon"} {
		if _, err := ParseTime(in, amsterdam); err == nil {
			t.Errorf("ParseTime(%q) should fail", in)
		}
	}
}

func TestFormatConfirmation(t *testing.T) {
	got := FormatConfirmation(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), time.UTC)
	if got != "2026-03-01 11:00:00 UTC" {
		t.Errorf("got %q", got)
	}
}
