package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := New()
	if err := s.PutContest(context.Background(), &model.Contest{ID: 1, ExternalID: "demo", Enabled: true, Public: true}); err != nil {
		t.Fatalf("PutContest: %v", err)
	}
	return s
}

func appendEvent(t *testing.T, s store.Store, typ model.EndpointType, entityID string) *model.Event {
	t.Helper()
	e := &model.Event{
		ContestID:    1,
		EndpointType: typ,
		EntityID:     entityID,
		Action:       model.ActionCreate,
		Data:         model.Payload(`{"id":"` + entityID + `"}`),
	}
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return e
}

func TestAppendEvent_AssignsIncreasingIDs(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	a := appendEvent(t, s, model.EndpointTeams, "t1")
	b := appendEvent(t, s, model.EndpointTeams, "t2")
	if a.ID <= 0 || b.ID <= a.ID {
		t.Fatalf("ids not increasing: %d, %d", a.ID, b.ID)
	}
	if !a.Time.Equal(fixed) {
		t.Errorf("Time = %v, want %v", a.Time, fixed)
	}

	got, err := s.GetEvent(context.Background(), 1, b.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.EntityID != "t2" {
		t.Errorf("EntityID = %q", got.EntityID)
	}
}

func TestAppendEvent_UnknownContest(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &model.Event{ContestID: 9, EndpointType: model.EndpointTeams, Action: model.ActionCreate})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendEvent_KeepsScheduledTime(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &model.Event{ContestID: 1, EndpointType: model.EndpointState, Action: model.ActionUpdate, Time: at}
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if !e.Time.Equal(at) {
		t.Errorf("Time = %v, want %v", e.Time, at)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, model.EndpointTeams, "t1")
	if _, err := s.GetEvent(context.Background(), 1, 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetEvent(context.Background(), 2, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other contest, got %v", err)
	}
}

func TestListEvents(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, model.EndpointTeams, "t1")
	sub := appendEvent(t, s, model.EndpointSubmissions, "s1")
	appendEvent(t, s, model.EndpointTeams, "t2")
	appendEvent(t, s, model.EndpointSubmissions, "s2")

	for _, tc := range []struct {
		name   string
		filter model.EventFilter
		want   []string
	}{
		{"All", model.EventFilter{ContestID: 1}, []string{"t1", "s1", "t2", "s2"}},
		{"After", model.EventFilter{ContestID: 1, AfterID: sub.ID}, []string{"t2", "s2"}},
		{"Types", model.EventFilter{ContestID: 1, Types: []model.EndpointType{model.EndpointSubmissions}}, []string{"s1", "s2"}},
		{"Limit", model.EventFilter{ContestID: 1, Limit: 3}, []string{"t1", "s1", "t2"}},
		{"OtherContest", model.EventFilter{ContestID: 2}, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			events, err := s.ListEvents(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			var got []string
			for _, e := range events {
				got = append(got, e.EntityID)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLatestEventAndLoggedEntityIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if e, err := s.LatestEvent(ctx, 1, model.EndpointTeams); err != nil || e != nil {
		t.Fatalf("expected nil, nil; got %v, %v", e, err)
	}
	appendEvent(t, s, model.EndpointTeams, "t1")
	last := appendEvent(t, s, model.EndpointTeams, "t2")
	appendEvent(t, s, model.EndpointTeams, "t2")

	e, err := s.LatestEvent(ctx, 1, model.EndpointTeams)
	if err != nil || e == nil || e.ID <= last.ID {
		t.Fatalf("LatestEvent = %v, %v", e, err)
	}

	ids, err := s.LoggedEntityIDs(ctx, 1, model.EndpointTeams, model.ActionCreate)
	if err != nil {
		t.Fatalf("LoggedEntityIDs: %v", err)
	}
	if ids["t1"] != 1 || ids["t2"] != 2 {
		t.Errorf("ids = %v", ids)
	}
}

func TestRunInTransaction_RollbackDiscardsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		c, err := tx.LockContest(ctx, 1)
		if err != nil {
			return err
		}
		c.StartTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		c.StartTimeEnabled = true
		if err := tx.UpdateContestStart(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &model.Event{ContestID: 1, EndpointType: model.EndpointContests, Action: model.ActionUpdate}); err != nil {
			return err
		}
		staged, err := tx.GetContest(ctx, 1)
		if err != nil {
			return err
		}
		if !staged.StartTimeEnabled {
			t.Error("tx should see its own contest update")
		}
		if latest, _ := tx.LatestEvent(ctx, 1, model.EndpointContests); latest == nil {
			t.Error("tx should see its own staged event")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	c, err := s.GetContest(ctx, 1)
	if err != nil {
		t.Fatalf("GetContest: %v", err)
	}
	if c.StartTimeEnabled {
		t.Error("rolled back update is visible")
	}
	events, _ := s.ListEvents(ctx, model.EventFilter{ContestID: 1})
	if len(events) != 0 {
		t.Errorf("rolled back events visible: %d", len(events))
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		c, err := tx.LockContest(ctx, 1)
		if err != nil {
			return err
		}
		c.StartTime = start
		c.StartTimeEnabled = true
		return tx.UpdateContestStart(ctx, c)
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	c, _ := s.GetContest(ctx, 1)
	if got := c.Start(); got == nil || !got.Equal(start) {
		t.Errorf("Start() = %v, want %v", got, start)
	}
}

func TestConcurrentAppends_VisibleInIDOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.AppendEvent(ctx, &model.Event{ContestID: 1, EndpointType: model.EndpointSubmissions, Action: model.ActionCreate})
			}
		}()
	}

	// A concurrent reader must never observe a gap that closes later.
	var cursor int64
	seen := 0
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		events, err := s.ListEvents(ctx, model.EventFilter{ContestID: 1, AfterID: cursor})
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		for _, e := range events {
			if e.ID <= cursor {
				t.Fatalf("id %d not after cursor %d", e.ID, cursor)
			}
			cursor = e.ID
			seen++
		}
	}
	if seen != 400 {
		t.Fatalf("reader saw %d events, want 400", seen)
	}
}

func TestPutContest(t *testing.T) {
	s := New()
	ctx := context.Background()

	c := &model.Contest{ExternalID: "a"}
	if err := s.PutContest(ctx, c); err != nil {
		t.Fatalf("PutContest: %v", err)
	}
	if c.ID != 1 {
		t.Errorf("assigned ID = %d, want 1", c.ID)
	}
	if err := s.PutContest(ctx, &model.Contest{ExternalID: "a"}); err == nil {
		t.Error("expected duplicate external id error")
	}
	got, err := s.GetContestByExternalID(ctx, "a")
	if err != nil || got.ID != 1 {
		t.Fatalf("GetContestByExternalID = %v, %v", got, err)
	}
	if _, err := s.GetContest(ctx, 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntitiesAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"B", "A"} {
		if err := s.PutEntity(ctx, 1, &model.Entity{Type: model.EndpointProblems, ID: id, Data: model.Payload(`{"id":"` + id + `"}`)}); err != nil {
			t.Fatalf("PutEntity: %v", err)
		}
	}
	if err := s.PutEntity(ctx, 3, &model.Entity{Type: model.EndpointProblems, ID: "X"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	entities, err := s.ListEntities(ctx, 1, model.EndpointProblems)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) != 2 || entities[0].ID != "A" || entities[1].ID != "B" {
		t.Fatalf("unexpected entities: %+v", entities)
	}

	s.SetContestStats(1, model.ContestStats{NumSubmissions: 4, NumQueued: 1, NumJudging: 2})
	stats, err := s.GetContestStats(ctx, 1)
	if err != nil {
		t.Fatalf("GetContestStats: %v", err)
	}
	if stats.NumSubmissions != 4 || stats.NumQueued != 1 || stats.NumJudging != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClose_FailsCommits(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := s.AppendEvent(context.Background(), &model.Event{ContestID: 1, EndpointType: model.EndpointTeams, Action: model.ActionCreate})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadFixture(t *testing.T) {
	doc := `
contests:
  - id: 4
    external_id: wf
    name: World Finals
    short_name: wf
    start_time: 2026-03-01T10:00:00Z
    duration: 5h
    freeze_duration: 1h
    unfreeze_offset: 6h
    finalize_offset: 6h
    penalty_time: 20
    entities:
      problems:
        - {id: A, label: A, name: Apples}
        - {id: B, label: B, name: Bananas}
      teams:
        - {id: t1, name: Team One}
    stats:
      submissions: 3
      queued: 1
`
	s := New()
	ctx := context.Background()
	if err := LoadFixture(ctx, s, strings.NewReader(doc)); err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	c, err := s.GetContest(ctx, 4)
	if err != nil {
		t.Fatalf("GetContest: %v", err)
	}
	if !c.Enabled || !c.Public || c.Duration != 5*time.Hour || c.Start() == nil {
		t.Errorf("unexpected contest: %+v", c)
	}
	if c.FreezeDuration == nil || *c.FreezeDuration != time.Hour {
		t.Errorf("FreezeDuration = %v", c.FreezeDuration)
	}

	problems, _ := s.ListEntities(ctx, 4, model.EndpointProblems)
	if len(problems) != 2 {
		t.Fatalf("problems = %d, want 2", len(problems))
	}
	if v, ok := problems[0].Data.Get("name"); !ok || string(v) != `"Apples"` {
		t.Errorf("problem A name = %s", v)
	}

	stats, _ := s.GetContestStats(ctx, 4)
	if stats.NumSubmissions != 3 || stats.NumQueued != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"UnknownField", "contests:\n  - external_id: a\n    colour: red\n"},
		{"MissingExternalID", "contests:\n  - name: a\n"},
		{"UnknownType", "contests:\n  - external_id: a\n    entities:\n      widgets:\n        - {id: w}\n"},
		{"MissingEntityID", "contests:\n  - external_id: a\n    entities:\n      teams:\n        - {name: x}\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := LoadFixture(context.Background(), New(), strings.NewReader(tc.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
