// Package memory implements store.Store in process memory. It backs
// `cfd serve --memory` and the tests of the packages above the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// MemoryStore keeps contests, their event logs and reference data in maps.
// Writers are serialized by txMu so events become visible in id order, the
// same guarantee the postgres store gets from its contest row lock.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	lastID   int64
	contests map[int64]*model.Contest
	events   map[int64][]*model.Event
	entities map[int64]map[model.EndpointType]map[string]*model.Entity
	stats    map[int64]model.ContestStats
	now      func() time.Time
	closed   bool
}

var _ store.Store = (*MemoryStore)(nil)

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		contests: make(map[int64]*model.Contest),
		events:   make(map[int64][]*model.Event),
		entities: make(map[int64]map[model.EndpointType]map[string]*model.Entity),
		stats:    make(map[int64]model.ContestStats),
		now:      time.Now,
	}
}

// SetClock overrides the time source used to stamp appended events.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutContest inserts or replaces a contest. A zero ID is assigned the next
// free one.
func (s *MemoryStore) PutContest(_ context.Context, c *model.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		for id := range s.contests {
			if id > c.ID {
				c.ID = id
			}
		}
		c.ID++
	}
	for id, existing := range s.contests {
		if id != c.ID && existing.ExternalID == c.ExternalID {
			return fmt.Errorf("contest external id %q already used by contest %d", c.ExternalID, id)
		}
	}
	s.contests[c.ID] = cloneContest(c)
	return nil
}

// PutEntity inserts or replaces a reference-data row of a contest.
func (s *MemoryStore) PutEntity(_ context.Context, contestID int64, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contests[contestID]; !ok {
		return fmt.Errorf("put entity: contest %d: %w", contestID, store.ErrNotFound)
	}
	byType, ok := s.entities[contestID]
	if !ok {
		byType = make(map[model.EndpointType]map[string]*model.Entity)
		s.entities[contestID] = byType
	}
	if byType[e.Type] == nil {
		byType[e.Type] = make(map[string]*model.Entity)
	}
	cp := *e
	byType[e.Type][e.ID] = &cp
	return nil
}

// SetContestStats replaces the status projection of a contest.
func (s *MemoryStore) SetContestStats(contestID int64, stats model.ContestStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[contestID] = stats
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *model.Event) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.AppendEvent(ctx, event)
	})
}

func (s *MemoryStore) GetEvent(_ context.Context, contestID, id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[contestID]
	i := sort.Search(len(log), func(i int) bool { return log[i].ID >= id })
	if i == len(log) || log[i].ID != id {
		return nil, store.ErrNotFound
	}
	e := *log[i]
	return &e, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter model.EventFilter) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[filter.ContestID]
	start := sort.Search(len(log), func(i int) bool { return log[i].ID > filter.AfterID })

	var out []*model.Event
	for _, e := range log[start:] {
		if !filter.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestEvent(_ context.Context, contestID int64, typ model.EndpointType) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[contestID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].EndpointType == typ {
			e := *log[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) LoggedEntityIDs(_ context.Context, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]int)
	for _, e := range s.events[contestID] {
		if e.EndpointType == typ && e.Action == action && e.EntityID != "" {
			ids[e.EntityID]++
		}
	}
	return ids, nil
}

func (s *MemoryStore) GetContest(_ context.Context, id int64) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneContest(c), nil
}

func (s *MemoryStore) GetContestByExternalID(_ context.Context, externalID string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contests {
		if c.ExternalID == externalID {
			return cloneContest(c), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) ListContests(_ context.Context) ([]*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Contest, 0, len(s.contests))
	for _, c := range s.contests {
		out = append(out, cloneContest(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LockContest outside a transaction behaves like GetContest.
func (s *MemoryStore) LockContest(ctx context.Context, id int64) (*model.Contest, error) {
	return s.GetContest(ctx, id)
}

func (s *MemoryStore) UpdateContestStart(ctx context.Context, contest *model.Contest) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.UpdateContestStart(ctx, contest)
	})
}

func (s *MemoryStore) ListEntities(_ context.Context, contestID int64, typ model.EndpointType) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.entities[contestID][typ]
	out := make([]*model.Entity, 0, len(rows))
	for _, e := range rows {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetContestStats(_ context.Context, contestID int64) (*model.ContestStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.contests[contestID]; !ok {
		return nil, store.ErrNotFound
	}
	stats := s.stats[contestID]
	return &stats, nil
}

// RunInTransaction serializes fn against every other writer. Appends and
// contest updates made through the tx store are applied only if fn
// succeeds.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{parent: s, contests: make(map[int64]*model.Contest)}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *txStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("commit: %w", store.ErrUnavailable)
	}
	for id, c := range tx.contests {
		s.contests[id] = c
	}
	now := s.now()
	for _, e := range tx.pending {
		s.lastID++
		e.ID = s.lastID
		if e.Time.IsZero() {
			e.Time = now
		}
		cp := *e
		s.events[e.ContestID] = append(s.events[e.ContestID], &cp)
	}
	return nil
}

// Close marks the store closed; later commits fail as unavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// txStore stages writes for MemoryStore.RunInTransaction. Reads see the
// parent's committed data overlaid with the staged writes.
type txStore struct {
	parent   *MemoryStore
	pending  []*model.Event
	contests map[int64]*model.Contest
}

var _ store.Store = (*txStore)(nil)

// AppendEvent stages the event; its ID and Time are filled in at commit.
func (t *txStore) AppendEvent(_ context.Context, event *model.Event) error {
	t.parent.mu.RLock()
	_, ok := t.parent.contests[event.ContestID]
	t.parent.mu.RUnlock()
	if !ok {
		return fmt.Errorf("append event: contest %d: %w", event.ContestID, store.ErrNotFound)
	}
	t.pending = append(t.pending, event)
	return nil
}

func (t *txStore) GetEvent(ctx context.Context, contestID, id int64) (*model.Event, error) {
	return t.parent.GetEvent(ctx, contestID, id)
}

func (t *txStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return t.parent.ListEvents(ctx, filter)
}

func (t *txStore) LatestEvent(ctx context.Context, contestID int64, typ model.EndpointType) (*model.Event, error) {
	for i := len(t.pending) - 1; i >= 0; i-- {
		if e := t.pending[i]; e.ContestID == contestID && e.EndpointType == typ {
			cp := *e
			return &cp, nil
		}
	}
	return t.parent.LatestEvent(ctx, contestID, typ)
}

func (t *txStore) LoggedEntityIDs(ctx context.Context, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error) {
	ids, err := t.parent.LoggedEntityIDs(ctx, contestID, typ, action)
	if err != nil {
		return nil, err
	}
	for _, e := range t.pending {
		if e.ContestID == contestID && e.EndpointType == typ && e.Action == action && e.EntityID != "" {
			ids[e.EntityID]++
		}
	}
	return ids, nil
}

func (t *txStore) GetContest(ctx context.Context, id int64) (*model.Contest, error) {
	if c, ok := t.contests[id]; ok {
		return cloneContest(c), nil
	}
	return t.parent.GetContest(ctx, id)
}

func (t *txStore) GetContestByExternalID(ctx context.Context, externalID string) (*model.Contest, error) {
	for _, c := range t.contests {
		if c.ExternalID == externalID {
			return cloneContest(c), nil
		}
	}
	return t.parent.GetContestByExternalID(ctx, externalID)
}

func (t *txStore) ListContests(ctx context.Context) ([]*model.Contest, error) {
	contests, err := t.parent.ListContests(ctx)
	if err != nil {
		return nil, err
	}
	for i, c := range contests {
		if staged, ok := t.contests[c.ID]; ok {
			contests[i] = cloneContest(staged)
		}
	}
	return contests, nil
}

// LockContest needs no extra locking: the transaction already excludes
// every other writer.
func (t *txStore) LockContest(ctx context.Context, id int64) (*model.Contest, error) {
	return t.GetContest(ctx, id)
}

func (t *txStore) UpdateContestStart(ctx context.Context, contest *model.Contest) error {
	current, err := t.GetContest(ctx, contest.ID)
	if err != nil {
		return err
	}
	current.StartTime = contest.StartTime
	current.StartTimeEnabled = contest.StartTimeEnabled
	t.contests[contest.ID] = current
	return nil
}

func (t *txStore) ListEntities(ctx context.Context, contestID int64, typ model.EndpointType) ([]*model.Entity, error) {
	return t.parent.ListEntities(ctx, contestID, typ)
}

func (t *txStore) GetContestStats(ctx context.Context, contestID int64) (*model.ContestStats, error) {
	return t.parent.GetContestStats(ctx, contestID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// Close is a no-op for a transaction store; the parent store owns the data.
func (t *txStore) Close() error {
	return nil
}

func cloneContest(c *model.Contest) *model.Contest {
	cp := *c
	cp.FreezeDuration = cloneDuration(c.FreezeDuration)
	cp.UnfreezeOffset = cloneDuration(c.UnfreezeOffset)
	cp.FinalizeOffset = cloneDuration(c.FinalizeOffset)
	cp.ActivateTime = cloneTime(c.ActivateTime)
	cp.DeactivateTime = cloneTime(c.DeactivateTime)
	return &cp
}

func cloneDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
