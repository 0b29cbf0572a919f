// Package synth derives events a contest's log is missing: the initial
// reference-data snapshot and the state updates its schedule implies.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/eventlog"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// ErrInvariant reports a log that contradicts itself, such as two create
// events for one entity. It indicates a bug and is never retried.
var ErrInvariant = errors.New("event log invariant violated")

// Synthesizer appends derived events through an eventlog.Log.
type Synthesizer struct {
	log    *eventlog.Log
	logger *slog.Logger
}

// New returns a Synthesizer writing to log.
func New(log *eventlog.Log, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{log: log, logger: logger}
}

// Bootstrap appends a create event for every reference entity of the
// contest that has none yet. The contest row is locked while comparing, so
// concurrent bootstraps of one contest cannot both create an entity.
func (s *Synthesizer) Bootstrap(ctx context.Context, contestID int64) ([]*model.Event, error) {
	var created []*model.Event
	err := s.log.Update(ctx, func(tx *eventlog.Tx) error {
		created = created[:0]
		contest, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		for _, typ := range model.ReferenceTypes {
			entities, err := referenceEntities(ctx, tx, contest, typ)
			if err != nil {
				return err
			}
			logged, err := tx.LoggedEntityIDs(ctx, contestID, typ, model.ActionCreate)
			if err != nil {
				return err
			}
			for id, n := range logged {
				if n > 1 {
					return fmt.Errorf("%w: %d create events for %s %q in contest %d", ErrInvariant, n, typ, id, contestID)
				}
			}
			for _, ent := range entities {
				if logged[ent.ID] > 0 {
					continue
				}
				e := &model.Event{
					ContestID:    contestID,
					EndpointType: typ,
					EntityID:     ent.ID,
					Action:       model.ActionCreate,
					Data:         ent.Data,
				}
				if err := tx.Append(ctx, e); err != nil {
					return err
				}
				created = append(created, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap contest %d: %w", contestID, err)
	}
	if len(created) > 0 {
		s.logger.Info("bootstrapped contest", "contest", contestID, "events", len(created))
	}
	return created, nil
}

func referenceEntities(ctx context.Context, tx store.Store, contest *model.Contest, typ model.EndpointType) ([]*model.Entity, error) {
	if typ != model.EndpointContests {
		return tx.ListEntities(ctx, contest.ID, typ)
	}
	data, err := contest.APIData()
	if err != nil {
		return nil, err
	}
	return []*model.Entity{{Type: typ, ID: contest.ExternalID, Data: data}}, nil
}

// AddMissingStateEvents appends one state update for every scheduled
// boundary at or before now that the log does not record yet, oldest
// first. Each event carries the cumulative state as of its boundary and
// is stamped with the boundary time. A contest without a start time gets
// nothing.
func (s *Synthesizer) AddMissingStateEvents(ctx context.Context, contestID int64, now time.Time) ([]*model.Event, error) {
	// Unlocked look first: this runs on every poll of every session and is
	// almost always a no-op.
	contest, err := s.log.Store().GetContest(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("load contest %d: %w", contestID, err)
	}
	latest, err := latestState(ctx, s.log.Store(), contestID)
	if err != nil {
		return nil, err
	}
	if len(missing(contest, latest, now)) == 0 {
		return nil, nil
	}

	var appended []*model.Event
	err = s.log.Update(ctx, func(tx *eventlog.Tx) error {
		appended = appended[:0]
		contest, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		state, err := loggedState(ctx, tx, contestID)
		if err != nil {
			return err
		}
		for _, tr := range missing(contest, state, now) {
			state.Set(tr.Name, tr.At)
			data, err := model.NewPayload(state)
			if err != nil {
				return err
			}
			e := &model.Event{
				ContestID:    contestID,
				EndpointType: model.EndpointState,
				Action:       model.ActionUpdate,
				Data:         data,
				Time:         tr.At,
			}
			if err := tx.Append(ctx, e); err != nil {
				return err
			}
			appended = append(appended, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize state for contest %d: %w", contestID, err)
	}
	for _, e := range appended {
		s.logger.Info("contest state changed", "contest", contestID, "event_id", e.ID, "at", e.Time)
	}
	return appended, nil
}

// missing lists the boundaries due by now that state does not record.
func missing(contest *model.Contest, state model.ContestState, now time.Time) []model.Transition {
	var out []model.Transition
	for _, tr := range contest.Transitions() {
		if tr.At.After(now) {
			break
		}
		if !state.Has(tr.Name) {
			out = append(out, tr)
		}
	}
	return out
}

// latestState decodes the contest's latest state event alone.
func latestState(ctx context.Context, s store.Store, contestID int64) (model.ContestState, error) {
	var state model.ContestState
	latest, err := s.LatestEvent(ctx, contestID, model.EndpointState)
	if err != nil {
		return state, fmt.Errorf("latest state of contest %d: %w", contestID, err)
	}
	if latest == nil {
		return state, nil
	}
	if err := json.Unmarshal(latest.Data, &state); err != nil {
		return state, fmt.Errorf("%w: state event %d of contest %d: %v", ErrInvariant, latest.ID, contestID, err)
	}
	return state, nil
}

// loggedState returns the state recorded by the contest's latest state
// event. Every state event must keep the transitions of the one before it;
// a log where a recorded transition later reads null is an invariant
// violation, since synthesizing it again would duplicate it.
func loggedState(ctx context.Context, s store.Store, contestID int64) (model.ContestState, error) {
	var state model.ContestState
	events, err := s.ListEvents(ctx, model.EventFilter{
		ContestID: contestID,
		Types:     []model.EndpointType{model.EndpointState},
	})
	if err != nil {
		return state, fmt.Errorf("state events of contest %d: %w", contestID, err)
	}
	for _, e := range events {
		var next model.ContestState
		if err := json.Unmarshal(e.Data, &next); err != nil {
			return state, fmt.Errorf("%w: state event %d of contest %d: %v", ErrInvariant, e.ID, contestID, err)
		}
		for _, name := range model.TransitionNames {
			if state.Has(name) && !next.Has(name) {
				return state, fmt.Errorf("%w: state event %d of contest %d drops %s", ErrInvariant, e.ID, contestID, name)
			}
		}
		state = next
	}
	return state, nil
}
