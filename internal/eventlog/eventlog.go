// Package eventlog appends to contest event logs and announces each commit
// on the event bus.
package eventlog

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/contestfeed/internal/events"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// Log is the write path of the event store.
type Log struct {
	store     store.Store
	publisher events.Publisher
	logger    *slog.Logger
}

// New returns a Log. A nil publisher disables announcements.
func New(s store.Store, p events.Publisher, logger *slog.Logger) *Log {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: s, publisher: p, logger: logger}
}

// Store returns the underlying store for reads.
func (l *Log) Store() store.Store {
	return l.store
}

// Append commits a single event and announces it.
func (l *Log) Append(ctx context.Context, e *model.Event) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.Append(ctx, e)
	})
}

// Tx is a store transaction that remembers what it appended.
type Tx struct {
	store.Store
	appended []*model.Event
}

// Append adds e to the log within the transaction.
func (t *Tx) Append(ctx context.Context, e *model.Event) error {
	if err := t.AppendEvent(ctx, e); err != nil {
		return err
	}
	t.appended = append(t.appended, e)
	return nil
}

// Update runs fn in one store transaction. Events appended through the Tx
// are announced only after the commit succeeded, so a subscriber never
// hears about an event it cannot read yet.
func (l *Log) Update(ctx context.Context, fn func(tx *Tx) error) error {
	var appended []*model.Event
	err := l.store.RunInTransaction(ctx, func(s store.Store) error {
		tx := &Tx{Store: s}
		if err := fn(tx); err != nil {
			return err
		}
		appended = tx.appended
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range appended {
		l.announce(ctx, e)
	}
	return nil
}

// announce is best effort: readers poll the store regardless.
func (l *Log) announce(ctx context.Context, e *model.Event) {
	topic := events.Topic(e.ContestID, e.EndpointType)
	if err := l.publisher.Publish(ctx, topic, events.NewAppended(e)); err != nil {
		l.logger.Warn("failed to publish event", "topic", topic, "event_id", e.ID, "error", err)
	}
}
