package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

var (
	// ErrNotFound is returned when a requested contest or event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps transient storage failures. Callers may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// Store defines the persistence interface for contests and their event logs.
type Store interface {
	// Event log
	AppendEvent(ctx context.Context, event *model.Event) error // sets ID and Time
	GetEvent(ctx context.Context, contestID, id int64) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)
	LatestEvent(ctx context.Context, contestID int64, typ model.EndpointType) (*model.Event, error) // nil, nil when none
	LoggedEntityIDs(ctx context.Context, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error)

	// Contests
	GetContest(ctx context.Context, id int64) (*model.Contest, error)
	GetContestByExternalID(ctx context.Context, externalID string) (*model.Contest, error)
	ListContests(ctx context.Context) ([]*model.Contest, error)
	LockContest(ctx context.Context, id int64) (*model.Contest, error) // row lock held until the transaction ends
	UpdateContestStart(ctx context.Context, contest *model.Contest) error

	// Reference data and projections owned by other parts of the system.
	ListEntities(ctx context.Context, contestID int64, typ model.EndpointType) ([]*model.Entity, error)
	GetContestStats(ctx context.Context, contestID int64) (*model.ContestStats, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
