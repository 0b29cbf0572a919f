// Package client provides a transport-agnostic interface for the contestfeed
// service, with an HTTP implementation for the REST API and a gRPC
// implementation for the event feed stream.
package client

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/presence"
)

// FeedClient is the interface the cfd CLI commands use to reach a server.
type FeedClient interface {
	// Tail opens an event feed and calls fn for each record until the
	// server ends the feed, ctx is canceled or fn returns an error.
	// Keepalives are not passed to fn.
	Tail(ctx context.Context, req *TailRequest, fn func(feed.Record) error) error

	// Lifecycle
	Close() error
}

// AdminClient covers the REST endpoints beside the feed.
type AdminClient interface {
	FeedClient

	GetContest(ctx context.Context, contestID string) (map[string]any, error)
	GetState(ctx context.Context, contestID string) (*model.ContestState, error)
	GetStatus(ctx context.Context, contestID string) (*model.ContestStats, error)
	SetStartTime(ctx context.Context, req *SetStartTimeRequest) (string, error)
	ListFeeds(ctx context.Context, contestID string) (*FeedsResponse, error)
	Health(ctx context.Context) (string, error)
}

// TailRequest selects the feed to open.
type TailRequest struct {
	ContestID string
	SinceID   string
	Types     []string
	Strict    bool
	// NoStream ends the feed once the backlog is delivered.
	NoStream bool
}

// SetStartTimeRequest is the body of PATCH /api/contests/{cid}.
type SetStartTimeRequest struct {
	ContestID string
	// StartTime is an absolute time, or nil to pause the countdown.
	StartTime *string
	Force     bool
}

// FeedsResponse is the roster of open feed sessions.
type FeedsResponse struct {
	Sessions []presence.Entry `json:"sessions"`
	Count    int              `json:"count"`
}

// ErrStop ends a Tail without error when returned from its callback.
var ErrStop = errors.New("stop tail")
