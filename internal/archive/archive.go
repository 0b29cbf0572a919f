// Package archive periodically exports every contest's event log as NDJSON
// to one or more destinations.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// Destination is the interface for an archive target (S3, git, etc.).
type Destination interface {
	// Write stores data under name, replacing any previous version.
	Write(ctx context.Context, name string, data []byte) error
}

// FileName is the archive object name of a contest.
func FileName(externalID string) string {
	return externalID + ".ndjson"
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the store to the given
// destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce exports every contest to every destination. Failures are logged
// and do not stop the remaining contests.
func (s *Scheduler) RunOnce(ctx context.Context) {
	contests, err := s.store.ListContests(ctx)
	if err != nil {
		s.logger.Error("archive: list contests failed", "error", err)
		return
	}

	var total int
	for _, c := range contests {
		var buf bytes.Buffer
		if err := ExportNDJSON(ctx, s.store, c, &buf); err != nil {
			s.logger.Error("archive export failed", "contest", c.ExternalID, "error", err)
			continue
		}
		data := buf.Bytes()
		total += len(data)

		for i, dest := range s.destinations {
			if err := dest.Write(ctx, FileName(c.ExternalID), data); err != nil {
				s.logger.Error("archive destination write failed",
					"contest", c.ExternalID, "destination", fmt.Sprintf("%d", i), "error", err)
			}
		}
	}

	s.logger.Info("archive completed", "contests", len(contests), "destinations", len(s.destinations), "bytes", total)
}
