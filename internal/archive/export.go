package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// pageSize is how many events are read per query while exporting.
const pageSize = 1000

// header is the first line written by ExportNDJSON.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Contest    string    `json:"contest"`
	LastID     int64     `json:"last_id"`
	EventCount int       `json:"event_count"`
}

// ExportNDJSON writes a header line followed by every event of contest, as
// a privileged non-strict feed would deliver them.
func ExportNDJSON(ctx context.Context, s store.Store, contest *model.Contest, w io.Writer) error {
	var (
		events []*model.Event
		after  int64
	)
	for {
		page, err := s.ListEvents(ctx, model.EventFilter{ContestID: contest.ID, AfterID: after, Limit: pageSize})
		if err != nil {
			return fmt.Errorf("list events after %d: %w", after, err)
		}
		events = append(events, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	h := header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		Contest:    contest.ExternalID,
		EventCount: len(events),
	}
	if len(events) > 0 {
		h.LastID = events[len(events)-1].ID
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range events {
		line, err := feed.RecordOf(e).MarshalLine()
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write event %d: %w", e.ID, err)
		}
	}
	return nil
}
