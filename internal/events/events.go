package events

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// Subjects are laid out as contests.<contest id>.<endpoint type>.
const subjectRoot = "contests"

// Topic returns the subject an appended event of typ is announced on.
func Topic(contestID int64, typ model.EndpointType) string {
	return fmt.Sprintf("%s.%d.%s", subjectRoot, contestID, typ)
}

// ContestTopic matches every announcement for one contest.
func ContestTopic(contestID int64) string {
	return fmt.Sprintf("%s.%d.>", subjectRoot, contestID)
}

// AllTopics matches announcements for every contest.
const AllTopics = subjectRoot + ".>"

// Appended announces that an event was committed to a contest's log. It is a
// hint only: receivers read the event itself from the store.
type Appended struct {
	ContestID int64              `json:"contest_id"`
	ID        int64              `json:"id"`
	Type      model.EndpointType `json:"type"`
	Op        model.Action       `json:"op"`
}

// NewAppended builds the announcement for a committed event.
func NewAppended(e *model.Event) Appended {
	return Appended{ContestID: e.ContestID, ID: e.ID, Type: e.EndpointType, Op: e.Action}
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
