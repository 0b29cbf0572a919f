// Package access decides what a viewer tier may see of a contest's events.
package access

import (
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// Tier is a viewer's capability level, resolved once per session.
type Tier int

const (
	// Public viewers see the scoreboard-safe subset.
	Public Tier = iota
	// Privileged viewers (api_reader) see everything.
	Privileged
)

func (t Tier) String() string {
	if t == Privileged {
		return "privileged"
	}
	return "public"
}

// hidden are never delivered to the public tier.
var hidden = map[model.EndpointType]bool{
	model.EndpointJudgements:     true,
	model.EndpointRuns:           true,
	model.EndpointClarifications: true,
}

// redacted lists the fields removed from payloads shown to the public tier.
var redacted = map[model.EndpointType][]string{
	model.EndpointSubmissions: {"entry_point", "language_id"},
	model.EndpointProblems:    {"test_data_count"},
}

// Filter returns the payload e should be delivered with for tier, or false
// when e must not be delivered at all. It never modifies e.
func Filter(contest *model.Contest, now time.Time, tier Tier, e *model.Event) (model.Payload, bool) {
	if tier == Privileged {
		return e.Data, true
	}
	if hidden[e.EndpointType] {
		return nil, false
	}
	if e.EndpointType == model.EndpointProblems && !contest.Started(now) {
		return nil, false
	}
	fields, ok := redacted[e.EndpointType]
	if !ok {
		return e.Data, true
	}
	data, err := e.Data.Without(fields...)
	if err != nil {
		// A payload we cannot parse cannot be redacted safely.
		return nil, false
	}
	return data, true
}

// ContestVisible reports whether the contest itself may be shown to tier.
func ContestVisible(contest *model.Contest, tier Tier, now time.Time) bool {
	if tier == Privileged {
		return contest.Enabled
	}
	return contest.Active(now)
}
