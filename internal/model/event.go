package model

import (
	"fmt"
	"strings"
	"time"
)

// EndpointType names the API collection an event belongs to.
type EndpointType string

const (
	EndpointContests       EndpointType = "contests"
	EndpointJudgementTypes EndpointType = "judgement-types"
	EndpointLanguages      EndpointType = "languages"
	EndpointProblems       EndpointType = "problems"
	EndpointGroups         EndpointType = "groups"
	EndpointOrganizations  EndpointType = "organizations"
	EndpointTeams          EndpointType = "teams"
	EndpointState          EndpointType = "state"
	EndpointSubmissions    EndpointType = "submissions"
	EndpointJudgements     EndpointType = "judgements"
	EndpointRuns           EndpointType = "runs"
	EndpointClarifications EndpointType = "clarifications"
	EndpointAwards         EndpointType = "awards"
	EndpointAccounts       EndpointType = "accounts"
	EndpointPersons        EndpointType = "persons"
)

// EndpointTypes lists every known endpoint type in the order the event feed
// documentation presents them.
var EndpointTypes = []EndpointType{
	EndpointContests,
	EndpointJudgementTypes,
	EndpointLanguages,
	EndpointProblems,
	EndpointGroups,
	EndpointOrganizations,
	EndpointTeams,
	EndpointState,
	EndpointSubmissions,
	EndpointJudgements,
	EndpointRuns,
	EndpointClarifications,
	EndpointAwards,
	EndpointAccounts,
	EndpointPersons,
}

// ReferenceTypes are the static configuration collections that bootstrap
// synthesis snapshots into the log. Contests come first so consumers learn
// about the contest before anything that belongs to it.
var ReferenceTypes = []EndpointType{
	EndpointContests,
	EndpointJudgementTypes,
	EndpointLanguages,
	EndpointProblems,
	EndpointGroups,
	EndpointOrganizations,
	EndpointTeams,
}

// IsValid reports whether t is a known endpoint type.
func (t EndpointType) IsValid() bool {
	for _, known := range EndpointTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEndpointTypes parses a comma-separated allow-list. Blank entries are
// ignored; an unknown type is an error.
func ParseEndpointTypes(s string) ([]EndpointType, error) {
	var types []EndpointType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t := EndpointType(part)
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown type %q", part)
		}
		types = append(types, t)
	}
	return types, nil
}

// Action is the operation an event records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Event is one immutable entry of a contest's event log. ID is assigned by
// the store when the event is committed and is strictly increasing within a
// contest.
type Event struct {
	ID           int64        `json:"id"`
	ContestID    int64        `json:"contest_id"`
	EndpointType EndpointType `json:"type"`
	EntityID     string       `json:"entity_id,omitempty"`
	Action       Action       `json:"op"`
	Data         Payload      `json:"data"`
	Time         time.Time    `json:"time"`
}

// EventFilter selects events for ListEvents.
type EventFilter struct {
	ContestID int64
	AfterID   int64          // only events with id > AfterID
	Types     []EndpointType // empty = all types
	Limit     int            // 0 = unlimited
}

// Matches reports whether e passes the filter's contest and type conditions.
// AfterID and Limit are positional and are applied by the store.
func (f EventFilter) Matches(e *Event) bool {
	if e.ContestID != f.ContestID || e.ID <= f.AfterID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.EndpointType == t {
			return true
		}
	}
	return false
}
