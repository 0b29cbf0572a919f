package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		entityID sql.NullString
		data     []byte
	)
	err := row.Scan(&e.ID, &e.ContestID, &e.EndpointType, &entityID, &e.Action, &data, &e.Time)
	if err != nil {
		return nil, err
	}
	e.EntityID = entityID.String
	if len(data) > 0 {
		e.Data = model.Payload(data)
	}
	return &e, nil
}

// scanEvents scans multiple rows into a slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// scanContest scans a single row into a model.Contest.
// The row must contain columns in the order defined by contestColumns.
func scanContest(row scannable) (*model.Contest, error) {
	var c model.Contest
	var (
		startTime      sql.NullTime
		durationMs     int64
		freezeMs       sql.NullInt64
		unfreezeMs     sql.NullInt64
		finalizeMs     sql.NullInt64
		activateTime   sql.NullTime
		deactivateTime sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.ExternalID,
		&c.Name,
		&c.ShortName,
		&startTime,
		&c.StartTimeEnabled,
		&durationMs,
		&freezeMs,
		&unfreezeMs,
		&finalizeMs,
		&c.Enabled,
		&c.Public,
		&activateTime,
		&deactivateTime,
		&c.PenaltyTime,
	)
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		c.StartTime = startTime.Time
	}
	c.Duration = time.Duration(durationMs) * time.Millisecond
	c.FreezeDuration = durationPtr(freezeMs)
	c.UnfreezeOffset = durationPtr(unfreezeMs)
	c.FinalizeOffset = durationPtr(finalizeMs)
	if activateTime.Valid {
		t := activateTime.Time
		c.ActivateTime = &t
	}
	if deactivateTime.Valid {
		t := deactivateTime.Time
		c.DeactivateTime = &t
	}
	return &c, nil
}

// scanContests scans multiple rows into a slice of model.Contest pointers.
func scanContests(rows *sql.Rows) ([]*model.Contest, error) {
	var contests []*model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contests, nil
}

// scanEntities scans (endpoint_type, id, data) rows.
func scanEntities(rows *sql.Rows) ([]*model.Entity, error) {
	var entities []*model.Entity
	for rows.Next() {
		var (
			e    model.Entity
			data []byte
		)
		if err := rows.Scan(&e.Type, &e.ID, &data); err != nil {
			return nil, err
		}
		e.Data = model.Payload(data)
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

// nullTime converts a time to sql.NullTime; the zero time is null.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// durationPtr converts a nullable millisecond column to a *time.Duration.
func durationPtr(ms sql.NullInt64) *time.Duration {
	if !ms.Valid {
		return nil
	}
	d := time.Duration(ms.Int64) * time.Millisecond
	return &d
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonBytes converts a payload to a []byte suitable for JSON columns.
// An empty payload is stored as an empty object.
func jsonBytes(p model.Payload) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return []byte(p)
}
