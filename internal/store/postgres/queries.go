package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, contest_id, endpoint_type, entity_id, action, data, event_time`

// contestColumns is the column list used for SELECT statements on the contests table.
const contestColumns = `id, external_id, name, short_name, start_time, start_time_enabled,
	duration_ms, freeze_duration_ms, unfreeze_offset_ms, finalize_offset_ms,
	enabled, public, activate_time, deactivate_time, penalty_time`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryAppendEvent must run inside a transaction. The contest row lock is
// held until commit, so a later append to the same contest cannot draw an
// id until this one is visible: ids become visible in increasing order.
func queryAppendEvent(ctx context.Context, db executor, e *model.Event) error {
	var locked int64
	err := db.QueryRowContext(ctx, `SELECT id FROM contests WHERE id = $1 FOR UPDATE`, e.ContestID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("append event: contest %d: %w", e.ContestID, store.ErrNotFound)
		}
		return classify(fmt.Errorf("lock contest %d: %w", e.ContestID, err))
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO events (contest_id, endpoint_type, entity_id, action, data, event_time)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id, event_time`,
		e.ContestID,
		string(e.EndpointType),
		nullString(e.EntityID),
		string(e.Action),
		jsonBytes(e.Data),
		nullTime(e.Time),
	).Scan(&e.ID, &e.Time)
	if err != nil {
		return classify(fmt.Errorf("insert event: %w", err))
	}
	return nil
}

func queryGetEvent(ctx context.Context, db executor, contestID, id int64) (*model.Event, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE contest_id = $1 AND id = $2`, contestID, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(fmt.Errorf("get event: %w", err))
	}
	return e, nil
}

func queryListEvents(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, error) {
	args := []any{filter.ContestID, filter.AfterID}
	q := `SELECT ` + eventColumns + ` FROM events WHERE contest_id = $1 AND id > $2`

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		q += " AND endpoint_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	q += " ORDER BY id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list events: %w", err))
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, classify(fmt.Errorf("scan events: %w", err))
	}
	return events, nil
}

func queryLatestEvent(ctx context.Context, db executor, contestID int64, typ model.EndpointType) (*model.Event, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE contest_id = $1 AND endpoint_type = $2
		ORDER BY id DESC LIMIT 1`,
		contestID, string(typ),
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("latest event: %w", err))
	}
	return e, nil
}

func queryLoggedEntityIDs(ctx context.Context, db executor, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entity_id, COUNT(*) FROM events
		WHERE contest_id = $1 AND endpoint_type = $2 AND action = $3 AND entity_id IS NOT NULL
		GROUP BY entity_id`,
		contestID, string(typ), string(action),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("logged entity ids: %w", err))
	}
	defer rows.Close()

	ids := make(map[string]int)
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, classify(fmt.Errorf("scan entity id: %w", err))
		}
		ids[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("scan entity ids: %w", err))
	}
	return ids, nil
}

func queryGetContest(ctx context.Context, db executor, where string, arg any) (*model.Contest, error) {
	row := db.QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE `+where, arg)
	c, err := scanContest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(fmt.Errorf("get contest: %w", err))
	}
	return c, nil
}

func queryListContests(ctx context.Context, db executor) ([]*model.Contest, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+contestColumns+` FROM contests ORDER BY id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list contests: %w", err))
	}
	defer rows.Close()

	contests, err := scanContests(rows)
	if err != nil {
		return nil, classify(fmt.Errorf("scan contests: %w", err))
	}
	return contests, nil
}

func queryUpdateContestStart(ctx context.Context, db executor, c *model.Contest) error {
	res, err := db.ExecContext(ctx, `
		UPDATE contests SET start_time = $2, start_time_enabled = $3
		WHERE id = $1`,
		c.ID, nullTime(c.StartTime), c.StartTimeEnabled,
	)
	if err != nil {
		return classify(fmt.Errorf("update contest start: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryListEntities(ctx context.Context, db executor, contestID int64, typ model.EndpointType) ([]*model.Entity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT endpoint_type, id, data FROM entities
		WHERE contest_id = $1 AND endpoint_type = $2
		ORDER BY id`,
		contestID, string(typ),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("list entities: %w", err))
	}
	defer rows.Close()

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, classify(fmt.Errorf("scan entities: %w", err))
	}
	return entities, nil
}

func queryGetContestStats(ctx context.Context, db executor, contestID int64) (*model.ContestStats, error) {
	var stats model.ContestStats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM submissions WHERE contest_id = $1 AND valid),
			(SELECT COUNT(*) FROM judgings WHERE contest_id = $1 AND valid AND start_time IS NULL),
			(SELECT COUNT(*) FROM judgings WHERE contest_id = $1 AND valid AND start_time IS NOT NULL AND end_time IS NULL)`,
		contestID,
	).Scan(&stats.NumSubmissions, &stats.NumQueued, &stats.NumJudging)
	if err != nil {
		return nil, classify(fmt.Errorf("contest stats: %w", err))
	}
	return &stats, nil
}
