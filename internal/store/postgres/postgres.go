// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/contestfeed/internal/model"
	"github.com/alfredjeanlab/contestfeed/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every open feed session polls through this pool.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AppendEvent runs in its own transaction so the contest lock taken by
// queryAppendEvent is released at commit.
func (s *PostgresStore) AppendEvent(ctx context.Context, event *model.Event) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.AppendEvent(ctx, event)
	})
}

func (s *PostgresStore) GetEvent(ctx context.Context, contestID, id int64) (*model.Event, error) {
	return queryGetEvent(ctx, s.db, contestID, id)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryListEvents(ctx, s.db, filter)
}

func (s *PostgresStore) LatestEvent(ctx context.Context, contestID int64, typ model.EndpointType) (*model.Event, error) {
	return queryLatestEvent(ctx, s.db, contestID, typ)
}

func (s *PostgresStore) LoggedEntityIDs(ctx context.Context, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error) {
	return queryLoggedEntityIDs(ctx, s.db, contestID, typ, action)
}

func (s *PostgresStore) GetContest(ctx context.Context, id int64) (*model.Contest, error) {
	return queryGetContest(ctx, s.db, "id = $1", id)
}

func (s *PostgresStore) GetContestByExternalID(ctx context.Context, externalID string) (*model.Contest, error) {
	return queryGetContest(ctx, s.db, "external_id = $1", externalID)
}

func (s *PostgresStore) ListContests(ctx context.Context) ([]*model.Contest, error) {
	return queryListContests(ctx, s.db)
}

// LockContest outside a transaction has nothing to hold the lock for; it
// behaves like GetContest.
func (s *PostgresStore) LockContest(ctx context.Context, id int64) (*model.Contest, error) {
	return queryGetContest(ctx, s.db, "id = $1", id)
}

func (s *PostgresStore) UpdateContestStart(ctx context.Context, contest *model.Contest) error {
	return queryUpdateContestStart(ctx, s.db, contest)
}

func (s *PostgresStore) ListEntities(ctx context.Context, contestID int64, typ model.EndpointType) ([]*model.Entity, error) {
	return queryListEntities(ctx, s.db, contestID, typ)
}

func (s *PostgresStore) GetContestStats(ctx context.Context, contestID int64) (*model.ContestStats, error) {
	return queryGetContestStats(ctx, s.db, contestID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) AppendEvent(ctx context.Context, event *model.Event) error {
	return queryAppendEvent(ctx, s.tx, event)
}

func (s *txStore) GetEvent(ctx context.Context, contestID, id int64) (*model.Event, error) {
	return queryGetEvent(ctx, s.tx, contestID, id)
}

func (s *txStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryListEvents(ctx, s.tx, filter)
}

func (s *txStore) LatestEvent(ctx context.Context, contestID int64, typ model.EndpointType) (*model.Event, error) {
	return queryLatestEvent(ctx, s.tx, contestID, typ)
}

func (s *txStore) LoggedEntityIDs(ctx context.Context, contestID int64, typ model.EndpointType, action model.Action) (map[string]int, error) {
	return queryLoggedEntityIDs(ctx, s.tx, contestID, typ, action)
}

func (s *txStore) GetContest(ctx context.Context, id int64) (*model.Contest, error) {
	return queryGetContest(ctx, s.tx, "id = $1", id)
}

func (s *txStore) GetContestByExternalID(ctx context.Context, externalID string) (*model.Contest, error) {
	return queryGetContest(ctx, s.tx, "external_id = $1", externalID)
}

func (s *txStore) ListContests(ctx context.Context) ([]*model.Contest, error) {
	return queryListContests(ctx, s.tx)
}

func (s *txStore) LockContest(ctx context.Context, id int64) (*model.Contest, error) {
	return queryGetContest(ctx, s.tx, "id = $1 FOR UPDATE", id)
}

func (s *txStore) UpdateContestStart(ctx context.Context, contest *model.Contest) error {
	return queryUpdateContestStart(ctx, s.tx, contest)
}

func (s *txStore) ListEntities(ctx context.Context, contestID int64, typ model.EndpointType) ([]*model.Entity, error) {
	return queryListEntities(ctx, s.tx, contestID, typ)
}

func (s *txStore) GetContestStats(ctx context.Context, contestID int64) (*model.ContestStats, error) {
	return queryGetContestStats(ctx, s.tx, contestID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
