package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// Store is a SQLite implementation of RunStore
type Store struct {
	db *sql.DB
}

var _ storage.RunStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			fixture TEXT NOT NULL,
			replay_type TEXT NOT NULL,
			transport TEXT NOT NULL,
			status TEXT NOT NULL,
			interactions INTEGER NOT NULL DEFAULT 0,
			chunks INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			duration_ns INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fixture ON runs(fixture)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *storage.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `INSERT INTO runs (id, fixture, replay_type, transport, status, interactions, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Fixture, run.ReplayType, run.Transport, string(run.Status),
		run.Interactions, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run *storage.Run) error {
	query := `UPDATE runs SET status = ?, chunks = ?, tokens = ?, error = ?, finished_at = ?, duration_ns = ?
		WHERE id = ?`

	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		string(run.Status), run.Chunks, run.Tokens, nullString(run.Error), finished,
		int64(run.Duration), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}
	return nil
}

const runColumns = `id, fixture, replay_type, transport, status, interactions, chunks, tokens,
	error, started_at, finished_at, duration_ns`

func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.Fixture != "" {
		where = append(where, "fixture = ?")
		args = append(args, opts.Fixture)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*storage.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*storage.Run, error) {
	var (
		run        storage.Run
		status     string
		errMsg     sql.NullString
		finishedAt sql.NullTime
		durationNS int64
	)
	err := row.Scan(&run.ID, &run.Fixture, &run.ReplayType, &run.Transport, &status,
		&run.Interactions, &run.Chunks, &run.Tokens,
		&errMsg, &run.StartedAt, &finishedAt, &durationNS)
	if err != nil {
		return nil, err
	}
	run.Status = storage.RunStatus(status)
	run.Error = errMsg.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	run.Duration = time.Duration(durationNS)
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
