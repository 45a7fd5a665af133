// Package history records completed runs in a SQLite database so that the API can report
// what each agent executed recently.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - runs table
const currentSchemaVersion = 1

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// ErrDuplicateRun is returned when a run with the same execution ID was already recorded
var ErrDuplicateRun = errors.New("run already recorded")

// Run is one completed run
type Run struct {
	ID             int64     `json:"id"`
	ExecutionID    string    `json:"executionId"`
	AgentID        string    `json:"agentId"`
	AgentName      string    `json:"agentName"`
	RunProfileName string    `json:"runProfileName"`
	Source         string    `json:"source,omitempty"`
	Result         string    `json:"result"`
	Attempts       int       `json:"attempts"`
	RunNumber      int64     `json:"runNumber,omitempty"`
	Unmanaged      bool      `json:"unmanaged,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Store is the SQLite run history
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// The database runs in WAL mode with a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Record inserts a completed run and returns its row ID
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM runs WHERE execution_id = ?)`, run.ExecutionID,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check run: %w", err)
	}
	if exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateRun, run.ExecutionID)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, agent_id, agent_name, run_profile, source, result, attempts,
			run_number, unmanaged, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ExecutionID, run.AgentID, run.AgentName, run.RunProfileName, run.Source, run.Result,
		run.Attempts, run.RunNumber, run.Unmanaged, run.Error,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read run id: %w", err)
	}
	return id, nil
}

// List returns the most recent runs of the agent, newest first.
// A limit of zero or less uses DefaultListLimit.
func (s *Store) List(ctx context.Context, agentID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, agent_id, agent_name, run_profile, source, result, attempts,
			run_number, unmanaged, error, started_at, finished_at
		FROM runs
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs finished before the cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read pruned count: %w", err)
	}
	if n > 0 {
		slog.Info("Pruned run history", "removed", n, "before", before)
	}
	return n, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run               Run
		started, finished int64
	)
	err := rows.Scan(
		&run.ID, &run.ExecutionID, &run.AgentID, &run.AgentName, &run.RunProfileName, &run.Source,
		&run.Result, &run.Attempts, &run.RunNumber, &run.Unmanaged, &run.Error, &started, &finished,
	)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	return run, nil
}
