// Package store is the durable, embedded-relational counterpart of
// internal/task: a modernc.org/sqlite-backed store accessed through
// jmoiron/sqlx, exposing the only path by which a task's state may
// change. A task write does not record an Event by itself: callers pair
// each state change with its own RecordEvent call.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/othala/orchd/internal/dispatch"
	"github.com/othala/orchd/internal/task"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the durable task/event persistence layer. It is safe for
// concurrent use; writes serialize through a single-writer connection pool,
// matching SQLite's single-writer model.
type Store struct {
	db       *sqlx.DB
	eventLog *EventLog
	mu       sync.Mutex
}

// Open opens (creating if necessary) a SQLite-backed store at dbPath, with
// its event log written alongside it in eventDir.
func Open(dbPath, eventDir string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("store: creating database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows exactly one writer at a time.

	eventLog, err := NewEventLog(eventDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, eventLog: eventLog}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		_ = eventLog.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		sqlBytes, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("store: reading migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("store: applying migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close closes the database connection and the event log.
func (s *Store) Close() error {
	if err := s.eventLog.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// taskRow is the sqlx scan target for the tasks table.
type taskRow struct {
	ID                string         `db:"id"`
	RepoID            string         `db:"repo_id"`
	Title             string         `db:"title"`
	TaskType          int            `db:"task_type"`
	State             string         `db:"state"`
	PreferredModel    sql.NullInt64  `db:"preferred_model"`
	FailedModels      string         `db:"failed_models"`
	RetryCount        int            `db:"retry_count"`
	MaxRetries        int            `db:"max_retries"`
	LastFailureReason string         `db:"last_failure_reason"`
	WorktreePath      string         `db:"worktree_path"`
	BranchName        string         `db:"branch_name"`
	ParentTaskID      string         `db:"parent_task_id"`
	SubmitMode        int            `db:"submit_mode"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func toRow(t *task.Task) (taskRow, error) {
	failedJSON, err := json.Marshal(t.FailedModels)
	if err != nil {
		return taskRow{}, fmt.Errorf("store: marshaling failed_models: %w", err)
	}
	row := taskRow{
		ID:                t.ID,
		RepoID:            t.RepoID,
		Title:             t.Title,
		TaskType:          int(t.Type),
		State:             t.State.String(),
		FailedModels:      string(failedJSON),
		RetryCount:        t.RetryCount,
		MaxRetries:        t.MaxRetries,
		LastFailureReason: t.LastFailureReason,
		WorktreePath:      t.WorktreePath,
		BranchName:        t.BranchName,
		ParentTaskID:      t.ParentTaskID,
		SubmitMode:        int(t.SubmitMode),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if t.PreferredModel != nil {
		row.PreferredModel = sql.NullInt64{Int64: int64(*t.PreferredModel), Valid: true}
	}
	return row, nil
}

func fromRow(row taskRow) (*task.Task, error) {
	state, err := task.ParseState(row.State)
	if err != nil {
		return nil, err
	}
	var failedModels []dispatch.ModelKind
	if err := json.Unmarshal([]byte(row.FailedModels), &failedModels); err != nil {
		return nil, fmt.Errorf("store: unmarshaling failed_models: %w", err)
	}
	t := &task.Task{
		ID:                row.ID,
		RepoID:            row.RepoID,
		Title:             row.Title,
		Type:              dispatch.TaskType(row.TaskType),
		State:             state,
		FailedModels:      failedModels,
		RetryCount:        row.RetryCount,
		MaxRetries:        row.MaxRetries,
		LastFailureReason: row.LastFailureReason,
		WorktreePath:      row.WorktreePath,
		BranchName:        row.BranchName,
		ParentTaskID:      row.ParentTaskID,
		SubmitMode:        task.SubmitMode(row.SubmitMode),
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.PreferredModel.Valid {
		m := dispatch.ModelKind(row.PreferredModel.Int64)
		t.PreferredModel = &m
	}
	return t, nil
}

// UpsertTask persists t, inserting or overwriting the row with the same id.
func (s *Store) UpsertTask(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toRow(t)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExec(`
		INSERT INTO tasks (
			id, repo_id, title, task_type, state, preferred_model, failed_models,
			retry_count, max_retries, last_failure_reason, worktree_path,
			branch_name, parent_task_id, submit_mode, created_at, updated_at
		) VALUES (
			:id, :repo_id, :title, :task_type, :state, :preferred_model, :failed_models,
			:retry_count, :max_retries, :last_failure_reason, :worktree_path,
			:branch_name, :parent_task_id, :submit_mode, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			repo_id = excluded.repo_id,
			title = excluded.title,
			task_type = excluded.task_type,
			state = excluded.state,
			preferred_model = excluded.preferred_model,
			failed_models = excluded.failed_models,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			last_failure_reason = excluded.last_failure_reason,
			worktree_path = excluded.worktree_path,
			branch_name = excluded.branch_name,
			parent_task_id = excluded.parent_task_id,
			submit_mode = excluded.submit_mode,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("store: upserting task %s: %w", t.ID, err)
	}
	return nil
}

// TaskByID fetches a single task by id. Returns (nil, nil) if absent.
func (s *Store) TaskByID(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row taskRow
	err := s.db.Get(&row, "SELECT * FROM tasks WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetching task %s: %w", id, err)
	}
	return fromRow(row)
}

// ListTasksByState returns every task currently in the given state.
func (s *Store) ListTasksByState(state task.State) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []taskRow
	err := s.db.Select(&rows, "SELECT * FROM tasks WHERE state = ? ORDER BY created_at", state.String())
	if err != nil {
		return nil, fmt.Errorf("store: listing tasks by state %s: %w", state, err)
	}
	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		t, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RecordEvent appends ev to the event log. Every state-changing call into
// this store is expected to pair an UpsertTask with exactly one RecordEvent
// so the invariant in spec.md §8 ("every transition has exactly one
// matching event") holds.
func (s *Store) RecordEvent(ev task.Event) error {
	return s.eventLog.Append(ev)
}

// EventLogPath returns the path to the underlying JSONL event log, for
// dump tooling.
func (s *Store) EventLogPath() string {
	return s.eventLog.Path()
}
