// Package storage provides SQLite-backed persistence for per-task state.
//
// Each task owns a single versioned row. Writes are compare-and-swap on the
// revision counter so an overlapping run that loaded a now-stale revision
// detects the conflict and fails safe instead of silently overwriting newer
// dedup data.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blockcaptain/jackwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database for task state persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/jackwatch/state.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "jackwatch", "state.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS task_state (
		task       TEXT PRIMARY KEY,
		revision   INTEGER NOT NULL,
		data       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

// Load reads the state for a task, or returns a fresh state at revision zero
// when the task has never persisted anything (first run).
func (s *Store) Load(task string) (*models.TaskState, error) {
	row := s.db.QueryRow(`SELECT revision, data, updated_at FROM task_state WHERE task = ?`, task)

	var revision, updatedAtNano int64
	var data string
	err := row.Scan(&revision, &data, &updatedAtNano)
	if err == sql.ErrNoRows {
		return models.NewTaskState(task), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	var state models.TaskState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	state.Task = task
	state.Revision = revision
	state.UpdatedAt = time.Unix(0, updatedAtNano)
	if state.Dedup == nil {
		state.Dedup = make(map[string]*models.DedupRecord)
	}
	return &state, nil
}

// Save persists the state, guarded by the revision it was loaded at. On
// success the in-memory revision is advanced so incremental commits within
// one run keep chaining. A lost race returns models.ErrRevisionConflict.
func (s *Store) Save(state *models.TaskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	now := time.Now()

	if state.Revision == 0 {
		_, err := s.db.Exec(
			`INSERT INTO task_state (task, revision, data, updated_at) VALUES (?, 1, ?, ?)`,
			state.Task, string(data), now.UnixNano(),
		)
		if err != nil {
			// Another first run won the insert race.
			if exists, checkErr := s.exists(state.Task); checkErr == nil && exists {
				return models.ErrRevisionConflict
			}
			return fmt.Errorf("failed to insert state: %w", err)
		}
		state.Revision = 1
		state.UpdatedAt = now
		return nil
	}

	res, err := s.db.Exec(
		`UPDATE task_state SET revision = revision + 1, data = ?, updated_at = ? WHERE task = ? AND revision = ?`,
		string(data), now.UnixNano(), state.Task, state.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return models.ErrRevisionConflict
	}
	state.Revision++
	state.UpdatedAt = now
	return nil
}

func (s *Store) exists(task string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM task_state WHERE task = ?`, task).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
