// Package store provides durable local persistence for the task snapshot
// and sync metadata.
//
// The store is a single SQLite database file holding a key-value table;
// the task collection and the sync metadata are stored as JSON blobs under
// fixed keys. The database is opened in embedded mode with WAL so the
// daemon and one-shot CLI invocations can coexist.
//
// Corrupt or unparseable stored data degrades to an empty collection; it
// is never surfaced as an error to callers. Losing a snapshot to a parse
// failure is recoverable (the next sync re-pulls), while refusing to start
// is not.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskwire/taskwire/internal/task"
)

const (
	tasksKey = "tasks_v1"
	metaKey  = "meta_v1"
)

// Meta is the process-wide persisted sync state. It is loaded once at
// startup and written back after every mutation and every successful
// reconciliation pass.
type Meta struct {
	LastSync         *time.Time `json:"last_sync,omitempty"`
	CloudSyncEnabled bool       `json:"cloud_sync_enabled"`
	AutoSync         bool       `json:"auto_sync"`
	UserName         string     `json:"user_name,omitempty"`
}

// DefaultMeta returns the metadata for a fresh install: cloud sync on,
// auto sync off.
func DefaultMeta() Meta {
	return Meta{CloudSyncEnabled: true}
}

// Store wraps the SQLite connection backing local persistence.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store database at the specified path.
//
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the store's database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key string, value []byte) error {
	_, err := s.conn.Exec(`
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// LoadTasks returns the persisted task snapshot. A missing or corrupt
// snapshot yields an empty slice, never an error.
func (s *Store) LoadTasks() ([]task.Task, error) {
	raw, err := s.get(tasksKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []task.Task{}, nil
	}

	var tasks []task.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return []task.Task{}, nil
	}
	return task.Normalize(tasks), nil
}

// SaveTasks persists the full task snapshot.
func (s *Store) SaveTasks(tasks []task.Task) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	return s.set(tasksKey, data)
}

// LoadMeta returns the persisted sync metadata. Missing or corrupt
// metadata yields the defaults.
func (s *Store) LoadMeta() (Meta, error) {
	raw, err := s.get(metaKey)
	if err != nil {
		return Meta{}, err
	}
	if len(raw) == 0 {
		return DefaultMeta(), nil
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return DefaultMeta(), nil
	}
	return meta, nil
}

// SaveMeta persists the sync metadata.
func (s *Store) SaveMeta(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	return s.set(metaKey, data)
}

// ResetAll clears the task snapshot and sync metadata.
func (s *Store) ResetAll() error {
	if _, err := s.conn.Exec("DELETE FROM kv WHERE key IN (?, ?)", tasksKey, metaKey); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return nil
}
