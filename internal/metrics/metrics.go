// Package metrics is an opt-in, local-only usage ledger for the CLI.
// It counts subcommand invocations in a sqlite database under the
// user's state directory. Strictly a side channel: enabling or
// disabling it never changes artifact bytes.
package metrics

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// EnvMetrics force-enables ("1") or force-disables ("0") the ledger,
// overriding the persisted setting.
const EnvMetrics = "TP_METRICS"

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS counters (
	command TEXT PRIMARY KEY,
	count   INTEGER NOT NULL DEFAULT 0
);
`

// Counter is one subcommand's invocation count.
type Counter struct {
	Command string
	Count   int64
}

// Store is the sqlite-backed metrics ledger.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath resolves the ledger location: $XDG_STATE_HOME/taskpack/
// metrics.db, falling back to ~/.local/state/taskpack/metrics.db.
func DefaultPath() (string, error) {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "taskpack", "metrics.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "taskpack", "metrics.db"), nil
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enabled reports the persisted opt-in setting. A fresh ledger is
// disabled.
func (s *Store) Enabled() (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'enabled'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read metrics setting: %w", err)
	}
	return value == "1", nil
}

// SetEnabled persists the opt-in setting.
func (s *Store) SetEnabled(enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES ('enabled', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, value)
	if err != nil {
		return fmt.Errorf("write metrics setting: %w", err)
	}
	return nil
}

// EffectiveEnabled resolves the env override against the persisted
// setting.
func (s *Store) EffectiveEnabled() (bool, error) {
	switch os.Getenv(EnvMetrics) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return s.Enabled()
}

// Record increments the counter for one subcommand path.
func (s *Store) Record(command string) error {
	_, err := s.db.Exec(
		`INSERT INTO counters (command, count) VALUES (?, 1)
		 ON CONFLICT(command) DO UPDATE SET count = count + 1`, command)
	if err != nil {
		return fmt.Errorf("record metrics counter: %w", err)
	}
	return nil
}

// Counters returns all counters sorted by command.
func (s *Store) Counters() ([]Counter, error) {
	rows, err := s.db.Query(`SELECT command, count FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("read metrics counters: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var counters []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.Command, &c.Count); err != nil {
			return nil, fmt.Errorf("scan metrics counter: %w", err)
		}
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read metrics counters: %w", err)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].Command < counters[j].Command })
	return counters, nil
}

// Reset clears every counter but keeps the opt-in setting.
func (s *Store) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM counters`); err != nil {
		return fmt.Errorf("reset metrics counters: %w", err)
	}
	return nil
}
