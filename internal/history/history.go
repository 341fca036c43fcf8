// Package history is an append-only sqlite sink for mode-transition
// records. It exists for post-hoc diagnostics: nothing in the daemon's
// own control flow ever reads it back, Recent is for future tooling.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JamiKettunen/usb-moded/internal/cable"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   INTEGER NOT NULL,
    cable       TEXT NOT NULL,
    internal    TEXT NOT NULL,
    target      TEXT NOT NULL,
    external    TEXT NOT NULL,
    user        INTEGER NOT NULL,
    error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON transitions(timestamp);
`

// Record is one row of the append-only transition log: a snapshot of the
// controller's state plus whatever error (if any) accompanied the
// transition that produced it.
type Record struct {
	Timestamp time.Time
	Cable     cable.State
	Internal  mode.Name
	Target    mode.Name
	External  mode.Name
	User      mode.UserId
	Err       error

	// CableRaw is the cable state's stored string form, populated only on
	// records returned by Recent (the read side never reconstructs a
	// cable.State from persisted text).
	CableRaw string
}

// Store is the sqlite-backed sink.
type Store struct {
	db *sql.DB
}

// Open opens or creates the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("history: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one Record. Failures are logged by the caller, never
// surfaced to the controller: the history store must never become a
// reason a mode switch fails.
func (s *Store) Append(ctx context.Context, r Record) error {
	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (timestamp, cable, internal, target, external, user, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.Unix(), r.Cable.String(), string(r.Internal), string(r.Target), string(r.External), int64(r.User), errText,
	)
	if err != nil {
		return fmt.Errorf("history: insert transition: %w", err)
	}
	return nil
}

// Recent returns the most recent limit records, newest first. Nothing in
// the daemon or in cmd/usb-moded calls it.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, cable, internal, target, external, user, error FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var ts int64
		var cableStr, internal, target, external string
		var user int64
		var errText sql.NullString
		if err := rows.Scan(&ts, &cableStr, &internal, &target, &external, &user, &errText); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		r := Record{
			Timestamp: time.Unix(ts, 0),
			CableRaw:  cableStr,
			Internal:  mode.Name(internal),
			Target:    mode.Name(target),
			External:  mode.Name(external),
			User:      mode.UserId(user),
		}
		if errText.Valid {
			r.Err = fmt.Errorf("%s", errText.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
