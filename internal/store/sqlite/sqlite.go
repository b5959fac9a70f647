package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkwon/svcup/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver,
// CGO-free). The path is a filesystem location; use ":memory:" for an
// in-memory database.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_state(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			outcome TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_name ON service_state(name);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_running ON service_state(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	rec.Running = true
	rec.StoppedAt = sql.NullTime{}
	rec.Outcome = sql.NullString{}
	rec.UpdatedAt = time.Now().UTC()
	uniq := rec.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_state(name, pid, started_at, stopped_at, running, outcome, uniq, updated_at)
		VALUES(?, ?, ?, NULL, 1, NULL, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			name=excluded.name,
			pid=excluded.pid,
			started_at=excluded.started_at,
			running=excluded.running,
			stopped_at=NULL,
			outcome=NULL,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), uniq, rec.UpdatedAt)
	return err
}

func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, outcome string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE service_state
		SET running=0, stopped_at=?, outcome=?, updated_at=?
		WHERE uniq=?;`,
		stoppedAt.UTC(), outcome, time.Now().UTC(), uniq)
	return err
}

func (s *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, outcome, uniq, updated_at
		FROM service_state WHERE name=? ORDER BY updated_at DESC LIMIT 1;`, name)
	var rec store.Record
	err := row.Scan(&rec.Name, &rec.PID, &rec.StartedAt, &rec.StoppedAt, &rec.Running, &rec.Outcome, &rec.Uniq, &rec.UpdatedAt)
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}
