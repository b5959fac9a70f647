package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dkwon/svcup/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_state(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ NULL,
			running BOOLEAN NOT NULL,
			outcome TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_name ON service_state(name);`,
		`CREATE INDEX IF NOT EXISTS idx_service_state_running ON service_state(running);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordStart(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	uniq := rec.Key()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_state(name, pid, started_at, stopped_at, running, outcome, uniq, updated_at)
		VALUES($1,$2,$3,NULL,true,NULL,$4,$5)
		ON CONFLICT(uniq) DO UPDATE SET
			name=EXCLUDED.name,
			pid=EXCLUDED.pid,
			started_at=EXCLUDED.started_at,
			running=EXCLUDED.running,
			stopped_at=NULL,
			outcome=NULL,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.PID, rec.StartedAt.UTC(), uniq, rec.UpdatedAt)
	return err
}

func (p *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, outcome string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE service_state
		SET running=false, stopped_at=$1, outcome=$2, updated_at=$3
		WHERE uniq=$4;`,
		stoppedAt.UTC(), outcome, time.Now().UTC(), uniq)
	return err
}

func (p *DB) GetByName(ctx context.Context, name string) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT name, pid, started_at, stopped_at, running, outcome, uniq, updated_at
		FROM service_state WHERE name=$1 ORDER BY updated_at DESC LIMIT 1;`, name)
	var rec store.Record
	err := row.Scan(&rec.Name, &rec.PID, &rec.StartedAt, &rec.StoppedAt, &rec.Running, &rec.Outcome, &rec.Uniq, &rec.UpdatedAt)
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}
