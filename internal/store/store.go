package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is the unit of state persisted for a supervised service: the
// last observed launch and, once confirmed, how it stopped. Uniq
// identifies one launch of one service across supervisor invocations.
type Record struct {
	Name      string       `json:"name"`
	PID       int          `json:"pid"`
	StartedAt time.Time    `json:"started_at"`
	StoppedAt sql.NullTime `json:"stopped_at"`
	Running   bool         `json:"running"`
	// Outcome holds the final per-entry outcome string ("started",
	// "stopped (graceful)", ...) once known.
	Outcome   sql.NullString `json:"outcome"`
	Uniq      string         `json:"uniq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UniqueKey derives the launch identity from the service name, the PID
// and the process start time (Unix seconds). The start time disambiguates
// recycled PIDs.
func UniqueKey(name string, pid int, startUnix int64) string {
	return fmt.Sprintf("%s:%d:%d", name, pid, startUnix)
}

// Key returns the record's Uniq, deriving it from PID and StartedAt when
// unset.
func (r Record) Key() string {
	if r.Uniq != "" {
		return r.Uniq
	}
	return UniqueKey(r.Name, r.PID, r.StartedAt.Unix())
}

// Store persists service lifecycle state. Implementations exist for
// SQLite and PostgreSQL; both are optional at runtime.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordStart(ctx context.Context, rec Record) error
	RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, outcome string) error
	// GetByName returns the most recent record for the named service.
	GetByName(ctx context.Context, name string) (Record, error)
	Close() error
}
