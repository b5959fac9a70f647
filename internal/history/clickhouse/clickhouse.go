package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/dkwon/svcup/internal/history"
)

// Sink exports lifecycle events to ClickHouse using the official Go
// client. EnsureTable must be called once before the first Send.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = "service_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// EnsureTable creates the history table when absent.
func (s *Sink) EnsureTable(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		type String,
		occurred_at DateTime64(3),
		name String,
		pid Int64,
		started_at DateTime64(3),
		running UInt8,
		outcome String,
		uniq String
	) ENGINE = MergeTree() ORDER BY (name, occurred_at)`, s.table)
	return s.conn.Exec(ctx, q)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	q := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, name, pid, started_at, running, outcome, uniq) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	running := uint8(0)
	if e.Record.Running {
		running = 1
	}
	outcome := ""
	if e.Record.Outcome.Valid {
		outcome = e.Record.Outcome.String
	}
	err := s.conn.Exec(ctx, q,
		string(e.Type),
		e.OccurredAt,
		e.Record.Name,
		int64(e.Record.PID),
		e.Record.StartedAt,
		running,
		outcome,
		e.Record.Uniq,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
