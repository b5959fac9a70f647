package factory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewFromDSNEmpty(t *testing.T) {
	if _, err := NewFromDSN("   "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestNewFromDSNSqlitePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.db")
	st, err := NewFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
}

func TestNewFromDSNBarePathIsSqlite(t *testing.T) {
	st, err := NewFromDSN(filepath.Join(t.TempDir(), "b.db"))
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	_ = st.Close()
}

func TestNewFromDSNPostgres(t *testing.T) {
	// sql.Open is lazy, so constructing the store must succeed without a
	// live server.
	st, err := NewFromDSN("postgres://u:p@localhost:5432/db?sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	_ = st.Close()
}
