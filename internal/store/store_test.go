package store

import (
	"testing"
	"time"
)

func TestUniqueKey(t *testing.T) {
	k := UniqueKey("api", 42, 1700000000)
	if k != "api:42:1700000000" {
		t.Fatalf("unexpected key %q", k)
	}
}

func TestRecordKey(t *testing.T) {
	started := time.Unix(1700000000, 0)
	r := Record{Name: "api", PID: 42, StartedAt: started}
	if r.Key() != "api:42:1700000000" {
		t.Fatalf("derived key %q", r.Key())
	}
	r.Uniq = "explicit"
	if r.Key() != "explicit" {
		t.Fatalf("explicit uniq ignored: %q", r.Key())
	}
}
