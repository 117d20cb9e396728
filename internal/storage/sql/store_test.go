package sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/keygate/keygate/internal/storage"
	"github.com/keygate/keygate/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("sqlite", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return newTestStore(t)
	})
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := migrate(s.db, s.dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPrepareDSN(t *testing.T) {
	dsn, err := prepareDSN(mysqlDialect, "app:secret@tcp(db:3306)/keygate")
	if err != nil {
		t.Fatalf("prepareDSN: %v", err)
	}
	for _, want := range []string{"parseTime=true", "clientFoundRows=true"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("mysql dsn %q missing %s", dsn, want)
		}
	}

	dsn, err = prepareDSN(sqliteDialect, "data/keygate.db?cache=shared")
	if err != nil {
		t.Fatalf("prepareDSN: %v", err)
	}
	if !strings.Contains(dsn, "cache=shared&_pragma=foreign_keys(1)") {
		t.Errorf("sqlite dsn = %q", dsn)
	}

	if _, err := prepareDSN(postgresDialect, ""); err == nil {
		t.Error("expected error for empty postgres dsn")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil reported as unique violation")
	}
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: api_keys.key_hash (2067)")) {
		t.Error("sqlite unique error not detected")
	}
	if isUniqueViolation(errors.New("FOREIGN KEY constraint failed")) {
		t.Error("foreign key error misdetected")
	}
}
