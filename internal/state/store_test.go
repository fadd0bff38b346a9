package state

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testSQLite(t *testing.T, path string) *SQLiteMarkerStore {
	t.Helper()
	s, err := NewSQLiteMarkerStore(path, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exerciseStore(t *testing.T, s MarkerStore) {
	t.Helper()
	ctx := context.Background()

	v, err := s.Get(ctx, "social")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Fatalf("expected empty marker, got %q", v)
	}

	if err := s.Set(ctx, "social", "100"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "social", "105"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "other", "7"); err != nil {
		t.Fatal(err)
	}

	if v, _ := s.Get(ctx, "social"); v != "105" {
		t.Fatalf("expected latest marker 105, got %q", v)
	}
	if v, _ := s.Get(ctx, "other"); v != "7" {
		t.Fatalf("keys must be independent, got %q", v)
	}
}

func TestMemoryMarkerStore(t *testing.T) {
	exerciseStore(t, NewMemoryMarkerStore())
}

func TestSQLiteMarkerStore(t *testing.T) {
	exerciseStore(t, testSQLite(t, filepath.Join(t.TempDir(), "state.db")))
}

func TestSQLiteMarkerStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	first, err := NewSQLiteMarkerStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Set(ctx, "social", "42"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := testSQLite(t, path)
	if v, _ := second.Get(ctx, "social"); v != "42" {
		t.Fatalf("marker lost across reopen, got %q", v)
	}

	version, err := second.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, version)
	}
}
