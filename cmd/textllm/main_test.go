package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"textllm/internal/state"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		l := newLogger(in, "json")
		if !l.Enabled(context.Background(), want) {
			t.Fatalf("%q: level %v should be enabled", in, want)
		}
		if want > slog.LevelDebug && l.Enabled(context.Background(), want-4) {
			t.Fatalf("%q: level below %v should be disabled", in, want)
		}
	}
}

func TestResolveConfigPath_FlagWins(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })

	t.Setenv("TEXTLLM_CONFIG", "/etc/textllm/env.yaml")
	configPath = "/tmp/flag.yaml"
	if got := resolveConfigPath(); got != "/tmp/flag.yaml" {
		t.Fatalf("expected flag path, got %q", got)
	}

	configPath = ""
	if got := resolveConfigPath(); got != "/etc/textllm/env.yaml" {
		t.Fatalf("expected env path, got %q", got)
	}
}

func TestOpenMarkerStore(t *testing.T) {
	logger = newLogger("error", "text")

	mem, closeMem, err := openMarkerStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer closeMem()
	if _, ok := mem.(*state.MemoryMarkerStore); !ok {
		t.Fatalf("expected memory store, got %T", mem)
	}

	db, closeDB, err := openMarkerStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()
	if _, ok := db.(*state.SQLiteMarkerStore); !ok {
		t.Fatalf("expected sqlite store, got %T", db)
	}
	if err := db.Set(context.Background(), "social", "42"); err != nil {
		t.Fatal(err)
	}
}
