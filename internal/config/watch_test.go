package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchReloadsOnChange(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(c Config) { got <- c })
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// A broken edit is skipped.
	if err := os.WriteFile(path, []byte("storage:\n  driver: floppy\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-got:
		t.Fatalf("invalid config applied: %+v", c)
	case <-time.After(600 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-got:
		if c.Log.Level != "debug" {
			t.Fatalf("reloaded level = %q", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload after edit")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
