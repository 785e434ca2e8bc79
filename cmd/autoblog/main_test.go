package main

import (
	"os"
	"path/filepath"
	"testing"

	"autoblog/internal/config"
)

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	if err := runInit([]string{"-config", path}); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	def := config.DefaultConfig().WithDefaults()
	if cfg.HTTP.Addr != def.HTTP.Addr || cfg.Poller.Spec != def.Poller.Spec || cfg.Lease.Driver != def.Lease.Driver {
		t.Fatalf("cfg = %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("state_dir: keep\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := runInit([]string{"-config", path}); err != nil {
		t.Fatalf("runInit existing: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "state_dir: keep\n" {
		t.Fatalf("existing config overwritten without -force: %q", data)
	}
}

func TestIsHelpArg(t *testing.T) {
	for _, arg := range []string{"-h", "--help", "help", " HELP "} {
		if !isHelpArg(arg) {
			t.Fatalf("isHelpArg(%q) = false", arg)
		}
	}
	if isHelpArg("serve") {
		t.Fatalf("isHelpArg(serve) = true")
	}
}
