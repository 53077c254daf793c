package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected path %s", resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.RoomIDDigits != 6 || cfg.Addr != ":5000" || cfg.EvictionGrace != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":9090\"\nroom_id_digits: 4\neviction_grace: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLEARN_ROOM_ID_DIGITS", "5")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("file value not applied: %q", cfg.Addr)
	}
	if cfg.RoomIDDigits != 5 {
		t.Fatalf("env should override file, got %d", cfg.RoomIDDigits)
	}
	if cfg.EvictionGrace != time.Minute {
		t.Fatalf("duration not decoded: %v", cfg.EvictionGrace)
	}
	if cfg.OutboundQueue != 64 {
		t.Fatalf("default lost: %d", cfg.OutboundQueue)
	}
}
