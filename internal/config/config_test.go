package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverlaysPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.yaml")
	body := "server_addr: 10.0.0.5:5000\nmode: parallel\nquiet_window: 400ms\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := Default()
	cfg.Capture = "kitchen"
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ServerAddr != "10.0.0.5:5000" || cfg.Mode != "parallel" {
		t.Fatalf("unexpected overlay %+v", cfg)
	}
	if cfg.QuietWindow != 400*time.Millisecond {
		t.Fatalf("quiet window = %v", cfg.QuietWindow)
	}
	if cfg.Capture != "kitchen" || cfg.Port != 8888 {
		t.Fatalf("keys absent from file changed: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	cfg := Default()
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := Load(path, &cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without a source")
	}
	cfg.Debug = true
	cfg.QueueCapacity = 0
	cfg.LogEvery = -3
	cfg.ListMaxWait = time.Millisecond
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.QueueCapacity != 30 || cfg.LogEvery != 1 || cfg.ListMaxWait != cfg.QuietWindow {
		t.Fatalf("unexpected normalisation %+v", cfg)
	}

	cfg.ServerAddr, cfg.LocalFile = "a:1", "b.zip"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for two sources")
	}
}
