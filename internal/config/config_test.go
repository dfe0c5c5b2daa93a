package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFileParsesAllKeys(t *testing.T) {
	cfg := &Config{}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config")

	content := "Port=9999\nToken=test-token\nHubURL=http://hub.local:9000\nDataDir=/tmp/pilot\nKillGrace=2s\nExitReconcileWait=1500ms\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Token != "test-token" {
		t.Errorf("Token = %q, want test-token", cfg.Token)
	}
	if cfg.HubURL != "http://hub.local:9000" {
		t.Errorf("HubURL = %q", cfg.HubURL)
	}
	if cfg.DataDir != "/tmp/pilot" {
		t.Errorf("DataDir = %q, want /tmp/pilot", cfg.DataDir)
	}
	if cfg.KillGrace != 2*time.Second {
		t.Errorf("KillGrace = %v, want 2s", cfg.KillGrace)
	}
	if cfg.ExitReconcileWait != 1500*time.Millisecond {
		t.Errorf("ExitReconcileWait = %v, want 1.5s", cfg.ExitReconcileWait)
	}
}

func TestLoadFromFileSkipsCommentsAndBlankLines(t *testing.T) {
	cfg := &Config{}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config")

	content := "# comment\n\nPort=4242\nnot-a-pair\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if cfg.Port != 4242 {
		t.Errorf("Port = %d, want 4242", cfg.Port)
	}
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	cfg := &Config{}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config")

	if err := os.WriteFile(cfg.ConfigPath, []byte("KillGrace=soon\n"), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}
	if err := cfg.loadFromFile(); err == nil {
		t.Fatal("expected error for invalid KillGrace, got nil")
	}
}
