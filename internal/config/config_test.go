package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.BindAddr != "127.0.0.1:9527" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.HeartbeatTimeout != 5*time.Second {
		t.Errorf("HeartbeatTimeout = %v", cfg.HeartbeatTimeout)
	}
	if cfg.HistoryCapacity != 100 {
		t.Errorf("HistoryCapacity = %d", cfg.HistoryCapacity)
	}
	if cfg.FrameJumpThreshold != 5 {
		t.Errorf("FrameJumpThreshold = %d", cfg.FrameJumpThreshold)
	}
	if cfg.StaleMultiplier != 2.0 {
		t.Errorf("StaleMultiplier = %v", cfg.StaleMultiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != Default().BindAddr {
		t.Errorf("BindAddr = %q, want default", cfg.BindAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsc.toml")
	body := `
bind_addr = "0.0.0.0:7000"
heartbeat_timeout = "10s"
history_capacity = 32
stale_multiplier = 3.5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:7000" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.HeartbeatTimeout != 10*time.Second {
		t.Errorf("HeartbeatTimeout = %v", cfg.HeartbeatTimeout)
	}
	if cfg.HistoryCapacity != 32 {
		t.Errorf("HistoryCapacity = %d", cfg.HistoryCapacity)
	}
	if cfg.StaleMultiplier != 3.5 {
		t.Errorf("StaleMultiplier = %v", cfg.StaleMultiplier)
	}
	// Untouched fields keep their defaults.
	if cfg.FrameJumpThreshold != 5 {
		t.Errorf("FrameJumpThreshold = %d, want default 5", cfg.FrameJumpThreshold)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsc.toml")
	if err := os.WriteFile(path, []byte("bind_addr = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBindAddr, "127.0.0.1:6000")
	t.Setenv(EnvHeartbeatTimeout, "2s")
	t.Setenv(EnvHistoryCapacity, "7")
	t.Setenv(EnvFrameJumpThreshold, "9")
	t.Setenv(EnvStaleMultiplier, "1.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:6000" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.HeartbeatTimeout != 2*time.Second {
		t.Errorf("HeartbeatTimeout = %v", cfg.HeartbeatTimeout)
	}
	if cfg.HistoryCapacity != 7 {
		t.Errorf("HistoryCapacity = %d", cfg.HistoryCapacity)
	}
	if cfg.FrameJumpThreshold != 9 {
		t.Errorf("FrameJumpThreshold = %d", cfg.FrameJumpThreshold)
	}
	if cfg.StaleMultiplier != 1.5 {
		t.Errorf("StaleMultiplier = %v", cfg.StaleMultiplier)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsc.toml")
	if err := os.WriteFile(path, []byte(`bind_addr = "file:1"`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBindAddr, "env:1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != "env:1" {
		t.Errorf("BindAddr = %q, want env override to win", cfg.BindAddr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bind addr", func(c *Config) { c.BindAddr = "" }},
		{"zero heartbeat", func(c *Config) { c.HeartbeatTimeout = 0 }},
		{"zero poll", func(c *Config) { c.ReadPollInterval = 0 }},
		{"poll >= heartbeat", func(c *Config) { c.ReadPollInterval = c.HeartbeatTimeout }},
		{"zero accept poll", func(c *Config) { c.AcceptPollInterval = 0 }},
		{"zero stop timeout", func(c *Config) { c.StopTimeout = 0 }},
		{"zero capacity", func(c *Config) { c.HistoryCapacity = 0 }},
		{"zero jump threshold", func(c *Config) { c.FrameJumpThreshold = 0 }},
		{"zero multiplier", func(c *Config) { c.StaleMultiplier = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
