// Package config implements configuration for the telemetry sync core.
//
// Defaults are merged with an optional TOML file and TSC_* environment
// overrides, then validated. All timing knobs live here so tests and
// deployments tune the same surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment override names.
const (
	EnvBindAddr           = "TSC_BIND_ADDR"
	EnvHeartbeatTimeout   = "TSC_HEARTBEAT_TIMEOUT"
	EnvReadPollInterval   = "TSC_READ_POLL_INTERVAL"
	EnvHistoryCapacity    = "TSC_HISTORY_CAPACITY"
	EnvFrameJumpThreshold = "TSC_FRAME_JUMP_THRESHOLD"
	EnvStaleMultiplier    = "TSC_STALE_MULTIPLIER"
	EnvLogLevel           = "TSC_LOG_LEVEL"
)

// Config holds every tunable of the core.
type Config struct {
	// BindAddr is the listen address for the single telemetry peer.
	BindAddr string

	// HeartbeatTimeout is how long the receive loop tolerates silence
	// before declaring the peer dead.
	HeartbeatTimeout time.Duration

	// ReadPollInterval bounds individual socket reads so stop requests are
	// honored promptly.
	ReadPollInterval time.Duration

	// AcceptPollInterval bounds the accept call for the same reason.
	AcceptPollInterval time.Duration

	// StopTimeout bounds how long Stop waits for worker goroutines.
	StopTimeout time.Duration

	// HistoryCapacity is the per-channel snapshot ring size.
	HistoryCapacity int

	// FrameJumpThreshold is the largest tolerated frame advance between
	// consecutive envelopes.
	FrameJumpThreshold int64

	// StaleMultiplier scales each interval class's expected period into its
	// staleness threshold.
	StaleMultiplier float64

	// LogLevel is the zerolog level name (trace, debug, info, warn, error).
	LogLevel string
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		BindAddr:           "127.0.0.1:9527",
		HeartbeatTimeout:   5 * time.Second,
		ReadPollInterval:   200 * time.Millisecond,
		AcceptPollInterval: 200 * time.Millisecond,
		StopTimeout:        5 * time.Second,
		HistoryCapacity:    100,
		FrameJumpThreshold: 5,
		StaleMultiplier:    2.0,
		LogLevel:           "info",
	}
}

// Load builds the effective configuration: defaults, then the TOML file at
// path when it exists, then environment overrides, then validation. An empty
// path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFile(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// duration lets TOML carry durations as strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig overlays Config; nil fields keep the current value.
type fileConfig struct {
	BindAddr           *string   `toml:"bind_addr"`
	HeartbeatTimeout   *duration `toml:"heartbeat_timeout"`
	ReadPollInterval   *duration `toml:"read_poll_interval"`
	AcceptPollInterval *duration `toml:"accept_poll_interval"`
	StopTimeout        *duration `toml:"stop_timeout"`
	HistoryCapacity    *int      `toml:"history_capacity"`
	FrameJumpThreshold *int64    `toml:"frame_jump_threshold"`
	StaleMultiplier    *float64  `toml:"stale_multiplier"`
	LogLevel           *string   `toml:"log_level"`
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if fc.BindAddr != nil {
		cfg.BindAddr = *fc.BindAddr
	}
	if fc.HeartbeatTimeout != nil {
		cfg.HeartbeatTimeout = fc.HeartbeatTimeout.Duration
	}
	if fc.ReadPollInterval != nil {
		cfg.ReadPollInterval = fc.ReadPollInterval.Duration
	}
	if fc.AcceptPollInterval != nil {
		cfg.AcceptPollInterval = fc.AcceptPollInterval.Duration
	}
	if fc.StopTimeout != nil {
		cfg.StopTimeout = fc.StopTimeout.Duration
	}
	if fc.HistoryCapacity != nil {
		cfg.HistoryCapacity = *fc.HistoryCapacity
	}
	if fc.FrameJumpThreshold != nil {
		cfg.FrameJumpThreshold = *fc.FrameJumpThreshold
	}
	if fc.StaleMultiplier != nil {
		cfg.StaleMultiplier = *fc.StaleMultiplier
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvBindAddr); val != "" {
		cfg.BindAddr = val
	}
	if val := os.Getenv(EnvHeartbeatTimeout); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.HeartbeatTimeout = d
		}
	}
	if val := os.Getenv(EnvReadPollInterval); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.ReadPollInterval = d
		}
	}
	if val := os.Getenv(EnvHistoryCapacity); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.HistoryCapacity = n
		}
	}
	if val := os.Getenv(EnvFrameJumpThreshold); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.FrameJumpThreshold = n
		}
	}
	if val := os.Getenv(EnvStaleMultiplier); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.StaleMultiplier = f
		}
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.LogLevel = val
	}
}

// Validate rejects configurations that would stall or corrupt the loops.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive, got %v", c.HeartbeatTimeout)
	}
	if c.ReadPollInterval <= 0 {
		return fmt.Errorf("read_poll_interval must be positive, got %v", c.ReadPollInterval)
	}
	if c.ReadPollInterval >= c.HeartbeatTimeout {
		return fmt.Errorf("read_poll_interval %v must be shorter than heartbeat_timeout %v",
			c.ReadPollInterval, c.HeartbeatTimeout)
	}
	if c.AcceptPollInterval <= 0 {
		return fmt.Errorf("accept_poll_interval must be positive, got %v", c.AcceptPollInterval)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %v", c.StopTimeout)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive, got %d", c.HistoryCapacity)
	}
	if c.FrameJumpThreshold <= 0 {
		return fmt.Errorf("frame_jump_threshold must be positive, got %d", c.FrameJumpThreshold)
	}
	if c.StaleMultiplier <= 0 {
		return fmt.Errorf("stale_multiplier must be positive, got %v", c.StaleMultiplier)
	}
	return nil
}
