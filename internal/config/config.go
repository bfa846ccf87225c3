// Package config loads and validates the node's YAML configuration,
// following the teacher's internal/config/config.go constructor-default
// + getter-method shape but backed by gopkg.in/yaml.v3 struct tags
// instead of a hand-rolled INI scanner.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig configures this node's identity.
type NodeConfig struct {
	ID uint8 `yaml:"id"`
}

// QueueConfig configures bounded-queue capacities (spec §4.A, §4.B).
type QueueConfig struct {
	ChannelCapacity int `yaml:"channel_capacity"`
	FrameQueueSize  int `yaml:"frame_queue_size"`
	AppQueueSize    int `yaml:"app_queue_size"`
}

// TimeoutConfig configures the wall-clock durations spec §9's open
// questions leave configurable.
type TimeoutConfig struct {
	InactivitySeconds  int `yaml:"inactivity_seconds"`
	SetupSeconds       int `yaml:"setup_seconds"`
	SlotSeconds        int `yaml:"slot_seconds"`
	ReservationSeconds int `yaml:"reservation_seconds"`
	NeighborSeconds    int `yaml:"neighbor_seconds"`
}

// HousekeepingConfig configures the housekeeping worker's cadence (spec
// §4.K).
type HousekeepingConfig struct {
	TickMillis           int `yaml:"tick_millis"`
	SlotPublishSeconds   int `yaml:"slot_publish_seconds"`
	StatsIntervalSeconds int `yaml:"stats_interval_seconds"`
}

// AuditConfig configures the optional audit trail (SPEC_FULL.md §3).
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full node configuration document.
type Config struct {
	Node         NodeConfig         `yaml:"node"`
	Queues       QueueConfig        `yaml:"queues"`
	Timeouts     TimeoutConfig      `yaml:"timeouts"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Audit        AuditConfig        `yaml:"audit"`
}

// Default returns a config populated with the spec's stated defaults,
// matching the teacher's NewConfig hard-default-population convention.
func Default() *Config {
	return &Config{
		Node: NodeConfig{ID: 1},
		Queues: QueueConfig{
			ChannelCapacity: 32,
			FrameQueueSize:  10,
			AppQueueSize:    20,
		},
		Timeouts: TimeoutConfig{
			InactivitySeconds:  30,
			SetupSeconds:       10,
			SlotSeconds:        60,
			ReservationSeconds: 30,
			NeighborSeconds:    30,
		},
		Housekeeping: HousekeepingConfig{
			TickMillis:           1000,
			SlotPublishSeconds:   10,
			StatsIntervalSeconds: 30,
		},
		Audit: AuditConfig{Enabled: false, Path: "tacrrc_audit.db"},
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// any field the file omits keeps its spec-mandated default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects out-of-range configuration rather than silently
// zero-valuing it, which the teacher's hand-rolled INI loader never did.
func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be nonzero (0xFE/0xFF are reserved sentinels)")
	}
	if c.Queues.ChannelCapacity <= 0 {
		return fmt.Errorf("queues.channel_capacity must be positive")
	}
	if c.Queues.FrameQueueSize <= 0 {
		return fmt.Errorf("queues.frame_queue_size must be positive")
	}
	if c.Queues.AppQueueSize <= 0 {
		return fmt.Errorf("queues.app_queue_size must be positive")
	}
	if c.Timeouts.InactivitySeconds <= 0 {
		return fmt.Errorf("timeouts.inactivity_seconds must be positive")
	}
	if c.Housekeeping.TickMillis <= 0 {
		return fmt.Errorf("housekeeping.tick_millis must be positive")
	}
	return nil
}

// InactivityTimeout returns the configured inactivity timeout as a
// duration.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Timeouts.InactivitySeconds) * time.Second
}

// SetupTimeout returns the configured connection-setup timeout.
func (c *Config) SetupTimeout() time.Duration {
	return time.Duration(c.Timeouts.SetupSeconds) * time.Second
}

// NeighborTimeout returns the configured neighbor-silence timeout.
func (c *Config) NeighborTimeout() time.Duration {
	return time.Duration(c.Timeouts.NeighborSeconds) * time.Second
}

// HousekeepingTick returns the configured housekeeping tick period.
func (c *Config) HousekeepingTick() time.Duration {
	return time.Duration(c.Housekeeping.TickMillis) * time.Millisecond
}
