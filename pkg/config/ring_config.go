package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RingDescriptor names one ShmRingBuffer deployment: the shared-memory
// segment it lives in (resolved by pkg/shmseg) and its element capacity.
// This generalizes the teacher's ors_config.go, which hardcoded exactly
// three SHM keys (MD/Req/Resp) and a client-store key; here any number of
// independently named rings can be declared.
type RingDescriptor struct {
	Name          string `yaml:"name"`
	SegmentSize   int    `yaml:"segment_size"`
	ElementCount  int    `yaml:"element_count"`
	StatsEnabled  bool   `yaml:"stats_enabled"`
}

// RingSetConfig is the top-level deployment descriptor for a set of
// ShmRingBuffers, replacing the teacher's single ORSConfig trio.
type RingSetConfig struct {
	Rings    []RingDescriptor `yaml:"rings"`
	System   SystemConfig     `yaml:"system"`
}

// SystemConfig holds process-wide parameters, kept as-is from the teacher's
// config.go (log level, diagnostics port).
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	APIPort  int    `yaml:"api_port"`
}

// LoadRingSetConfig reads a YAML ring-set descriptor from path.
func LoadRingSetConfig(path string) (*RingSetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg RingSetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func (c *RingSetConfig) validate() error {
	if len(c.Rings) == 0 {
		return fmt.Errorf("rings: at least one ring descriptor is required")
	}
	seen := make(map[string]bool, len(c.Rings))
	for i, r := range c.Rings {
		if r.Name == "" {
			return fmt.Errorf("rings[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("rings[%d]: duplicate ring name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.ElementCount <= 0 {
			return fmt.Errorf("rings[%d] (%s): element_count must be positive", i, r.Name)
		}
		if r.SegmentSize <= 0 {
			return fmt.Errorf("rings[%d] (%s): segment_size must be positive", i, r.Name)
		}
	}
	return nil
}

// ByName returns the descriptor with the given name, if present.
func (c *RingSetConfig) ByName(name string) (RingDescriptor, bool) {
	for _, r := range c.Rings {
		if r.Name == name {
			return r, true
		}
	}
	return RingDescriptor{}, false
}
