// Package config holds the compile-time knobs for the isolation
// subsystem. A YAML file (see Load) can override the defaults without
// recompiling.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits collects every capacity and window constant the subsystem uses.
type Limits struct {
	MaxContainers        int           `yaml:"maxContainers"`
	MaxCGroups           int           `yaml:"maxCGroups"`
	MaxTasksPerCGroup     int           `yaml:"maxTasksPerCGroup"`
	MaxPIDNamespaces      int           `yaml:"maxPIDNamespaces"`
	MaxVirtualPID         uint32        `yaml:"maxVirtualPID"`
	MaxIPCNamespaces      int           `yaml:"maxIPCNamespaces"`
	MaxIPCObjectsPerNS    int           `yaml:"maxIPCObjectsPerNamespace"`
	// CGroupWindow is the sliding-window length in scheduler ticks, typed as
	// a time.Duration only so it can be written "1s"-style in YAML; the
	// numeric value is passed straight through to rtos.Ticks, it is never
	// treated as wall-clock time.
	CGroupWindow          time.Duration `yaml:"cgroupWindow"`
	CGroupPenaltyMultiplier float64     `yaml:"cgroupPenaltyMultiplier"`
	MaxPathLength         int           `yaml:"maxPathLength"`
}

// Default returns the hard-coded defaults baked into the binary.
func Default() Limits {
	return Limits{
		MaxContainers:           64,
		MaxCGroups:              64,
		MaxTasksPerCGroup:       16,
		MaxPIDNamespaces:        32,
		MaxVirtualPID:           1 << 16,
		MaxIPCNamespaces:        32,
		MaxIPCObjectsPerNS:      64,
		CGroupWindow:            1000,
		CGroupPenaltyMultiplier: 1.0,
		MaxPathLength:           255,
	}
}

// Load reads a YAML file and overlays it on top of Default(). A missing
// file is not an error: it simply yields the defaults.
func Load(path string) (Limits, error) {
	limits := Default()
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return limits, nil
		}
		return limits, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("parse config %s: %w", path, err)
	}
	return limits, nil
}
