// Package config loads the YAML boot descriptor that tells cmd/acemonitor
// how to size the memory windows, the PMP controller, and the dispatch
// loop before the monitor's trap loop starts (SPEC_FULL.md §2.3).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Boot is the boot-time descriptor. Field names follow the teacher's
// site_config.go convention of lower_snake_case YAML keys mapped onto
// exported Go fields via struct tags.
type Boot struct {
	Memory struct {
		NonConfidentialStart uint64 `yaml:"non_confidential_start"`
		NonConfidentialEnd   uint64 `yaml:"non_confidential_end"`
		ConfidentialStart    uint64 `yaml:"confidential_start"`
		ConfidentialEnd      uint64 `yaml:"confidential_end"`
	} `yaml:"memory"`

	// NumPMPEntries overrides the architecture facade's reported PMP count,
	// primarily so a boot descriptor can provoke errs.NotEnoughPmps in
	// testing. Zero means "use what arch.Probe reports".
	NumPMPEntries int `yaml:"num_pmp_entries"`

	// MaxFirmwareExits bounds how many times the dispatch loop will let a
	// single hart trap back into non-confidential firmware before it is
	// treated as stuck (spec.md §4.4, §4.8).
	MaxFirmwareExits uint64 `yaml:"max_firmware_exits"`

	// Policy names the policy.Hook implementation cmd/acemonitor installs.
	// "default" allows everything; "deny" installs an ExtensionDenyList
	// populated from DeniedExtensions.
	Policy           string   `yaml:"policy"`
	DeniedExtensions []uint64 `yaml:"denied_extensions"`

	// BenchEnabled records whether the bench line-parser front-end (spec.md
	// §6, explicitly out of core scope; internal/ace/bench is a stub) is
	// enabled. cmd/acemonitor loads it but does not act on it.
	BenchEnabled bool `yaml:"bench_enabled"`

	// LogLevel selects the slog level cmd/acemonitor's handler is built
	// with: "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns a Boot descriptor with conservative, always-valid
// defaults, used when no boot file is given.
func Default() Boot {
	var b Boot
	b.Memory.NonConfidentialStart = 0x8000_0000
	b.Memory.NonConfidentialEnd = 0x8800_0000
	b.Memory.ConfidentialStart = 0x8800_0000
	b.Memory.ConfidentialEnd = 0x9000_0000
	b.MaxFirmwareExits = 100_000
	b.Policy = "default"
	b.LogLevel = "info"
	return b
}

// Load reads and parses a boot descriptor from path.
func Load(path string) (Boot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Boot{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	b := Default()
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Boot{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return b, nil
}
