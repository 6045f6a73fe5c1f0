package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	doc := `
memory:
  non_confidential_start: 0x1000
  non_confidential_end: 0x2000
  confidential_start: 0x2000
  confidential_end: 0x3000
num_pmp_entries: 16
max_firmware_exits: 5
policy: deny
denied_extensions: [4740679]
bench_enabled: true
log_level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Memory.NonConfidentialStart != 0x1000 || b.Memory.ConfidentialEnd != 0x3000 {
		t.Fatalf("got %+v", b.Memory)
	}
	if b.NumPMPEntries != 16 || b.MaxFirmwareExits != 5 {
		t.Fatalf("got pmp=%d exits=%d", b.NumPMPEntries, b.MaxFirmwareExits)
	}
	if b.Policy != "deny" || len(b.DeniedExtensions) != 1 {
		t.Fatalf("got policy=%q denied=%v", b.Policy, b.DeniedExtensions)
	}
	if !b.BenchEnabled || b.LogLevel != "debug" {
		t.Fatalf("got bench=%v level=%q", b.BenchEnabled, b.LogLevel)
	}
}

func TestDefaultIsSelfConsistent(t *testing.T) {
	b := Default()
	if b.Memory.NonConfidentialStart >= b.Memory.NonConfidentialEnd {
		t.Fatal("default non-confidential window is empty or inverted")
	}
	if b.Memory.NonConfidentialEnd > b.Memory.ConfidentialStart {
		t.Fatal("default windows overlap")
	}
	if b.Memory.ConfidentialStart >= b.Memory.ConfidentialEnd {
		t.Fatal("default confidential window is empty or inverted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing boot descriptor")
	}
}
