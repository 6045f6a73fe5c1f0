package bench

import (
	"strings"
	"testing"
)

func TestParseLineWellFormed(t *testing.T) {
	s, ok := ParseLine("bench: world_switch/confidential_to_hypervisor=1284")
	if !ok {
		t.Fatal("expected the line to parse")
	}
	if s.Counter != "world_switch" || s.Scope != "confidential_to_hypervisor" || s.Value != 1284 {
		t.Fatalf("got %+v", s)
	}
}

func TestParseLineIgnoresNonBenchLines(t *testing.T) {
	if _, ok := ParseLine("monitor: booting hart 0"); ok {
		t.Fatal("expected a non-bench line to be ignored")
	}
}

func TestParseLineRejectsMalformedBody(t *testing.T) {
	for _, line := range []string{
		"bench: no_equals_sign",
		"bench: missing_scope=10",
		"bench: a/b=not_a_number",
	} {
		if _, ok := ParseLine(line); ok {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestScanCollectsOnlyBenchLines(t *testing.T) {
	input := "monitor: booting\nbench: exits/firmware=3\nsome other output\nbench: exits/payload=7\n"
	samples, err := Scan(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Value != 3 || samples[1].Value != 7 {
		t.Fatalf("got %+v", samples)
	}
}
