package pmp

import "testing"

func TestNewRequiresEnoughEntries(t *testing.T) {
	if _, err := New(3, 0, 0x1000, NopFencer{}); err == nil {
		t.Fatal("expected NotEnoughPmps for fewer than 6 entries")
	}
	if _, err := New(6, 0, 0x1000, NopFencer{}); err != nil {
		t.Fatalf("expected success with 6 entries: %v", err)
	}
}

func TestClosedByDefault(t *testing.T) {
	c, err := New(8, 0x1000, 0x2000, NopFencer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.IsOpen() || c.HasTORRegion() {
		t.Fatal("expected controller to start closed")
	}
}

// TestOpenCloseToggleTOR checks invariant 3 from spec.md §8: closing clears
// only the TOR bit, leaving RWX permission bits untouched on entry 5.
func TestOpenCloseToggleTOR(t *testing.T) {
	f := &CountingFencer{}
	c, err := New(8, 0x1000, 0x2000, f)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Open()
	if !c.HasTORRegion() {
		t.Fatal("expected TOR region after Open")
	}
	if c.EntryConfig(5)&PermRWX != PermRWX {
		t.Fatal("expected RWX bits set after Open")
	}

	c.Close()
	if c.HasTORRegion() {
		t.Fatal("expected TOR bit cleared after Close")
	}
	if c.EntryConfig(5)&PermRWX != PermRWX {
		t.Fatal("expected RWX bits to remain set after Close (only TOR clears)")
	}

	if f.SfenceCount != 3 || f.HfenceCount != 3 {
		t.Fatalf("expected 3 fences each (New's initial Close + Open + Close), got sfence=%d hfence=%d", f.SfenceCount, f.HfenceCount)
	}
}
