// Package pmp programs the Physical Memory Protection unit to isolate
// confidential memory, and issues the fences needed to purge stale
// translations after a window is opened or closed. It plays the role this
// repository's internal/hv/riscv/rv64 package gives to CSR-level hardware
// state: a small typed facade over raw bits, exercised through named
// methods rather than inline masks at every call site.
package pmp

import "github.com/epfl-dcsl/ace-monitor/internal/ace/errs"

// Permission bits shared by every PMP entry's pmpcfg byte.
const (
	PermRead    uint8 = 1 << 0
	PermWrite   uint8 = 1 << 1
	PermExecute uint8 = 1 << 2
	PermRWX     uint8 = PermRead | PermWrite | PermExecute

	// AddrMatchTOR selects top-of-range addressing: the entry covers
	// [pmpaddr[i-1], pmpaddr[i]).
	AddrMatchTOR uint8 = 1 << 3
	addrMatchOff uint8 = 0
	addrMatchMask uint8 = 3 << 3
)

// minimumPMPEntries is the number of low entries (0-3) left free for
// platform firmware; the controller's own TOR pair is entries 4 and 5 right
// after them, so New requires minimumPMPEntries+2 entries.
const minimumPMPEntries = 4

// confidentialLow and confidentialHigh are the two PMP entry indices the
// controller reserves for the confidential-memory window. Entries 0-3
// remain free for platform firmware; entries 6+ are available to the
// policy hook, per spec.md §6.
const (
	confidentialLow  = 4
	confidentialHigh = 5
)

// Fencer issues the hardware fences needed to purge cached translations
// after reprogramming PMP entries. A real hart executes sfence.vma and
// hfence.gvma; tests substitute a no-op or a counting stub.
type Fencer interface {
	SfenceVMA()
	HfenceGVMA()
}

// entry models one PMP entry's pmpcfg byte and pmpaddr register.
type entry struct {
	cfg  uint8
	addr uint64
}

// Controller owns the PMP entries reserved for confidential memory
// isolation. It must be constructed with at least minimumPMPEntries+2
// (six) entries available on the hart.
type Controller struct {
	entries     []entry
	fencer      Fencer
	confStart   uint64
	confEnd     uint64
	open        bool
}

// New reserves entries 4 and 5 as a TOR pair straddling
// [confStart, confEnd) and leaves the window closed. numPMPEntries is the
// hart's total PMP entry count as reported by the architecture facade.
func New(numPMPEntries int, confStart, confEnd uint64, fencer Fencer) (*Controller, error) {
	if numPMPEntries < minimumPMPEntries+2 {
		return nil, errs.New(errs.NotEnoughPmps)
	}
	c := &Controller{
		entries:   make([]entry, numPMPEntries),
		fencer:    fencer,
		confStart: confStart,
		confEnd:   confEnd,
	}
	c.entries[confidentialLow] = entry{cfg: PermRWX, addr: confStart}
	c.entries[confidentialHigh] = entry{cfg: PermRWX, addr: confEnd}
	c.Close()
	return c, nil
}

// Open sets RWX on entry 4 and TOR|RWX on entry 5, opening the access
// window [confStart, confEnd) to the hart's subsequent loads/stores, then
// purges cached translations.
func (c *Controller) Open() {
	c.entries[confidentialLow].cfg = PermRWX
	c.entries[confidentialHigh].cfg = AddrMatchTOR | PermRWX
	c.open = true
	c.fence()
}

// Close clears only the TOR bit of entry 5 — its RWX bits remain set but,
// without a matching top-of-range predecessor, denote no accessible region
// (original_source/.../pmp/mod.rs: close_access_to_confidential_memory only
// clears the TOR mask, it never zeroes the whole pmpcfg byte pair).
func (c *Controller) Close() {
	c.entries[confidentialHigh].cfg &^= addrMatchMask
	c.entries[confidentialHigh].cfg |= addrMatchOff
	c.open = false
	c.fence()
}

func (c *Controller) fence() {
	if c.fencer == nil {
		return
	}
	c.fencer.SfenceVMA()
	c.fencer.HfenceGVMA()
}

// IsOpen reports whether the confidential-memory window is currently accessible.
func (c *Controller) IsOpen() bool { return c.open }

// EntryConfig returns the raw pmpcfg byte of the given entry index, for
// tests asserting invariant 3 of spec.md §8 ("whenever ExecutionMode !=
// ConfidentialFlow, the reserved PMP entries denote no accessible region").
func (c *Controller) EntryConfig(index int) uint8 {
	return c.entries[index].cfg
}

// HasTORRegion reports whether the reserved pair currently denotes an
// accessible top-of-range region (i.e. whether the window is, in hardware
// terms and not just the cached c.open flag, actually open).
func (c *Controller) HasTORRegion() bool {
	return c.entries[confidentialHigh].cfg&addrMatchMask == AddrMatchTOR
}

// NopFencer is a Fencer that does nothing, for contexts (tests, policy
// dry-runs) where there is no real hart to fence.
type NopFencer struct{}

func (NopFencer) SfenceVMA()  {}
func (NopFencer) HfenceGVMA() {}

// CountingFencer counts fence invocations, for tests asserting that a world
// switch causally precedes the next confidential-memory access (spec.md §5).
type CountingFencer struct {
	SfenceCount  int
	HfenceCount  int
}

func (f *CountingFencer) SfenceVMA()  { f.SfenceCount++ }
func (f *CountingFencer) HfenceGVMA() { f.HfenceCount++ }
