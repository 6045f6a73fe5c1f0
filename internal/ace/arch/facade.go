package arch

// Facade issues fences on behalf of the monitor. It satisfies pmp.Fencer,
// and dispatch.Loop uses it to re-fence after a virtual write to an
// address-translation CSR. There is no physical hart backing this software model (see
// SPEC_FULL.md's realization note), so SfenceVMA/HfenceGVMA record that a
// fence happened rather than executing one; a hosted build would replace
// this file with one that emits the real instructions via assembly stubs,
// the way internal/hv/riscv/rv64 does for its guest-entry trampoline.
type Facade struct {
	sfenceCount int
	hfenceCount int
}

// New returns a Facade for the current hart.
func New() *Facade {
	return &Facade{}
}

func (f *Facade) SfenceVMA()  { f.sfenceCount++ }
func (f *Facade) HfenceGVMA() { f.hfenceCount++ }

// FenceCounts reports how many of each fence this facade has issued, for
// tests asserting that a world switch fenced before resuming a guest.
func (f *Facade) FenceCounts() (sfence, hfence int) {
	return f.sfenceCount, f.hfenceCount
}

// Clone returns a copy of b.
func (b CSRBank) Clone() CSRBank {
	return b
}

// Clone returns a copy of g.
func (g GPRBank) Clone() GPRBank {
	return g
}
