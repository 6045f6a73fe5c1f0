package flow

import "github.com/epfl-dcsl/ace-monitor/internal/ace/control"

// GPR indices for the SBI calling convention's argument/return registers.
const (
	RegA0 = 10
	RegA1 = 11
	RegA6 = 16
	RegA7 = 17
)

// ConfidentialHartMutator mutates the current confidential hart before it
// resumes, without touching the hypervisor hart — the ApplyToConfidentialHart
// family from spec.md §4.6.
type ConfidentialHartMutator interface {
	ApplyToConfidentialHart(hart *control.ConfidentialHart)
}

// HypervisorHartMutator mutates the hypervisor hart before it resumes —
// the ApplyToHypervisorHart family.
type HypervisorHartMutator interface {
	ApplyToHypervisorHart(hv *control.HypervisorHart)
}

// MmioAccessFault injects a synchronous trap into the CVM for an MMIO
// access outside any declared region (scenario S3).
type MmioAccessFault struct {
	Scause uint64
	Stval  uint64
	Sepc   uint64
}

func (m MmioAccessFault) ApplyToConfidentialHart(hart *control.ConfidentialHart) {
	ctx := hart.Context()
	ctx.CSRs.Scause = m.Scause
	ctx.CSRs.Stval = m.Stval
	ctx.CSRs.Sepc = m.Sepc
	ctx.PC = ctx.CSRs.Stvec
}

// SbiResponse is the (a0, a1) pair an SBI call returns: a0 is the SBI
// error code (spec.md §7), a1 is the success value.
type SbiResponse struct {
	Error int64
	Value uint64
}

// ApplyToConfidentialHart writes the response into a0/a1 and advances pc
// past the ecall, per spec.md §4.5's "after non-trapping emulation, pc +=
// instruction_length".
func (r SbiResponse) ApplyToConfidentialHart(hart *control.ConfidentialHart) {
	ctx := hart.Context()
	ctx.GPRs.Write(RegA0, uint64(r.Error))
	ctx.GPRs.Write(RegA1, r.Value)
	ctx.Advance(4)
}

// ApplyToHypervisorHart writes the response into the hypervisor hart's
// a0/a1 and advances its pc past the ecall.
func (r SbiResponse) ApplyToHypervisorHart(hv *control.HypervisorHart) {
	ctx := hv.Context()
	ctx.GPRs.Write(RegA0, uint64(r.Error))
	ctx.GPRs.Write(RegA1, r.Value)
	ctx.Advance(4)
}

// VirtualInstruction applies the side effect of an emulated virtual
// instruction (a CSR read/write already resolved by decode+dispatch) and
// advances pc by its length.
type VirtualInstruction struct {
	Length uint64
}

func (v VirtualInstruction) ApplyToConfidentialHart(hart *control.ConfidentialHart) {
	hart.Context().Advance(v.Length)
}

func (v VirtualInstruction) ApplyToHypervisorHart(hv *control.HypervisorHart) {
	hv.Context().Advance(v.Length)
}

// SetSharedMemory records the hypervisor's NACL shared-memory base address
// and acknowledges success.
type SetSharedMemory struct {
	Base uint64
}

func (s SetSharedMemory) ApplyToHypervisorHart(hv *control.HypervisorHart) {
	hv.SetSharedMemory(s.Base)
	ctx := hv.Context()
	ctx.GPRs.Write(RegA0, 0)
	ctx.GPRs.Write(RegA1, 0)
	ctx.Advance(4)
}

// DeclassifyToHypervisor copies only the CSRs/GPRs its concrete type
// enumerates from the confidential hart into the hypervisor hart — the
// declassification-minimality invariant, spec.md §8 invariant 4.
type DeclassifyToHypervisor interface {
	DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart)
}

// MmioLoadRequest declassifies a pending MMIO load: only the faulting
// address and access length cross the boundary (scenario S2).
type MmioLoadRequest struct {
	Address uint64
	Length  uint64
}

func (r MmioLoadRequest) DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart) {
	ctx := to.Context()
	ctx.GPRs.Write(RegA0, r.Address)
	ctx.GPRs.Write(RegA1, r.Length)
}

// MmioStoreRequest declassifies a pending MMIO store: address, length and
// the value being written cross the boundary.
type MmioStoreRequest struct {
	Address uint64
	Length  uint64
	Value   uint64
}

func (r MmioStoreRequest) DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart) {
	ctx := to.Context()
	ctx.GPRs.Write(RegA0, r.Address)
	ctx.GPRs.Write(RegA1, r.Length)
	ctx.GPRs.Write(RegA6, r.Value)
}

// SbiRequest declassifies an SBI call the monitor cannot service itself
// (e.g. SRST, CovG share/unshare) to the hypervisor: only the extension id,
// function id and the six argument registers cross the boundary.
type SbiRequest struct {
	ExtID uint64
	FID   uint64
	Args  [6]uint64
}

func (r SbiRequest) DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart) {
	ctx := to.Context()
	ctx.GPRs.Write(RegA7, r.ExtID)
	ctx.GPRs.Write(RegA6, r.FID)
	for i, v := range r.Args {
		ctx.GPRs.Write(RegA0+i, v)
	}
}

// DeclassifiedSbiResponse carries an SBI response across the boundary
// (either direction); only a0/a1 cross.
type DeclassifiedSbiResponse struct {
	Error int64
	Value uint64
}

func (r DeclassifiedSbiResponse) DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart) {
	ctx := to.Context()
	ctx.GPRs.Write(RegA0, uint64(r.Error))
	ctx.GPRs.Write(RegA1, r.Value)
}

// DeclassifiedInterrupt declassifies a pending interrupt notification;
// only the interrupt cause crosses.
type DeclassifiedInterrupt struct {
	Cause uint64
}

func (i DeclassifiedInterrupt) DeclassifyToHypervisor(from *control.ConfidentialHart, to *control.HypervisorHart) {
	to.Context().CSRs.Mcause = i.Cause
}

// DeclassifyToConfidentialVm is the symmetric inverse: the hypervisor's
// reply to a prior declassified request, restoring the CVM hart's state
// atomically (spec.md §4.6: "the CVM's saved state is restored atomically
// before control returns").
type DeclassifyToConfidentialVm interface {
	DeclassifyToConfidentialVm(from *control.HypervisorHart, to *control.ConfidentialHart)
}

// ConfidentialSbiResponse carries the hypervisor's SBI reply back into the
// CVM hart that originally made the declassified request.
type ConfidentialSbiResponse struct {
	Error int64
	Value uint64
}

func (r ConfidentialSbiResponse) DeclassifyToConfidentialVm(from *control.HypervisorHart, to *control.ConfidentialHart) {
	ctx := to.Context()
	ctx.GPRs.Write(RegA0, uint64(r.Error))
	ctx.GPRs.Write(RegA1, r.Value)
	ctx.Advance(4)
}

// Resume hands control back to a CVM hart with no new state to apply
// (e.g. after a remote-fence broadcast completes).
type Resume struct{}

func (Resume) DeclassifyToConfidentialVm(from *control.HypervisorHart, to *control.ConfidentialHart) {}

// ConfidentialInterrupt declassifies a pending interrupt back into the CVM
// hart, e.g. after check_and_inject_interrupts transfers a bit from
// hardware mip into vmip.
type ConfidentialInterrupt struct {
	Cause uint64
}

func (i ConfidentialInterrupt) DeclassifyToConfidentialVm(from *control.HypervisorHart, to *control.ConfidentialHart) {
	to.Context().CSRs.Mcause = i.Cause
}
