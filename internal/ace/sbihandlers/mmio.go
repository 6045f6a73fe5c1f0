package sbihandlers

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/decode"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
)

// mcause values for the two trap causes MMIO emulation handles.
const (
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAMOAccessFault uint64 = 7
)

// HandleMmioFault implements spec.md §4.6's MMIO load/store handler. It
// recomputes the faulting address from mtval2/mtval, rejects addresses
// outside the CVM's declared MMIO regions (scenario S3), and otherwise
// decodes the faulting instruction and declassifies a load or store
// request to the hypervisor (scenario S2).
func HandleMmioFault(cf *flow.ConfidentialFlow) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	hart := cf.ConfidentialHart()
	ctx := hart.Context()

	addr := (ctx.TrapInfo.Mtval2 << 2) | (ctx.TrapInfo.Mtval & 3)

	if !hart.IsDeclaredMMIO(addr) {
		fault := flow.MmioAccessFault{
			Scause: ctx.TrapInfo.Mcause,
			Stval:  addr,
			Sepc:   ctx.TrapInfo.Mepc,
		}
		return fault, nil, nil
	}

	instr, length, err := decode.DecodeFaultingInstruction(ctx.TrapInfo.Mtinst)
	if err != nil {
		return flow.MmioAccessFault{Scause: ctx.TrapInfo.Mcause, Stval: addr, Sepc: ctx.TrapInfo.Mepc}, nil, nil
	}

	switch ctx.TrapInfo.Mcause {
	case CauseLoadAccessFault:
		hart.SetResumableOperation(control.ResumableOperation{
			Kind:   control.MmioLoad,
			Length: uint64(instr.Width),
			Rd:     instr.Rd,
			Signed: instr.Signed,
		})
		return nil, flow.MmioLoadRequest{Address: addr, Length: uint64(instr.Width)}, nil
	case CauseStoreAMOAccessFault:
		value := ctx.GPRs.Read(instr.Rs2)
		ctx.Advance(length)
		return nil, flow.MmioStoreRequest{Address: addr, Length: uint64(instr.Width), Value: value}, nil
	default:
		return flow.MmioAccessFault{Scause: ctx.TrapInfo.Mcause, Stval: addr, Sepc: ctx.TrapInfo.Mepc}, nil, nil
	}
}

// MmioReply is the DeclassifyToConfidentialVm transformation carrying the
// hypervisor's reply to a declassified MMIO load back to the CVM hart that
// issued it.
type MmioReply struct {
	Value uint64
}

// DeclassifyToConfidentialVm sign- or zero-extends Value per the pending
// resumable operation's width, places it in the recorded destination
// register, and advances pc past the faulting instruction.
func (r MmioReply) DeclassifyToConfidentialVm(from *control.HypervisorHart, to *control.ConfidentialHart) {
	op := to.TakeResumableOperation()
	ctx := to.Context()

	val := r.Value
	if op.Length < 8 {
		mask := uint64(1)<<(op.Length*8) - 1
		val &= mask
		if op.Signed && val&(1<<(op.Length*8-1)) != 0 {
			val |= ^mask
		}
	}
	ctx.GPRs.Write(op.Rd, val)
	// op.Length is the access width; the hart has not trapped since the
	// MMIO fault, so TrapInfo still holds the mtinst that gives the
	// instruction length.
	_, length, _ := decode.DecodeFaultingInstruction(ctx.TrapInfo.Mtinst)
	ctx.Advance(length)
}
