package dispatch

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/arch"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/decode"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

// causeIllegalInstruction is the scause value reported to the guest when
// emulateTrap cannot make sense of the faulting instruction.
const causeIllegalInstruction uint64 = 2

// emulateTrap implements spec.md §4.5 for a trap that is neither an ecall
// nor an MMIO access fault: decode the faulting instruction from mtinst and
// either emulate it in place (virtual CSR access, WFI, MRET) or inject an
// illegal-instruction exception. It operates directly on the trapping
// VirtContext for the CSR/GPR work so the same emulation serves both the
// Confidential and NonConfidential routing paths, which hold different
// wrapper types (ConfidentialHart vs. HypervisorHart) around an identical
// CSR/GPR shape.
//
// It returns the instruction length the caller must still advance pc by,
// via flow.VirtualInstruction's ApplyToConfidentialHart/ApplyToHypervisorHart
// — MRET and the illegal-instruction path already set pc themselves, so
// they return 0 and the caller applies no further mutator.
func (l *Loop) emulateTrap(ctx *vctx.VirtContext, trap vctx.TrapInfo) uint64 {
	instr, length, _ := decode.DecodeFaultingInstruction(trap.Mtinst)

	switch instr.Kind {
	case decode.Csrrw, decode.Csrrs, decode.Csrrc, decode.Csrrwi, decode.Csrrsi, decode.Csrrci:
		l.emulateCSR(ctx, instr)
		return length
	case decode.Wfi:
		// No physical hart to idle in this software model (SPEC_FULL.md
		// §0's realization note): resume immediately instead of executing
		// a real wfi.
		return length
	case decode.Mret:
		ctx.ApplyMret()
		return 0
	default:
		injectIllegalInstruction(ctx, trap)
		return 0
	}
}

// emulateCSR implements the six virtual CSR instructions' read-combine-
// write-side-effect sequence (spec.md §4.5): the shadow CSR is read into
// rd, combined with rs1/uimm per the opcode, written back, and the CSR
// bank's side-effect hook runs afterward so hardware the CSR would have
// reprogrammed (e.g. TLB state on an address-translation CSR) is kept in
// sync. Per the base ISA, csrrs/csrrc skip the write when rs1 is x0, and
// csrrsi/csrrci skip it when uimm is 0 — csrrw/csrrwi always write.
func (l *Loop) emulateCSR(ctx *vctx.VirtContext, instr decode.Instruction) {
	old := ctx.CSRs.Read(instr.CSR)
	ctx.GPRs.Write(instr.Rd, old)

	var operand uint64
	switch instr.Kind {
	case decode.Csrrw, decode.Csrrs, decode.Csrrc:
		operand = ctx.GPRs.Read(instr.Rs1)
	case decode.Csrrwi, decode.Csrrsi, decode.Csrrci:
		operand = uint64(instr.Uimm)
	}

	switch instr.Kind {
	case decode.Csrrs, decode.Csrrc:
		if instr.Rs1 == 0 {
			return
		}
	case decode.Csrrsi, decode.Csrrci:
		if instr.Uimm == 0 {
			return
		}
	}

	var next uint64
	switch instr.Kind {
	case decode.Csrrw, decode.Csrrwi:
		next = operand
	case decode.Csrrs, decode.Csrrsi:
		next = old | operand
	case decode.Csrrc, decode.Csrrci:
		next = old &^ operand
	}

	ctx.CSRs.Write(instr.CSR, next, l.csrSideEffect())
}

// csrSideEffect returns the hook CSRBank.Write invokes after a virtual CSR
// write. In this software model the only hardware state a CSR write can
// leave stale is cached address translations: writing Satp, Hgatp or Vsatp
// re-points the active page table, so the hook re-fences through l.Facade
// (an arch.Facade, which also satisfies pmp.Fencer). l.Facade is nil unless
// the caller sets it; with no facade there is nothing to re-program, so the
// hook is a no-op.
func (l *Loop) csrSideEffect() arch.SideEffect {
	return func(csr uint16, val uint64) {
		if l.Facade == nil {
			return
		}
		switch csr {
		case arch.CSRSatp, arch.CSRHgatp, arch.CSRVsatp:
			l.Facade.SfenceVMA()
			l.Facade.HfenceGVMA()
		}
	}
}

// injectIllegalInstruction delivers an illegal-instruction exception to the
// guest: scause/stval/sepc are set and control transfers to stvec, the same
// shape flow.MmioAccessFault uses for an out-of-region MMIO access.
func injectIllegalInstruction(ctx *vctx.VirtContext, trap vctx.TrapInfo) {
	ctx.CSRs.Scause = causeIllegalInstruction
	ctx.CSRs.Stval = trap.Mtinst
	ctx.CSRs.Sepc = trap.Mepc
	ctx.PC = ctx.CSRs.Stvec
}
