// Package vctx models the per-hart virtualized machine state: the guest's
// GPRs, its shadow CSR bank, its current privilege mode, the trap-info
// buffer captured by the last trap, and the exit counter. It is the typed
// equivalent of what this repository's internal/hv/riscv/rv64 package
// calls a "CPU" for a guest VM, lifted one privilege level to describe the
// state an M-mode monitor virtualizes rather than the state a type-2
// hypervisor schedules.
package vctx

import "github.com/epfl-dcsl/ace-monitor/internal/ace/arch"

// ExecutionMode distinguishes the two kinds of software a VirtContext can
// be running: virtualized M-mode firmware (e.g. the CVM's SBI
// implementation) or an S-mode payload (the CVM's kernel). World-switch
// hooks in dispatch fire on transitions between the two, and also when the
// active flow changes between a CVM hart and the hypervisor.
type ExecutionMode uint8

const (
	Firmware ExecutionMode = iota
	Payload
)

func (m ExecutionMode) String() string {
	if m == Firmware {
		return "firmware"
	}
	return "payload"
}

// TrapInfo is the snapshot the trap vector captures on every M-mode trap,
// before any dispatch logic runs.
type TrapInfo struct {
	Mcause  uint64
	Mepc    uint64
	Mtval   uint64
	Mtval2  uint64
	Mtinst  uint64
	Mip     uint64
	Mstatus uint64
}

// IsMonitorInternalFault reports whether this trap originated in the
// monitor itself (mstatus.MPP == M at trap time), which is always fatal
// per spec.md §4.4.
func (t TrapInfo) IsMonitorInternalFault() bool {
	return arch.ModeFromMPP(t.Mstatus) == arch.PrivMachine
}

// VirtContext is the virtualized state of one vCPU or firmware instance:
// one per ConfidentialHart and one per HypervisorHart.
type VirtContext struct {
	GPRs arch.GPRBank
	CSRs arch.CSRBank

	Mode     arch.PrivMode
	TrapInfo TrapInfo
	NbExits  uint64
	PC       uint64
}

// New returns a zeroed VirtContext starting in machine mode at pc.
func New(pc uint64) *VirtContext {
	return &VirtContext{Mode: arch.PrivMachine, PC: pc}
}

// ExecutionMode reports whether this context currently represents
// firmware or a payload, derived from Mode per spec.md §4.7.
func (v *VirtContext) ExecutionMode() ExecutionMode {
	if v.Mode == arch.PrivMachine {
		return Firmware
	}
	return Payload
}

// CaptureTrap records the trap-vector snapshot and increments the exit
// counter. It is the only place NbExits changes, so invariant 5 from
// spec.md §8 ("nb_exits is monotonically increasing and equals the number
// of traps handled") holds by construction.
func (v *VirtContext) CaptureTrap(t TrapInfo) {
	v.TrapInfo = t
	v.NbExits++
}

// PrepareEntry configures the bank this context is about to resume into:
// mepc is set to PC and mstatus.MPP to the target mode. Dispatch calls
// this immediately before executing mret.
func (v *VirtContext) PrepareEntry() {
	v.CSRs.Mepc = v.PC
	v.CSRs.Mstatus = arch.WithMPP(v.CSRs.Mstatus, v.Mode)
}

// ApplyMret restores mstatus.MPP as the new mode and sets pc <- mepc, per
// spec.md §4.5's MRET emulation rule.
func (v *VirtContext) ApplyMret() {
	v.Mode = arch.ModeFromMPP(v.CSRs.Mstatus)
	v.PC = v.CSRs.Mepc
}

// Advance moves PC past the just-emulated instruction. length is 2 or 4.
func (v *VirtContext) Advance(length uint64) {
	v.PC += length
}
