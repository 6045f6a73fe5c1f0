// Package arch is the architecture facade: it reads and writes every CSR
// the monitor virtualizes, saves/restores GPR and CSR banks across world
// switches, issues fence instructions, and probes hart capabilities. It
// generalizes the CSR switch-dispatch pattern of
// internal/hv/riscv/rv64/csr.go (a guest-mode CSR bank) up one privilege
// level, to the M/S/H/VS-mode banks an M-mode monitor must virtualize.
package arch

// CSR addresses, named per the RISC-V privileged spec.
const (
	// Machine-mode
	CSRMstatus  uint16 = 0x300
	CSRMisa     uint16 = 0x301
	CSRMedeleg  uint16 = 0x302
	CSRMideleg  uint16 = 0x303
	CSRMie      uint16 = 0x304
	CSRMtvec    uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMenvcfg  uint16 = 0x30A
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMip      uint16 = 0x344
	CSRMtinst   uint16 = 0x34A
	CSRMtval2   uint16 = 0x34B
	CSRMhartid  uint16 = 0xF14

	// Supervisor-mode
	CSRSstatus   uint16 = 0x100
	CSRSie       uint16 = 0x104
	CSRStvec     uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSenvcfg   uint16 = 0x10A
	CSRSscratch  uint16 = 0x140
	CSRSepc      uint16 = 0x141
	CSRScause    uint16 = 0x142
	CSRStval     uint16 = 0x143
	CSRSip       uint16 = 0x144
	CSRSatp      uint16 = 0x180

	// Hypervisor-mode
	CSRHstatus    uint16 = 0x600
	CSRHedeleg    uint16 = 0x602
	CSRHideleg    uint16 = 0x603
	CSRHie        uint16 = 0x604
	CSRHtimedelta uint16 = 0x605
	CSRHcounteren uint16 = 0x606
	CSRHenvcfg    uint16 = 0x60A
	CSRHtval      uint16 = 0x643
	CSRHip        uint16 = 0x644
	CSRHvip       uint16 = 0x645
	CSRHtinst     uint16 = 0x64A
	CSRHgatp      uint16 = 0x680

	// Virtual supervisor (VS)-mode
	CSRVsstatus uint16 = 0x200
	CSRVsie     uint16 = 0x204
	CSRVstvec   uint16 = 0x205
	CSRVsscratch uint16 = 0x240
	CSRVsepc    uint16 = 0x241
	CSRVscause  uint16 = 0x242
	CSRVstval   uint16 = 0x243
	CSRVsip     uint16 = 0x244
	CSRVsatp    uint16 = 0x280
)

// mstatus bit layout used by ModeFromMPP/WithMPP, through which vctx
// classifies a trap's previous privilege mode and prepares or emulates mret.
const (
	MstatusMPP   uint64 = 3 << 11
	MstatusMPPShift      = 11
	MstatusSPP   uint64 = 1 << 8
)

// PrivMode is a RISC-V privilege level.
type PrivMode uint8

const (
	PrivUser PrivMode = iota
	PrivSupervisor
	_ // reserved (hypervisor-extension value 2 is unused standalone)
	PrivMachine
)

// CSRBank holds every CSR the monitor virtualizes for one VirtContext: the
// firmware/payload's M, S, H and VS-mode register state. Unknown CSR reads
// return 0 and unknown writes are ignored, matching
// internal/hv/riscv/rv64/csr.go's "allow the guest to boot" default.
type CSRBank struct {
	Mstatus, Misa, Medeleg, Mideleg, Mie, Mtvec, Mcounteren, Menvcfg uint64
	Mscratch, Mepc, Mcause, Mtval, Mip, Mtinst, Mtval2, Mhartid      uint64

	Sstatus, Sie, Stvec, Scounteren, Senvcfg uint64
	Sscratch, Sepc, Scause, Stval, Sip, Satp uint64

	Hstatus, Hedeleg, Hideleg, Hie, Htimedelta, Hcounteren, Henvcfg uint64
	Htval, Hip, Hvip, Htinst, Hgatp                                uint64

	Vsstatus, Vsie, Vstvec, Vsscratch uint64
	Vsepc, Vscause, Vstval, Vsip, Vsatp uint64
}

// SideEffect is invoked by Write after a CSR's shadow value is updated. The
// dispatch loop's hook re-fences address translation after a write to
// Satp, Hgatp or Vsatp; no other CSR write re-programs hardware state.
type SideEffect func(csr uint16, val uint64)

// Read returns the shadow value of csr, or 0 for a CSR this bank does not model.
func (b *CSRBank) Read(csr uint16) uint64 {
	switch csr {
	case CSRMstatus:
		return b.Mstatus
	case CSRMisa:
		return b.Misa
	case CSRMedeleg:
		return b.Medeleg
	case CSRMideleg:
		return b.Mideleg
	case CSRMie:
		return b.Mie
	case CSRMtvec:
		return b.Mtvec
	case CSRMcounteren:
		return b.Mcounteren
	case CSRMenvcfg:
		return b.Menvcfg
	case CSRMscratch:
		return b.Mscratch
	case CSRMepc:
		return b.Mepc
	case CSRMcause:
		return b.Mcause
	case CSRMtval:
		return b.Mtval
	case CSRMip:
		return b.Mip
	case CSRMtinst:
		return b.Mtinst
	case CSRMtval2:
		return b.Mtval2
	case CSRMhartid:
		return b.Mhartid
	case CSRSstatus:
		return b.Sstatus
	case CSRSie:
		return b.Sie
	case CSRStvec:
		return b.Stvec
	case CSRScounteren:
		return b.Scounteren
	case CSRSenvcfg:
		return b.Senvcfg
	case CSRSscratch:
		return b.Sscratch
	case CSRSepc:
		return b.Sepc
	case CSRScause:
		return b.Scause
	case CSRStval:
		return b.Stval
	case CSRSip:
		return b.Sip
	case CSRSatp:
		return b.Satp
	case CSRHstatus:
		return b.Hstatus
	case CSRHedeleg:
		return b.Hedeleg
	case CSRHideleg:
		return b.Hideleg
	case CSRHie:
		return b.Hie
	case CSRHtimedelta:
		return b.Htimedelta
	case CSRHcounteren:
		return b.Hcounteren
	case CSRHenvcfg:
		return b.Henvcfg
	case CSRHtval:
		return b.Htval
	case CSRHip:
		return b.Hip
	case CSRHvip:
		return b.Hvip
	case CSRHtinst:
		return b.Htinst
	case CSRHgatp:
		return b.Hgatp
	case CSRVsstatus:
		return b.Vsstatus
	case CSRVsie:
		return b.Vsie
	case CSRVstvec:
		return b.Vstvec
	case CSRVsscratch:
		return b.Vsscratch
	case CSRVsepc:
		return b.Vsepc
	case CSRVscause:
		return b.Vscause
	case CSRVstval:
		return b.Vstval
	case CSRVsip:
		return b.Vsip
	case CSRVsatp:
		return b.Vsatp
	default:
		return 0
	}
}

// legal_mask values for the delegation/enable CSRs a guest can reach, so
// the round-trip law (spec.md §8: write(c,v); read(c) == v & legal_mask(c))
// holds for them. Grounded on internal/hv/riscv/rv64/csr.go's CSRMedeleg/
// CSRMideleg/CSRMie masking, generalized to this bank's H/VS-mode analogues
// (Hideleg/Hie gate the same bits one privilege level down, in the
// VSSIP/VSTIP/VSEIP numbering hip/hie use).
const (
	legalMedelegMask uint64 = 0xb3ff
	legalMidelegMask uint64 = InterruptSSIP | InterruptSTIP | InterruptSEIP
	legalMieMask     uint64 = InterruptSSIP | InterruptSTIP | InterruptSEIP
	legalHidelegMask uint64 = InterruptVSSIP | InterruptVSTIP | InterruptVSEIP
	legalHieMask     uint64 = InterruptVSSIP | InterruptVSTIP | InterruptVSEIP | InterruptSGEIP
	legalVsieMask    uint64 = InterruptVSSIP | InterruptVSTIP | InterruptVSEIP
)

// Write sets the shadow value of csr and, if fn is non-nil, invokes its
// side-effect hook afterward. Misa is read-only in this implementation
// (mirrors internal/hv/riscv/rv64/csr.go's csrWrite for CSRMisa) and writes
// to it are silently dropped.
func (b *CSRBank) Write(csr uint16, val uint64, fn SideEffect) {
	switch csr {
	case CSRMstatus:
		b.Mstatus = val
	case CSRMisa:
		// read-only
	case CSRMedeleg:
		b.Medeleg = val & legalMedelegMask
	case CSRMideleg:
		b.Mideleg = val & legalMidelegMask
	case CSRMie:
		b.Mie = val & legalMieMask
	case CSRMtvec:
		b.Mtvec = val
	case CSRMcounteren:
		b.Mcounteren = val
	case CSRMenvcfg:
		b.Menvcfg = val
	case CSRMscratch:
		b.Mscratch = val
	case CSRMepc:
		b.Mepc = val &^ 1
	case CSRMcause:
		b.Mcause = val
	case CSRMtval:
		b.Mtval = val
	case CSRMip:
		b.Mip = val
	case CSRMtinst:
		b.Mtinst = val
	case CSRMtval2:
		b.Mtval2 = val
	case CSRSstatus:
		b.Sstatus = val
	case CSRSie:
		b.Sie = val & legalMieMask
	case CSRStvec:
		b.Stvec = val
	case CSRScounteren:
		b.Scounteren = val
	case CSRSenvcfg:
		b.Senvcfg = val
	case CSRSscratch:
		b.Sscratch = val
	case CSRSepc:
		b.Sepc = val &^ 1
	case CSRScause:
		b.Scause = val
	case CSRStval:
		b.Stval = val
	case CSRSip:
		b.Sip = val
	case CSRSatp:
		b.Satp = val
	case CSRHstatus:
		b.Hstatus = val
	case CSRHedeleg:
		b.Hedeleg = val
	case CSRHideleg:
		b.Hideleg = val & legalHidelegMask
	case CSRHie:
		b.Hie = val & legalHieMask
	case CSRHtimedelta:
		b.Htimedelta = val
	case CSRHcounteren:
		b.Hcounteren = val
	case CSRHenvcfg:
		b.Henvcfg = val
	case CSRHtval:
		b.Htval = val
	case CSRHip:
		b.Hip = val
	case CSRHvip:
		b.Hvip = val
	case CSRHtinst:
		b.Htinst = val
	case CSRHgatp:
		b.Hgatp = val
	case CSRVsstatus:
		b.Vsstatus = val
	case CSRVsie:
		b.Vsie = val & legalVsieMask
	case CSRVstvec:
		b.Vstvec = val
	case CSRVsscratch:
		b.Vsscratch = val
	case CSRVsepc:
		b.Vsepc = val &^ 1
	case CSRVscause:
		b.Vscause = val
	case CSRVstval:
		b.Vstval = val
	case CSRVsip:
		b.Vsip = val
	case CSRVsatp:
		b.Vsatp = val
	default:
		return
	}
	if fn != nil {
		fn(csr, val)
	}
}

// ModeFromMPP extracts the privilege mode encoded in mstatus.MPP.
func ModeFromMPP(mstatus uint64) PrivMode {
	return PrivMode((mstatus & MstatusMPP) >> MstatusMPPShift)
}

// WithMPP returns mstatus with MPP set to mode.
func WithMPP(mstatus uint64, mode PrivMode) uint64 {
	return (mstatus &^ MstatusMPP) | (uint64(mode) << MstatusMPPShift)
}
