// Package dispatch implements the main trap-dispatch loop (C9): install
// the trap vector, run the vCPU, classify mcause, invoke the matching
// handler, apply its transformation, and re-enter the guest. It is the
// outermost component, wiring together arch, vctx, decode, control,
// clint, flow, sbihandlers and policy.
package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/arch"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/clint"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/pmp"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/policy"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/sbihandlers"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

// HartRunner resumes guest execution from ctx's saved PC/registers until
// the next M-mode trap, and returns what the trap vector captured. The
// real implementation executes mret and waits for the hardware trap; this
// interface exists so dispatch's control flow can be exercised without a
// physical hart (SPEC_FULL.md's realization note).
type HartRunner interface {
	RunUntilTrap(ctx *vctx.VirtContext) vctx.TrapInfo
}

// mcause values the loop classifies explicitly as ecalls; MMIO access
// faults use sbihandlers' cause constants, and anything else goes to
// instruction emulation (emulate.go).
const (
	CauseEcallFromS uint64 = 9
	CauseEcallFromU uint64 = 8
)

// ActiveFlow holds exactly one of the two mutually exclusive flow handles
// current between Step calls — the runtime substitute for the affine-type
// split described in spec.md §9.
type ActiveFlow struct {
	Confidential    *flow.ConfidentialFlow
	NonConfidential *flow.NonConfidentialFlow
}

func (a ActiveFlow) context() *vctx.VirtContext {
	if a.Confidential != nil {
		return a.Confidential.ConfidentialHart().Context()
	}
	return a.NonConfidential.HypervisorHart().Context()
}

func (a ActiveFlow) executionMode() vctx.ExecutionMode {
	return a.context().ExecutionMode()
}

// FatalError is returned when the monitor must halt the hart: a
// monitor-internal fault, or the firmware exit-count limit exceeded
// (spec.md §4.4, §4.8).
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "dispatch: fatal: " + e.Reason }

// Loop owns everything one hart's dispatch loop needs across calls to
// Step: the PMP controller, the interrupt controller, the control-data
// directory, the installed policy, and the exit-count ceiling.
type Loop struct {
	PMP              *pmp.Controller
	Runner           HartRunner
	Policy           policy.Hook
	MaxFirmwareExits uint64
	Logger           *slog.Logger

	// Facade, if set, lets a virtual CSR write re-fence real hardware
	// address-translation state (see csrSideEffect in emulate.go). Left
	// nil, CSR writes still update shadow state correctly; only the
	// hardware re-fence is skipped.
	Facade *arch.Facade
}

// NewLoop returns a Loop with the given collaborators and a default no-op
// policy if hook is nil. Logger defaults to slog.Default() (SPEC_FULL.md
// §2.1: threaded through the loop rather than reached for as a package
// global).
func NewLoop(pmpCtl *pmp.Controller, runner HartRunner, hook policy.Hook, maxFirmwareExits uint64) *Loop {
	if hook == nil {
		hook = policy.Default{}
	}
	return &Loop{PMP: pmpCtl, Runner: runner, Policy: hook, MaxFirmwareExits: maxFirmwareExits, Logger: slog.Default()}
}

// Step runs one iteration of the dispatch loop: resume the guest, capture
// and classify the trap, invoke the matching handler, apply its
// transformation, and perform the world switch if the active flow or the
// execution mode changed. It returns the ActiveFlow to resume on the next
// call.
func (l *Loop) Step(active ActiveFlow) (ActiveFlow, error) {
	ctx := active.context()
	before := active.executionMode()

	trap := l.Runner.RunUntilTrap(ctx)
	ctx.CaptureTrap(trap)

	if ctx.NbExits > l.MaxFirmwareExits {
		err := &FatalError{Reason: fmt.Sprintf("exceeded max_firmware_exits (%d)", l.MaxFirmwareExits)}
		l.logger().Error("dispatch: fatal halt", slog.String("reason", err.Reason))
		return active, err
	}
	if trap.IsMonitorInternalFault() {
		err := &FatalError{Reason: "trap occurred while mstatus.MPP == M"}
		l.logger().Error("dispatch: fatal halt", slog.String("reason", err.Reason))
		return active, err
	}

	next, err := l.route(active, trap)
	if err != nil {
		return active, err
	}

	after := next.executionMode()
	flowChanged := (active.Confidential != nil) != (next.Confidential != nil)
	if before != after || flowChanged {
		l.Policy.OnWorldSwitch(vmIDOf(next), hartIDOf(next), before, after)
		l.PMP.Close()
		if next.Confidential != nil {
			l.PMP.Open()
		}
		l.logger().Debug("world switch", slog.String("from", before.String()), slog.String("to", after.String()))
	}

	l.checkAndInjectInterrupts(next)

	next.context().PrepareEntry()
	return next, nil
}

// checkAndInjectInterrupts implements spec.md §4.4 step 8: fold hardware
// interrupt-pending state into the active context's delegated view, masked
// by the delegation and enable CSRs at each privilege level it crosses.
// CLINT's per-hart msip (package clint's doc comment: the only hardware
// interrupt source this monitor tracks) stands in for mip.SSIP — a pending
// machine-software interrupt is never delegated in real hardware, so the
// model folds it in at the supervisor level instead, the one place mideleg
// legally reaches.
//
// The transfer is staged the way the hardware privilege levels are:
// mip.SSIP -> sip.SSIP, masked by mideleg & sie (M to S); then, for a
// confidential hart, sip.SSIP -> vsip's VSSIP bit, masked by hideleg & hie
// (HS to VS) — hip/hie/hideleg already number VSSIP/VSTIP/VSEIP one bit
// above their SSIP/STIP/SEIP counterparts, so the second stage is the
// single-bit left shift below.
func (l *Loop) checkAndInjectInterrupts(next ActiveFlow) {
	var c *clint.CLINT
	var hartID int
	switch {
	case next.Confidential != nil:
		c, hartID = next.Confidential.Clint(), next.Confidential.HartID()
	default:
		c, hartID = next.NonConfidential.Clint(), next.NonConfidential.HartID()
	}
	if c == nil {
		return
	}
	msip, err := c.ReadMsip(hartID)
	if err != nil || !msip {
		return
	}

	ctx := next.context()
	sPending := arch.InterruptSSIP & ctx.CSRs.Mideleg & ctx.CSRs.Sie
	if sPending == 0 {
		return
	}
	ctx.CSRs.Sip |= sPending

	if next.Confidential == nil {
		return
	}
	vsPending := (sPending << 1) & ctx.CSRs.Hideleg & ctx.CSRs.Hie
	if vsPending != 0 {
		ctx.CSRs.Vsip |= vsPending
	}
}

// logger returns l.Logger, falling back to slog.Default() for a Loop built
// as a zero value rather than through NewLoop.
func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func vmIDOf(a ActiveFlow) control.ConfidentialVmId {
	if a.Confidential != nil {
		return a.Confidential.VmID()
	}
	return 0
}

func hartIDOf(a ActiveFlow) int {
	if a.Confidential != nil {
		return a.Confidential.ConfidentialHart().ID()
	}
	return -1
}

// route dispatches on mcause and the active flow, runs the policy hook for
// ecalls, applies the resulting transformation, and returns the (possibly
// unchanged) ActiveFlow to resume with.
func (l *Loop) route(active ActiveFlow, trap vctx.TrapInfo) (ActiveFlow, error) {
	switch {
	case active.Confidential != nil:
		return l.routeConfidential(active, trap)
	default:
		return l.routeNonConfidential(active, trap)
	}
}

func (l *Loop) routeConfidential(active ActiveFlow, trap vctx.TrapInfo) (ActiveFlow, error) {
	cf := active.Confidential
	hart := cf.ConfidentialHart()

	switch trap.Mcause {
	case CauseEcallFromS, CauseEcallFromU:
		extID := hart.Context().GPRs.Read(flow.RegA7)
		fid := hart.Context().GPRs.Read(flow.RegA6)
		if l.Policy.OnEcall(policy.EcallContext{VmID: cf.VmID(), HartID: hart.ID(), ExtID: extID, FID: fid}) == policy.Veto {
			flow.SbiResponse{Error: -4}.ApplyToConfidentialHart(hart)
			return active, nil
		}
		applyHart, declassify, err := sbihandlers.HandleConfidentialEcall(cf)
		if err != nil {
			return active, err
		}
		return l.applyConfidentialResult(active, applyHart, declassify)

	case sbihandlers.CauseLoadAccessFault, sbihandlers.CauseStoreAMOAccessFault:
		applyHart, declassify, err := sbihandlers.HandleMmioFault(cf)
		if err != nil {
			return active, err
		}
		return l.applyConfidentialResult(active, applyHart, declassify)

	default:
		// Every other trap is either a virtual CSR access, WFI or MRET
		// (spec.md §4.5's instruction-emulation surface) or a genuinely
		// illegal instruction, which emulateTrap turns into an
		// illegal-instruction exception delivered to the guest. A nonzero
		// length means pc still needs advancing past the emulated
		// instruction, applied the same way every other confidential-hart
		// mutation is.
		if length := l.emulateTrap(hart.Context(), trap); length != 0 {
			flow.VirtualInstruction{Length: length}.ApplyToConfidentialHart(hart)
		}
		return active, nil
	}
}

func (l *Loop) applyConfidentialResult(active ActiveFlow, applyHart flow.ConfidentialHartMutator, declassify flow.DeclassifyToHypervisor) (ActiveFlow, error) {
	cf := active.Confidential
	if applyHart != nil {
		applyHart.ApplyToConfidentialHart(cf.ConfidentialHart())
		return active, nil
	}
	// A declassification transitions control to the hypervisor.
	hart := cf.ConfidentialHart()
	nf := cf.IntoNonConfidentialFlow()
	declassify.DeclassifyToHypervisor(hart, nf.HypervisorHart())
	return ActiveFlow{NonConfidential: nf}, nil
}

func (l *Loop) routeNonConfidential(active ActiveFlow, trap vctx.TrapInfo) (ActiveFlow, error) {
	nf := active.NonConfidential

	switch trap.Mcause {
	case CauseEcallFromS, CauseEcallFromU:
		hvCtx := nf.HypervisorHart().Context()
		extID := hvCtx.GPRs.Read(flow.RegA7)
		fid := hvCtx.GPRs.Read(flow.RegA6)
		if l.Policy.OnEcall(policy.EcallContext{VmID: 0, HartID: -1, ExtID: extID, FID: fid}) == policy.Veto {
			flow.SbiResponse{Error: -4}.ApplyToHypervisorHart(nf.HypervisorHart())
			return active, nil
		}

		if extID == sbihandlers.ExtCoVH && fid == sbihandlers.FIDRunTVMVcpu {
			vmID := control.ConfidentialVmId(hvCtx.GPRs.Read(flow.RegA0))
			hartID := int(hvCtx.GPRs.Read(flow.RegA1))
			// a2/a3 carry an optional reply to a previously declassified
			// MMIO load, the way the hypervisor hands a value back before
			// resuming the CVM hart it was addressed to (scenario S2).
			hasReply := hvCtx.GPRs.Read(12)
			replyValue := hvCtx.GPRs.Read(13)
			hv := nf.HypervisorHart()

			cf, err := nf.IntoConfidentialFlow(vmID, hartID)
			if err != nil {
				flow.SbiResponse{Error: -3}.ApplyToHypervisorHart(hv)
				return active, nil
			}
			if hasReply != 0 {
				reply := sbihandlers.MmioReply{Value: replyValue}
				reply.DeclassifyToConfidentialVm(hv, cf.ConfidentialHart())
			}
			return ActiveFlow{Confidential: cf}, nil
		}

		apply, err := sbihandlers.HandleHypervisorEcall(nf)
		if err != nil {
			return active, err
		}
		apply.ApplyToHypervisorHart(nf.HypervisorHart())
		return active, nil
	default:
		hv := nf.HypervisorHart()
		if length := l.emulateTrap(hv.Context(), trap); length != 0 {
			flow.VirtualInstruction{Length: length}.ApplyToHypervisorHart(hv)
		}
		return active, nil
	}
}
