package sbihandlers

import (
	"testing"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/clint"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

func newConfidentialFlow(t *testing.T) (*flow.ConfidentialFlow, *control.ConfidentialHart) {
	t.Helper()
	storage, err := control.Init()
	if err != nil {
		storage, _ = control.Get()
	}
	hart := control.NewConfidentialHart(0, vctx.New(0x8000_0000))
	hart.StartHart()
	vmID := storage.AddConfidentialVm([]*control.ConfidentialHart{hart})

	hv := control.NewHypervisorHart(vctx.New(0))
	hw := control.NewHardwareHart(0, hv)
	c := clint.New(1)

	nf := flow.NewNonConfidentialFlow(hw, storage, c)
	cf, err := nf.IntoConfidentialFlow(vmID, 0)
	if err != nil {
		t.Fatalf("IntoConfidentialFlow: %v", err)
	}
	return cf, hart
}

// TestInvalidSbiCall implements scenario S1 from spec.md §8.
func TestInvalidSbiCall(t *testing.T) {
	cf, hart := newConfidentialFlow(t)
	ctx := hart.Context()
	ctx.GPRs.Write(flow.RegA7, 0xdead)
	ctx.GPRs.Write(flow.RegA6, 0xbeef)

	applyHart, declassify, err := HandleConfidentialEcall(cf)
	if err != nil {
		t.Fatalf("HandleConfidentialEcall: %v", err)
	}
	if declassify != nil {
		t.Fatal("expected no declassification for an invalid call")
	}
	applyHart.ApplyToConfidentialHart(hart)
	if int64(ctx.GPRs.Read(flow.RegA0)) != errs.SBIErrNotSupp {
		t.Fatalf("a0 = %d, want NotSupported", int64(ctx.GPRs.Read(flow.RegA0)))
	}
	if ctx.GPRs.Read(flow.RegA1) != 0 {
		t.Fatalf("a1 = %d, want 0", ctx.GPRs.Read(flow.RegA1))
	}
}

// TestMmioLoadInsideDeclaredRegion implements scenario S2.
func TestMmioLoadInsideDeclaredRegion(t *testing.T) {
	cf, hart := newConfidentialFlow(t)
	hart.DeclareMMIORegion(control.MMIORegion{Start: 0x1000_0000, End: 0x1000_1000})

	ctx := hart.Context()
	ctx.TrapInfo.Mcause = CauseLoadAccessFault
	ctx.TrapInfo.Mtval2 = 0x1000_0000 >> 2
	ctx.TrapInfo.Mtval = 0
	// lw x5, 0(x10) with pseudo-instruction low bits forced to 0x3.
	raw := uint64(uint32(10<<15) | uint32(2<<12) | uint32(5<<7) | 0x03)
	ctx.TrapInfo.Mtinst = raw | 1
	ctx.TrapInfo.Mepc = 0x8000_0000

	applyHart, declassify, err := HandleMmioFault(cf)
	if err != nil {
		t.Fatalf("HandleMmioFault: %v", err)
	}
	if applyHart != nil {
		t.Fatal("expected a declassification, not a direct apply")
	}
	req, ok := declassify.(flow.MmioLoadRequest)
	if !ok || req.Address != 0x1000_0000 || req.Length != 4 {
		t.Fatalf("got %+v", declassify)
	}

	reply := MmioReply{Value: 0xcafebabe}
	reply.DeclassifyToConfidentialVm(nil, hart)
	if ctx.GPRs.Read(5) != 0xcafebabe {
		t.Fatalf("t0 = %#x, want 0xcafebabe", ctx.GPRs.Read(5))
	}
	if ctx.PC != 0x8000_0004 {
		t.Fatalf("PC = %#x, want mepc+4", ctx.PC)
	}
}

// TestMmioLoadOutsideDeclaredRegion implements scenario S3.
func TestMmioLoadOutsideDeclaredRegion(t *testing.T) {
	cf, hart := newConfidentialFlow(t)
	hart.DeclareMMIORegion(control.MMIORegion{Start: 0x1000_0000, End: 0x1000_1000})
	hart.Context().CSRs.Stvec = 0x8000_4000

	ctx := hart.Context()
	ctx.TrapInfo.Mcause = CauseLoadAccessFault
	ctx.TrapInfo.Mtval2 = 0x2000_0000 >> 2
	ctx.TrapInfo.Mepc = 0x8000_0000

	applyHart, declassify, err := HandleMmioFault(cf)
	if err != nil {
		t.Fatalf("HandleMmioFault: %v", err)
	}
	if declassify != nil {
		t.Fatal("expected a direct fault apply, not a declassification")
	}
	applyHart.ApplyToConfidentialHart(hart)
	if ctx.CSRs.Scause != CauseLoadAccessFault || ctx.CSRs.Stval != 0x2000_0000 || ctx.CSRs.Sepc != 0x8000_0000 {
		t.Fatalf("got %+v", ctx.CSRs)
	}
}

// TestMmioStoreOutsideDeclaredRegionReportsStoreScause confirms the
// out-of-region fault reports the trapping mcause rather than a hardcoded
// load-fault value: a store outside a declared region must surface
// scause 7 (store/AMO), not 5 (load).
func TestMmioStoreOutsideDeclaredRegionReportsStoreScause(t *testing.T) {
	cf, hart := newConfidentialFlow(t)
	hart.DeclareMMIORegion(control.MMIORegion{Start: 0x1000_0000, End: 0x1000_1000})
	hart.Context().CSRs.Stvec = 0x8000_4000

	ctx := hart.Context()
	ctx.TrapInfo.Mcause = CauseStoreAMOAccessFault
	ctx.TrapInfo.Mtval2 = 0x2000_0000 >> 2
	ctx.TrapInfo.Mepc = 0x8000_0000

	applyHart, declassify, err := HandleMmioFault(cf)
	if err != nil {
		t.Fatalf("HandleMmioFault: %v", err)
	}
	if declassify != nil {
		t.Fatal("expected a direct fault apply, not a declassification")
	}
	applyHart.ApplyToConfidentialHart(hart)
	if ctx.CSRs.Scause != CauseStoreAMOAccessFault {
		t.Fatalf("Scause = %d, want %d (store/AMO)", ctx.CSRs.Scause, CauseStoreAMOAccessFault)
	}
}

// TestSystemResetDeclassifiesAndShutsDown implements scenario S6.
func TestSystemResetDeclassifiesAndShutsDown(t *testing.T) {
	cf, hart := newConfidentialFlow(t)
	ctx := hart.Context()
	ctx.GPRs.Write(flow.RegA7, ExtSRST)
	ctx.GPRs.Write(flow.RegA6, FIDSystemReset)

	applyHart, declassify, err := HandleConfidentialEcall(cf)
	if err != nil {
		t.Fatalf("HandleConfidentialEcall: %v", err)
	}
	if applyHart != nil {
		t.Fatal("expected declassification, not a direct apply")
	}
	if _, ok := declassify.(flow.SbiRequest); !ok {
		t.Fatalf("expected flow.SbiRequest, got %T", declassify)
	}
	if hart.Lifecycle() != control.Shutdown {
		t.Fatalf("hart lifecycle = %v, want Shutdown", hart.Lifecycle())
	}
}
