package flow

import (
	"testing"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/clint"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

func TestIntoConfidentialFlowAndBack(t *testing.T) {
	storage, err := control.Init()
	if err != nil {
		// storage is a process-wide singleton; tests sharing a binary may
		// race to initialize it, so fall back to fetching the existing one.
		storage, _ = control.Get()
	}

	hart := control.NewConfidentialHart(0, vctx.New(0x8000_0000))
	hart.StartHart()
	vmID := storage.AddConfidentialVm([]*control.ConfidentialHart{hart})

	hv := control.NewHypervisorHart(vctx.New(0))
	hw := control.NewHardwareHart(0, hv)
	c := clint.New(1)

	ncFlow := NewNonConfidentialFlow(hw, storage, c)
	cFlow, err := ncFlow.IntoConfidentialFlow(vmID, 0)
	if err != nil {
		t.Fatalf("IntoConfidentialFlow: %v", err)
	}
	if cFlow.ConfidentialHart() != hart {
		t.Fatal("expected the bound hart to be returned")
	}

	back := cFlow.IntoNonConfidentialFlow()
	if back.HypervisorHart() != hv {
		t.Fatal("expected the hypervisor hart back")
	}
}

func TestConsumedFlowPanics(t *testing.T) {
	storage, err := control.Init()
	if err != nil {
		storage, _ = control.Get()
	}
	hart := control.NewConfidentialHart(1, vctx.New(0))
	vmID := storage.AddConfidentialVm([]*control.ConfidentialHart{hart})

	hv := control.NewHypervisorHart(vctx.New(0))
	hw := control.NewHardwareHart(0, hv)
	c := clint.New(1)

	ncFlow := NewNonConfidentialFlow(hw, storage, c)
	if _, err := ncFlow.IntoConfidentialFlow(vmID, 1); err != nil {
		t.Fatalf("IntoConfidentialFlow: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on reuse of a consumed NonConfidentialFlow")
		}
	}()
	ncFlow.HypervisorHart()
}

func TestMmioLoadRequestDeclassifiesOnlyAddrAndLength(t *testing.T) {
	hv := control.NewHypervisorHart(vctx.New(0))
	req := MmioLoadRequest{Address: 0x1000_0000, Length: 4}
	req.DeclassifyToHypervisor(nil, hv)
	ctx := hv.Context()
	if ctx.GPRs.Read(RegA0) != 0x1000_0000 || ctx.GPRs.Read(RegA1) != 4 {
		t.Fatalf("got a0=%#x a1=%#x", ctx.GPRs.Read(RegA0), ctx.GPRs.Read(RegA1))
	}
	if ctx.GPRs.Read(RegA6) != 0 {
		t.Fatal("MmioLoadRequest must not touch a6 (declassification minimality)")
	}
}

func TestMmioAccessFaultInjectsTrap(t *testing.T) {
	hart := control.NewConfidentialHart(0, vctx.New(0))
	hart.Context().CSRs.Stvec = 0x8000_2000
	fault := MmioAccessFault{Scause: 5, Stval: 0x2000_0000, Sepc: 0x8000_1000}
	fault.ApplyToConfidentialHart(hart)
	ctx := hart.Context()
	if ctx.CSRs.Scause != 5 || ctx.CSRs.Stval != 0x2000_0000 || ctx.CSRs.Sepc != 0x8000_1000 {
		t.Fatalf("got %+v", ctx.CSRs)
	}
	if ctx.PC != 0x8000_2000 {
		t.Fatalf("PC = %#x, want stvec", ctx.PC)
	}
}
