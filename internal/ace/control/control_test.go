package control

import (
	"testing"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

func TestHartLifecycleCannotRestartAfterShutdown(t *testing.T) {
	h := NewConfidentialHart(0, vctx.New(0))
	h.StartHart()
	if h.Lifecycle() != Started {
		t.Fatalf("expected Started, got %v", h.Lifecycle())
	}
	h.ShutdownHart()
	h.StartHart()
	if h.Lifecycle() != Shutdown {
		t.Fatalf("a Shutdown hart must not restart, got %v", h.Lifecycle())
	}
}

func TestDeclaredMMIORegion(t *testing.T) {
	h := NewConfidentialHart(0, vctx.New(0))
	h.DeclareMMIORegion(MMIORegion{Start: 0x1000, End: 0x2000})
	if !h.IsDeclaredMMIO(0x1500) {
		t.Fatal("0x1500 should be inside the declared region")
	}
	if h.IsDeclaredMMIO(0x3000) {
		t.Fatal("0x3000 should be outside the declared region")
	}
}

func TestInboxFIFODrain(t *testing.T) {
	h := NewConfidentialHart(0, vctx.New(0))
	h.PostRemoteCommand(RemoteCommand{Kind: RemoteFenceI})
	h.PostRemoteCommand(RemoteCommand{Kind: Ipi})
	cmds := h.DrainInbox()
	if len(cmds) != 2 || cmds[0].Kind != RemoteFenceI || cmds[1].Kind != Ipi {
		t.Fatalf("got %+v", cmds)
	}
	if len(h.DrainInbox()) != 0 {
		t.Fatal("inbox should be empty after drain")
	}
}

// TestCVMRemovalRequiresAllHartsShutdown checks invariant 6 of spec.md §8.
func TestCVMRemovalRequiresAllHartsShutdown(t *testing.T) {
	reset()
	s, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	h0 := NewConfidentialHart(0, vctx.New(0))
	h1 := NewConfidentialHart(1, vctx.New(0))
	id := s.AddConfidentialVm([]*ConfidentialHart{h0, h1})

	if err := s.RemoveConfidentialVm(id); err == nil {
		t.Fatal("expected removal to fail while no hart is Shutdown")
	}

	h0.ShutdownHart()
	if err := s.RemoveConfidentialVm(id); err == nil {
		t.Fatal("expected removal to fail while one hart is still not Shutdown")
	}

	h1.ShutdownHart()
	if err := s.RemoveConfidentialVm(id); err != nil {
		t.Fatalf("expected removal to succeed once all harts are Shutdown: %v", err)
	}
	if s.Exists(id) {
		t.Fatal("CVM should no longer exist after removal")
	}
}

func TestControlDataStorageReinitialization(t *testing.T) {
	reset()
	if _, err := Init(); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := Init(); err == nil {
		t.Fatal("expected Reinitialization on second Init")
	}
}

func TestMemoryProtectorMapUnmapRoundTrip(t *testing.T) {
	p := NewMemoryProtector()
	if err := p.MapShared(0x8000_1000, 0x4000_0000, 4096); err != nil {
		t.Fatalf("MapShared: %v", err)
	}
	if host, ok := p.Resolve(0x8000_1004); !ok || host != 0x4000_0004 {
		t.Fatalf("Resolve = (%#x, %v)", host, ok)
	}
	if err := p.UnmapShared(0x8000_1000, 4096); err != nil {
		t.Fatalf("UnmapShared: %v", err)
	}
	if !p.IsEmpty() {
		t.Fatal("protector should be empty after unmap (round-trip law, spec.md §8)")
	}
	if _, ok := p.Resolve(0x8000_1004); ok {
		t.Fatal("address should no longer resolve after unmap")
	}
}
