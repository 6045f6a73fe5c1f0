package control

import (
	"sync"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

// ConfidentialHart is a CVM's vCPU: its virtualized register state, its
// lifecycle, its remote-command inbox, and the MMIO regions it has
// declared to the monitor.
type ConfidentialHart struct {
	mu sync.Mutex

	id        int
	ctx       *vctx.VirtContext
	lifecycle HartLifecycle

	inbox      []RemoteCommand
	resumable  ResumableOperation
	mmioRegions []MMIORegion
}

// NewConfidentialHart returns a Stopped hart with the given id and initial
// virtual context.
func NewConfidentialHart(id int, ctx *vctx.VirtContext) *ConfidentialHart {
	return &ConfidentialHart{id: id, ctx: ctx, lifecycle: Stopped}
}

func (h *ConfidentialHart) ID() int { return h.id }

func (h *ConfidentialHart) Context() *vctx.VirtContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

func (h *ConfidentialHart) Lifecycle() HartLifecycle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lifecycle
}

// StartHart transitions Stopped -> Started on SBI HSM HART_START.
func (h *ConfidentialHart) StartHart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lifecycle = h.lifecycle.Start()
}

// ShutdownHart transitions to Shutdown. Once Shutdown, a hart stays
// Shutdown: spec.md §4.7 forbids restarting it.
func (h *ConfidentialHart) ShutdownHart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lifecycle = Shutdown
}

// DeclareMMIORegion records a region the CVM has told the monitor is MMIO.
func (h *ConfidentialHart) DeclareMMIORegion(r MMIORegion) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mmioRegions = append(h.mmioRegions, r)
}

// IsDeclaredMMIO reports whether addr falls inside a declared MMIO region.
func (h *ConfidentialHart) IsDeclaredMMIO(addr uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.mmioRegions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// SetResumableOperation records what this hart is waiting on before it
// declassifies a request to the hypervisor.
func (h *ConfidentialHart) SetResumableOperation(op ResumableOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumable = op
}

// TakeResumableOperation returns and clears the pending resumable
// operation, for use when the hypervisor's reply arrives.
func (h *ConfidentialHart) TakeResumableOperation() ResumableOperation {
	h.mu.Lock()
	defer h.mu.Unlock()
	op := h.resumable
	h.resumable = ResumableOperation{}
	return op
}

// PostRemoteCommand appends cmd to this hart's inbox. Delivery is
// at-least-once; the inbox drains idempotently so duplicate posts are
// benign (spec.md §4.8).
func (h *ConfidentialHart) PostRemoteCommand(cmd RemoteCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox = append(h.inbox, cmd)
}

// DrainInbox returns and clears every pending remote command, in FIFO
// order with respect to any single sender (spec.md §4.6).
func (h *ConfidentialHart) DrainInbox() []RemoteCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	cmds := h.inbox
	h.inbox = nil
	return cmds
}

// HypervisorHart is the untrusted hypervisor's M-mode view: its own
// register state plus the NACL shared-memory window address it has set up
// with the monitor.
type HypervisorHart struct {
	mu sync.Mutex

	ctx              *vctx.VirtContext
	sharedMemoryBase uint64
	hasSharedMemory  bool
}

// NewHypervisorHart returns a HypervisorHart with no shared-memory window
// configured yet.
func NewHypervisorHart(ctx *vctx.VirtContext) *HypervisorHart {
	return &HypervisorHart{ctx: ctx}
}

func (h *HypervisorHart) Context() *vctx.VirtContext { return h.ctx }

// SetSharedMemory records the base address the hypervisor passed to
// NACL.SETUP_SHARED_MEMORY.
func (h *HypervisorHart) SetSharedMemory(base uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sharedMemoryBase = base
	h.hasSharedMemory = true
}

// SharedMemory returns the configured NACL window address, or ok=false if
// the hypervisor has not set one up.
func (h *HypervisorHart) SharedMemory() (addr uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sharedMemoryBase, h.hasSharedMemory
}

// HardwareHart is the physical hart: the currently active HypervisorHart
// and, when a CVM is running, the bound ConfidentialHart.
type HardwareHart struct {
	ID int

	Hypervisor *HypervisorHart

	boundVm   ConfidentialVmId
	bound     *ConfidentialHart
	hasBound  bool
}

// NewHardwareHart returns a HardwareHart with no CVM bound.
func NewHardwareHart(id int, hv *HypervisorHart) *HardwareHart {
	return &HardwareHart{ID: id, Hypervisor: hv}
}

// Bind attaches a confidential hart to this hardware hart, for the
// duration of a ConfidentialFlow.
func (h *HardwareHart) Bind(vmID ConfidentialVmId, ch *ConfidentialHart) {
	h.boundVm = vmID
	h.bound = ch
	h.hasBound = true
}

// Unbind detaches the currently bound confidential hart.
func (h *HardwareHart) Unbind() {
	h.bound = nil
	h.hasBound = false
}

// Bound returns the currently bound confidential hart and its VM id, or
// ok=false when the hardware hart is running the hypervisor directly.
func (h *HardwareHart) Bound() (vmID ConfidentialVmId, ch *ConfidentialHart, ok bool) {
	return h.boundVm, h.bound, h.hasBound
}
