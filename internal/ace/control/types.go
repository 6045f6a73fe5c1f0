// Package control owns the data model shared by every confidential VM: its
// harts' lifecycle, its memory protector, the global VmId -> ConfidentialVm
// directory, and the remote-command inbox harts use to interrupt each
// other. It plays the role this repository's internal/hv package gives to
// its AddressSpace/MemMap types: a mutex-guarded struct tree reachable
// through named accessor methods rather than exported fields.
package control

// ConfidentialVmId is an opaque, dense identifier allocated by
// ControlDataStorage.
type ConfidentialVmId uint64

// HartLifecycle is a ConfidentialHart's run state.
type HartLifecycle uint8

const (
	Stopped HartLifecycle = iota
	Started
	Shutdown
)

func (s HartLifecycle) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Start transitions Stopped -> Started. Called on SBI HSM HART_START. A
// hart already Started is left unchanged; a Shutdown hart cannot restart,
// per spec.md §4.7.
func (s HartLifecycle) Start() HartLifecycle {
	if s == Shutdown {
		return s
	}
	return Started
}

// RemoteCommandKind identifies one of the four ConfidentialHartRemoteCommand
// variants a hart can broadcast to its peers (spec.md §4.6).
type RemoteCommandKind uint8

const (
	RemoteFenceI RemoteCommandKind = iota
	RemoteFenceVmaAsid
	RemoteFenceGvmaVmid
	Ipi
)

func (k RemoteCommandKind) String() string {
	switch k {
	case RemoteFenceI:
		return "remote-fence-i"
	case RemoteFenceVmaAsid:
		return "remote-fence-vma-asid"
	case RemoteFenceGvmaVmid:
		return "remote-fence-gvma-vmid"
	case Ipi:
		return "ipi"
	default:
		return "unknown"
	}
}

// RemoteCommand is one queued entry in a ConfidentialHart's inbox.
// Delivery is at-least-once and idempotent on replay: draining the same
// command twice has the same effect as draining it once, since every
// variant here is a "flush/notify" operation with no per-invocation state.
type RemoteCommand struct {
	Kind RemoteCommandKind
	Asid uint64
	Vmid uint64
}

// ResumableOperationKind distinguishes the forms of in-flight operation a
// ConfidentialHart can be suspended on awaiting a hypervisor reply.
type ResumableOperationKind uint8

const (
	NoResumableOperation ResumableOperationKind = iota
	MmioLoad
)

// ResumableOperation records what a confidential hart was doing when it
// declassified an MMIO load request to the hypervisor, so that the reply
// can be placed in the right register at the right width (spec.md §4.6).
type ResumableOperation struct {
	Kind   ResumableOperationKind
	Length uint64
	Rd     int
	Signed bool
}

// MMIORegion is one address range a CVM has declared as MMIO, checked by
// the MMIO fault handler before trusting a faulting address (spec.md §4.6,
// scenario S3).
type MMIORegion struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr falls in [Start, End).
func (r MMIORegion) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}
