package control

import (
	"sort"
	"sync"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
)

// sharedMapping is one entry of a MemoryProtector's second-stage mapping
// table, recording what a CVM guest-physical range is currently mapped to.
type sharedMapping struct {
	guestAddr uint64
	hostAddr  uint64
	size      uint64
}

// MemoryProtector stands in for the CVM's second-stage page tables: the
// subset of its job this monitor models is mapping and unmapping
// hypervisor-shared pages (SHARE_MEMORY/UNSHARE_MEMORY), per spec.md's
// round-trip law "for any shared page mapped then unmapped, the CVM's
// second-stage page table returns to its pre-map state".
type MemoryProtector struct {
	mu       sync.RWMutex
	mappings []sharedMapping
}

// NewMemoryProtector returns an empty protector.
func NewMemoryProtector() *MemoryProtector {
	return &MemoryProtector{}
}

// MapShared installs a mapping from guestAddr to hostAddr for size bytes.
// Fails with InvalidParameter if the range is already (partially) mapped.
func (p *MemoryProtector) MapShared(guestAddr, hostAddr, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.mappings {
		if guestAddr < m.guestAddr+m.size && m.guestAddr < guestAddr+size {
			return errs.New(errs.InvalidParameter)
		}
	}
	p.mappings = append(p.mappings, sharedMapping{guestAddr: guestAddr, hostAddr: hostAddr, size: size})
	sort.Slice(p.mappings, func(i, j int) bool { return p.mappings[i].guestAddr < p.mappings[j].guestAddr })
	return nil
}

// UnmapShared removes the mapping starting at guestAddr. Fails with
// InvalidParameter if no such mapping exists.
func (p *MemoryProtector) UnmapShared(guestAddr, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.mappings {
		if m.guestAddr == guestAddr && m.size == size {
			p.mappings = append(p.mappings[:i], p.mappings[i+1:]...)
			return nil
		}
	}
	return errs.New(errs.InvalidParameter)
}

// Resolve translates a CVM guest-physical address currently backed by a
// shared mapping into the underlying host address, or ok=false if addr is
// not within any live mapping.
func (p *MemoryProtector) Resolve(addr uint64) (hostAddr uint64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.mappings {
		if addr >= m.guestAddr && addr < m.guestAddr+m.size {
			return m.hostAddr + (addr - m.guestAddr), true
		}
	}
	return 0, false
}

// IsEmpty reports whether no shared mappings remain, used by tests
// checking the round-trip law above.
func (p *MemoryProtector) IsEmpty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.mappings) == 0
}

// ConfidentialVm owns an ordered collection of ConfidentialHarts and a
// memory protector; remote commands are broadcast into the harts' own
// inboxes. Mutual exclusion is
// provided by ControlDataStorage's per-entry lock; ConfidentialVm itself
// does not re-lock its harts slice.
type ConfidentialVm struct {
	ID        ConfidentialVmId
	Harts     []*ConfidentialHart
	Protector *MemoryProtector
}

// NewConfidentialVm returns a CVM with the given id and harts; the harts'
// lifecycle states are left as they are.
func NewConfidentialVm(id ConfidentialVmId, harts []*ConfidentialHart) *ConfidentialVm {
	return &ConfidentialVm{ID: id, Harts: harts, Protector: NewMemoryProtector()}
}

// AllHartsShutdown reports whether every hart of this CVM is Shutdown —
// the precondition for removal (spec.md §3, §8 invariant 6).
func (vm *ConfidentialVm) AllHartsShutdown() bool {
	for _, h := range vm.Harts {
		if h.Lifecycle() != Shutdown {
			return false
		}
	}
	return true
}

// BroadcastRemoteCommand posts cmd to every hart in the VM other than
// excludeHartID ( -1 to exclude none). Callers deliver the matching IPI via
// clint separately; this only populates inboxes.
func (vm *ConfidentialVm) BroadcastRemoteCommand(cmd RemoteCommand, excludeHartID int) []int {
	var targets []int
	for _, h := range vm.Harts {
		if h.ID() == excludeHartID {
			continue
		}
		h.PostRemoteCommand(cmd)
		targets = append(targets, h.ID())
	}
	return targets
}
