package control

import (
	"log/slog"
	"sync"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
)

// vmEntry pairs a ConfidentialVm with the write lock protecting its
// mutation, per spec.md §5 ("a read-write lock wrapping a mapping
// VmId -> RwLock<ConfidentialVm>").
type vmEntry struct {
	mu sync.RWMutex
	vm *ConfidentialVm
}

// ControlDataStorage is the global VmId -> ConfidentialVm directory. The
// zero value is not usable; construct with Init.
type ControlDataStorage struct {
	mu      sync.RWMutex
	entries map[ConfidentialVmId]*vmEntry
	nextID  ConfidentialVmId
	logger  *slog.Logger
}

var (
	globalMu sync.Mutex
	global   *ControlDataStorage
)

// Init constructs the process-wide ControlDataStorage singleton. It must be
// called exactly once; a second call fails with Reinitialization, matching
// MemoryLayout's write-once discipline (spec.md §5). pagealloc.New carries
// no such guard.
func Init() (*ControlDataStorage, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return nil, errs.New(errs.Reinitialization)
	}
	global = &ControlDataStorage{entries: make(map[ConfidentialVmId]*vmEntry), logger: slog.Default()}
	global.logger.Info("control-data directory initialized")
	return global, nil
}

// Get returns the process-wide ControlDataStorage singleton, or ok=false
// if Init has not run yet.
func Get() (*ControlDataStorage, bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global, global != nil
}

func reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

// AddConfidentialVm allocates a fresh ConfidentialVmId, installs vm under
// it, and returns the id. Takes the outer write lock.
func (s *ControlDataStorage) AddConfidentialVm(harts []*ConfidentialHart) ConfidentialVmId {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.entries[id] = &vmEntry{vm: NewConfidentialVm(id, harts)}
	if s.logger != nil {
		s.logger.Debug("confidential VM added", slog.Uint64("vm_id", uint64(id)), slog.Int("harts", len(harts)))
	}
	return id
}

// RemoveConfidentialVm removes the CVM with the given id, iff every hart is
// Shutdown (spec.md §8 invariant 6). Takes the outer write lock.
func (s *ControlDataStorage) RemoveConfidentialVm(id ConfidentialVmId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errs.New(errs.InvalidParameter)
	}
	e.mu.RLock()
	shutdown := e.vm.AllHartsShutdown()
	e.mu.RUnlock()
	if !shutdown {
		return errs.New(errs.InvalidParameter)
	}
	delete(s.entries, id)
	if s.logger != nil {
		s.logger.Debug("confidential VM removed", slog.Uint64("vm_id", uint64(id)))
	}
	return nil
}

// WithConfidentialVm runs fn with the inner write lock for id held,
// granting fn exclusive mutation access to that CVM only — other CVMs
// remain mutable concurrently (spec.md §5).
func (s *ControlDataStorage) WithConfidentialVm(id ConfidentialVmId, fn func(vm *ConfidentialVm) error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return errs.New(errs.InvalidParameter)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.vm)
}

// Exists reports whether id currently names a live CVM.
func (s *ControlDataStorage) Exists(id ConfidentialVmId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Count reports how many CVMs are currently tracked, for diagnostics.
func (s *ControlDataStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
