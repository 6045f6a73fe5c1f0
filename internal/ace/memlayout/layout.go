// Package memlayout records the confidential and non-confidential physical
// memory windows fixed once at boot, and offsets/bounds-checks addresses
// within them. It is the Go analogue of this repository's
// internal/hv.AddressSpace (a mutex-guarded struct computed once from a RAM
// base/size) generalized to two disjoint windows instead of one.
package memlayout

import (
	"sync"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
)

// SmallestPageBytes is the smallest page granularity the allocator supports
// (4 KiB), and the alignment the confidential window is trimmed to.
const SmallestPageBytes = 4096

// Layout is the write-once global memory map. Construct it only through
// Init; readers call Get.
type Layout struct {
	mu sync.RWMutex

	nonConfStart, nonConfEnd uint64
	confStart, confEnd       uint64

	confMem     []byte
	confMemFree func() error
}

var (
	globalMu   sync.Mutex
	global     *Layout
	globalDone bool
)

// Init fixes the memory layout exactly once. non-confidential memory must
// precede confidential memory and both ranges must be non-empty and
// correctly ordered. confStart is aligned up to SmallestPageBytes and
// confEnd is trimmed down so the confidential region is an exact multiple
// of SmallestPageBytes, matching memory_layout::init in the original
// implementation.
func Init(nonConfStart, nonConfEnd, confStart, confEnd uint64) (*Layout, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDone {
		return nil, errs.New(errs.Reinitialization)
	}
	if nonConfStart >= nonConfEnd || nonConfEnd > confStart || confStart >= confEnd {
		return nil, errs.New(errs.NotEnoughMemory)
	}

	alignedConfStart := alignUp(confStart, SmallestPageBytes)
	if alignedConfStart >= confEnd {
		return nil, errs.New(errs.NotEnoughMemory)
	}
	size := confEnd - alignedConfStart
	trimmedSize := (size / SmallestPageBytes) * SmallestPageBytes
	alignedConfEnd := alignedConfStart + trimmedSize
	if alignedConfEnd <= alignedConfStart {
		return nil, errs.New(errs.NotEnoughMemory)
	}

	if trimmedSize > uint64(^uint(0)>>1) {
		return nil, errs.New(errs.TooMuchMemory)
	}

	mem, free, err := newBackingStore(int(trimmedSize))
	if err != nil {
		return nil, errs.New(errs.NotEnoughMemory)
	}

	l := &Layout{
		nonConfStart: nonConfStart,
		nonConfEnd:   nonConfEnd,
		confStart:    alignedConfStart,
		confEnd:      alignedConfEnd,
		confMem:      mem,
		confMemFree:  free,
	}
	global = l
	globalDone = true
	return l, nil
}

// Close releases the confidential memory backing store. Callers use this at
// process shutdown, not to rearm the singleton for a second Init.
func (l *Layout) Close() error {
	if l.confMemFree == nil {
		return nil
	}
	return l.confMemFree()
}

// reset clears the write-once guard. Test-only: production boot calls Init exactly once.
func reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil && global.confMemFree != nil {
		_ = global.confMemFree()
	}
	global = nil
	globalDone = false
}

// Get returns the globally initialized Layout, or false if Init has not run yet.
func Get() (*Layout, bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global, globalDone
}

func alignUp(v, align uint64) uint64 {
	mask := align - 1
	return (v + mask) &^ mask
}

// ConfidentialAddressAtOffset offsets addr by offset bytes, staying inside
// the confidential window. Fails rather than wrapping past the boundary.
func (l *Layout) ConfidentialAddressAtOffset(addr, offset uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.confidentialAddressAtOffsetLocked(addr, offset, l.confEnd)
}

// ConfidentialAddressAtOffsetBounded is like ConfidentialAddressAtOffset but
// additionally rejects upperBound values past the real end of confidential
// memory, letting callers thread a tighter region-local bound (e.g. the end
// of one memory region being populated by the page allocator) through the
// same check.
func (l *Layout) ConfidentialAddressAtOffsetBounded(addr, offset, upperBound uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if upperBound > l.confEnd {
		return 0, errs.NewAddr(errs.AddressNotInConfidentialMemory, upperBound)
	}
	return l.confidentialAddressAtOffsetLocked(addr, offset, upperBound)
}

func (l *Layout) confidentialAddressAtOffsetLocked(addr, offset, upperBound uint64) (uint64, error) {
	if addr < l.confStart || addr > l.confEnd {
		return 0, errs.NewAddr(errs.AddressNotInConfidentialMemory, addr)
	}
	result := addr + offset
	if result < addr { // overflow
		return 0, errs.NewAddr(errs.AddressNotInConfidentialMemory, addr)
	}
	if result > upperBound {
		return 0, errs.NewAddr(errs.AddressNotInConfidentialMemory, result)
	}
	return result, nil
}

// NonConfidentialAddressAtOffset offsets addr by offset bytes, staying
// inside the non-confidential window.
func (l *Layout) NonConfidentialAddressAtOffset(addr, offset uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if addr < l.nonConfStart || addr > l.nonConfEnd {
		return 0, errs.NewAddr(errs.AddressNotInNonConfidentialMemory, addr)
	}
	result := addr + offset
	if result < addr || result > l.nonConfEnd {
		return 0, errs.NewAddr(errs.AddressNotInNonConfidentialMemory, result)
	}
	return result, nil
}

// IsInNonConfidentialRange reports whether addr falls in [nonConfStart, nonConfEnd).
func (l *Layout) IsInNonConfidentialRange(addr uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return addr >= l.nonConfStart && addr < l.nonConfEnd
}

// ConfidentialMemoryBoundary returns the [start, end) of the confidential window.
func (l *Layout) ConfidentialMemoryBoundary() (uint64, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.confStart, l.confEnd
}

// NonConfidentialMemoryBoundary returns the [start, end) of the non-confidential window.
func (l *Layout) NonConfidentialMemoryBoundary() (uint64, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonConfStart, l.nonConfEnd
}

// ClearConfidentialMemory writes zero to every usize-aligned word in the
// confidential window. Callers must ensure single-threaded execution: this
// is meant to run once, on the fatal-halt path, not concurrently with guest
// activity.
func (l *Layout) ClearConfidentialMemory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.confMem {
		l.confMem[i] = 0
	}
}

// ReadConfidential reads a byte slice of len(p) starting at physical address addr.
func (l *Layout) ReadConfidential(addr uint64, p []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	off, err := l.offsetLocked(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, l.confMem[off:off+uint64(len(p))])
	return nil
}

// WriteConfidential writes p into confidential memory starting at physical address addr.
func (l *Layout) WriteConfidential(addr uint64, p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	off, err := l.offsetLocked(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(l.confMem[off:off+uint64(len(p))], p)
	return nil
}

func (l *Layout) offsetLocked(addr, length uint64) (uint64, error) {
	if addr < l.confStart || addr+length > l.confEnd || addr+length < addr {
		return 0, errs.NewAddr(errs.AddressNotInConfidentialMemory, addr)
	}
	return addr - l.confStart, nil
}
