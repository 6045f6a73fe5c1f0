// Package pagealloc implements a buddy-tree allocator over confidential
// memory, handing out typed page tokens at 4 KiB / 2 MiB / 1 GiB
// granularities. It is the Go counterpart of
// internal/hv.AddressSpace's MMIO allocator, generalized from a single
// bump allocator to a size-aware buddy tree, following
// original_source/src/ace/core/page_allocator/allocator.rs.
package pagealloc

import "fmt"

// Size is one of the three page granularities the allocator tracks.
type Size int

const (
	Size4KiB Size = iota
	Size2MiB
	Size1GiB
)

var sizeBytes = [...]uint64{
	Size4KiB: 4 * 1024,
	Size2MiB: 2 * 1024 * 1024,
	Size1GiB: 1024 * 1024 * 1024,
}

// Bytes returns the byte count of this page size.
func (s Size) Bytes() uint64 { return sizeBytes[s] }

func (s Size) String() string {
	switch s {
	case Size4KiB:
		return "4KiB"
	case Size2MiB:
		return "2MiB"
	case Size1GiB:
		return "1GiB"
	default:
		return fmt.Sprintf("Size(%d)", int(s))
	}
}

// Smallest is the smallest page size the allocator supports.
func Smallest() Size { return Size4KiB }

// Largest is the largest page size the allocator supports, i.e. the size of
// the buddy tree's root node.
func Largest() Size { return Size1GiB }

// Smaller returns the next smaller page size, and false if s is already Smallest.
func (s Size) Smaller() (Size, bool) {
	if s == Size4KiB {
		return 0, false
	}
	return s - 1, true
}

// Larger returns the next larger page size, and false if s is already Largest.
func (s Size) Larger() (Size, bool) {
	if s == Size1GiB {
		return 0, false
	}
	return s + 1, true
}

// NumberOfSmallerPages is how many of the next-smaller size tile this size
// exactly (the buddy tree's fan-out at this level).
func (s Size) NumberOfSmallerPages() int {
	smaller, ok := s.Smaller()
	if !ok {
		return 0
	}
	return int(s.Bytes() / smaller.Bytes())
}

// Page is a token of ownership over a physically contiguous, size-aligned
// region of confidential memory: [Addr, Addr+Size.Bytes()). Two live tokens
// never overlap; that invariant is maintained by the allocator, not by Page
// itself, since Page is a plain value (Go has no affine types) — the
// allocator is the only place that may mint or destroy one, which plays the
// role the Rust implementation's phantom UnAllocated/Allocated markers play.
type Page struct {
	Addr uint64
	Size Size
}

// End returns the first address past this page.
func (p Page) End() uint64 { return p.Addr + p.Size.Bytes() }

// divide splits a page into NumberOfSmallerPages() deterministically
// addressed children: child i covers [Addr+i*smaller, Addr+(i+1)*smaller).
func (p Page) divide() []Page {
	smaller, ok := p.Size.Smaller()
	if !ok {
		panic("pagealloc: cannot divide the smallest page size")
	}
	n := p.Size.NumberOfSmallerPages()
	children := make([]Page, n)
	for i := 0; i < n; i++ {
		children[i] = Page{Addr: p.Addr + uint64(i)*smaller.Bytes(), Size: smaller}
	}
	return children
}

// merge reassembles n contiguous same-size siblings (in child-index order)
// back into one token of the next larger size.
func merge(children []Page, parentSize Size) Page {
	return Page{Addr: children[0].Addr, Size: parentSize}
}
