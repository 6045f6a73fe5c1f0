package pagealloc

import "testing"

// TestAcquireReleaseRoundTrip exercises scenario S5 from spec.md §8:
// initialize with 8 GiB aligned to 1 GiB, acquire a 1 GiB page, acquire a
// 4 KiB page split out of the remainder, release both, then acquire another
// 1 GiB page.
func TestAcquireReleaseRoundTrip(t *testing.T) {
	const base = 0
	a := New(base)
	if err := a.Populate(base, base+8*Size1GiB.Bytes()); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	p1, err := a.AcquirePage(Size1GiB)
	if err != nil {
		t.Fatalf("acquire 1GiB: %v", err)
	}

	p2, err := a.AcquirePage(Size4KiB)
	if err != nil {
		t.Fatalf("acquire 4KiB: %v", err)
	}
	if p2.Size != Size4KiB {
		t.Fatalf("got size %v, want 4KiB", p2.Size)
	}

	a.ReleasePages([]Page{p1, p2})

	if _, err := a.AcquirePage(Size1GiB); err != nil {
		t.Fatalf("acquire 1GiB after release: %v", err)
	}
}

// TestAllocatorConservation checks invariant 1 of spec.md §8: tokens never overlap.
func TestAllocatorConservation(t *testing.T) {
	a := New(0)
	if err := a.Populate(0, 2*Size1GiB.Bytes()); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	var pages []Page
	for i := 0; i < 4; i++ {
		p, err := a.AcquirePage(Size2MiB)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		pages = append(pages, p)
	}

	for i := range pages {
		for j := range pages {
			if i == j {
				continue
			}
			if pages[i].Addr < pages[j].End() && pages[j].Addr < pages[i].End() {
				t.Fatalf("pages overlap: %+v and %+v", pages[i], pages[j])
			}
		}
	}
}

// TestBuddyMerge checks invariant 2 of spec.md §8: releasing every sibling
// of a size class immediately makes the parent size allocable again.
func TestBuddyMerge(t *testing.T) {
	a := New(0)
	if err := a.Populate(0, Size1GiB.Bytes()); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	n := Size1GiB.NumberOfSmallerPages()
	var children []Page
	for i := 0; i < n; i++ {
		p, err := a.AcquirePage(Size2MiB)
		if err != nil {
			t.Fatalf("acquire child %d: %v", i, err)
		}
		children = append(children, p)
	}

	if _, err := a.AcquirePage(Size2MiB); err == nil {
		t.Fatal("expected OutOfPages once all 2MiB children are acquired")
	}

	a.ReleasePages(children)

	if _, err := a.AcquirePage(Size1GiB); err != nil {
		t.Fatalf("expected merge back to 1GiB to succeed: %v", err)
	}
}

func TestOutOfPages(t *testing.T) {
	a := New(0)
	if err := a.Populate(0, Size4KiB.Bytes()); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if _, err := a.AcquirePage(Size4KiB); err != nil {
		t.Fatalf("acquire only page: %v", err)
	}
	if _, err := a.AcquirePage(Size4KiB); err == nil {
		t.Fatal("expected OutOfPages when allocator is empty")
	}
}

func TestPopulateMinimizesTokens(t *testing.T) {
	a := New(0)
	// 1 GiB + 2 MiB + 4 KiB: should populate without error and allow
	// acquiring one of each size.
	end := Size1GiB.Bytes() + Size2MiB.Bytes() + Size4KiB.Bytes()
	if err := a.Populate(0, end); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	for _, sz := range []Size{Size1GiB, Size2MiB, Size4KiB} {
		if _, err := a.AcquirePage(sz); err != nil {
			t.Fatalf("acquire %v: %v", sz, err)
		}
	}
}
