package memlayout

import (
	"testing"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
)

func TestInitAlignsAndTrims(t *testing.T) {
	reset()
	defer reset()

	l, err := Init(0x1000, 0x2000, 0x2001, 0x1_3001)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	start, end := l.ConfidentialMemoryBoundary()
	if start != 0x3000 {
		t.Fatalf("confStart = 0x%x, want 0x3000", start)
	}
	if (end-start)%SmallestPageBytes != 0 {
		t.Fatalf("confidential region size 0x%x is not page-aligned", end-start)
	}
}

func TestReinitializationFails(t *testing.T) {
	reset()
	defer reset()

	if _, err := Init(0, 0x1000, 0x1000, 0x2000); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	_, err := Init(0, 0x1000, 0x1000, 0x2000)
	var aerr *errs.Error
	if err == nil {
		t.Fatal("expected Reinitialization error on second Init")
	}
	if !asErr(err, &aerr) || aerr.Kind != errs.Reinitialization {
		t.Fatalf("got %v, want Reinitialization", err)
	}
}

func TestConfidentialAddressAtOffsetBounds(t *testing.T) {
	reset()
	defer reset()

	l, err := Init(0, 0x1000, 0x1000, 0x3000)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	start, end := l.ConfidentialMemoryBoundary()

	if _, err := l.ConfidentialAddressAtOffset(start, 0x10); err != nil {
		t.Fatalf("in-range offset failed: %v", err)
	}
	if _, err := l.ConfidentialAddressAtOffset(start, (end-start)+1); err == nil {
		t.Fatal("expected out-of-range offset to fail")
	}
	if _, err := l.ConfidentialAddressAtOffset(end+0x1000, 0); err == nil {
		t.Fatal("expected address outside window to fail")
	}
}

func TestIsInNonConfidentialRange(t *testing.T) {
	reset()
	defer reset()

	l, err := Init(0x1000, 0x2000, 0x2000, 0x4000)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !l.IsInNonConfidentialRange(0x1500) {
		t.Fatal("expected 0x1500 to be in non-confidential range")
	}
	if l.IsInNonConfidentialRange(0x2500) {
		t.Fatal("expected 0x2500 (confidential) to not be in non-confidential range")
	}
}

func TestClearConfidentialMemory(t *testing.T) {
	reset()
	defer reset()

	l, err := Init(0, 0x1000, 0x1000, 0x2000)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	start, _ := l.ConfidentialMemoryBoundary()
	if err := l.WriteConfidential(start, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteConfidential: %v", err)
	}
	l.ClearConfidentialMemory()
	buf := make([]byte, 4)
	if err := l.ReadConfidential(start, buf); err != nil {
		t.Fatalf("ReadConfidential: %v", err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected cleared memory, got %v", buf)
		}
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
