package clint

import "testing"

func TestSendIPISetsMsip(t *testing.T) {
	c := New(4)
	if err := c.SendIPI(2); err != nil {
		t.Fatalf("SendIPI: %v", err)
	}
	pending, err := c.ReadMsip(2)
	if err != nil {
		t.Fatalf("ReadMsip: %v", err)
	}
	if !pending {
		t.Fatal("expected msip pending after SendIPI")
	}
}

func TestClearIPI(t *testing.T) {
	c := New(4)
	_ = c.SendIPI(0)
	if err := c.ClearIPI(0); err != nil {
		t.Fatalf("ClearIPI: %v", err)
	}
	pending, _ := c.ReadMsip(0)
	if pending {
		t.Fatal("expected msip clear after ClearIPI")
	}
}

func TestSendIPIOutOfRange(t *testing.T) {
	c := New(2)
	if err := c.SendIPI(5); err == nil {
		t.Fatal("expected InterruptSendingError for out-of-range hart")
	}
}

func TestReadMtimeNeverGoesBackwards(t *testing.T) {
	c := New(1)
	t1 := c.ReadMtime()
	for i := 0; i < 1_000_000; i++ {
	}
	t2 := c.ReadMtime()
	if t2 < t1 {
		t.Fatalf("mtime went backwards: %d -> %d", t1, t2)
	}
}
