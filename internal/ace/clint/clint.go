// Package clint implements the Core-Local Interruptor: mtime and, per
// hart, msip. The monitor treats everything else about CLINT as an
// external collaborator (spec.md §1); only send_ipi, read_mtime and
// write_msip matter to the core. Generalized from
// internal/hv/riscv/rv64/clint.go's single-hart CLINT to the
// multi-hart case an M-mode monitor manages directly.
package clint

import (
	"sync/atomic"
	"time"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
)

// CLINT is the multi-hart core-local interruptor. The zero value is not
// usable; construct with New.
type CLINT struct {
	msip      []uint32
	startTime time.Time
	nsPerTick uint64
}

// New returns a CLINT for numHarts harts, all with msip clear.
func New(numHarts int) *CLINT {
	return &CLINT{
		msip:      make([]uint32, numHarts),
		startTime: time.Now(),
		nsPerTick: 100, // 10 MHz timer
	}
}

// ReadMtime returns the current value of mtime.
func (c *CLINT) ReadMtime() uint64 {
	elapsed := time.Since(c.startTime).Nanoseconds()
	return uint64(elapsed) / c.nsPerTick
}

// WriteMsip sets or clears msip[hart]. Fails with InvalidParameter for an
// out-of-range hart index.
func (c *CLINT) WriteMsip(hart int, value uint32) error {
	if hart < 0 || hart >= len(c.msip) {
		return errs.New(errs.InvalidParameter)
	}
	if value&1 != 0 {
		atomic.StoreUint32(&c.msip[hart], 1)
	} else {
		atomic.StoreUint32(&c.msip[hart], 0)
	}
	return nil
}

// ReadMsip returns whether a machine-software interrupt is pending for hart.
func (c *CLINT) ReadMsip(hart int) (bool, error) {
	if hart < 0 || hart >= len(c.msip) {
		return false, errs.New(errs.InvalidParameter)
	}
	return atomic.LoadUint32(&c.msip[hart]) != 0, nil
}

// SendIPI raises a machine-software interrupt on target, for delivering a
// broadcast ConfidentialHartRemoteCommand (spec.md §4.6). Idempotent: a
// second SendIPI to an already-pending hart is a no-op bit-write, matching
// the "hardware collapses bits" coalescing spec.md §5 describes.
func (c *CLINT) SendIPI(target int) error {
	if target < 0 || target >= len(c.msip) {
		return errs.NewInterruptSendingError(int(errs.SBIErrInvParam))
	}
	return c.WriteMsip(target, 1)
}

// ClearIPI clears the pending machine-software interrupt for hart, called
// once the hart has drained its remote-command inbox.
func (c *CLINT) ClearIPI(hart int) error {
	return c.WriteMsip(hart, 0)
}
