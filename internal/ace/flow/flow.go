// Package flow implements the confidential/non-confidential flow state
// machine (spec.md §4.6): two mutually exclusive flow handles borrowing
// the current HardwareHart, with one-way consuming transitions between
// them, and the transformation types each SBI/trap handler returns.
//
// The source models ConfidentialFlow/NonConfidentialFlow as two types
// whose into_* transitions statically enforce mutual exclusion via
// Rust's affine types (spec.md §9 design note). Go has no such types, so
// each flow here carries a `consumed` flag and every method asserts it is
// unset before touching the handle — the runtime-tag substitute the design
// note recommends.
package flow

import (
	"fmt"

	"github.com/epfl-dcsl/ace-monitor/internal/ace/clint"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
)

// NonConfidentialFlow borrows the HardwareHart while it is running the
// hypervisor (or platform firmware before any CVM exists).
type NonConfidentialFlow struct {
	hw       *control.HardwareHart
	storage  *control.ControlDataStorage
	clint    *clint.CLINT
	consumed bool
}

// NewNonConfidentialFlow constructs the initial flow handle for a
// hardware hart that is not currently running a CVM.
func NewNonConfidentialFlow(hw *control.HardwareHart, storage *control.ControlDataStorage, c *clint.CLINT) *NonConfidentialFlow {
	return &NonConfidentialFlow{hw: hw, storage: storage, clint: c}
}

func (f *NonConfidentialFlow) assertLive() {
	if f.consumed {
		panic("flow: use of a NonConfidentialFlow after it was consumed by into_confidential_flow")
	}
}

// HypervisorHart returns the hart currently borrowed by this flow.
func (f *NonConfidentialFlow) HypervisorHart() *control.HypervisorHart {
	f.assertLive()
	return f.hw.Hypervisor
}

// Storage exposes the control-data directory, for handlers mutating
// ControlDataStorage directly (CoVH TVM create/destroy/finalize).
func (f *NonConfidentialFlow) Storage() *control.ControlDataStorage {
	f.assertLive()
	return f.storage
}

// Clint exposes the shared interrupt controller, mirroring
// ConfidentialFlow.Clint so the dispatch loop can check for pending
// interrupts regardless of which flow is currently active.
func (f *NonConfidentialFlow) Clint() *clint.CLINT {
	f.assertLive()
	return f.clint
}

// HartID returns the physical hart id CLINT indexes msip by.
func (f *NonConfidentialFlow) HartID() int {
	f.assertLive()
	return f.hw.ID
}

// IntoConfidentialFlow consumes f and binds hartID of vmID to the
// underlying hardware hart, returning the flow handle for running that
// CVM. Fails if the CVM or hart id does not exist, or the hart is
// Shutdown.
func (f *NonConfidentialFlow) IntoConfidentialFlow(vmID control.ConfidentialVmId, hartID int) (*ConfidentialFlow, error) {
	f.assertLive()

	var bound *control.ConfidentialHart
	err := f.storage.WithConfidentialVm(vmID, func(vm *control.ConfidentialVm) error {
		for _, h := range vm.Harts {
			if h.ID() == hartID {
				if h.Lifecycle() == control.Shutdown {
					return fmt.Errorf("flow: hart %d in vm %d is shut down", hartID, vmID)
				}
				bound = h
				return nil
			}
		}
		return fmt.Errorf("flow: no hart %d in vm %d", hartID, vmID)
	})
	if err != nil {
		return nil, err
	}

	f.hw.Bind(vmID, bound)
	f.consumed = true
	return &ConfidentialFlow{hw: f.hw, storage: f.storage, clint: f.clint, vmID: vmID, hart: bound}, nil
}

// ConfidentialFlow borrows the HardwareHart while it is running a CVM's
// bound ConfidentialHart.
type ConfidentialFlow struct {
	hw       *control.HardwareHart
	storage  *control.ControlDataStorage
	clint    *clint.CLINT
	vmID     control.ConfidentialVmId
	hart     *control.ConfidentialHart
	consumed bool
}

func (f *ConfidentialFlow) assertLive() {
	if f.consumed {
		panic("flow: use of a ConfidentialFlow after it was consumed by into_non_confidential_flow")
	}
}

// ConfidentialHart returns the hart currently bound to this flow.
func (f *ConfidentialFlow) ConfidentialHart() *control.ConfidentialHart {
	f.assertLive()
	return f.hart
}

// VmID returns the id of the CVM this flow is running.
func (f *ConfidentialFlow) VmID() control.ConfidentialVmId {
	f.assertLive()
	return f.vmID
}

// WithVm runs fn with the CVM's inner write lock held, for handlers that
// need to mutate VM-wide state (e.g. the memory protector or the hart
// list) rather than just the bound hart.
func (f *ConfidentialFlow) WithVm(fn func(vm *control.ConfidentialVm) error) error {
	f.assertLive()
	return f.storage.WithConfidentialVm(f.vmID, fn)
}

// Clint exposes the shared interrupt controller, for handlers broadcasting
// remote commands.
func (f *ConfidentialFlow) Clint() *clint.CLINT {
	f.assertLive()
	return f.clint
}

// HartID returns the physical hart id CLINT indexes msip by.
func (f *ConfidentialFlow) HartID() int {
	f.assertLive()
	return f.hw.ID
}

// IntoNonConfidentialFlow consumes f, unbinds the CVM hart from the
// hardware hart, and returns the flow handle for running the hypervisor.
func (f *ConfidentialFlow) IntoNonConfidentialFlow() *NonConfidentialFlow {
	f.assertLive()
	f.hw.Unbind()
	f.consumed = true
	return &NonConfidentialFlow{hw: f.hw, storage: f.storage, clint: f.clint}
}
