// Package policy defines the pluggable hook dispatch consults on every
// SBI call and every world switch (spec.md §2, C10): it may veto a call
// outright or observe a transition to add per-CVM isolation, without the
// dispatch loop needing to know which policy is installed.
package policy

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

// Decision is a policy hook's verdict on an ecall.
type Decision uint8

const (
	// Allow lets dispatch proceed with its default handling.
	Allow Decision = iota
	// Veto rejects the call; dispatch responds to the guest with a Denied
	// SBI error instead of invoking the handler.
	Veto
)

// EcallContext is everything a policy hook needs to judge one SBI call.
type EcallContext struct {
	VmID   control.ConfidentialVmId
	HartID int
	ExtID  uint64
	FID    uint64
}

// Hook is consulted by the dispatch loop before every ecall handler runs,
// and notified after every world-switch (a transition between Firmware and
// Payload execution mode, or between ConfidentialFlow and
// NonConfidentialFlow).
type Hook interface {
	OnEcall(EcallContext) Decision
	OnWorldSwitch(vmID control.ConfidentialVmId, hartID int, from, to vctx.ExecutionMode)
}

// Default allows every call and observes nothing. It is the hook installed
// when no policy is configured (SPEC_FULL.md §2.3).
type Default struct{}

func (Default) OnEcall(EcallContext) Decision { return Allow }

func (Default) OnWorldSwitch(control.ConfidentialVmId, int, vctx.ExecutionMode, vctx.ExecutionMode) {}

// ExtensionDenyList vetoes ecalls whose extension id appears in Denied, and
// otherwise allows everything — a minimal example of the isolation policies
// spec.md §2/§10 describes (e.g. preventing one CVM class from ever issuing
// CoVG share/unshare).
type ExtensionDenyList struct {
	Denied map[uint64]bool
}

func (p ExtensionDenyList) OnEcall(e EcallContext) Decision {
	if p.Denied[e.ExtID] {
		return Veto
	}
	return Allow
}

func (ExtensionDenyList) OnWorldSwitch(control.ConfidentialVmId, int, vctx.ExecutionMode, vctx.ExecutionMode) {
}
