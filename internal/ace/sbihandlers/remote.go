package sbihandlers

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
)

// handleRemoteFence implements the RFNC extension. FENCE_I, SFENCE_VMA(_ASID)
// and HFENCE_GVMA(_VMID) broadcast a remote command to every other hart in
// the CVM and raise an IPI to deliver it; HFENCE_VVMA(_ASID) are the
// nested-virtualization variants and are a pure no-op, per spec.md §4.6 and
// the Non-goals in §1 ("nested virtualisation beyond passing-through
// remote-fence SBI calls as no-ops").
func handleRemoteFence(cf *flow.ConfidentialFlow, args ecallArgs) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	switch args.fid {
	case FIDFenceI:
		return broadcastAndRespond(cf, control.RemoteCommand{Kind: control.RemoteFenceI})
	case FIDSFenceVMA, FIDSFenceVMAASID:
		return broadcastAndRespond(cf, control.RemoteCommand{Kind: control.RemoteFenceVmaAsid, Asid: args.a2})
	case FIDHFenceGVMAVMID, FIDHFenceGVMA:
		return broadcastAndRespond(cf, control.RemoteCommand{Kind: control.RemoteFenceGvmaVmid, Vmid: args.a2})
	case FIDHFenceVVMAASID, FIDHFenceVVMA:
		return flow.SbiResponse{Error: errs.SBISuccess}, nil, nil
	default:
		return invalidCall(args)
	}
}

// broadcastAndRespond posts cmd to every other hart in the CVM, raises an
// IPI on each, and acknowledges success to the caller.
func broadcastAndRespond(cf *flow.ConfidentialFlow, cmd control.RemoteCommand) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	senderID := cf.ConfidentialHart().ID()
	var targets []int
	err := cf.WithVm(func(vm *control.ConfidentialVm) error {
		targets = vm.BroadcastRemoteCommand(cmd, senderID)
		return nil
	})
	if err != nil {
		return flow.SbiResponse{Error: errs.SBIErrFailed}, nil, nil
	}
	for _, target := range targets {
		// send_ipi is idempotent; a failure here means the hart id is
		// stale (should not happen since targets came from the same VM's
		// hart list), so the error is discarded and does not block the ack.
		_ = cf.Clint().SendIPI(target)
	}
	return flow.SbiResponse{Error: errs.SBISuccess}, nil, nil
}
