package sbihandlers

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
)

// ecallArgs reads the SBI calling convention's registers out of hart.
type ecallArgs struct {
	extID, fid   uint64
	a0, a1, a2, a3, a4, a5 uint64
}

func readEcallArgs(hart *control.ConfidentialHart) ecallArgs {
	gprs := &hart.Context().GPRs
	return ecallArgs{
		extID: gprs.Read(flow.RegA7),
		fid:   gprs.Read(flow.RegA6),
		a0:    gprs.Read(flow.RegA0),
		a1:    gprs.Read(flow.RegA1),
		a2:    gprs.Read(12),
		a3:    gprs.Read(13),
		a4:    gprs.Read(14),
		a5:    gprs.Read(15),
	}
}

// HandleConfidentialEcall dispatches an ecall trapped from a CVM hart. It
// returns exactly one non-nil transformation: either a mutation applied
// directly to the confidential hart, or a request declassified to the
// hypervisor.
func HandleConfidentialEcall(cf *flow.ConfidentialFlow) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	hart := cf.ConfidentialHart()
	args := readEcallArgs(hart)

	switch args.extID {
	case ExtHSM:
		return handleHSM(cf, args)
	case ExtSRST:
		return handleSRST(cf, args)
	case ExtCoVG:
		return handleCoVG(cf, args)
	case ExtRFNC:
		return handleRemoteFence(cf, args)
	default:
		return invalidCall(args)
	}
}

func invalidCall(args ecallArgs) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	err := errs.NewInvalidCall(args.extID, args.fid)
	return flow.SbiResponse{Error: err.SBICode(), Value: 0}, nil, nil
}

func handleHSM(cf *flow.ConfidentialFlow, args ecallArgs) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	switch args.fid {
	case FIDGetMvendorid:
		return flow.SbiResponse{Error: errs.SBISuccess, Value: Mvendorid}, nil, nil
	case FIDGetMarchid:
		return flow.SbiResponse{Error: errs.SBISuccess, Value: Marchid}, nil, nil
	case FIDGetMimpid:
		return flow.SbiResponse{Error: errs.SBISuccess, Value: Mimpid}, nil, nil
	case FIDHartStart:
		cf.ConfidentialHart().StartHart()
		return flow.SbiResponse{Error: errs.SBISuccess}, nil, nil
	default:
		return invalidCall(args)
	}
}

// handleSRST implements SYSTEM_RESET: the hart transitions to Shutdown and
// the request is declassified to the hypervisor (scenario S6).
func handleSRST(cf *flow.ConfidentialFlow, args ecallArgs) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	if args.fid != FIDSystemReset {
		return invalidCall(args)
	}
	cf.ConfidentialHart().ShutdownHart()
	req := flow.SbiRequest{
		ExtID: args.extID,
		FID:   args.fid,
		Args:  [6]uint64{args.a0, args.a1, args.a2, args.a3, args.a4, args.a5},
	}
	return nil, req, nil
}

// handleCoVG implements SHARE_MEMORY/UNSHARE_MEMORY/TLB_INVALIDATE.
// Share/unshare mutate the CVM's memory protector directly, broadcast a
// RemoteFenceGvmaVmid to the CVM's other harts, and declassify the request
// to the hypervisor so it can update its own view of the mapping.
func handleCoVG(cf *flow.ConfidentialFlow, args ecallArgs) (flow.ConfidentialHartMutator, flow.DeclassifyToHypervisor, error) {
	switch args.fid {
	case FIDShareMemory:
		addr, size := args.a0, args.a1
		err := cf.WithVm(func(vm *control.ConfidentialVm) error {
			if err := vm.Protector.MapShared(addr, addr, size); err != nil {
				return err
			}
			vm.BroadcastRemoteCommand(control.RemoteCommand{Kind: control.RemoteFenceGvmaVmid, Vmid: uint64(cf.VmID())}, cf.ConfidentialHart().ID())
			return nil
		})
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return flow.SbiResponse{Error: e.SBICode()}, nil, nil
			}
			return flow.SbiResponse{Error: errs.SBIErrFailed}, nil, nil
		}
		req := flow.SbiRequest{ExtID: args.extID, FID: args.fid, Args: [6]uint64{addr, size}}
		return nil, req, nil
	case FIDUnshareMemory:
		addr, size := args.a0, args.a1
		err := cf.WithVm(func(vm *control.ConfidentialVm) error {
			if err := vm.Protector.UnmapShared(addr, size); err != nil {
				return err
			}
			vm.BroadcastRemoteCommand(control.RemoteCommand{Kind: control.RemoteFenceGvmaVmid, Vmid: uint64(cf.VmID())}, cf.ConfidentialHart().ID())
			return nil
		})
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return flow.SbiResponse{Error: e.SBICode()}, nil, nil
			}
			return flow.SbiResponse{Error: errs.SBIErrFailed}, nil, nil
		}
		req := flow.SbiRequest{ExtID: args.extID, FID: args.fid, Args: [6]uint64{addr, size}}
		return nil, req, nil
	case FIDTLBInvalidate:
		return flow.SbiResponse{Error: errs.SBISuccess}, nil, nil
	default:
		return invalidCall(args)
	}
}
