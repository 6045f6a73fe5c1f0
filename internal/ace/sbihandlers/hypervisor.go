package sbihandlers

import (
	"github.com/epfl-dcsl/ace-monitor/internal/ace/control"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/errs"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/flow"
	"github.com/epfl-dcsl/ace-monitor/internal/ace/vctx"
)

func readHypervisorEcallArgs(hv *control.HypervisorHart) ecallArgs {
	gprs := &hv.Context().GPRs
	return ecallArgs{
		extID: gprs.Read(flow.RegA7),
		fid:   gprs.Read(flow.RegA6),
		a0:    gprs.Read(flow.RegA0),
		a1:    gprs.Read(flow.RegA1),
		a2:    gprs.Read(12),
		a3:    gprs.Read(13),
	}
}

// HandleHypervisorEcall dispatches an ecall trapped from the hypervisor
// itself (running NonConfidentialFlow): NACL setup and CoVH TVM
// lifecycle management. Both produce an ApplyToHypervisorHart
// transformation, per spec.md §4.6.
func HandleHypervisorEcall(nf *flow.NonConfidentialFlow) (flow.HypervisorHartMutator, error) {
	hv := nf.HypervisorHart()
	args := readHypervisorEcallArgs(hv)

	switch args.extID {
	case ExtNACL:
		return handleNACL(args)
	case ExtCoVH:
		return handleCoVH(nf, args)
	default:
		err := errs.NewInvalidCall(args.extID, args.fid)
		return flow.SbiResponse{Error: err.SBICode()}, nil
	}
}

func handleNACL(args ecallArgs) (flow.HypervisorHartMutator, error) {
	if args.fid != FIDSetupSharedMemory {
		err := errs.NewInvalidCall(args.extID, args.fid)
		return flow.SbiResponse{Error: err.SBICode()}, nil
	}
	return flow.SetSharedMemory{Base: args.a0}, nil
}

func handleCoVH(nf *flow.NonConfidentialFlow, args ecallArgs) (flow.HypervisorHartMutator, error) {
	storage := nf.Storage()
	switch args.fid {
	case FIDCreateTVM:
		numHarts := int(args.a0)
		if numHarts <= 0 {
			return flow.SbiResponse{Error: errs.SBIErrInvParam}, nil
		}
		harts := make([]*control.ConfidentialHart, numHarts)
		for i := range harts {
			harts[i] = control.NewConfidentialHart(i, vctx.New(0))
		}
		id := storage.AddConfidentialVm(harts)
		return flow.SbiResponse{Error: errs.SBISuccess, Value: uint64(id)}, nil
	case FIDFinalizeTVM:
		if !storage.Exists(control.ConfidentialVmId(args.a0)) {
			return flow.SbiResponse{Error: errs.SBIErrInvParam}, nil
		}
		return flow.SbiResponse{Error: errs.SBISuccess}, nil
	case FIDDestroyTVM:
		if err := storage.RemoveConfidentialVm(control.ConfidentialVmId(args.a0)); err != nil {
			if e, ok := err.(*errs.Error); ok {
				return flow.SbiResponse{Error: e.SBICode()}, nil
			}
			return flow.SbiResponse{Error: errs.SBIErrFailed}, nil
		}
		return flow.SbiResponse{Error: errs.SBISuccess}, nil
	case FIDAddMemoryRegion:
		vmID := control.ConfidentialVmId(args.a0)
		start, end := args.a1, args.a2
		err := storage.WithConfidentialVm(vmID, func(vm *control.ConfidentialVm) error {
			return vm.Protector.MapShared(start, start, end-start)
		})
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return flow.SbiResponse{Error: e.SBICode()}, nil
			}
			return flow.SbiResponse{Error: errs.SBIErrFailed}, nil
		}
		return flow.SbiResponse{Error: errs.SBISuccess}, nil
	case FIDRunTVMVcpu:
		vmID := control.ConfidentialVmId(args.a0)
		hartID := int(args.a1)
		err := storage.WithConfidentialVm(vmID, func(vm *control.ConfidentialVm) error {
			for _, h := range vm.Harts {
				if h.ID() == hartID {
					h.StartHart()
					return nil
				}
			}
			return errs.New(errs.InvalidParameter)
		})
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return flow.SbiResponse{Error: e.SBICode()}, nil
			}
			return flow.SbiResponse{Error: errs.SBIErrFailed}, nil
		}
		return flow.SbiResponse{Error: errs.SBISuccess}, nil
	default:
		err := errs.NewInvalidCall(args.extID, args.fid)
		return flow.SbiResponse{Error: err.SBICode()}, nil
	}
}
