// Package translator implements spec §4.2: bidirectional name-mapping
// between kernel-global references (KRef) and endpoint-local references
// (ERef), including the polarity inversion remote peers require, plus
// translation of whole messages and syscalls across that boundary.
package translator

import (
	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/kernelerr"
	"slug/internal/ksyscall"
	"slug/internal/store"
	"slug/internal/vsyscall"
)

// RefKtoE looks up endpoint's c-list entry for kref. If absent and
// importIfNeeded, a fresh import-polarity eref is allocated and attached.
// If endpoint is remote, the result's polarity is flipped before return
// (spec §3: kernel→remote translation flips polarity; the c-list itself
// always stores the un-flipped, "remote's own wire form" value).
func RefKtoE(s *store.Store, endpoint id.EndpointId, kref id.KRef, importIfNeeded bool) (id.ERef, error) {
	if eref, ok := s.KrefToEref(endpoint, kref); ok {
		if endpoint.IsRemote() {
			return eref.Flipped(), nil
		}
		return eref, nil
	}
	if !importIfNeeded {
		return id.ERef{}, kernelerr.New(kernelerr.InvalidRef, kref.String(), "no c-list entry for "+string(endpoint))
	}
	eref := allocateImportEref(s, endpoint, kref)
	s.AddCListEntry(endpoint, kref, eref, true)
	s.IncrementRefCount(kref, store.TagCList, false)
	if endpoint.IsRemote() {
		return eref.Flipped(), nil
	}
	return eref, nil
}

// RefEtoK looks up the kref endpoint's eref currently names. If absent,
// eref must be export-polarity (the endpoint is handing the kernel a
// reference it minted itself), in which case a fresh kernel object or
// promise is allocated for it; otherwise translation fails. Per spec §3,
// remote→kernel translation never flips polarity, so eref is used exactly
// as received for both the lookup and the export-polarity check.
func RefEtoK(s *store.Store, endpoint id.EndpointId, eref id.ERef) (id.KRef, error) {
	if kref, ok := s.ErefToKref(endpoint, eref); ok {
		return kref, nil
	}
	if eref.Polarity != id.Export {
		return nil, kernelerr.New(kernelerr.InvalidRef, eref.String(), "unknown eref is not an export")
	}
	kref := exportFromEndpoint(s, endpoint, eref)
	s.AddCListEntry(endpoint, kref, eref, true)
	return kref, nil
}

// exportFromEndpoint allocates a new KOId/KPId for an eref an endpoint is
// exporting for the first time (spec §4.2's "Allocation on export"). An
// object's refcount is initialized with onlyRecognizable semantics:
// recognizable starts positive without granting reachability to anyone
// else yet. For a promise, whose refcount is a single counter, the same
// call is a plain +1, and the exporting endpoint becomes its decider.
func exportFromEndpoint(s *store.Store, endpoint id.EndpointId, eref id.ERef) id.KRef {
	if eref.IsObject() {
		o := s.InitKernelObject(endpoint)
		s.IncrementRefCount(o, store.TagExport, true)
		return o
	}
	p := s.InitKernelPromise()
	s.SetDecider(p, endpoint)
	s.IncrementRefCount(p, store.TagExport, true)
	return p
}

func allocateImportEref(s *store.Store, endpoint id.EndpointId, kref id.KRef) id.ERef {
	remote := endpoint.IsRemote()
	if id.IsObject(kref) {
		n := s.NextObjectNumber(endpoint)
		if remote {
			return id.RemoteObject(id.Import, n)
		}
		return id.Object(id.Import, n)
	}
	n := s.NextPromiseNumber(endpoint)
	if remote {
		return id.RemotePromise(id.Import, n)
	}
	return id.Promise(id.Import, n)
}

// CapDataKtoE maps v's slots element-wise via RefKtoE, always importing
// on demand (an endpoint receiving capdata must be able to name every
// slot it is handed).
func CapDataKtoE(s *store.Store, endpoint id.EndpointId, v capdata.CapData) (capdata.ECapData, error) {
	slots := make([]id.ERef, len(v.Slots))
	for i, k := range v.Slots {
		e, err := RefKtoE(s, endpoint, k, true)
		if err != nil {
			return capdata.ECapData{}, err
		}
		slots[i] = e
	}
	return capdata.ECapData{Body: v.Body, Slots: slots}, nil
}

// CapDataEtoK maps v's slots element-wise via RefEtoK.
func CapDataEtoK(s *store.Store, endpoint id.EndpointId, v capdata.ECapData) (capdata.CapData, error) {
	slots := make([]id.KRef, len(v.Slots))
	for i, e := range v.Slots {
		k, err := RefEtoK(s, endpoint, e)
		if err != nil {
			return capdata.CapData{}, err
		}
		slots[i] = k
	}
	return capdata.CapData{Body: v.Body, Slots: slots}, nil
}

// MessageKtoE translates methargs and, if present, the result promise.
// The result is always translated with importIfNeeded=true: an endpoint
// receiving a send always gets to name its own result promise, even if it
// never saw it before.
func MessageKtoE(s *store.Store, endpoint id.EndpointId, m capdata.Message) (capdata.EMessage, error) {
	margs, err := CapDataKtoE(s, endpoint, m.MethArgs)
	if err != nil {
		return capdata.EMessage{}, err
	}
	em := capdata.EMessage{MethArgs: margs}
	if m.Result != nil {
		eref, err := RefKtoE(s, endpoint, *m.Result, true)
		if err != nil {
			return capdata.EMessage{}, err
		}
		em.Result = &eref
	}
	return em, nil
}

// MessageEtoK translates methargs and, if present, the result promise ref
// (which must resolve to a KPId).
func MessageEtoK(s *store.Store, endpoint id.EndpointId, m capdata.EMessage) (capdata.Message, error) {
	margs, err := CapDataEtoK(s, endpoint, m.MethArgs)
	if err != nil {
		return capdata.Message{}, err
	}
	msg := capdata.Message{MethArgs: margs}
	if m.Result != nil {
		kref, err := RefEtoK(s, endpoint, *m.Result)
		if err != nil {
			return capdata.Message{}, err
		}
		kp, ok := kref.(id.KPId)
		if !ok {
			return capdata.Message{}, kernelerr.New(kernelerr.InvalidRef, kref.String(), "result ref is not a promise")
		}
		msg.Result = &kp
	}
	return msg, nil
}

// SyscallVtoK translates an endpoint-reported syscall into kernel-global
// namespace, exhaustively over the syscall union (spec §4.2). callNow and
// any vatstore* syscall are disallowed and fail translation as an
// InvalidRef error — crank-fatal, rolling back and marking the offending
// endpoint for termination, same as any other malformed syscall.
func SyscallVtoK(s *store.Store, endpoint id.EndpointId, sc vsyscall.Syscall) (ksyscall.Syscall, error) {
	if sc.Kind.Disallowed() {
		return ksyscall.Syscall{}, kernelerr.New(kernelerr.InvalidRef, sc.Kind.String(), "disallowed syscall")
	}
	switch sc.Kind {
	case vsyscall.Send:
		target, err := RefEtoK(s, endpoint, sc.Target)
		if err != nil {
			return ksyscall.Syscall{}, err
		}
		msg, err := MessageEtoK(s, endpoint, sc.Message)
		if err != nil {
			return ksyscall.Syscall{}, err
		}
		return ksyscall.Syscall{Kind: ksyscall.Send, Target: target, Message: msg}, nil

	case vsyscall.Subscribe:
		kp, err := requirePromise(s, endpoint, sc.Promise)
		if err != nil {
			return ksyscall.Syscall{}, err
		}
		return ksyscall.Syscall{Kind: ksyscall.Subscribe, Promise: kp}, nil

	case vsyscall.Resolve:
		resolutions := make([]ksyscall.Resolution, len(sc.Resolutions))
		for i, r := range sc.Resolutions {
			kp, err := requirePromise(s, endpoint, r.Promise)
			if err != nil {
				return ksyscall.Syscall{}, err
			}
			value, err := CapDataEtoK(s, endpoint, r.Value)
			if err != nil {
				return ksyscall.Syscall{}, err
			}
			resolutions[i] = ksyscall.Resolution{Promise: kp, Rejected: r.Rejected, Value: value}
		}
		return ksyscall.Syscall{Kind: ksyscall.Resolve, Resolutions: resolutions}, nil

	case vsyscall.Exit:
		info, err := CapDataEtoK(s, endpoint, sc.Info)
		if err != nil {
			return ksyscall.Syscall{}, err
		}
		return ksyscall.Syscall{Kind: ksyscall.Exit, IsFailure: sc.IsFailure, Info: info}, nil

	case vsyscall.DropImports, vsyscall.RetireImports, vsyscall.RetireExports, vsyscall.AbandonExports:
		refs := make([]id.KRef, len(sc.Refs))
		for i, e := range sc.Refs {
			kref, err := RefEtoK(s, endpoint, e)
			if err != nil {
				return ksyscall.Syscall{}, err
			}
			refs[i] = kref
		}
		return ksyscall.Syscall{Kind: sc.Kind, Refs: refs}, nil

	default:
		return ksyscall.Syscall{}, kernelerr.New(kernelerr.ProtocolError, sc.Kind.String(), "unknown syscall kind")
	}
}

func requirePromise(s *store.Store, endpoint id.EndpointId, eref id.ERef) (id.KPId, error) {
	kref, err := RefEtoK(s, endpoint, eref)
	if err != nil {
		return "", err
	}
	kp, ok := kref.(id.KPId)
	if !ok {
		return "", kernelerr.New(kernelerr.InvalidRef, kref.String(), "expected a promise ref")
	}
	return kp, nil
}
