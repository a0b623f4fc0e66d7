// Package router implements spec §4.4: classifying a send into
// splat/requeue/send, delivering sends and notifications to endpoint
// handles (or the kernel-service pseudo-endpoint), and dispatching GC
// actions — the sole place the executor calls into to process one
// run-queue item.
package router

import (
	"slug/internal/capdata"
	"slug/internal/gc"
	"slug/internal/id"
	"slug/internal/kernelerr"
	"slug/internal/ksyscall"
	"slug/internal/platform"
	"slug/internal/store"
	"slug/internal/translator"
)

// KernelServices is the kernel-service pseudo-endpoint collaborator (spec
// §4.7): a send whose target object is owned by "kernel" bypasses the
// endpoint-handle path entirely and is invoked directly.
type KernelServices interface {
	Invoke(target id.KOId, msg capdata.Message) (value capdata.CapData, rejected bool)
}

// Termination is DeliverResult's kernel-space counterpart of
// platform.Termination.
type Termination struct {
	Endpoint id.EndpointId
	Reject   bool
	Info     capdata.CapData
}

// DeliverResult is what one Deliver call produces for the executor to
// apply (spec §4.5's applyEndpointSyscalls): the syscalls the endpoint
// attempted this turn, translated into kernel-global namespace, plus an
// optional termination request. Endpoint names whose syscalls these are —
// for a Send delivered to a live object this is the object's owner, not
// necessarily anything the original run-queue item itself named — so the
// executor must read it from here rather than re-deriving it from the item.
type DeliverResult struct {
	Endpoint  id.EndpointId
	Syscalls  []ksyscall.Syscall
	Terminate *Termination
}

// Handles is the set of currently-live endpoint handles the executor
// injects; a missing entry means the endpoint has no reachable transport
// right now (terminated, or never launched), treated as a delivery
// failure rather than a panic.
type Handles map[id.EndpointId]platform.EndpointHandle

// Deliver processes one run-queue item (spec §4.4/§4.5): it is the single
// entry point the crank executor calls per dequeued item.
func Deliver(s *store.Store, item store.RunQueueItem, handles Handles, ksvc KernelServices) (DeliverResult, error) {
	switch item.Kind {
	case store.ItemSend:
		return deliverSend(s, item.Target, item.Message, handles, ksvc)
	case store.ItemNotify:
		return deliverNotify(s, item.NotifyEndpoint, item.NotifyKPId, handles)
	case store.ItemGCAction:
		return deliverGCAction(s, item, handles)
	case store.ItemBringOutYourDead:
		return deliverBringOutYourDead(s, item.ReapEndpoint, handles)
	default:
		return DeliverResult{}, kernelerr.New(kernelerr.ProtocolError, "", "unknown run-queue item kind")
	}
}

type classKind int

const (
	classSplat classKind = iota
	classRequeue
	classSend
)

type classification struct {
	kind   classKind
	target id.KRef         // classRequeue: the unresolved promise; classSend: the live object
	body   string           // classSplat: synthesised error body, when value is nil
	value  *capdata.CapData // classSplat: reuse the promise's own rejection value, when set
}

// classify implements routeMessage's classification algorithm (spec
// §4.4) over a send's original target.
func classify(s *store.Store, target id.KRef) (classification, error) {
	if kp, ok := target.(id.KPId); ok {
		state, err := s.GetPromiseState(kp)
		if err != nil {
			return classification{}, err
		}
		switch state {
		case store.Unresolved:
			return classification{kind: classRequeue, target: kp}, nil
		case store.Rejected:
			v := s.GetPromiseValue(kp)
			return classification{kind: classSplat, value: &v}, nil
		case store.Fulfilled:
			v := s.GetPromiseValue(kp)
			ref, ok := capdata.ExtractSingleRef(v)
			if !ok {
				return classification{kind: classSplat, body: "no object"}, nil
			}
			if rp, ok := ref.(id.KPId); ok {
				return classification{kind: classRequeue, target: rp}, nil
			}
			return classification{kind: classSend, target: ref}, nil
		default:
			return classification{}, kernelerr.New(kernelerr.ProtocolError, string(kp), "corrupt promise state")
		}
	}

	ko := target.(id.KOId)
	if s.IsRevoked(ko) {
		return classification{kind: classSplat, body: "revoked object"}, nil
	}
	if _, ok := s.GetOwner(ko); !ok {
		return classification{kind: classSplat, body: "no endpoint"}, nil
	}
	return classification{kind: classSend, target: ko}, nil
}

func deliverSend(s *store.Store, originalTarget id.KRef, msg capdata.Message, handles Handles, ksvc KernelServices) (DeliverResult, error) {
	cls, err := classify(s, originalTarget)
	if err != nil {
		return DeliverResult{}, err
	}

	switch cls.kind {
	case classRequeue:
		s.EnqueuePromiseMessage(cls.target.(id.KPId), msg)
		return DeliverResult{}, nil

	case classSplat:
		value := capdata.CapData{Body: cls.body}
		if cls.value != nil {
			value = *cls.value
		}
		if msg.Result != nil {
			_ = s.ResolveKernelPromise(*msg.Result, true, value)
		}
		// Identical refcount decrements regardless of outcome, against the
		// original (untranslated) refs: no endpoint call ever happened.
		s.DecrementRefCount(originalTarget, store.TagQueue, false)
		for _, slot := range msg.MethArgs.Slots {
			s.DecrementRefCount(slot, store.TagQueue, false)
		}
		if msg.Result != nil {
			s.DecrementRefCount(*msg.Result, store.TagQueue, false)
		}
		return DeliverResult{}, nil

	case classSend:
		ko := cls.target.(id.KOId)
		owner, _ := s.GetOwner(ko)
		if originalTarget != cls.target {
			// classify followed a fulfilled promise chain to ko: the queue's
			// hold was on originalTarget (the promise), not on ko, and
			// deliverToKernelService/deliverToEndpoint below only know to
			// drop ko's own hold. Drop the promise's separately here.
			s.DecrementRefCount(originalTarget, store.TagResolve, false)
		}
		if owner.IsKernel() {
			return deliverToKernelService(s, ko, msg, ksvc)
		}
		return deliverToEndpoint(s, owner, cls.target, msg, handles)

	default:
		return DeliverResult{}, kernelerr.New(kernelerr.ProtocolError, "", "unknown classification")
	}
}

func deliverToKernelService(s *store.Store, target id.KOId, msg capdata.Message, ksvc KernelServices) (DeliverResult, error) {
	value, rejected := ksvc.Invoke(target, msg)
	if msg.Result != nil {
		_ = s.ResolveKernelPromise(*msg.Result, rejected, value)
	}
	s.DecrementRefCount(target, store.TagQueue, false)
	for _, slot := range msg.MethArgs.Slots {
		s.DecrementRefCount(slot, store.TagQueue, false)
	}
	if msg.Result != nil {
		s.DecrementRefCount(*msg.Result, store.TagQueue, false)
	}
	return DeliverResult{}, nil
}

func deliverToEndpoint(s *store.Store, owner id.EndpointId, resolvedTarget id.KRef, msg capdata.Message, handles Handles) (DeliverResult, error) {
	if msg.Result != nil {
		s.SetDecider(*msg.Result, owner)
	}

	eTarget, err := translator.RefKtoE(s, owner, resolvedTarget, true)
	if err != nil {
		return DeliverResult{}, err
	}
	eMsg, err := translator.MessageKtoE(s, owner, msg)
	if err != nil {
		return DeliverResult{}, err
	}

	// Ownership of result/methargs/target has now crossed into owner's
	// c-list (freshly attached by the translations above, if new); drop the
	// kernel's own holding refcounts.
	s.DecrementRefCount(resolvedTarget, store.TagQueue, false)
	for _, slot := range msg.MethArgs.Slots {
		s.DecrementRefCount(slot, store.TagQueue, false)
	}
	if msg.Result != nil {
		s.DecrementRefCount(*msg.Result, store.TagQueue, false)
	}

	handle, ok := handles[owner]
	if !ok {
		if msg.Result != nil {
			_ = s.ResolveKernelPromise(*msg.Result, true, capdata.CapData{Body: "no endpoint"})
		}
		return DeliverResult{}, nil
	}

	result, err := handle.DeliverMessage(eTarget, eMsg)
	if err != nil {
		if msg.Result != nil {
			_ = s.ResolveKernelPromise(*msg.Result, true, capdata.CapData{Body: "delivery failed: " + err.Error()})
		}
		return DeliverResult{}, nil
	}
	return translateCrankResult(s, owner, result)
}

// deliverNotify implements #deliverNotify (spec §4.4).
func deliverNotify(s *store.Store, endpoint id.EndpointId, kpid id.KPId, handles Handles) (DeliverResult, error) {
	state, err := s.GetPromiseState(kpid)
	if err != nil {
		return DeliverResult{}, err
	}
	if state == store.Unresolved {
		return DeliverResult{}, kernelerr.New(kernelerr.ProtocolError, string(kpid), "notify on unresolved promise")
	}
	if !s.HasCListEntry(endpoint, kpid) {
		return DeliverResult{}, nil // already forgotten: "did delivery"
	}

	value := s.GetPromiseValue(kpid)
	targets := gc.GetKpidsToRetire(s, kpid, value)
	if len(targets) == 0 {
		return DeliverResult{}, nil
	}

	resolutions := make([]platform.Resolution, 0, len(targets))
	for i, t := range targets {
		tState, err := s.GetPromiseState(t)
		if err != nil {
			return DeliverResult{}, err
		}
		if tState == store.Unresolved {
			return DeliverResult{}, kernelerr.New(kernelerr.ProtocolError, string(t), "notify target unresolved")
		}
		tValue := s.GetPromiseValue(t)
		eref, err := translator.RefKtoE(s, endpoint, t, true)
		if err != nil {
			return DeliverResult{}, err
		}
		eValue, err := translator.CapDataKtoE(s, endpoint, tValue)
		if err != nil {
			return DeliverResult{}, err
		}
		resolutions = append(resolutions, platform.Resolution{
			Promise:  eref,
			Rejected: tState == store.Rejected,
			Value:    eValue,
		})
		if i > 0 {
			s.DecrementRefCount(t, store.TagResolve, false)
		}
	}

	handle, ok := handles[endpoint]
	if !ok {
		return DeliverResult{}, nil
	}
	cr, err := handle.DeliverNotify(resolutions)
	if err != nil {
		return DeliverResult{}, kernelerr.Wrap(kernelerr.DeliveryFailure, string(endpoint), err)
	}
	s.DecrementRefCount(kpid, store.TagResolve, false)
	return translateCrankResult(s, endpoint, cr)
}

// deliverGCAction translates each kref to its existing eref — never
// allocating — and calls the matching deliverDropExports/RetireExports/
// RetireImports method.
func deliverGCAction(s *store.Store, item store.RunQueueItem, handles Handles) (DeliverResult, error) {
	erefs := make([]id.ERef, 0, len(item.GCKrefs))
	for _, kref := range item.GCKrefs {
		eref, err := translator.RefKtoE(s, item.GCEndpoint, kref, false)
		if err != nil {
			return DeliverResult{}, err
		}
		erefs = append(erefs, eref)
	}

	handle, ok := handles[item.GCEndpoint]
	if !ok {
		return DeliverResult{}, nil
	}

	var cr platform.CrankResult
	var err error
	switch item.GCKind {
	case store.GCDropExports:
		cr, err = handle.DeliverDropExports(erefs)
	case store.GCRetireExports:
		cr, err = handle.DeliverRetireExports(erefs)
	case store.GCRetireImports:
		cr, err = handle.DeliverRetireImports(erefs)
	default:
		return DeliverResult{}, kernelerr.New(kernelerr.ProtocolError, item.GCKind.String(), "unknown GC action kind")
	}
	if err != nil {
		return DeliverResult{}, kernelerr.Wrap(kernelerr.DeliveryFailure, string(item.GCEndpoint), err)
	}
	return translateCrankResult(s, item.GCEndpoint, cr)
}

func deliverBringOutYourDead(s *store.Store, endpoint id.EndpointId, handles Handles) (DeliverResult, error) {
	handle, ok := handles[endpoint]
	if !ok {
		return DeliverResult{}, nil
	}
	cr, err := handle.DeliverBringOutYourDead()
	if err != nil {
		return DeliverResult{}, kernelerr.Wrap(kernelerr.DeliveryFailure, string(endpoint), err)
	}
	return translateCrankResult(s, endpoint, cr)
}

func translateCrankResult(s *store.Store, endpoint id.EndpointId, cr platform.CrankResult) (DeliverResult, error) {
	out := DeliverResult{Endpoint: endpoint}
	for _, sc := range cr.Syscalls {
		ksc, err := translator.SyscallVtoK(s, endpoint, sc)
		if err != nil {
			return DeliverResult{}, err
		}
		out.Syscalls = append(out.Syscalls, ksc)
	}
	if cr.Terminate != nil {
		info, err := translator.CapDataEtoK(s, endpoint, cr.Terminate.Info)
		if err != nil {
			return DeliverResult{}, err
		}
		out.Terminate = &Termination{
			Endpoint: cr.Terminate.Endpoint,
			Reject:   cr.Terminate.Reject,
			Info:     info,
		}
	}
	return out, nil
}
