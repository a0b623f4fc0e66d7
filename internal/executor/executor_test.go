package executor

import (
	"context"
	"testing"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/platform"
	"slug/internal/store"
	"slug/internal/store/memkv"
	"slug/internal/vsyscall"
)

// scriptedHandle replays a fixed sequence of CrankResults, one per
// DeliverMessage call, and records every message it was handed.
type scriptedHandle struct {
	script    []platform.CrankResult
	next      int
	delivered []capdata.EMessage
}

func (h *scriptedHandle) DeliverMessage(target id.ERef, msg capdata.EMessage) (platform.CrankResult, error) {
	h.delivered = append(h.delivered, msg)
	if h.next >= len(h.script) {
		return platform.CrankResult{}, nil
	}
	r := h.script[h.next]
	h.next++
	return r, nil
}
func (h *scriptedHandle) DeliverNotify(resolutions []platform.Resolution) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}
func (h *scriptedHandle) DeliverDropExports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}
func (h *scriptedHandle) DeliverRetireExports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}
func (h *scriptedHandle) DeliverRetireImports(refs []id.ERef) (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}
func (h *scriptedHandle) DeliverBringOutYourDead() (platform.CrankResult, error) {
	return platform.CrankResult{}, nil
}

type noServices struct{}

func (noServices) Invoke(target id.KOId, msg capdata.Message) (capdata.CapData, bool) {
	return capdata.CapData{Body: "unexpected kernel-service call"}, true
}

// Scenario 1 (spec §8), end-to-end: a message enqueued externally is
// delivered to its live owner, and the run queue is quiescent afterward.
func TestEngineDeliversQueuedSendToLiveTarget(t *testing.T) {
	s := store.New(memkv.New())
	v1 := id.EndpointId("v1")

	s.StartCrank()
	s.PutVatConfig(store.VatConfigRecord{Endpoint: v1, Body: "{}", Alive: true})
	ko := s.InitKernelObject(v1)
	eref := id.Object(id.Import, 7)
	s.AddCListEntry(v1, ko, eref, true)
	s.IncrementRefCount(ko, store.TagCList, false)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	handle := &scriptedHandle{}
	engine := New(s, noServices{}, nil)
	engine.AttachHandle(v1, handle)

	engine.EnqueueExternal(ko, capdata.Message{MethArgs: capdata.CapData{Body: "foo"}})
	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(handle.delivered) != 1 || handle.delivered[0].MethArgs.Body != "foo" {
		t.Fatalf("expected one delivery with body %q, got %v", "foo", handle.delivered)
	}
	if s.RunQueueLength() != 0 {
		t.Fatalf("expected an empty run queue, got length %d", s.RunQueueLength())
	}
	reach, recog := s.RefCount(ko)
	if reach != 1 || recog != 1 {
		t.Fatalf("expected ko refcount (1,1) after the queue's hold drains, got (%d,%d)", reach, recog)
	}
}

// Scenario 4 (spec §8): once a promise's decider resolves it, every
// message that had been pending on it is requeued as a fresh Send, and
// invariant P2 holds immediately (no decider, no subscribers, no pending
// queue on a settled promise).
func TestEngineResolutionDrainsPendingMessages(t *testing.T) {
	s := store.New(memkv.New())
	v1 := id.EndpointId("v1")

	s.StartCrank()
	s.PutVatConfig(store.VatConfigRecord{Endpoint: v1, Body: "{}", Alive: true})

	kp3 := s.InitKernelPromise()
	s.SetDecider(kp3, v1)
	kp3Eref := id.Promise(id.Import, 1)
	s.AddCListEntry(v1, kp3, kp3Eref, true)
	s.IncrementRefCount(kp3, store.TagCList, false)

	ko99 := s.InitKernelObject(v1)
	ko99Eref := id.Object(id.Import, 9)
	s.AddCListEntry(v1, ko99, ko99Eref, true)
	s.IncrementRefCount(ko99, store.TagCList, false)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	handle := &scriptedHandle{
		script: []platform.CrankResult{
			{
				Syscalls: []vsyscall.Syscall{{
					Kind: vsyscall.Resolve,
					Resolutions: []vsyscall.Resolution{{
						Promise:  kp3Eref,
						Rejected: false,
						Value:    capdata.ECapData{Slots: []id.ERef{ko99Eref}},
					}},
				}},
			},
		},
	}
	engine := New(s, noServices{}, nil)
	engine.AttachHandle(v1, handle)

	// Enqueue the pending message against kp3 first (it requeues onto kp3's
	// own pending queue, since kp3 is unresolved), then a second message
	// to ko99 whose delivery triggers the resolve syscall above.
	engine.EnqueueExternal(kp3, capdata.Message{MethArgs: capdata.CapData{Body: "pending-call"}})
	engine.EnqueueExternal(ko99, capdata.Message{MethArgs: capdata.CapData{Body: "trigger"}})

	if err := engine.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(handle.delivered) != 2 {
		t.Fatalf("expected two deliveries (trigger, then the drained pending call), got %d: %v", len(handle.delivered), handle.delivered)
	}
	if handle.delivered[0].MethArgs.Body != "trigger" {
		t.Fatalf("expected first delivery to be the trigger call, got %q", handle.delivered[0].MethArgs.Body)
	}
	if handle.delivered[1].MethArgs.Body != "pending-call" {
		t.Fatalf("expected second delivery to be the drained pending call, got %q", handle.delivered[1].MethArgs.Body)
	}

	state, err := s.GetPromiseState(kp3)
	if err != nil {
		t.Fatalf("GetPromiseState: %v", err)
	}
	if state != store.Fulfilled {
		t.Fatalf("expected kp3 fulfilled, got %v", state)
	}
	if decider, ok := s.GetDecider(kp3); ok {
		t.Fatalf("expected P2: no decider on a settled promise, got %q", decider)
	}
	if subs := s.Subscribers(kp3); len(subs) != 0 {
		t.Fatalf("expected P2: no subscribers on a settled promise, got %v", subs)
	}
	if pending := func() []capdata.Message {
		s.StartCrank()
		defer func() { _ = s.EndCrank() }()
		return s.DrainPromiseMessages(kp3)
	}(); len(pending) != 0 {
		t.Fatalf("expected P2: no pending messages on a settled promise, got %v", pending)
	}
	if s.RunQueueLength() != 0 {
		t.Fatalf("expected an empty run queue, got length %d", s.RunQueueLength())
	}
}
