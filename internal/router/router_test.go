package router

import (
	"testing"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/platform"
	"slug/internal/store"
	"slug/internal/store/memkv"
)

// fakeHandle records every delivery it receives and returns a fixed,
// per-call configurable platform.CrankResult.
type fakeHandle struct {
	delivered   []capdata.EMessage
	lastTarget  id.ERef
	result      platform.CrankResult
	err         error
}

func (h *fakeHandle) DeliverMessage(target id.ERef, msg capdata.EMessage) (platform.CrankResult, error) {
	h.lastTarget = target
	h.delivered = append(h.delivered, msg)
	return h.result, h.err
}
func (h *fakeHandle) DeliverNotify(resolutions []platform.Resolution) (platform.CrankResult, error) {
	return h.result, h.err
}
func (h *fakeHandle) DeliverDropExports(refs []id.ERef) (platform.CrankResult, error) {
	return h.result, h.err
}
func (h *fakeHandle) DeliverRetireExports(refs []id.ERef) (platform.CrankResult, error) {
	return h.result, h.err
}
func (h *fakeHandle) DeliverRetireImports(refs []id.ERef) (platform.CrankResult, error) {
	return h.result, h.err
}
func (h *fakeHandle) DeliverBringOutYourDead() (platform.CrankResult, error) {
	return h.result, h.err
}

type noKernelServices struct{}

func (noKernelServices) Invoke(target id.KOId, msg capdata.Message) (capdata.CapData, bool) {
	return capdata.CapData{Body: "unexpected kernel-service call"}, true
}

func newTestStore() *store.Store {
	return store.New(memkv.New())
}

// Scenario 1 (spec §8): object send to a live target delivers through the
// owner's handle and decrements target/result refcounts. ko is already
// named in v1's c-list (as the scenario specifies); kp is new to v1, so
// delivery also exercises the translator's allocate-on-first-use path for
// the result promise, which is why kp ends up still holding a refcount
// afterward (its own new c-list entry) rather than at zero.
func TestDeliverSendToLiveTarget(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")

	s.StartCrank()
	s.PutVatConfig(store.VatConfigRecord{Endpoint: v1, Body: "{}", Alive: true})

	ko := s.InitKernelObject(v1)
	koEref := id.Object(id.Import, 7)
	s.AddCListEntry(v1, ko, koEref, true)
	s.IncrementRefCount(ko, store.TagCList, false) // (1,1): already named by v1

	kp := s.InitKernelPromise()

	// Mirror Engine.EnqueueExternal's convention: the queue holds its own
	// +1 on everything it references.
	s.IncrementRefCount(ko, store.TagQueue, false) // (2,2)
	s.IncrementRefCount(kp, store.TagQueue, false) // 1

	s.EnqueueRun(store.SendItem(ko, capdata.Message{
		MethArgs: capdata.CapData{Body: "foo"},
		Result:   &kp,
	}))
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	item, ok := func() (store.RunQueueItem, bool) {
		s.StartCrank()
		defer func() { _ = s.EndCrank() }()
		return s.DequeueRun()
	}()
	if !ok {
		t.Fatalf("expected a queued send item")
	}

	handle := &fakeHandle{}
	handles := Handles{v1: handle}

	s.StartCrank()
	result, err := Deliver(s, item, handles, noKernelServices{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if len(handle.delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(handle.delivered))
	}
	if handle.lastTarget != koEref {
		t.Fatalf("expected delivery to %s, got %s", koEref, handle.lastTarget)
	}
	if handle.delivered[0].MethArgs.Body != "foo" {
		t.Fatalf("expected body %q, got %q", "foo", handle.delivered[0].MethArgs.Body)
	}
	wantResultEref := id.Promise(id.Import, 1)
	if handle.delivered[0].Result == nil || *handle.delivered[0].Result != wantResultEref {
		t.Fatalf("expected result eref %s, got %v", wantResultEref, handle.delivered[0].Result)
	}
	if len(result.Syscalls) != 0 {
		t.Fatalf("expected no syscalls from a bare fake delivery, got %d", len(result.Syscalls))
	}

	reach, recog := s.RefCount(ko)
	if reach != 1 || recog != 1 {
		t.Fatalf("expected ko refcount (1,1) after the queue's hold is dropped, got (%d,%d)", reach, recog)
	}
	kpReach, _ := s.RefCount(kp)
	if kpReach != 1 {
		t.Fatalf("expected kp refcount 1 (now held by v1's fresh c-list entry), got %d", kpReach)
	}
	if eref, ok := s.KrefToEref(v1, kp); !ok || eref != wantResultEref {
		t.Fatalf("expected v1's c-list to now name kp as %s, got %s (ok=%v)", wantResultEref, eref, ok)
	}

	if decider, ok := s.GetDecider(kp); !ok || decider != v1 {
		t.Fatalf("expected kp's decider to be v1, got %q (ok=%v)", decider, ok)
	}
	if s.RunQueueLength() != 0 {
		t.Fatalf("expected an empty run queue, got length %d", s.RunQueueLength())
	}
}

// Scenario 2 (spec §8): a send to a revoked object splats with a rejection
// naming "revoked object" and still decrements every referenced slot.
func TestDeliverSendToRevokedObject(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")

	s.StartCrank()
	ko := s.InitKernelObject(v1)
	s.SetRevoked(ko, true)
	s.IncrementRefCount(ko, store.TagQueue, false) // target
	s.IncrementRefCount(ko, store.TagQueue, false) // slot 1
	s.IncrementRefCount(ko, store.TagQueue, false) // slot 2

	kp := s.InitKernelPromise()
	s.SetDecider(kp, v1)
	s.IncrementRefCount(kp, store.TagQueue, false)

	s.EnqueueRun(store.SendItem(ko, capdata.Message{
		MethArgs: capdata.CapData{Body: "m", Slots: []id.KRef{ko, ko}},
		Result:   &kp,
	}))
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	item, ok := func() (store.RunQueueItem, bool) {
		s.StartCrank()
		defer func() { _ = s.EndCrank() }()
		return s.DequeueRun()
	}()
	if !ok {
		t.Fatalf("expected a queued send item")
	}

	s.StartCrank()
	_, err := Deliver(s, item, Handles{}, noKernelServices{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	state, err := s.GetPromiseState(kp)
	if err != nil {
		t.Fatalf("GetPromiseState: %v", err)
	}
	if state != store.Rejected {
		t.Fatalf("expected kp rejected, got %v", state)
	}
	value := s.GetPromiseValue(kp)
	if value.Body != "revoked object" {
		t.Fatalf("expected rejection body %q, got %q", "revoked object", value.Body)
	}
	if len(value.Slots) != 0 {
		t.Fatalf("expected no slots on the rejection value, got %v", value.Slots)
	}

	reach, _ := s.RefCount(ko)
	if reach != 0 {
		t.Fatalf("expected ko refcount 0 after three decrements, got %d", reach)
	}
	kpReach, _ := s.RefCount(kp)
	if kpReach != 0 {
		t.Fatalf("expected kp refcount 0 after decrement, got %d", kpReach)
	}
}

// Scenario 3 (spec §8): a send to an unresolved promise is requeued onto
// the promise's own pending-message queue, with no refcount changes and no
// endpoint call.
func TestDeliverSendToUnresolvedPromise(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")

	s.StartCrank()
	kp := s.InitKernelPromise()
	s.SetDecider(kp, v1)
	s.IncrementRefCount(kp, store.TagQueue, false)
	msg := capdata.Message{MethArgs: capdata.CapData{Body: "m"}}
	s.EnqueueRun(store.SendItem(kp, msg))
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	item, ok := func() (store.RunQueueItem, bool) {
		s.StartCrank()
		defer func() { _ = s.EndCrank() }()
		return s.DequeueRun()
	}()
	if !ok {
		t.Fatalf("expected a queued send item")
	}

	handle := &fakeHandle{}
	s.StartCrank()
	_, err := Deliver(s, item, Handles{v1: handle}, noKernelServices{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if len(handle.delivered) != 0 {
		t.Fatalf("expected no endpoint call, got %d deliveries", len(handle.delivered))
	}
	kpReach, _ := s.RefCount(kp)
	if kpReach != 1 {
		t.Fatalf("expected kp refcount unchanged at 1, got %d", kpReach)
	}
	if s.RunQueueLength() != 0 {
		t.Fatalf("expected nothing re-enqueued onto the run queue, got length %d", s.RunQueueLength())
	}

	pending := func() []capdata.Message {
		s.StartCrank()
		defer func() { _ = s.EndCrank() }()
		return s.DrainPromiseMessages(kp)
	}()
	if len(pending) != 1 || pending[0].MethArgs.Body != "m" {
		t.Fatalf("expected the message requeued onto kp's pending queue, got %v", pending)
	}
}
