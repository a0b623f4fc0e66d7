package gc

import (
	"reflect"
	"testing"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/store"
	"slug/internal/store/memkv"
)

func newTestStore() *store.Store {
	return store.New(memkv.New())
}

// Scenario 5 (spec §8): a fulfilled promise chain kp1 -> kp2 -> kp3 -> "val"
// with no other references collects entirely once kp1's refcount reaches
// zero, with no retireImport action synthesised (nothing ever held a
// c-list entry for any of them).
func TestCollectGarbageSweepsUnreachablePromiseChain(t *testing.T) {
	s := newTestStore()

	s.StartCrank()
	kp3 := s.InitKernelPromise()
	if err := s.ResolveKernelPromise(kp3, false, capdata.CapData{Body: "val"}); err != nil {
		t.Fatalf("resolve kp3: %v", err)
	}
	kp2 := s.InitKernelPromise()
	if err := s.ResolveKernelPromise(kp2, false, capdata.CapData{Slots: []id.KRef{kp3}}); err != nil {
		t.Fatalf("resolve kp2: %v", err)
	}
	kp1 := s.InitKernelPromise()
	if err := s.ResolveKernelPromise(kp1, false, capdata.CapData{Slots: []id.KRef{kp2}}); err != nil {
		t.Fatalf("resolve kp1: %v", err)
	}

	s.IncrementRefCount(kp1, store.TagQueue, false)
	s.DecrementRefCount(kp1, store.TagQueue, false) // 1 -> 0, queues kp1 for GC
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if err := Collect(s); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	for _, p := range []id.KPId{kp1, kp2, kp3} {
		if s.PromiseExists(p) {
			t.Fatalf("expected %s to be collected, but it still exists", p)
		}
	}
	if s.RunQueueLength() != 0 {
		t.Fatalf("expected no run-queue items (no importers to retire against), got length %d", s.RunQueueLength())
	}
}

// Invariant P6: maybeFreeKrefs is empty at the start of every crank, even
// right after a crank that populated it — StartCrank always resets it.
func TestMaybeFreeKrefsEmptyAtCrankStart(t *testing.T) {
	s := newTestStore()

	s.StartCrank()
	kp := s.InitKernelPromise()
	s.IncrementRefCount(kp, store.TagQueue, false)
	s.DecrementRefCount(kp, store.TagQueue, false)
	if got := s.MaybeFreeKrefs(); len(got) != 1 {
		t.Fatalf("expected kp queued for GC within its own crank, got %v", got)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	s.StartCrank()
	if got := s.MaybeFreeKrefs(); len(got) != 0 {
		t.Fatalf("P6 violated: expected an empty maybeFreeKrefs set at crank start, got %v", got)
	}
	_ = s.EndCrank()
}

// GetKpidsToRetire is deterministic and stable under reapplication: calling
// it twice with the same (origKpid, value) pair over an unchanged store
// walks the same transitive promise chain and returns the same set both
// times, in the same order.
func TestGetKpidsToRetireStableUnderReapplication(t *testing.T) {
	s := newTestStore()

	s.StartCrank()
	kp3 := s.InitKernelPromise()
	if err := s.ResolveKernelPromise(kp3, false, capdata.CapData{Body: "val"}); err != nil {
		t.Fatalf("resolve kp3: %v", err)
	}
	kp2 := s.InitKernelPromise()
	if err := s.ResolveKernelPromise(kp2, false, capdata.CapData{Slots: []id.KRef{kp3}}); err != nil {
		t.Fatalf("resolve kp2: %v", err)
	}
	kp1 := s.InitKernelPromise()
	value := capdata.CapData{Slots: []id.KRef{kp2}}
	if err := s.ResolveKernelPromise(kp1, false, value); err != nil {
		t.Fatalf("resolve kp1: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	first := GetKpidsToRetire(s, kp1, value)
	second := GetKpidsToRetire(s, kp1, value)

	want := []id.KPId{kp1, kp2, kp3}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("expected %v, got %v", want, first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected reapplication to be stable: first=%v second=%v", first, second)
	}

	// Once those promises are actually retired (deleted), recomputing over
	// the same (kp1, value) no longer finds anything beyond what value
	// itself names directly — the chain cannot be walked further.
	s.StartCrank()
	s.DeleteKernelPromise(kp2)
	s.DeleteKernelPromise(kp3)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	third := GetKpidsToRetire(s, kp1, value)
	if !reflect.DeepEqual(third, []id.KPId{kp1, kp2}) {
		t.Fatalf("expected the walk to still name kp2 (directly in kp1's own value) but stop there, got %v", third)
	}
}

// GC phase 1's dropExport/retireExport split: an object's last importer
// dropping it reaches reachable=0 while recognizable stays positive (the
// onlyRecognizable export credit from spec §4.2's allocation-on-export).
// Collect must still synthesise dropExport for the owner even though the
// object is not deleted, and must not synthesise retireExport or delete it
// until recognizable independently reaches zero too.
func TestCollectDropExportFiresIndependentlyOfRetire(t *testing.T) {
	s := newTestStore()
	owner := id.EndpointId("v1")
	importer := id.EndpointId("v2")

	s.StartCrank()
	s.PutVatConfig(store.VatConfigRecord{Endpoint: owner, Body: "{}", Alive: true})
	s.PutVatConfig(store.VatConfigRecord{Endpoint: importer, Body: "{}", Alive: true})
	ko := s.InitKernelObject(owner)
	s.IncrementRefCount(ko, store.TagExport, true) // recognizable-only export credit: (0,1)
	eref := id.Object(id.Import, 1)
	s.AddCListEntry(importer, ko, eref, true)
	s.IncrementRefCount(ko, store.TagCList, false) // importer's hold: (1,2)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	s.StartCrank()
	s.DecrementRefCount(ko, store.TagCList, false) // importer drops it: (0,1)
	s.ForgetKref(importer, ko)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if err := Collect(s); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if !s.ObjectExists(ko) {
		t.Fatalf("expected %s to still exist (recognizable=1), but it was deleted", ko)
	}
	if !s.IsExportDropped(ko) {
		t.Fatalf("expected %s to be marked export-dropped", ko)
	}

	s.StartCrank()
	item, ok := s.DequeueRun()
	if !ok {
		t.Fatalf("expected a queued GC action")
	}
	if item.Kind != store.ItemGCAction || item.GCKind != store.GCDropExports || item.GCEndpoint != owner {
		t.Fatalf("expected a dropExport action for %s, got %+v", owner, item)
	}
	if _, more := s.DequeueRun(); more {
		t.Fatalf("expected no retireExport action while recognizable is still positive")
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	// Now the owner itself lets go of the recognizable-only credit: recognizable
	// reaches zero and the object is finally retired and deleted.
	s.StartCrank()
	s.DecrementRefCount(ko, store.TagExport, true)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if err := Collect(s); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.ObjectExists(ko) {
		t.Fatalf("expected %s to be deleted once recognizable reached zero", ko)
	}

	var sawRetire bool
	s.StartCrank()
	for {
		item, ok := s.DequeueRun()
		if !ok {
			break
		}
		if item.Kind == store.ItemGCAction && item.GCKind == store.GCRetireExports && item.GCEndpoint == owner {
			sawRetire = true
		}
		if item.Kind == store.ItemGCAction && item.GCKind == store.GCDropExports {
			t.Fatalf("expected no second dropExport notification, got %+v", item)
		}
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}
	if !sawRetire {
		t.Fatalf("expected a retireExport action for %s once recognizable hit zero", owner)
	}
}
