// Package gc implements spec §4.3: reachable/recognizable accounting,
// the three-phase collectGarbage sweep, retireKernelObjects, and the
// transitive promise-chain walk getKpidsToRetire. The reap queue itself
// (scheduleReap/nextReapAction) lives on store.Store, since it is just
// more persistent kernel state; this package only reads and writes it
// through the Store's methods like every other collaborator.
package gc

import (
	"sort"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/kernelerr"
	"slug/internal/store"
)

type actionKey struct {
	endpoint id.EndpointId
	kind     store.GCActionKind
}

// Collect runs collectGarbage: sweeps every kref the last crank queued as
// maybeFree (and any the sweep itself cascades into), synthesising
// dropExport/retireExport/retireImport run-queue items. It opens and
// closes its own crank, since deleting objects/promises and adjusting
// refcounts must be atomic with each other. Returns nil if there was
// nothing to collect.
func Collect(s *store.Store) error {
	seed := s.MaybeFreeKrefs()
	if len(seed) == 0 {
		return nil
	}

	s.StartCrank()
	committed := false
	defer func() {
		if !committed {
			s.RollbackCrank()
		}
	}()

	grouped := map[actionKey][]id.KRef{}
	visited := map[string]bool{}
	worklist := append([]string{}, seed...)

	for len(worklist) > 0 {
		raw := worklist[0]
		worklist = worklist[1:]
		if visited[raw] {
			continue
		}
		visited[raw] = true

		kref, err := id.ParseKRef(raw)
		if err != nil {
			return kernelerr.New(kernelerr.ProtocolError, raw, "corrupt maybeFreeKrefs entry")
		}

		if kp, isPromise := kref.(id.KPId); isPromise {
			if n, _ := s.RefCount(kp); n != 0 {
				continue // reconciled since being queued
			}
			collectPromise(s, kp, grouped, &worklist)
			continue
		}

		ko := kref.(id.KOId)
		reach, recog := s.RefCount(ko)
		if reach != 0 {
			continue // became reachable again since being queued
		}

		owner, hasOwner := s.GetOwner(ko)
		if hasOwner && owner.IsKernel() {
			continue // kernel-service objects are never collected
		}

		// Phase 1: reachable=0 always synthesises dropExport, independent of
		// recognizable, but only once, since ko may linger recognizable-only
		// across several GC passes before recognizable itself reaches zero.
		if hasOwner && !s.IsExportDropped(ko) {
			grouped[actionKey{owner, store.GCDropExports}] = append(grouped[actionKey{owner, store.GCDropExports}], ko)
			s.MarkExportDropped(ko)
		}
		// Phase 2 (retireImport) applies to every importer whose own c-list
		// entry is already unreachable, independent of whether ko itself is
		// deleted below.
		retireImportsForImporters(s, ko, owner, grouped)

		if recog != 0 {
			continue // still recognizable: kept around, not deleted yet
		}
		if hasOwner {
			grouped[actionKey{owner, store.GCRetireExports}] = append(grouped[actionKey{owner, store.GCRetireExports}], ko)
			s.ForgetKref(owner, ko)
		}
		s.DeleteKernelObject(ko)
	}

	for _, item := range groupedToItems(grouped) {
		s.EnqueueRun(item)
	}

	if err := s.EndCrank(); err != nil {
		return err
	}
	committed = true
	return nil
}

func collectPromise(s *store.Store, kp id.KPId, grouped map[actionKey][]id.KRef, worklist *[]string) {
	if state, err := s.GetPromiseState(kp); err == nil && state != store.Unresolved {
		value := s.GetPromiseValue(kp)
		for _, slot := range value.Slots {
			s.DecrementRefCount(slot, store.TagDecrement, false)
		}
	}
	retireImportsForImporters(s, kp, "", grouped)
	s.DeleteKernelPromise(kp)
	// Cascading decrements above may have produced new maybeFree candidates;
	// pull them into this same sweep so a whole chain collects in one pass.
	for _, raw := range s.MaybeFreeKrefs() {
		*worklist = append(*worklist, raw)
	}
}

// retireImportsForImporters synthesises retireImport actions for every
// endpoint other than owner holding a c-list entry for kref whose entry is
// not (still) marked reachable, and forgets those c-list entries. owner
// may be "" (no endpoint excluded) when kref is a promise, which has no
// owner concept once settled (its decider was cleared on resolution).
func retireImportsForImporters(s *store.Store, kref id.KRef, owner id.EndpointId, grouped map[actionKey][]id.KRef) {
	for _, importer := range s.Importers(kref, owner) {
		if eref, ok := s.KrefToEref(importer, kref); ok && s.CListReachable(importer, eref) {
			continue
		}
		key := actionKey{importer, store.GCRetireImports}
		grouped[key] = append(grouped[key], kref)
		s.ForgetKref(importer, kref)
	}
}

func groupedToItems(grouped map[actionKey][]id.KRef) []store.RunQueueItem {
	keys := make([]actionKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endpoint != keys[j].endpoint {
			return keys[i].endpoint < keys[j].endpoint
		}
		return keys[i].kind < keys[j].kind
	})
	items := make([]store.RunQueueItem, 0, len(keys))
	for _, k := range keys {
		krefs := grouped[k]
		sort.Slice(krefs, func(i, j int) bool { return krefs[i].String() < krefs[j].String() })
		items = append(items, store.GCActionItem(k.kind, k.endpoint, krefs))
	}
	return items
}

// RetireKernelObjects retires each kref directly: for every importer other
// than its owner, synthesises retireImport and forgets the c-list entry;
// forgets the owner's own entry (if any); deletes the kernel record. Used
// outside the main collectGarbage sweep — e.g. by administrative
// revocation — where the caller already knows the krefs are unreachable
// and wants the retire side effects without a full maybeFreeKrefs scan.
// Callers must be inside a crank.
func RetireKernelObjects(s *store.Store, krefs []id.KRef) []store.RunQueueItem {
	grouped := map[actionKey][]id.KRef{}
	for _, kref := range krefs {
		var owner id.EndpointId
		if ko, ok := kref.(id.KOId); ok {
			if o, has := s.GetOwner(ko); has {
				owner = o
				s.ForgetKref(o, ko)
			}
		}
		retireImportsForImporters(s, kref, owner, grouped)
		switch k := kref.(type) {
		case id.KOId:
			s.DeleteKernelObject(k)
		case id.KPId:
			s.DeleteKernelPromise(k)
		}
	}
	return groupedToItems(grouped)
}

// GetKpidsToRetire walks every promise-typed slot of every settled promise
// reachable from origKpid's value, transitively, returning the full set
// (including origKpid itself) in visitation order. value is origKpid's
// own settled value, supplied by the caller so this never needs to look
// it up again. Cycle-safe: each promise id is visited at most once.
func GetKpidsToRetire(s *store.Store, origKpid id.KPId, value capdata.CapData) []id.KPId {
	visited := map[id.KPId]bool{origKpid: true}
	order := []id.KPId{origKpid}
	queue := []struct {
		id    id.KPId
		value capdata.CapData
		known bool
	}{{origKpid, value, true}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		v := cur.value
		if !cur.known {
			state, err := s.GetPromiseState(cur.id)
			if err != nil || state == store.Unresolved {
				continue
			}
			v = s.GetPromiseValue(cur.id)
		}
		for _, slot := range v.Slots {
			kp, ok := slot.(id.KPId)
			if !ok || visited[kp] {
				continue
			}
			visited[kp] = true
			order = append(order, kp)
			queue = append(queue, struct {
				id    id.KPId
				value capdata.CapData
				known bool
			}{kp, capdata.CapData{}, false})
		}
	}
	return order
}
