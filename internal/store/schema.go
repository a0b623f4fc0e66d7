package store

import (
	"fmt"

	"slug/internal/id"
)

// Key schema (spec §4.1, §6). Keys are grouped by prefix so a KVStore
// backend can range-scan a component's state independent of the others.

func keyPromiseState(p id.KPId) string       { return fmt.Sprintf("%s.state", p) }
func keyPromiseValue(p id.KPId) string       { return fmt.Sprintf("%s.value", p) }
func keyPromiseDecider(p id.KPId) string     { return fmt.Sprintf("%s.decider", p) }
func keyPromiseSubscribers(p id.KPId) string { return fmt.Sprintf("%s.subscribers", p) }
func keyPromiseRefCount(p id.KPId) string    { return fmt.Sprintf("%s.refCount", p) }

func keyObjectOwner(o id.KOId) string    { return fmt.Sprintf("%s.owner", o) }
func keyObjectRevoked(o id.KOId) string  { return fmt.Sprintf("%s.revoked", o) }
func keyObjectPinned(o id.KOId) string   { return fmt.Sprintf("%s.pinned", o) }
func keyObjectDropped(o id.KOId) string  { return fmt.Sprintf("%s.dropped", o) }
func keyObjectRefCount(k id.KRef) string { return fmt.Sprintf("%s.refCount", k) }

func keyCLE(e id.EndpointId, eref id.ERef) string { return fmt.Sprintf("cle.%s.%s", e, eref) }
func keyCLK(e id.EndpointId, kref id.KRef) string { return fmt.Sprintf("clk.%s.%s", e, kref) }

func keyRunHead() string       { return "queue.run.head" }
func keyRunTail() string       { return "queue.run.tail" }
func keyRunItem(n int64) string { return fmt.Sprintf("queue.run.%d", n) }

func keyPromiseQHead(p id.KPId) string        { return fmt.Sprintf("queue.%s.head", p) }
func keyPromiseQTail(p id.KPId) string        { return fmt.Sprintf("queue.%s.tail", p) }
func keyPromiseQItem(p id.KPId, n int64) string { return fmt.Sprintf("queue.%s.%d", p, n) }

func keyNextObjectId(e id.EndpointId) string  { return fmt.Sprintf("e.nextObjectId.%s", e) }
func keyNextPromiseId(e id.EndpointId) string { return fmt.Sprintf("e.nextPromiseId.%s", e) }

func keyVatConfig(e id.EndpointId) string { return fmt.Sprintf("vatConfig.%s", e) }

func keyPinnedObjects() string { return "pinnedObjects" }
func keyInitialized() string   { return "initialized" }

func keyNextKOId() string { return "k.nextKOId" }
func keyNextKPId() string { return "k.nextKPId" }
func keyNextCapId() string { return "k.nextCapId" }

func keySubcluster(s id.SubclusterId) string { return fmt.Sprintf("subcluster.%s", s) }
func keyNextSubclusterId() string            { return "k.nextSubclusterId" }

func keyReapQueue() string { return "queue.reap" }
