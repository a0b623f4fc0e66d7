package store

import (
	"slug/internal/capdata"
	"slug/internal/id"
)

// PromiseState is the closed three-state sum type from spec §3.
type PromiseState int

const (
	Unresolved PromiseState = iota
	Fulfilled
	Rejected
)

func (s PromiseState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func ParsePromiseState(s string) (PromiseState, bool) {
	switch s {
	case "unresolved":
		return Unresolved, true
	case "fulfilled":
		return Fulfilled, true
	case "rejected":
		return Rejected, true
	default:
		return 0, false
	}
}

// RefTag annotates a refcount adjustment with the reason it happened, purely
// for observability (logging / debugging); it has no effect on accounting.
type RefTag string

const (
	TagCList    RefTag = "clist"
	TagQueue    RefTag = "queue"
	TagPin      RefTag = "pin"
	TagExport   RefTag = "export"
	TagResolve  RefTag = "resolve"
	TagDecrement RefTag = "decrement"
)

// CListEntry is the bidirectional per-endpoint mapping from spec §3.
type CListEntry struct {
	Endpoint  id.EndpointId
	Kref      id.KRef
	Eref      id.ERef
	Reachable bool
}

// RunQueueItemKind discriminates the RunQueueItem union.
type RunQueueItemKind int

const (
	ItemSend RunQueueItemKind = iota
	ItemNotify
	ItemGCAction
	ItemBringOutYourDead
)

// GCActionKind discriminates the three GC action flavors (spec §3, §4.3).
type GCActionKind int

const (
	GCDropExports GCActionKind = iota
	GCRetireExports
	GCRetireImports
)

func (k GCActionKind) String() string {
	switch k {
	case GCDropExports:
		return "dropExport"
	case GCRetireExports:
		return "retireExport"
	case GCRetireImports:
		return "retireImport"
	default:
		return "unknown"
	}
}

// RunQueueItem is the tagged union from spec §3: Send | Notify | GCAction |
// BringOutYourDead. Kind discriminates which fields are meaningful;
// unknown Kinds are a spec §7 ProtocolError (engine-fatal).
type RunQueueItem struct {
	Kind RunQueueItemKind

	// ItemSend
	Target  id.KRef
	Message capdata.Message

	// ItemNotify
	NotifyEndpoint id.EndpointId
	NotifyKPId     id.KPId

	// ItemGCAction
	GCKind     GCActionKind
	GCEndpoint id.EndpointId
	GCKrefs    []id.KRef

	// ItemBringOutYourDead
	ReapEndpoint id.EndpointId
}

func SendItem(target id.KRef, msg capdata.Message) RunQueueItem {
	return RunQueueItem{Kind: ItemSend, Target: target, Message: msg}
}

func NotifyItem(e id.EndpointId, p id.KPId) RunQueueItem {
	return RunQueueItem{Kind: ItemNotify, NotifyEndpoint: e, NotifyKPId: p}
}

func GCActionItem(kind GCActionKind, e id.EndpointId, krefs []id.KRef) RunQueueItem {
	return RunQueueItem{Kind: ItemGCAction, GCKind: kind, GCEndpoint: e, GCKrefs: krefs}
}

func BringOutYourDeadItem(e id.EndpointId) RunQueueItem {
	return RunQueueItem{Kind: ItemBringOutYourDead, ReapEndpoint: e}
}

// PromiseRecord is the in-memory projection of a KernelPromise used by
// callers that want the full picture in one call (Store.GetPromise).
type PromiseRecord struct {
	Id          id.KPId
	State       PromiseState
	Value       capdata.CapData
	Decider     id.EndpointId // zero value means "no decider"
	HasDecider  bool
	Subscribers []id.EndpointId
	RefCount    int64
}

// ObjectRecord is the in-memory projection of a KernelObject.
type ObjectRecord struct {
	Id           id.KOId
	Owner        id.EndpointId
	HasOwner     bool
	Revoked      bool
	Pinned       bool
	Dropped      bool
	Reachable    int64
	Recognizable int64
}

// Subcluster mirrors spec §3's Subcluster entity.
type Subcluster struct {
	Id         id.SubclusterId
	ConfigBody string
	Vats       []id.EndpointId
}

// VatConfigRecord is the persisted record behind vatConfig.<endpoint>; Alive
// false means the endpoint has been marked terminated and is draining.
type VatConfigRecord struct {
	Endpoint id.EndpointId
	Body     string
	Alive    bool
}
