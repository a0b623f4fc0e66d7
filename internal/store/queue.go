package store

import (
	"strconv"

	"slug/internal/id"
)

// EnqueueRun appends item to the tail of the global run queue (spec §3, §5:
// strict FIFO).
func (s *Store) EnqueueRun(item RunQueueItem) {
	s.requireCrank()
	tail := s.mustInt(keyRunTail())
	s.backend.Set(keyRunItem(tail), encodeRunQueueItem(item))
	s.backend.Set(keyRunTail(), strconv.FormatInt(tail+1, 10))
	if s.runQueueLengthValid {
		s.runQueueLengthCache++
	}
}

// DequeueRun pops and returns the head item, or ok=false if the queue is
// empty.
func (s *Store) DequeueRun() (RunQueueItem, bool) {
	s.requireCrank()
	head := s.mustInt(keyRunHead())
	tail := s.mustInt(keyRunTail())
	if head >= tail {
		return RunQueueItem{}, false
	}
	raw, ok := s.backend.Get(keyRunItem(head))
	if !ok {
		return RunQueueItem{}, false
	}
	s.backend.Delete(keyRunItem(head))
	s.backend.Set(keyRunHead(), strconv.FormatInt(head+1, 10))
	if s.runQueueLengthValid {
		s.runQueueLengthCache--
	}
	return decodeRunQueueItem(raw), true
}

// RunQueueLength returns the number of items currently queued. A small
// write-through cache (spec §4.1) avoids re-deriving head/tail on every
// call; it is invalidated on rollback (see Store.RollbackCrank).
func (s *Store) RunQueueLength() int64 {
	if s.runQueueLengthValid {
		return s.runQueueLengthCache
	}
	head := s.mustInt(keyRunHead())
	tail := s.mustInt(keyRunTail())
	s.runQueueLengthCache = tail - head
	s.runQueueLengthValid = true
	return s.runQueueLengthCache
}

func encodeRunQueueItem(item RunQueueItem) string {
	switch item.Kind {
	case ItemSend:
		return "send|" + item.Target.String() + "|" + encodeMessage(item.Message)
	case ItemNotify:
		return "notify|" + string(item.NotifyEndpoint) + "|" + string(item.NotifyKPId)
	case ItemGCAction:
		return "gc|" + item.GCKind.String() + "|" + string(item.GCEndpoint) + "|" + joinKrefs(item.GCKrefs)
	case ItemBringOutYourDead:
		return "boyd|" + string(item.ReapEndpoint)
	default:
		panic("store: unknown RunQueueItem kind")
	}
}

func decodeRunQueueItem(s string) RunQueueItem {
	tag, rest := splitFirst(s)
	switch tag {
	case "send":
		targetRaw, rest2 := splitFirst(rest)
		target, err := id.ParseKRef(targetRaw)
		if err != nil {
			panic("store: corrupt run-queue send item: " + s)
		}
		return SendItem(target, decodeMessage(rest2))
	case "notify":
		epRaw, kpRaw := splitFirst(rest)
		return NotifyItem(id.EndpointId(epRaw), id.KPId(kpRaw))
	case "gc":
		kindRaw, rest2 := splitFirst(rest)
		epRaw, krefsRaw := splitFirst(rest2)
		kind := parseGCActionKind(kindRaw)
		return GCActionItem(kind, id.EndpointId(epRaw), splitKrefs(krefsRaw))
	case "boyd":
		return BringOutYourDeadItem(id.EndpointId(rest))
	default:
		panic("store: unknown run-queue item tag: " + tag)
	}
}

func parseGCActionKind(s string) GCActionKind {
	switch s {
	case "dropExport":
		return GCDropExports
	case "retireExport":
		return GCRetireExports
	case "retireImport":
		return GCRetireImports
	default:
		panic("store: unknown GC action kind: " + s)
	}
}

func splitFirst(s string) (head, rest string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func joinKrefs(krefs []id.KRef) string {
	out := ""
	for i, k := range krefs {
		if i > 0 {
			out += ","
		}
		out += k.String()
	}
	return out
}

func splitKrefs(s string) []id.KRef {
	if s == "" {
		return nil
	}
	var out []id.KRef
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				kref, err := id.ParseKRef(s[start:i])
				if err == nil {
					out = append(out, kref)
				}
			}
			start = i + 1
		}
	}
	return out
}
