// Package capdata holds the opaque-body-plus-slots capability data values
// that flow across the kernel/endpoint boundary, in both kernel-global and
// endpoint-local flavors.
package capdata

import "slug/internal/id"

// CapData is a value expressed in kernel-global references: an opaque body
// string plus the slot list of KRefs it names. The body's own encoding is
// the collaborator's concern (e.g. a sandbox's serialization format); the
// kernel never inspects it beyond the slot list.
type CapData struct {
	Body  string
	Slots []id.KRef
}

// ECapData is the endpoint-local counterpart of CapData.
type ECapData struct {
	Body  string
	Slots []id.ERef
}

// Message is a send's method-invocation payload: arguments plus an optional
// result promise.
type Message struct {
	MethArgs CapData
	Result   *id.KPId
}

// EMessage is the endpoint-local counterpart of Message.
type EMessage struct {
	MethArgs ECapData
	Result   *id.ERef
}

// ExtractSingleRef returns the sole slot of v if v has exactly one slot;
// used by the router to follow a fulfilled promise whose value is itself a
// reference. The body is not inspected. Returns ok=false if v does not
// have exactly one slot.
func ExtractSingleRef(v CapData) (id.KRef, bool) {
	if len(v.Slots) != 1 {
		return nil, false
	}
	return v.Slots[0], true
}

// Clone returns a deep-enough copy of c (copies the slot slice) so callers
// may mutate the result without aliasing the original.
func (c CapData) Clone() CapData {
	slots := make([]id.KRef, len(c.Slots))
	copy(slots, c.Slots)
	return CapData{Body: c.Body, Slots: slots}
}

func (c ECapData) Clone() ECapData {
	slots := make([]id.ERef, len(c.Slots))
	copy(slots, c.Slots)
	return ECapData{Body: c.Body, Slots: slots}
}
