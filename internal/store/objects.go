package store

import (
	"strconv"

	"slug/internal/id"
	"slug/internal/kernelerr"
)

// InitKernelObject allocates a fresh KOId owned by owner, with zero
// reachable/recognizable counts.
func (s *Store) InitKernelObject(owner id.EndpointId) id.KOId {
	s.requireCrank()
	n := s.nextInt(keyNextKOId())
	o := id.NewKOId(n)
	s.backend.Set(keyObjectOwner(o), string(owner))
	s.backend.Set(keyObjectRevoked(o), "false")
	s.backend.Set(keyObjectPinned(o), "false")
	s.backend.Set(keyObjectDropped(o), "false")
	s.backend.Set(keyObjectRefCount(o), "0,0")
	return o
}

// DeleteKernelObject removes every persisted key for o. Callers must have
// already cascaded refcount decrements for anything o's existence pinned.
func (s *Store) DeleteKernelObject(o id.KOId) {
	s.requireCrank()
	s.backend.Delete(keyObjectOwner(o))
	s.backend.Delete(keyObjectRevoked(o))
	s.backend.Delete(keyObjectPinned(o))
	s.backend.Delete(keyObjectDropped(o))
	s.backend.Delete(keyObjectRefCount(o))
}

func (s *Store) nextInt(key string) int64 {
	raw, err := s.backend.GetRequired(key)
	if err != nil {
		panic("store: counter key missing: " + key)
	}
	n, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil {
		panic("store: corrupt counter key: " + key)
	}
	s.backend.Set(key, strconv.FormatInt(n+1, 10))
	return n
}

// GetOwner returns o's decider-of-existence endpoint, or ok=false if o has
// no owner recorded (e.g. it was never allocated).
func (s *Store) GetOwner(o id.KOId) (id.EndpointId, bool) {
	raw, ok := s.backend.Get(keyObjectOwner(o))
	if !ok {
		return "", false
	}
	return id.EndpointId(raw), true
}

// IsRevoked reports whether o has been revoked.
func (s *Store) IsRevoked(o id.KOId) bool {
	raw, ok := s.backend.Get(keyObjectRevoked(o))
	return ok && raw == "true"
}

// SetRevoked marks o revoked or un-revoked.
func (s *Store) SetRevoked(o id.KOId, revoked bool) {
	s.requireCrank()
	val := "false"
	if revoked {
		val = "true"
	}
	s.backend.Set(keyObjectRevoked(o), val)
}

// IsPinned reports whether o is exempt from collection (spec §3, §4.3 —
// kernel-service objects are always pinned).
func (s *Store) IsPinned(o id.KOId) bool {
	raw, ok := s.backend.Get(keyObjectPinned(o))
	return ok && raw == "true"
}

func (s *Store) PinObject(o id.KOId) {
	s.requireCrank()
	s.backend.Set(keyObjectPinned(o), "true")
}

func (s *Store) UnpinObject(o id.KOId) {
	s.requireCrank()
	s.backend.Set(keyObjectPinned(o), "false")
}

// IsExportDropped reports whether o's owner has already been sent the
// dropExport notification for o (spec §4.3 phase 1's first branch, which
// fires once when reachable hits zero and must not repeat while o lingers
// on, still recognizable, across later GC passes).
func (s *Store) IsExportDropped(o id.KOId) bool {
	raw, ok := s.backend.Get(keyObjectDropped(o))
	return ok && raw == "true"
}

// MarkExportDropped records that o's dropExport notification has been
// synthesised, so a later GC pass over the same still-recognizable o
// doesn't send it again.
func (s *Store) MarkExportDropped(o id.KOId) {
	s.requireCrank()
	s.backend.Set(keyObjectDropped(o), "true")
}

// GetObject projects o's full record, for callers (GC, inspection tools)
// that want every field at once.
func (s *Store) GetObject(o id.KOId) (ObjectRecord, error) {
	ownerRaw, ok := s.backend.Get(keyObjectOwner(o))
	if !ok {
		return ObjectRecord{}, kernelerr.New(kernelerr.UnknownEntity, string(o), "no such object")
	}
	reach, recog := s.readRefCountPair(o)
	return ObjectRecord{
		Id:           o,
		Owner:        id.EndpointId(ownerRaw),
		HasOwner:     ownerRaw != "",
		Revoked:      s.IsRevoked(o),
		Pinned:       s.IsPinned(o),
		Dropped:      s.IsExportDropped(o),
		Reachable:    reach,
		Recognizable: recog,
	}, nil
}

// ObjectExists reports whether o has a persisted record.
func (s *Store) ObjectExists(o id.KOId) bool {
	_, ok := s.backend.Get(keyObjectOwner(o))
	return ok
}
