package store

import (
	"fmt"
	"strconv"
	"strings"

	"slug/internal/id"
)

// IncrementRefCount bumps kref's refcount by one. For a KOId both reachable
// and recognizable advance in lockstep unless onlyRecognizable is set (used
// when an export first becomes recognizable-but-not-yet-reachable, spec
// §4.2's "Allocation on export"). For a KPId the refcount is a single
// scalar and onlyRecognizable is ignored. tag is purely informational.
func (s *Store) IncrementRefCount(kref id.KRef, tag RefTag, onlyRecognizable bool) {
	s.requireCrank()
	switch k := kref.(type) {
	case id.KOId:
		reach, recog := s.readRefCountPair(k)
		recog++
		if !onlyRecognizable {
			reach++
		}
		s.writeRefCountPair(k, reach, recog)
	case id.KPId:
		n := s.readRefCountScalar(k)
		s.writeRefCountScalar(k, n+1)
	default:
		panic(fmt.Sprintf("store: unknown kref type %T", kref))
	}
}

// DecrementRefCount lowers kref's refcount by one. Decrementing to zero
// queues kref onto the per-crank maybeFreeKrefs set (spec §4.3) for GC to
// consider after the crank commits. Open question (spec §9 #1): whether
// decrementing an already-zero refcount is a bug, a no-op, or fatal is left
// unanswered by the source; this implementation treats it as a no-op that
// still (re-)queues the kref for GC consideration, since a kref already at
// zero that wasn't swept is itself evidence something upstream double
// counted, and refusing to re-queue it would let that leak stand forever.
//
// For a KOId, reachable and recognizable are independently-observable GC
// triggers (spec §4.3 phase 1's glossary distinction, Invariant 1's
// `0 <= reachable <= recognizable`): reachable hitting zero must queue the
// kref for a dropExport regardless of recognizable, since every export
// starts with an onlyRecognizable credit that nothing but an explicit
// retireExport ever removes. The common "last importer drops it" case
// reaches reachable=0 with recognizable still positive, and would never be
// considered for GC at all if only recognizable's transition to zero were
// watched.
func (s *Store) DecrementRefCount(kref id.KRef, tag RefTag, onlyRecognizable bool) {
	s.requireCrank()
	switch k := kref.(type) {
	case id.KOId:
		reach, recog := s.readRefCountPair(k)
		if !onlyRecognizable && reach > 0 {
			reach--
		}
		if recog > 0 {
			recog--
		}
		s.writeRefCountPair(k, reach, recog)
		if reach == 0 || recog == 0 {
			s.markMaybeFree(string(k))
		}
	case id.KPId:
		n := s.readRefCountScalar(k)
		if n > 0 {
			n--
		}
		s.writeRefCountScalar(k, n)
		if n == 0 {
			s.markMaybeFree(string(k))
		}
	default:
		panic(fmt.Sprintf("store: unknown kref type %T", kref))
	}
}

// RefCount returns the current refcount for kref: for a KOId, the
// (reachable, recognizable) pair; for a KPId, (scalar, scalar).
func (s *Store) RefCount(kref id.KRef) (reachable, recognizable int64) {
	switch k := kref.(type) {
	case id.KOId:
		return s.readRefCountPair(k)
	case id.KPId:
		n := s.readRefCountScalar(k)
		return n, n
	default:
		return 0, 0
	}
}

func (s *Store) readRefCountPair(o id.KOId) (reachable, recognizable int64) {
	raw, ok := s.backend.Get(keyObjectRefCount(o))
	if !ok {
		return 0, 0
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		panic("store: corrupt refcount pair for " + string(o))
	}
	r, err1 := strconv.ParseInt(parts[0], 10, 64)
	c, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		panic("store: corrupt refcount pair for " + string(o))
	}
	return r, c
}

func (s *Store) writeRefCountPair(o id.KOId, reachable, recognizable int64) {
	s.backend.Set(keyObjectRefCount(o), fmt.Sprintf("%d,%d", reachable, recognizable))
}

func (s *Store) readRefCountScalar(p id.KPId) int64 {
	raw, ok := s.backend.Get(keyPromiseRefCount(p))
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		panic("store: corrupt refcount scalar for " + string(p))
	}
	return n
}

func (s *Store) writeRefCountScalar(p id.KPId, n int64) {
	s.backend.Set(keyPromiseRefCount(p), strconv.FormatInt(n, 10))
}
