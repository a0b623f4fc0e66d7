package store

import "slug/internal/id"

// AddCListEntry records a bidirectional mapping between kref and eref for
// endpoint, restoring invariant 4 (krefToEref(e,k)=x iff erefToKref(e,x)=k).
func (s *Store) AddCListEntry(endpoint id.EndpointId, kref id.KRef, eref id.ERef, reachable bool) {
	s.requireCrank()
	s.backend.Set(keyCLE(endpoint, eref), kref.String())
	s.backend.Set(keyCLK(endpoint, kref), eref.String())
	reachKey := keyCLE(endpoint, eref) + ".reachable"
	val := "false"
	if reachable {
		val = "true"
	}
	s.backend.Set(reachKey, val)
}

// SetCListReachable updates the reachable bit on an existing c-list entry.
func (s *Store) SetCListReachable(endpoint id.EndpointId, eref id.ERef, reachable bool) {
	s.requireCrank()
	val := "false"
	if reachable {
		val = "true"
	}
	s.backend.Set(keyCLE(endpoint, eref)+".reachable", val)
}

// CListReachable reports the reachable bit for an existing c-list entry.
func (s *Store) CListReachable(endpoint id.EndpointId, eref id.ERef) bool {
	raw, ok := s.backend.Get(keyCLE(endpoint, eref) + ".reachable")
	return ok && raw == "true"
}

// HasCListEntry reports whether endpoint's c-list has any mapping for kref.
func (s *Store) HasCListEntry(endpoint id.EndpointId, kref id.KRef) bool {
	_, ok := s.backend.Get(keyCLK(endpoint, kref))
	return ok
}

// KrefToEref looks up the eref endpoint uses to name kref, if any.
func (s *Store) KrefToEref(endpoint id.EndpointId, kref id.KRef) (id.ERef, bool) {
	raw, ok := s.backend.Get(keyCLK(endpoint, kref))
	if !ok {
		return id.ERef{}, false
	}
	eref, err := id.ParseERef(raw)
	if err != nil {
		return id.ERef{}, false
	}
	return eref, true
}

// ErefToKref looks up the kref endpoint's eref currently names, if any.
func (s *Store) ErefToKref(endpoint id.EndpointId, eref id.ERef) (id.KRef, bool) {
	raw, ok := s.backend.Get(keyCLE(endpoint, eref))
	if !ok {
		return nil, false
	}
	kref, err := id.ParseKRef(raw)
	if err != nil {
		return nil, false
	}
	return kref, true
}

// ForgetKref removes endpoint's c-list entry naming kref, found via its
// current eref. A no-op if no such entry exists.
func (s *Store) ForgetKref(endpoint id.EndpointId, kref id.KRef) {
	s.requireCrank()
	eref, ok := s.KrefToEref(endpoint, kref)
	if !ok {
		return
	}
	s.backend.Delete(keyCLK(endpoint, kref))
	s.backend.Delete(keyCLE(endpoint, eref))
	s.backend.Delete(keyCLE(endpoint, eref) + ".reachable")
}

// ForgetEref removes endpoint's c-list entry naming eref, found via its
// current kref. A no-op if no such entry exists.
func (s *Store) ForgetEref(endpoint id.EndpointId, eref id.ERef) {
	s.requireCrank()
	kref, ok := s.ErefToKref(endpoint, eref)
	if !ok {
		return
	}
	s.backend.Delete(keyCLK(endpoint, kref))
	s.backend.Delete(keyCLE(endpoint, eref))
	s.backend.Delete(keyCLE(endpoint, eref) + ".reachable")
}

// Importers returns every endpoint other than owner holding a c-list entry
// for kref (spec §4.3's retireKernelObjects: "enumerate importers").
func (s *Store) Importers(kref id.KRef, owner id.EndpointId) []id.EndpointId {
	prefix := "clk."
	var out []id.EndpointId
	seen := make(map[id.EndpointId]bool)
	for _, key := range s.backend.Keys(prefix) {
		// key is "clk.<endpoint>.<kref>"
		rest := key[len(prefix):]
		i := lastDot(rest, len(rest))
		if i < 0 {
			continue
		}
		endpointPart := rest[:i]
		krefPart := rest[i+1:]
		if krefPart != kref.String() {
			continue
		}
		e := id.EndpointId(endpointPart)
		if e == owner || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func lastDot(s string, n int) int {
	for i := n - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
