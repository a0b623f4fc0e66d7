package store

import (
	"strings"

	"slug/internal/id"
)

// NextObjectNumber and NextPromiseNumber hand out the monotonic per-endpoint
// counters an endpoint uses to mint its own export-polarity erefs (spec
// §6's e.nextObjectId.<endpoint> / e.nextPromiseId.<endpoint> keys).
func (s *Store) NextObjectNumber(endpoint id.EndpointId) int64 {
	s.requireCrank()
	return s.nextInt(keyNextObjectId(endpoint))
}

func (s *Store) NextPromiseNumber(endpoint id.EndpointId) int64 {
	s.requireCrank()
	return s.nextInt(keyNextPromiseId(endpoint))
}

func (s *Store) ensureCounterSeeded(key string) {
	if _, ok := s.backend.Get(key); !ok {
		s.backend.Set(key, "1")
	}
}

// PutVatConfig records (or updates) endpoint's configuration record.
func (s *Store) PutVatConfig(rec VatConfigRecord) {
	s.requireCrank()
	s.ensureCounterSeeded(keyNextObjectId(rec.Endpoint))
	s.ensureCounterSeeded(keyNextPromiseId(rec.Endpoint))
	alive := "true"
	if !rec.Alive {
		alive = "false"
	}
	s.backend.Set(keyVatConfig(rec.Endpoint), alive+"|"+rec.Body)
}

// GetVatConfig returns endpoint's configuration record, if any.
func (s *Store) GetVatConfig(endpoint id.EndpointId) (VatConfigRecord, bool) {
	raw, ok := s.backend.Get(keyVatConfig(endpoint))
	if !ok {
		return VatConfigRecord{}, false
	}
	aliveRaw, body := splitFirst(raw)
	return VatConfigRecord{Endpoint: endpoint, Body: body, Alive: aliveRaw == "true"}, true
}

// MarkVatTerminated flips an endpoint's config to not-alive, draining per
// spec §3's Endpoint lifecycle; it does not remove the record, and no
// other Store method deletes vat config records.
func (s *Store) MarkVatTerminated(endpoint id.EndpointId) {
	s.requireCrank()
	rec, ok := s.GetVatConfig(endpoint)
	if !ok {
		return
	}
	rec.Alive = false
	s.PutVatConfig(rec)
}

// PinnedObjects returns the set of kernel-service objects pinned against
// collection.
func (s *Store) PinnedObjects() []id.KOId {
	raw, ok := s.backend.Get(keyPinnedObjects())
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]id.KOId, len(parts))
	for i, p := range parts {
		out[i] = id.KOId(p)
	}
	return out
}

// AddPinnedObject registers o in the pinned-objects index (in addition to
// setting its own pinned bit via PinObject).
func (s *Store) AddPinnedObject(o id.KOId) {
	s.requireCrank()
	existing := s.PinnedObjects()
	for _, e := range existing {
		if e == o {
			return
		}
	}
	existing = append(existing, o)
	strs := make([]string, len(existing))
	for i, e := range existing {
		strs[i] = string(e)
	}
	s.backend.Set(keyPinnedObjects(), strings.Join(strs, ","))
}

// --- reap queue (spec §4.3's scheduleReap / nextReapAction) ---

// ScheduleReap adds endpoint to the de-duplicated reap queue.
func (s *Store) ScheduleReap(endpoint id.EndpointId) {
	s.requireCrank()
	raw, _ := s.backend.Get(keyReapQueue())
	var entries []string
	if raw != "" {
		entries = strings.Split(raw, ",")
	}
	for _, e := range entries {
		if e == string(endpoint) {
			return
		}
	}
	entries = append(entries, string(endpoint))
	s.backend.Set(keyReapQueue(), strings.Join(entries, ","))
}

// NextReapAction pops one endpoint off the reap queue and returns a
// BringOutYourDead item for it, or ok=false if the queue is empty.
func (s *Store) NextReapAction() (RunQueueItem, bool) {
	s.requireCrank()
	raw, ok := s.backend.Get(keyReapQueue())
	if !ok || raw == "" {
		return RunQueueItem{}, false
	}
	entries := strings.Split(raw, ",")
	head := entries[0]
	rest := entries[1:]
	s.backend.Set(keyReapQueue(), strings.Join(rest, ","))
	return BringOutYourDeadItem(id.EndpointId(head)), true
}

// --- subclusters ---

func (s *Store) NextSubclusterId() id.SubclusterId {
	s.requireCrank()
	n := s.nextInt(keyNextSubclusterId())
	return id.NewSubclusterId(n)
}

func (s *Store) PutSubcluster(sc Subcluster) {
	s.requireCrank()
	vats := make([]string, len(sc.Vats))
	for i, v := range sc.Vats {
		vats[i] = string(v)
	}
	s.backend.Set(keySubcluster(sc.Id), sc.ConfigBody+"|"+strings.Join(vats, ","))
}

func (s *Store) GetSubcluster(id_ id.SubclusterId) (Subcluster, bool) {
	raw, ok := s.backend.Get(keySubcluster(id_))
	if !ok {
		return Subcluster{}, false
	}
	cfg, vatsRaw := splitFirst(raw)
	var vats []id.EndpointId
	if vatsRaw != "" {
		for _, v := range strings.Split(vatsRaw, ",") {
			vats = append(vats, id.EndpointId(v))
		}
	}
	return Subcluster{Id: id_, ConfigBody: cfg, Vats: vats}, true
}

func (s *Store) DeleteSubcluster(id_ id.SubclusterId) {
	s.requireCrank()
	s.backend.Delete(keySubcluster(id_))
}

// ListSubclusters returns every persisted SubclusterId, for operator
// listings (spec §6's "kernel ps" surface). Safe outside a crank: it only
// range-scans the backend's subcluster.* prefix.
func (s *Store) ListSubclusters() []id.SubclusterId {
	var out []id.SubclusterId
	for _, k := range s.backend.Keys("subcluster.") {
		out = append(out, id.SubclusterId(strings.TrimPrefix(k, "subcluster.")))
	}
	return out
}
