package translator

import (
	"testing"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/store"
	"slug/internal/store/memkv"
)

func newTestStore() *store.Store {
	return store.New(memkv.New())
}

// Local round trip, direction eref -> kref -> eref: an endpoint exporting a
// fresh object for the first time gets back the exact eref it started with
// when the kernel hands that object back to it.
func TestRefRoundTripExportThenKtoE(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")
	exported := id.Object(id.Export, 5)

	s.StartCrank()
	kref, err := RefEtoK(s, v1, exported)
	if err != nil {
		t.Fatalf("RefEtoK: %v", err)
	}
	back, err := RefKtoE(s, v1, kref, false)
	if err != nil {
		t.Fatalf("RefKtoE: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if back != exported {
		t.Fatalf("expected round trip to return %s, got %s", exported, back)
	}
}

// Local round trip, direction kref -> eref -> kref: a kernel object v1
// already names in its c-list comes back unchanged after a K->E->K hop.
func TestRefRoundTripKtoEThenEtoK(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")

	s.StartCrank()
	ko := s.InitKernelObject(v1)
	known := id.Object(id.Import, 3)
	s.AddCListEntry(v1, ko, known, true)

	eref, err := RefKtoE(s, v1, ko, false)
	if err != nil {
		t.Fatalf("RefKtoE: %v", err)
	}
	back, err := RefEtoK(s, v1, eref)
	if err != nil {
		t.Fatalf("RefEtoK: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if back != ko {
		t.Fatalf("expected round trip to return %s, got %s", ko, back)
	}
}

// Scenario 6 (spec §8): a remote peer's c-list entry is stored in its own
// wire polarity (ro+4), but RefKtoE hands the kernel-to-remote direction
// back flipped (ro-4), while RefEtoK reads the remote's own eref exactly as
// given, unflipped.
func TestRefRemotePolarityFlip(t *testing.T) {
	s := newTestStore()
	r1 := id.EndpointId("r1")

	s.StartCrank()
	ko50 := s.InitKernelObject(r1)
	wireForm := id.RemoteObject(id.Export, 4) // ro+4, as r1 itself would mint it
	s.AddCListEntry(r1, ko50, wireForm, true)
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	s.StartCrank()
	gotEref, err := RefKtoE(s, r1, ko50, false)
	if err != nil {
		t.Fatalf("RefKtoE: %v", err)
	}
	wantFlipped := id.RemoteObject(id.Import, 4) // ro-4
	if gotEref != wantFlipped {
		t.Fatalf("expected RefKtoE to flip to %s, got %s", wantFlipped, gotEref)
	}

	gotKref, err := RefEtoK(s, r1, wireForm)
	if err != nil {
		t.Fatalf("RefEtoK: %v", err)
	}
	if gotKref != ko50 {
		t.Fatalf("expected RefEtoK(ro+4) to resolve to %s unflipped, got %s", ko50, gotKref)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	s.StartCrank()
	wire, err := CapDataKtoE(s, r1, capdata.CapData{Slots: []id.KRef{ko50}})
	if err != nil {
		t.Fatalf("CapDataKtoE: %v", err)
	}
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}

	if len(wire.Slots) != 1 || wire.Slots[0] != wantFlipped {
		t.Fatalf("expected ko50 to serialize as %s on the wire, got %v", wantFlipped, wire.Slots)
	}
}

// RefEtoK rejects an unknown import-polarity eref outright: an endpoint
// cannot hand the kernel a reference it never received and never exported.
func TestRefEtoKRejectsUnknownImport(t *testing.T) {
	s := newTestStore()
	v1 := id.EndpointId("v1")

	s.StartCrank()
	_, err := RefEtoK(s, v1, id.Object(id.Import, 99))
	if err := s.EndCrank(); err != nil {
		t.Fatalf("EndCrank: %v", err)
	}
	if err == nil {
		t.Fatalf("expected an error translating an unknown import-polarity eref")
	}
}
