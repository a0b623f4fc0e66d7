// Package subcluster implements spec §4.9 (the Subcluster Manager spec.md
// names but does not give its own component-design subsection to): owning
// the store's Subcluster records and driving platform.Services to launch
// and tear down the vats each one names.
package subcluster

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"slug/internal/config"
	"slug/internal/executor"
	"slug/internal/id"
	"slug/internal/platform"
	"slug/internal/store"
)

// Manager owns subcluster lifecycle: Launch/Terminate/TerminateAll.
type Manager struct {
	store    *store.Store
	engine   *executor.Engine
	services platform.Services
	log      *slog.Logger
}

func New(s *store.Store, engine *executor.Engine, services platform.Services, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: s, engine: engine, services: services, log: log}
}

// Launch allocates a SubclusterId, launches one endpoint per configured
// vat via platform.Services.Launch, attaches each resulting handle to the
// executor, and records the subcluster. A failure launching any vat tears
// down the vats already launched for this call before returning the error
// — a subcluster either comes up whole or not at all.
func (m *Manager) Launch(cfg config.ClusterConfig) (id.SubclusterId, error) {
	m.store.StartCrank()
	scID := m.store.NextSubclusterId()
	m.endCrank()

	var launched []id.EndpointId
	n := int64(0)
	for name, vcfg := range cfg.Vats {
		n++
		vatID := id.NewVatId(n)

		handle, err := m.services.Launch(vatID, vcfg)
		if err != nil {
			m.teardown(launched)
			return "", fmt.Errorf("subcluster: launching vat %q (%s): %w", name, vatID, err)
		}
		m.engine.AttachHandle(vatID, handle)

		body, err := json.Marshal(vcfg)
		if err != nil {
			m.teardown(launched)
			return "", fmt.Errorf("subcluster: encoding config for vat %q: %w", name, err)
		}

		m.store.StartCrank()
		m.store.PutVatConfig(store.VatConfigRecord{Endpoint: vatID, Body: string(body), Alive: true})
		m.endCrank()

		launched = append(launched, vatID)
	}

	m.store.StartCrank()
	m.store.PutSubcluster(store.Subcluster{Id: scID, ConfigBody: cfg.Bootstrap, Vats: launched})
	m.endCrank()

	m.log.Info("subcluster launched", slog.String("subcluster", string(scID)), slog.Int("vats", len(launched)))
	return scID, nil
}

// Terminate tears down every vat in subclusterID and removes its record.
// Vat state itself (c-list entries, owned objects) drains through the
// normal dropExport/retireExport GC machinery once marked terminated, per
// spec §3's Endpoint lifecycle — it is not deleted synchronously here.
func (m *Manager) Terminate(subclusterID id.SubclusterId) error {
	sc, ok := m.store.GetSubcluster(subclusterID)
	if !ok {
		return fmt.Errorf("subcluster: no such subcluster %q", subclusterID)
	}
	m.teardown(sc.Vats)

	m.store.StartCrank()
	m.store.DeleteSubcluster(subclusterID)
	m.endCrank()
	return nil
}

// TerminateAll tears down every subcluster, then any handle the platform
// services still hold; used by cmd/kernel's run command on shutdown.
// Best-effort: it keeps going after a failure on one subcluster and
// returns the first error encountered, if any.
func (m *Manager) TerminateAll() error {
	var first error
	for _, scID := range m.store.ListSubclusters() {
		if err := m.Terminate(scID); err != nil && first == nil {
			first = err
		}
	}
	if err := m.services.TerminateAll(); err != nil && first == nil {
		first = err
	}
	return first
}

func (m *Manager) teardown(vats []id.EndpointId) {
	for _, v := range vats {
		if err := m.services.Terminate(v); err != nil {
			m.log.Warn("subcluster: terminate failed", slog.String("vat", string(v)), slog.Any("error", err))
		}
		m.engine.DetachHandle(v)

		m.store.StartCrank()
		m.store.MarkVatTerminated(v)
		m.store.ScheduleReap(v)
		m.endCrank()
	}
}

func (m *Manager) endCrank() {
	if err := m.store.EndCrank(); err != nil {
		m.log.Error("subcluster: commit failed", slog.Any("error", err))
	}
}
