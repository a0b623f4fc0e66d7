package localsandbox

import (
	"errors"
	"fmt"
	"sync"

	"slug/internal/config"
	"slug/internal/id"
	"slug/internal/platform"
)

// LogicFactory builds a fresh Logic for one vat launch from its VatConfig.
// Looked up by BundleName (falling back to BundleSpec), mirroring
// spec.md §6's "exactly one of SourceSpec/BundleSpec/BundleName" contract.
type LogicFactory func(cfg config.VatConfig) (Logic, error)

// Services is the reference platform.Services: every vat it launches runs
// as an in-process localsandbox.Handle. Remote transport is unimplemented
// — spec.md §1 places wire transport out of scope for the kernel core,
// and this is a demo/test collaborator, not a production one.
type Services struct {
	mu        sync.Mutex
	factories map[string]LogicFactory
	handles   map[id.EndpointId]*Handle
}

func NewServices() *Services {
	return &Services{
		factories: make(map[string]LogicFactory),
		handles:   make(map[id.EndpointId]*Handle),
	}
}

// RegisterBundle makes a named bundle launchable by Launch.
func (s *Services) RegisterBundle(name string, factory LogicFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
}

func (s *Services) Launch(endpoint id.EndpointId, cfg config.VatConfig) (platform.EndpointHandle, error) {
	name := cfg.BundleName
	if name == "" {
		name = cfg.BundleSpec
	}
	s.mu.Lock()
	factory, ok := s.factories[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("localsandbox: no bundle registered for %q", name)
	}

	logic, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("localsandbox: building logic for %q: %w", name, err)
	}

	h := Spawn(logic)
	s.mu.Lock()
	s.handles[endpoint] = h
	s.mu.Unlock()
	return h, nil
}

func (s *Services) Terminate(endpoint id.EndpointId) error {
	s.mu.Lock()
	h, ok := s.handles[endpoint]
	delete(s.handles, endpoint)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	h.Close()
	return nil
}

func (s *Services) TerminateAll() error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[id.EndpointId]*Handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	return nil
}

func (s *Services) SendRemoteMessage(remote id.EndpointId, payload []byte) error {
	return errors.New("localsandbox: remote transport not implemented")
}

func (s *Services) InitializeRemoteComms(remote id.EndpointId) error {
	return errors.New("localsandbox: remote transport not implemented")
}
