// Package kernelsvc implements spec §4.7: the "kernel" pseudo-endpoint
// that hosts named service objects. A send targeting one of its objects
// bypasses the endpoint-handle path entirely — Invoke is called directly
// by internal/router, and the registered method's return value (or
// error) resolves the message's result promise.
package kernelsvc

import (
	"strings"
	"sync"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/store"
)

// Method is one kernel-service operation. Errors are reported to the
// caller as a rejection of the message's result promise, carrying the
// error's text as the rejection body — there is no separate exception
// type, matching capdata's own "body is just a string" convention.
type Method func(args capdata.CapData) (capdata.CapData, error)

// Registry is the Service Manager: a name -> KOId -> methods table, plus
// the reverse KOId -> methods lookup Invoke needs. Safe for concurrent
// Lookup/Invoke from multiple goroutines; Register must be called from
// inside a crank (it allocates kernel state) and so is implicitly
// serialized by the executor's own lock.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]id.KOId
	methods map[id.KOId]map[string]Method
}

func New() *Registry {
	return &Registry{
		byName:  make(map[string]id.KOId),
		methods: make(map[id.KOId]map[string]Method),
	}
}

// Register exposes methods under name: the first registration allocates
// and pins a fresh kernel-owned object (spec §4.7 — "registration pins the
// associated KOId so it is never GC'd"); re-registering the same name
// replaces its method set in place without reallocating the object, so a
// service can be redefined across a config reload without invalidating
// capabilities other endpoints already hold to it.
func (r *Registry) Register(s *store.Store, name string, methods map[string]Method) id.KOId {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ko, ok := r.byName[name]; ok {
		r.methods[ko] = methods
		return ko
	}

	ko := s.InitKernelObject(id.KernelEndpoint)
	s.PinObject(ko)
	s.AddPinnedObject(ko)
	// onlyRecognizable: the kernel itself, not any c-list, is what keeps
	// this object alive, mirroring exportFromEndpoint's allocation rule.
	s.IncrementRefCount(ko, store.TagExport, true)

	r.byName[name] = ko
	r.methods[ko] = methods
	return ko
}

// Lookup returns the KOId a registered service name resolves to.
func (r *Registry) Lookup(name string) (id.KOId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ko, ok := r.byName[name]
	return ko, ok
}

// Invoke implements router.KernelServices. The target object's method
// name is read off the front of the message body as a "method:rest"
// pair — the kernel-service wire convention this package defines, since
// capdata's body format is otherwise an opaque, collaborator-defined
// string (spec §3).
func (r *Registry) Invoke(target id.KOId, msg capdata.Message) (capdata.CapData, bool) {
	r.mu.RLock()
	methods, ok := r.methods[target]
	r.mu.RUnlock()
	if !ok {
		return capdata.CapData{Body: "no such kernel service object"}, true
	}

	name, rest := splitMethod(msg.MethArgs.Body)
	fn, ok := methods[name]
	if !ok {
		return capdata.CapData{Body: "no such method: " + name}, true
	}

	value, err := fn(capdata.CapData{Body: rest, Slots: msg.MethArgs.Slots})
	if err != nil {
		return capdata.CapData{Body: err.Error()}, true
	}
	return value, false
}

func splitMethod(body string) (name, rest string) {
	name, rest, found := strings.Cut(body, ":")
	if !found {
		return body, ""
	}
	return name, rest
}
