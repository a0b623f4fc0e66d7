// Package executor implements spec §4.5/§4.6: the single-threaded crank
// loop that dequeues one run-queue item at a time, hands it to
// internal/router, replays the endpoint's reported syscalls against the
// kernel, and runs GC and reap scheduling between cranks. Grounded on the
// teacher's Actor.run goroutine loop (internal/evaluator/actors.go): a
// single select-style dispatch loop owning one piece of state exclusively,
// the same shape this loop gives to one *store.Store.
package executor

import (
	"context"
	"log/slog"
	"sync"

	"slug/internal/capdata"
	"slug/internal/gc"
	"slug/internal/id"
	"slug/internal/kernelerr"
	"slug/internal/ksyscall"
	"slug/internal/platform"
	"slug/internal/router"
	"slug/internal/store"
)

// Engine owns the crank loop's mutual-exclusion lock (spec §4.5's
// "Concurrency model"): external producers enqueueing messages and the
// loop itself both serialize through it.
type Engine struct {
	mu       sync.Mutex
	store    *store.Store
	handles  router.Handles
	services KernelServices
	log      *slog.Logger
}

// KernelServices is router.KernelServices, re-exported so callers need
// only import this package to wire the kernel-service pseudo-endpoint.
type KernelServices = router.KernelServices

func New(s *store.Store, services KernelServices, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    s,
		handles:  router.Handles{},
		services: services,
		log:      log,
	}
}

// AttachHandle registers (or replaces) the live EndpointHandle for
// endpoint, called by the subcluster manager after Services.Launch.
func (e *Engine) AttachHandle(endpoint id.EndpointId, handle platform.EndpointHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[endpoint] = handle
}

// DetachHandle removes endpoint's live handle, e.g. after termination.
func (e *Engine) DetachHandle(endpoint id.EndpointId) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, endpoint)
}

// EnqueueExternal appends a Send item originating outside the loop (e.g.
// a CLI command or kernel-service reply), under the same lock the loop
// itself uses, so external producers observe a consistent store.
func (e *Engine) EnqueueExternal(target id.KRef, msg capdata.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.StartCrank()
	e.store.IncrementRefCount(target, store.TagQueue, false)
	for _, slot := range msg.MethArgs.Slots {
		e.store.IncrementRefCount(slot, store.TagQueue, false)
	}
	if msg.Result != nil {
		e.store.IncrementRefCount(*msg.Result, store.TagQueue, false)
	}
	e.store.EnqueueRun(store.SendItem(target, msg))
	if err := e.store.EndCrank(); err != nil {
		e.store.RollbackCrank()
	}
}

// Run drains the run queue. With a non-nil idle it then waits for a value
// on idle (cmd/kernel's run command feeds it from a ticker) and drains
// again, until ctx is cancelled, when it returns ctx.Err(); ctx is only
// checked while waiting on idle. Passing idle=nil makes Run process
// whatever is queued right now and return — the shape cmd/kernel's
// one-shot `send` command wants.
func (e *Engine) Run(ctx context.Context, idle <-chan struct{}) error {
	for {
		if err := e.drain(); err != nil {
			return err
		}
		if idle == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// drain runs cranks until the run queue is empty, returning only on an
// engine-fatal error (spec §4.8).
func (e *Engine) drain() error {
	for {
		e.mu.Lock()
		e.store.StartCrank()
		item, ok := e.store.DequeueRun()
		if err := e.store.EndCrank(); err != nil {
			e.mu.Unlock()
			return err
		}
		if !ok {
			e.mu.Unlock()
			return nil
		}
		err := e.crank(item)
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// crank runs exactly one iteration of spec §4.5's loop body. The caller
// must hold e.mu.
func (e *Engine) crank(item store.RunQueueItem) error {
	e.store.StartCrank()

	result, err := router.Deliver(e.store, item, e.handles, e.services)
	if err != nil {
		e.store.RollbackCrank()
		return e.handleCrankError(item, err)
	}

	terminate, abort, err := applyEndpointSyscalls(e.store, result.Endpoint, result.Syscalls)
	if err != nil {
		e.store.RollbackCrank()
		return e.handleCrankError(item, err)
	}
	if abort {
		e.store.RollbackCrank()
		if terminate != nil {
			e.markTerminated(*terminate)
		}
		return nil
	}
	if result.Terminate != nil {
		terminate = result.Terminate
	}

	if err := e.store.EndCrank(); err != nil {
		return err // StoreFailure is always EngineFatal
	}

	if terminate != nil {
		e.markTerminated(*terminate)
	}

	if err := gc.Collect(e.store); err != nil {
		return err
	}

	e.store.StartCrank()
	if reapItem, ok := e.store.NextReapAction(); ok {
		e.store.EnqueueRun(reapItem)
	}
	if err := e.store.EndCrank(); err != nil {
		return err
	}

	return nil
}

// handleCrankError applies spec §4.8: recoverable errors should never
// reach here (router handles them as splats internally), so anything
// surfacing to crank() is either crank-fatal (roll back, terminate the
// offending endpoint, keep looping) or engine-fatal (halt).
func (e *Engine) handleCrankError(item store.RunQueueItem, err error) error {
	ke, ok := err.(*kernelerr.Error)
	if !ok || ke.EngineFatal() {
		e.log.Error("executor: engine-fatal error", slog.Any("error", err))
		return err
	}
	e.log.Warn("executor: crank aborted", slog.Any("error", err), slog.String("endpoint", string(deliveringEndpoint(item))))
	if endpoint := deliveringEndpoint(item); endpoint != "" {
		e.markTerminated(router.Termination{Endpoint: endpoint, Reject: true, Info: capdata.CapData{Body: err.Error()}})
	}
	return nil
}

func (e *Engine) markTerminated(t router.Termination) {
	e.store.StartCrank()
	e.store.MarkVatTerminated(t.Endpoint)
	e.store.ScheduleReap(t.Endpoint)
	if err := e.store.EndCrank(); err != nil {
		e.log.Error("executor: failed to record termination", slog.Any("error", err))
	}
	// The caller already holds e.mu, so the handle is removed directly.
	delete(e.handles, t.Endpoint)
}

// deliveringEndpoint names the endpoint blamed on crank-fatal failure, for
// every run-queue item kind that names exactly one (a Send names none, so
// no endpoint is terminated for it). Syscalls are applied for the
// endpoint the router reports in DeliverResult.Endpoint instead.
func deliveringEndpoint(item store.RunQueueItem) id.EndpointId {
	switch item.Kind {
	case store.ItemNotify:
		return item.NotifyEndpoint
	case store.ItemGCAction:
		return item.GCEndpoint
	case store.ItemBringOutYourDead:
		return item.ReapEndpoint
	default:
		return ""
	}
}

// applyEndpointSyscalls implements spec §4.6, replaying syscalls in order
// against the kernel. Returns the termination an exit syscall requested
// (nil if none) and whether the crank must abort (exit with isFailure).
func applyEndpointSyscalls(s *store.Store, endpoint id.EndpointId, syscalls []ksyscall.Syscall) (*router.Termination, bool, error) {
	var terminate *router.Termination
	for _, sc := range syscalls {
		switch sc.Kind {
		case ksyscall.Send:
			applySend(s, sc)

		case ksyscall.Subscribe:
			if err := applySubscribe(s, endpoint, sc); err != nil {
				return nil, false, err
			}

		case ksyscall.Resolve:
			if err := applyResolve(s, endpoint, sc); err != nil {
				return nil, false, err
			}

		case ksyscall.Exit:
			terminate = &router.Termination{Endpoint: endpoint, Reject: sc.IsFailure, Info: sc.Info}
			if sc.IsFailure {
				return terminate, true, nil
			}

		case ksyscall.DropImports, ksyscall.RetireImports, ksyscall.RetireExports, ksyscall.AbandonExports:
			if err := applyRefAction(s, endpoint, sc); err != nil {
				return nil, false, err
			}

		default:
			return nil, false, kernelerr.New(kernelerr.ProtocolError, sc.Kind.String(), "unknown syscall kind")
		}
	}
	return terminate, false, nil
}

func applySend(s *store.Store, sc ksyscall.Syscall) {
	s.IncrementRefCount(sc.Target, store.TagQueue, false)
	for _, slot := range sc.Message.MethArgs.Slots {
		s.IncrementRefCount(slot, store.TagQueue, false)
	}
	if sc.Message.Result != nil {
		s.IncrementRefCount(*sc.Message.Result, store.TagQueue, false)
	}
	s.EnqueueRun(store.SendItem(sc.Target, sc.Message))
}

func applySubscribe(s *store.Store, endpoint id.EndpointId, sc ksyscall.Syscall) error {
	s.AddSubscriber(sc.Promise, endpoint)
	state, err := s.GetPromiseState(sc.Promise)
	if err != nil {
		return err
	}
	if state != store.Unresolved {
		s.EnqueueRun(store.NotifyItem(endpoint, sc.Promise))
	}
	return nil
}

func applyResolve(s *store.Store, endpoint id.EndpointId, sc ksyscall.Syscall) error {
	for _, r := range sc.Resolutions {
		decider, ok := s.GetDecider(r.Promise)
		if !ok || decider != endpoint {
			return kernelerr.New(kernelerr.StateViolation, string(r.Promise), "resolve attempted by non-decider")
		}
		subs := s.Subscribers(r.Promise)
		if err := s.ResolveKernelPromise(r.Promise, r.Rejected, r.Value); err != nil {
			return err
		}
		for _, sub := range subs {
			s.EnqueueRun(store.NotifyItem(sub, r.Promise))
		}
	}
	return nil
}

// applyRefAction implements the four c-list-management syscalls (spec
// §4.3/§4.6): dropImports, retireImports and retireExports adjust the
// refcount; retireImports, retireExports and abandonExports forget the
// c-list entry outright. abandonExports makes no refcount adjustment.
func applyRefAction(s *store.Store, endpoint id.EndpointId, sc ksyscall.Syscall) error {
	for _, kref := range sc.Refs {
		switch sc.Kind {
		case ksyscall.DropImports:
			s.DecrementRefCount(kref, store.TagCList, false)
		case ksyscall.RetireImports:
			s.DecrementRefCount(kref, store.TagCList, false)
			s.ForgetKref(endpoint, kref)
		case ksyscall.RetireExports:
			s.DecrementRefCount(kref, store.TagCList, true)
			s.ForgetKref(endpoint, kref)
		case ksyscall.AbandonExports:
			s.ForgetKref(endpoint, kref)
		}
	}
	return nil
}
