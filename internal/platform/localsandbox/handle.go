// Package localsandbox provides the reference, in-process
// platform.EndpointHandle (spec.md §4.10's "Platform collaborator"
// addendum): a goroutine-driven mailbox that serializes calls onto a
// user-supplied Logic implementation one at a time, the same shape the
// teacher's Actor.run gives a single actor's mailbox channel
// (internal/evaluator/actors.go). It exists so the executor and router are
// exercised end to end without a real WASM sandbox, which spec.md §1
// places out of scope.
package localsandbox

import (
	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/platform"
)

// Logic is the pure Go closure set a Handle drives per delivered item —
// the "user code" the kernel core never executes itself.
type Logic interface {
	HandleMessage(target id.ERef, msg capdata.EMessage) (platform.CrankResult, error)
	HandleNotify(resolutions []platform.Resolution) (platform.CrankResult, error)
	HandleDropExports(refs []id.ERef) (platform.CrankResult, error)
	HandleRetireExports(refs []id.ERef) (platform.CrankResult, error)
	HandleRetireImports(refs []id.ERef) (platform.CrankResult, error)
	HandleBringOutYourDead() (platform.CrankResult, error)
}

type callKind int

const (
	kindDeliver callKind = iota
	kindNotify
	kindDropExports
	kindRetireExports
	kindRetireImports
	kindBringOutYourDead
)

type call struct {
	kind        callKind
	target      id.ERef
	msg         capdata.EMessage
	resolutions []platform.Resolution
	refs        []id.ERef
	reply       chan callResult
}

type callResult struct {
	result platform.CrankResult
	err    error
}

// Handle is a goroutine-driven platform.EndpointHandle: one goroutine owns
// Logic exclusively, taking calls one at a time off a single channel —
// the teacher's select-over-one-mailbox-channel shape, generalized from
// user-message dispatch to the six EndpointHandle delivery kinds.
type Handle struct {
	inbox chan call
	done  chan struct{}
}

// Spawn starts logic's goroutine and returns the Handle the kernel core
// drives it through.
func Spawn(logic Logic) *Handle {
	h := &Handle{inbox: make(chan call), done: make(chan struct{})}
	go h.run(logic)
	return h
}

func (h *Handle) run(logic Logic) {
	defer close(h.done)
	for c := range h.inbox {
		var res platform.CrankResult
		var err error
		switch c.kind {
		case kindDeliver:
			res, err = logic.HandleMessage(c.target, c.msg)
		case kindNotify:
			res, err = logic.HandleNotify(c.resolutions)
		case kindDropExports:
			res, err = logic.HandleDropExports(c.refs)
		case kindRetireExports:
			res, err = logic.HandleRetireExports(c.refs)
		case kindRetireImports:
			res, err = logic.HandleRetireImports(c.refs)
		case kindBringOutYourDead:
			res, err = logic.HandleBringOutYourDead()
		}
		c.reply <- callResult{res, err}
	}
}

func (h *Handle) dispatch(c call) (platform.CrankResult, error) {
	c.reply = make(chan callResult, 1)
	h.inbox <- c
	r := <-c.reply
	return r.result, r.err
}

func (h *Handle) DeliverMessage(target id.ERef, msg capdata.EMessage) (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindDeliver, target: target, msg: msg})
}

func (h *Handle) DeliverNotify(resolutions []platform.Resolution) (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindNotify, resolutions: resolutions})
}

func (h *Handle) DeliverDropExports(refs []id.ERef) (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindDropExports, refs: refs})
}

func (h *Handle) DeliverRetireExports(refs []id.ERef) (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindRetireExports, refs: refs})
}

func (h *Handle) DeliverRetireImports(refs []id.ERef) (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindRetireImports, refs: refs})
}

func (h *Handle) DeliverBringOutYourDead() (platform.CrankResult, error) {
	return h.dispatch(call{kind: kindBringOutYourDead})
}

// Close stops the goroutine and waits for it to exit. The kernel core
// never calls this directly — Services.Terminate does.
func (h *Handle) Close() {
	close(h.inbox)
	<-h.done
}
