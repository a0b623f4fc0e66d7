// Package platform declares the two collaborator interfaces the core
// depends on but never implements itself (spec §6): EndpointHandle, the
// per-live-endpoint delivery surface, and Services, the endpoint/subcluster
// lifecycle surface. internal/platform/localsandbox provides the reference
// goroutine-mailbox EndpointHandle implementation; internal/executor and
// internal/router depend only on these interfaces.
package platform

import (
	"slug/internal/capdata"
	"slug/internal/config"
	"slug/internal/id"
	"slug/internal/vsyscall"
)

// Resolution is a settled promise reported by deliverNotify's caller, in
// the receiving endpoint's own namespace.
type Resolution = vsyscall.Resolution

// Termination describes an endpoint a crank asked to be torn down.
type Termination struct {
	Endpoint id.EndpointId
	Reject   bool
	Info     capdata.ECapData
}

// CrankResult bundles everything one delivery call reported back (spec
// §6). Checkpoint is an opaque per-endpoint delta the executor does not
// interpret; it exists so an EndpointHandle may expose its own durable
// state to an operator without the kernel core needing to know its shape.
type CrankResult struct {
	DidDelivery   id.EndpointId
	DidDeliveryOK bool
	Abort         bool
	Terminate     *Termination
	Syscalls      []vsyscall.Syscall
	Checkpoint    map[string]string
}

// EndpointHandle is the per-live-endpoint collaborator (spec §6). All
// methods are synchronous from the executor's point of view — the
// implementation is free to suspend internally (it is the core's only
// await point, spec §5) but must return a CrankResult or an error.
type EndpointHandle interface {
	DeliverMessage(target id.ERef, msg capdata.EMessage) (CrankResult, error)
	DeliverNotify(resolutions []Resolution) (CrankResult, error)
	DeliverDropExports(refs []id.ERef) (CrankResult, error)
	DeliverRetireExports(refs []id.ERef) (CrankResult, error)
	DeliverRetireImports(refs []id.ERef) (CrankResult, error)
	DeliverBringOutYourDead() (CrankResult, error)
}

// Services is the PlatformServices collaborator (spec §6): endpoint
// lifecycle plus optional remote transport. The core depends only on
// these signatures.
type Services interface {
	Launch(endpoint id.EndpointId, cfg config.VatConfig) (EndpointHandle, error)
	Terminate(endpoint id.EndpointId) error
	TerminateAll() error

	SendRemoteMessage(remote id.EndpointId, payload []byte) error
	InitializeRemoteComms(remote id.EndpointId) error
}
