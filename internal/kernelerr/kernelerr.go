// Package kernelerr defines the kernel's error taxonomy (spec §7) as typed
// values, in the string-coded convention the teacher's kernel core uses
// (E_POLICY, E_NO_SUCH, E_BUSY, ...) rather than opaque errors.New calls.
package kernelerr

import "fmt"

// Kind classifies an error by its propagation rule: recoverable at message
// level, fatal to the current crank, or fatal to the whole engine.
type Kind int

const (
	// InvalidRef: wrong prefix/direction for the requested operation.
	// Fatal for the offending syscall; rolls back the crank.
	InvalidRef Kind = iota
	// UnknownEntity: lookup of a KOId/KPId/EndpointId/SubclusterId that
	// does not exist. Fatal for the crank.
	UnknownEntity
	// StateViolation: promise/decider/subscription invariant violated.
	// Fatal for the crank; the offending endpoint is marked terminated.
	StateViolation
	// RevokedTarget: recoverable — splat + reject result.
	RevokedTarget
	// NoOwner: recoverable — splat + reject result.
	NoOwner
	// NoObject: recoverable — splat + reject result.
	NoObject
	// DeliveryFailure: recoverable — reject the result promise, continue.
	DeliveryFailure
	// StoreFailure: commit/rollback failed. Engine-fatal.
	StoreFailure
	// ProtocolError: unknown run-queue item type or syscall. Engine-fatal.
	ProtocolError
)

func (k Kind) code() string {
	switch k {
	case InvalidRef:
		return "E_INVALID_REF"
	case UnknownEntity:
		return "E_NO_SUCH"
	case StateViolation:
		return "E_STATE"
	case RevokedTarget:
		return "E_REVOKED"
	case NoOwner:
		return "E_NO_ENDPOINT"
	case NoObject:
		return "E_NO_OBJECT"
	case DeliveryFailure:
		return "E_DELIVERY"
	case StoreFailure:
		return "E_STORE"
	case ProtocolError:
		return "E_PROTOCOL"
	default:
		return "E_UNKNOWN"
	}
}

// Error is a kernel error carrying its Kind and the subject (a kref,
// endpoint id, or other identifier string) it concerns.
type Error struct {
	Kind    Kind
	Subject string
	Detail  string
	Cause   error
}

func New(kind Kind, subject, detail string) *Error {
	return &Error{Kind: kind, Subject: subject, Detail: detail}
}

func Wrap(kind Kind, subject string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Cause: cause}
}

func (e *Error) Error() string {
	detail := e.Detail
	if detail == "" && e.Cause != nil {
		detail = e.Cause.Error()
	}
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s", e.Kind.code(), detail)
	}
	if detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind.code(), e.Subject)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.code(), e.Subject, detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the error is handled at message level
// (splat/reject) rather than aborting the crank or the engine.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case RevokedTarget, NoOwner, NoObject, DeliveryFailure:
		return true
	default:
		return false
	}
}

// CrankFatal reports whether the error rolls back the current crank (but
// does not halt the engine).
func (e *Error) CrankFatal() bool {
	switch e.Kind {
	case InvalidRef, UnknownEntity, StateViolation:
		return true
	default:
		return false
	}
}

// EngineFatal reports whether the error halts the executor loop entirely.
func (e *Error) EngineFatal() bool {
	switch e.Kind {
	case StoreFailure, ProtocolError:
		return true
	default:
		return false
	}
}

// As reports whether err is a *Error of the given kind.
func As(err error, kind Kind) bool {
	ke, ok := err.(*Error)
	return ok && ke.Kind == kind
}
