// Package id defines the kernel's identifier grammar: kernel-global refs
// (KOId, KPId), endpoint-local refs (ERef), endpoint and subcluster ids.
package id

import (
	"fmt"
	"strconv"
	"strings"
)

// KRef is a kernel-global reference: either a KOId or a KPId.
type KRef interface {
	fmt.Stringer
	isKRef()
}

// KOId is a kernel-owned object id, e.g. "ko10".
type KOId string

func (KOId) isKRef()          {}
func (k KOId) String() string { return string(k) }

// KPId is a kernel-owned promise id, e.g. "kp5".
type KPId string

func (KPId) isKRef()          {}
func (k KPId) String() string { return string(k) }

func NewKOId(n int64) KOId { return KOId(fmt.Sprintf("ko%d", n)) }
func NewKPId(n int64) KPId { return KPId(fmt.Sprintf("kp%d", n)) }

// IsObject reports whether k names a ko* kernel object.
func IsObject(k KRef) bool { _, ok := k.(KOId); return ok }

// IsPromise reports whether k names a kp* kernel promise.
func IsPromise(k KRef) bool { _, ok := k.(KPId); return ok }

// ParseKRef parses a "ko<n>" or "kp<n>" string back into a KRef.
func ParseKRef(s string) (KRef, error) {
	switch {
	case strings.HasPrefix(s, "ko"):
		return KOId(s), nil
	case strings.HasPrefix(s, "kp"):
		return KPId(s), nil
	default:
		return nil, fmt.Errorf("id: invalid kref %q", s)
	}
}

// EndpointKind distinguishes the two endpoint families; the literal service
// pseudo-endpoint "kernel" is neither and is checked for with IsKernel.
type EndpointKind int

const (
	VatKind EndpointKind = iota
	RemoteKind
)

// EndpointId is a vN, rN, or the literal "kernel".
type EndpointId string

const KernelEndpoint EndpointId = "kernel"

func NewVatId(n int64) EndpointId    { return EndpointId(fmt.Sprintf("v%d", n)) }
func NewRemoteId(n int64) EndpointId { return EndpointId(fmt.Sprintf("r%d", n)) }

func (e EndpointId) IsKernel() bool { return e == KernelEndpoint }

func (e EndpointId) IsRemote() bool {
	return strings.HasPrefix(string(e), "r") && !e.IsKernel()
}

func (e EndpointId) IsVat() bool {
	return strings.HasPrefix(string(e), "v")
}

// SubclusterId is a group-of-endpoints identifier, e.g. "s1".
type SubclusterId string

func NewSubclusterId(n int64) SubclusterId { return SubclusterId(fmt.Sprintf("s%d", n)) }

// Polarity marks whether an ERef was created by the endpoint holding it
// (Export) or was handed to it from elsewhere (Import).
type Polarity int

const (
	Import Polarity = iota
	Export
)

func (p Polarity) Flip() Polarity {
	if p == Import {
		return Export
	}
	return Import
}

func (p Polarity) sigil() byte {
	if p == Export {
		return '+'
	}
	return '-'
}

// RefKind distinguishes object-shaped from promise-shaped endpoint refs.
type RefKind int

const (
	ObjectRef RefKind = iota
	PromiseRef
)

// ERef is an endpoint-local reference: o+N / o-N / p+N / p-N for a local
// vat, ro+N / ro-N / rp+N / rp-N for a remote peer. Polarity on a remote ref
// is interpreted in the *receiver's* frame — see spec §3.
type ERef struct {
	Remote   bool
	Kind     RefKind
	Polarity Polarity
	Num      int64
}

func Object(polarity Polarity, n int64) ERef {
	return ERef{Kind: ObjectRef, Polarity: polarity, Num: n}
}

func Promise(polarity Polarity, n int64) ERef {
	return ERef{Kind: PromiseRef, Polarity: polarity, Num: n}
}

func RemoteObject(polarity Polarity, n int64) ERef {
	return ERef{Remote: true, Kind: ObjectRef, Polarity: polarity, Num: n}
}

func RemotePromise(polarity Polarity, n int64) ERef {
	return ERef{Remote: true, Kind: PromiseRef, Polarity: polarity, Num: n}
}

// Flipped returns a copy of e with its polarity flipped.
func (e ERef) Flipped() ERef {
	e.Polarity = e.Polarity.Flip()
	return e
}

func (e ERef) IsObject() bool  { return e.Kind == ObjectRef }
func (e ERef) IsPromise() bool { return e.Kind == PromiseRef }

func (e ERef) String() string {
	var b strings.Builder
	if e.Remote {
		b.WriteByte('r')
	}
	if e.Kind == ObjectRef {
		b.WriteByte('o')
	} else {
		b.WriteByte('p')
	}
	b.WriteByte(e.Polarity.sigil())
	b.WriteString(strconv.FormatInt(e.Num, 10))
	return b.String()
}

// ParseERef parses the grammar documented on ERef.String.
func ParseERef(s string) (ERef, error) {
	orig := s
	var e ERef
	if strings.HasPrefix(s, "r") {
		e.Remote = true
		s = s[1:]
	}
	if len(s) < 2 {
		return ERef{}, fmt.Errorf("id: invalid eref %q", orig)
	}
	switch s[0] {
	case 'o':
		e.Kind = ObjectRef
	case 'p':
		e.Kind = PromiseRef
	default:
		return ERef{}, fmt.Errorf("id: invalid eref %q", orig)
	}
	switch s[1] {
	case '+':
		e.Polarity = Export
	case '-':
		e.Polarity = Import
	default:
		return ERef{}, fmt.Errorf("id: invalid eref %q", orig)
	}
	n, err := strconv.ParseInt(s[2:], 10, 64)
	if err != nil {
		return ERef{}, fmt.Errorf("id: invalid eref %q: %w", orig, err)
	}
	e.Num = n
	return e, nil
}
