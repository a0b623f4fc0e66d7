package store

import (
	"strconv"
	"strings"

	"slug/internal/capdata"
	"slug/internal/id"
	"slug/internal/kernelerr"
)

// InitKernelPromise allocates a fresh KPId in the unresolved state, with no
// decider and no subscribers.
func (s *Store) InitKernelPromise() id.KPId {
	s.requireCrank()
	n := s.nextInt(keyNextKPId())
	p := id.NewKPId(n)
	s.backend.Set(keyPromiseState(p), Unresolved.String())
	s.backend.Set(keyPromiseRefCount(p), "0")
	s.backend.Set(keyPromiseSubscribers(p), "")
	s.backend.Set(keyPromiseDecider(p), "")
	s.backend.Set(keyPromiseQHead(p), "0")
	s.backend.Set(keyPromiseQTail(p), "0")
	return p
}

// DeleteKernelPromise removes every persisted key for p, including its
// pending-message queue. Callers must have already cascaded refcount
// decrements for anything the promise's value referenced.
func (s *Store) DeleteKernelPromise(p id.KPId) {
	s.requireCrank()
	head, tail := s.promiseQueueBounds(p)
	for i := head; i < tail; i++ {
		s.backend.Delete(keyPromiseQItem(p, i))
	}
	s.backend.Delete(keyPromiseState(p))
	s.backend.Delete(keyPromiseValue(p))
	s.backend.Delete(keyPromiseRefCount(p))
	s.backend.Delete(keyPromiseSubscribers(p))
	s.backend.Delete(keyPromiseDecider(p))
	s.backend.Delete(keyPromiseQHead(p))
	s.backend.Delete(keyPromiseQTail(p))
}

// PromiseExists reports whether p has a persisted record.
func (s *Store) PromiseExists(p id.KPId) bool {
	_, ok := s.backend.Get(keyPromiseState(p))
	return ok
}

// GetPromiseState returns p's current state.
func (s *Store) GetPromiseState(p id.KPId) (PromiseState, error) {
	raw, ok := s.backend.Get(keyPromiseState(p))
	if !ok {
		return 0, kernelerr.New(kernelerr.UnknownEntity, string(p), "no such promise")
	}
	st, ok := ParsePromiseState(raw)
	if !ok {
		return 0, kernelerr.New(kernelerr.ProtocolError, string(p), "corrupt promise state: "+raw)
	}
	return st, nil
}

// GetPromiseValue returns p's settled value. Callers must check
// GetPromiseState first; an unresolved promise has no value.
func (s *Store) GetPromiseValue(p id.KPId) capdata.CapData {
	raw, ok := s.backend.Get(keyPromiseValue(p))
	if !ok {
		return capdata.CapData{}
	}
	return decodeCapData(raw)
}

func (s *Store) setPromiseValue(p id.KPId, v capdata.CapData) {
	s.backend.Set(keyPromiseValue(p), encodeCapData(v))
}

// GetDecider returns p's decider, if any.
func (s *Store) GetDecider(p id.KPId) (id.EndpointId, bool) {
	raw, ok := s.backend.Get(keyPromiseDecider(p))
	if !ok || raw == "" {
		return "", false
	}
	return id.EndpointId(raw), true
}

// SetDecider records endpoint as the sole endpoint permitted to resolve p.
func (s *Store) SetDecider(p id.KPId, endpoint id.EndpointId) {
	s.requireCrank()
	s.backend.Set(keyPromiseDecider(p), string(endpoint))
}

func (s *Store) clearDecider(p id.KPId) {
	s.backend.Set(keyPromiseDecider(p), "")
}

// Subscribers returns p's current subscriber set, in insertion order.
func (s *Store) Subscribers(p id.KPId) []id.EndpointId {
	raw, ok := s.backend.Get(keyPromiseSubscribers(p))
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]id.EndpointId, len(parts))
	for i, part := range parts {
		out[i] = id.EndpointId(part)
	}
	return out
}

// AddSubscriber registers endpoint to be notified when p settles. A no-op
// if endpoint is already subscribed.
func (s *Store) AddSubscriber(p id.KPId, endpoint id.EndpointId) {
	s.requireCrank()
	subs := s.Subscribers(p)
	for _, e := range subs {
		if e == endpoint {
			return
		}
	}
	subs = append(subs, endpoint)
	s.writeSubscribers(p, subs)
}

func (s *Store) writeSubscribers(p id.KPId, subs []id.EndpointId) {
	strs := make([]string, len(subs))
	for i, e := range subs {
		strs[i] = string(e)
	}
	s.backend.Set(keyPromiseSubscribers(p), strings.Join(strs, ","))
}

func (s *Store) clearSubscribers(p id.KPId) {
	s.backend.Set(keyPromiseSubscribers(p), "")
}

// ResolveKernelPromise transitions p from unresolved to fulfilled or
// rejected exactly once (spec §3's promise lifecycle, §4.1's contract).
// Every pending message becomes a fresh Send run-queue item targeting p, in
// original FIFO order, and the decider/subscriber sets are cleared —
// restoring invariant P2 the instant the promise settles.
func (s *Store) ResolveKernelPromise(p id.KPId, rejected bool, value capdata.CapData) error {
	s.requireCrank()
	st, err := s.GetPromiseState(p)
	if err != nil {
		return err
	}
	if st != Unresolved {
		return kernelerr.New(kernelerr.StateViolation, string(p), "promise already settled")
	}

	newState := Fulfilled
	if rejected {
		newState = Rejected
	}
	s.backend.Set(keyPromiseState(p), newState.String())
	s.setPromiseValue(p, value)

	pending := s.DrainPromiseMessages(p)
	for _, msg := range pending {
		s.IncrementRefCount(p, TagQueue, false)
		for _, slot := range msg.MethArgs.Slots {
			s.IncrementRefCount(slot, TagQueue, false)
		}
		if msg.Result != nil {
			s.IncrementRefCount(*msg.Result, TagQueue, false)
		}
		s.EnqueueRun(SendItem(p, msg))
	}

	s.clearDecider(p)
	s.clearSubscribers(p)
	return nil
}

// EnqueuePromiseMessage appends msg to p's pending-message queue (spec
// §4.1). Used when the router requeues a send targeting an unresolved
// promise.
func (s *Store) EnqueuePromiseMessage(p id.KPId, msg capdata.Message) {
	s.requireCrank()
	tailKey := keyPromiseQTail(p)
	tail := s.mustInt(tailKey)
	s.backend.Set(keyPromiseQItem(p, tail), encodeMessage(msg))
	s.backend.Set(tailKey, strconv.FormatInt(tail+1, 10))
}

// DrainPromiseMessages removes and returns every pending message queued
// against p, in FIFO order.
func (s *Store) DrainPromiseMessages(p id.KPId) []capdata.Message {
	s.requireCrank()
	head, tail := s.promiseQueueBounds(p)
	out := make([]capdata.Message, 0, tail-head)
	for i := head; i < tail; i++ {
		raw, ok := s.backend.Get(keyPromiseQItem(p, i))
		if !ok {
			continue
		}
		out = append(out, decodeMessage(raw))
		s.backend.Delete(keyPromiseQItem(p, i))
	}
	s.backend.Set(keyPromiseQHead(p), strconv.FormatInt(tail, 10))
	s.backend.Set(keyPromiseQTail(p), strconv.FormatInt(tail, 10))
	return out
}

func (s *Store) promiseQueueBounds(p id.KPId) (head, tail int64) {
	return s.mustInt(keyPromiseQHead(p)), s.mustInt(keyPromiseQTail(p))
}

func (s *Store) mustInt(key string) int64 {
	raw, ok := s.backend.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		panic("store: corrupt integer key: " + key)
	}
	return n
}

// GetPromise projects p's full record in one call.
func (s *Store) GetPromise(p id.KPId) (PromiseRecord, error) {
	st, err := s.GetPromiseState(p)
	if err != nil {
		return PromiseRecord{}, err
	}
	rec := PromiseRecord{
		Id:          p,
		State:       st,
		Subscribers: s.Subscribers(p),
		RefCount:    s.mustInt(keyPromiseRefCount(p)),
	}
	if st != Unresolved {
		rec.Value = s.GetPromiseValue(p)
	}
	if d, ok := s.GetDecider(p); ok {
		rec.Decider, rec.HasDecider = d, true
	}
	return rec, nil
}
