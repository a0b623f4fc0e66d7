// Package store implements the kernel's transactional, persistent
// namespace of objects, promises, endpoints, reference counts, and c-lists
// (spec §4.1), layered over a pluggable Backend (spec §6).
package store

import (
	"fmt"
	"log/slog"
	"strconv"

	"slug/internal/kernelerr"
)

// Store is the sole owner of all persistent kernel state (spec §9's
// ownership design note): every other component holds only a *Store and
// acts through its methods, never through a shared mutable pointer into the
// backend.
type Store struct {
	backend Backend

	inCrank       bool
	savepointSeq  int
	openSavepoints []string

	// maybeFreeKrefs is the per-crank candidate set GC sweeps after commit
	// (spec §4.3). It is rebuilt fresh at the start of every crank (P6).
	maybeFreeKrefs map[string]struct{}

	// runQueueLengthCache is the one permitted write-through cache (spec
	// §4.1); it is invalidated on rollback.
	runQueueLengthCache int64
	runQueueLengthValid bool
}

func New(backend Backend) *Store {
	s := &Store{backend: backend}
	s.maybeFreeKrefs = make(map[string]struct{})
	if _, ok := backend.Get(keyInitialized()); !ok {
		backend.Set(keyInitialized(), "true")
		backend.Set(keyRunHead(), "0")
		backend.Set(keyRunTail(), "0")
		backend.Set(keyNextKOId(), "1")
		backend.Set(keyNextKPId(), "1")
		backend.Set(keyNextCapId(), "1")
		backend.Set(keyNextSubclusterId(), "1")
		if err := backend.Commit(); err != nil {
			panic(fmt.Sprintf("store: initial commit failed: %v", err))
		}
	}
	return s
}

// Backend exposes the underlying KVStore collaborator, for callers (like
// the CLI) that need to inspect raw state or swap backends.
func (s *Store) Backend() Backend { return s.backend }

// StartCrank opens the outermost savepoint bracketing one crank's work. A
// second call without a matching EndCrank/RollbackCrank is a programming
// error, per spec §4.1.
func (s *Store) StartCrank() {
	if s.inCrank {
		panic("store: StartCrank called while a crank is already open")
	}
	s.inCrank = true
	s.maybeFreeKrefs = make(map[string]struct{}) // P6: empty at crank start
	s.backend.CreateSavepoint("crank")
	s.openSavepoints = []string{"crank"}
}

// CreateCrankSavepoint opens a nested savepoint within the current crank.
// Spec §9 treats external use of this (outside the executor itself) as a
// dev-only hook — production code should not need it.
func (s *Store) CreateCrankSavepoint(name string) {
	if !s.inCrank {
		panic("store: CreateCrankSavepoint called outside a crank")
	}
	s.savepointSeq++
	full := name + "#" + strconv.Itoa(s.savepointSeq)
	s.backend.CreateSavepoint(full)
	s.openSavepoints = append(s.openSavepoints, full)
}

// EndCrank commits the crank's savepoint tree and durably persists it.
func (s *Store) EndCrank() error {
	if !s.inCrank {
		panic("store: EndCrank called outside a crank")
	}
	for i := len(s.openSavepoints) - 1; i >= 0; i-- {
		s.backend.Release(s.openSavepoints[i])
	}
	s.openSavepoints = nil
	s.inCrank = false
	if err := s.backend.Commit(); err != nil {
		slog.Error("store: commit failed", slog.Any("error", err))
		return kernelerr.Wrap(kernelerr.StoreFailure, "commit", err)
	}
	return nil
}

// RollbackCrank discards every mutation made since StartCrank, restoring
// invariant P5 (rolled-back cranks leave every key at its pre-crank value).
func (s *Store) RollbackCrank() {
	if !s.inCrank {
		panic("store: RollbackCrank called outside a crank")
	}
	s.backend.RollbackTo(s.openSavepoints[0])
	s.openSavepoints = nil
	s.inCrank = false
	s.runQueueLengthValid = false
	s.maybeFreeKrefs = make(map[string]struct{})
}

func (s *Store) requireCrank() {
	if !s.inCrank {
		panic("store: mutation attempted outside a crank")
	}
}

// MaybeFreeKrefs returns the kref strings queued for GC consideration this
// crank (spec §4.3's maybeFreeKrefs set).
func (s *Store) MaybeFreeKrefs() []string {
	out := make([]string, 0, len(s.maybeFreeKrefs))
	for k := range s.maybeFreeKrefs {
		out = append(out, k)
	}
	return out
}

func (s *Store) markMaybeFree(kref string) {
	s.maybeFreeKrefs[kref] = struct{}{}
}
