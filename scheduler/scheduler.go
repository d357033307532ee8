// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler implements the swappable-block scheduler of spec.md
// §4.3: it virtualizes a logical block space larger than RAM by evicting
// unused buffers, with a pluggable eviction Algorithm (online LRU,
// simulation/record, offline LFD replay).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/ioengine"
)

// ErrOutOfSchedulerMemory is returned by Acquire when no buffer is
// available because every resident block is pinned, per spec.md §4.3.
var ErrOutOfSchedulerMemory = errors.New("scheduler: out of scheduler memory")

// state is the per-block bookkeeping described in spec.md §3
// ("Swappable block"): four orthogonal bits plus a reference count.
type state[T any] struct {
	buffer   *bid.Block[T]
	external bid.BID
	dirty    bool
	refCount int
}

func (s *state[T]) hasInternalBuffer() bool { return s.buffer != nil }
func (s *state[T]) hasExternalBID() bool    { return s.external.Valid() }
func (s *state[T]) acquired() bool          { return s.refCount > 0 }

// AlgorithmKind selects a Scheduler's eviction policy.
type AlgorithmKind int

const (
	OnlineLRU AlgorithmKind = iota
	Simulation
	OfflineLFD
)

// Scheduler virtualizes a population of logical blocks across a resident
// buffer budget, backed by a blockmgr.Manager for external storage and an
// ioengine.Backend for the actual reads/writes (spec.md §4.3).
type Scheduler[T any] struct {
	mgr      *blockmgr.Manager
	backend  ioengine.Backend
	strategy blockmgr.Strategy
	newBlk   func() *bid.Block[T]
	capacity int // max resident buffers

	mu       sync.Mutex
	blocks   map[int]*state[T]
	nextID   int
	resident int
	algo     Algorithm
}

// New constructs a Scheduler with the given resident-buffer budget.
func New[T any](mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy, capacity int, newBlk func() *bid.Block[T]) *Scheduler[T] {
	return &Scheduler[T]{
		mgr:      mgr,
		backend:  backend,
		strategy: strategy,
		newBlk:   newBlk,
		capacity: capacity,
		blocks:   make(map[int]*state[T]),
		algo:     newOnlineLRU(),
	}
}

// SwitchAlgorithmTo swaps the eviction policy at runtime, preserving the
// currently-evictable set by replaying it into the new algorithm (spec.md
// §4.3: "swappable at runtime ... preserving the currently-evictable
// set").
func (s *Scheduler[T]) SwitchAlgorithmTo(kind AlgorithmKind, trace []PredictionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next Algorithm
	switch kind {
	case OnlineLRU:
		next = newOnlineLRU()
	case Simulation:
		next = newSimulation()
	case OfflineLFD:
		next = newOfflineLFD(trace)
	default:
		panic("scheduler: unknown algorithm kind")
	}
	for id, st := range s.blocks {
		if !st.acquired() && st.hasInternalBuffer() && (st.dirty || st.hasExternalBID()) {
			next.onRelease(id, true)
		}
	}
	s.algo = next
}

// Trace returns the recorded prediction sequence if the current algorithm
// is Simulation, or nil otherwise.
func (s *Scheduler[T]) Trace() []PredictionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sim, ok := s.algo.(*simulation); ok {
		return append([]PredictionEvent(nil), sim.Trace...)
	}
	return nil
}

// AllocateSwappableBlock creates a new uninitialized logical block and
// returns its id.
func (s *Scheduler[T]) AllocateSwappableBlock() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.blocks[id] = &state[T]{}
	return id
}

// FreeSwappableBlock deinitializes id (freeing its external BID and
// internal buffer, if any) and recycles the slot.
func (s *Scheduler[T]) FreeSwappableBlock(ctx context.Context, id int) error {
	if err := s.Deinitialize(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.blocks, id)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler[T]) get(id int) (*state[T], error) {
	st, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("scheduler: unknown swappable block id %d", id)
	}
	return st, nil
}

// IsInitialized reports whether id has an internal buffer or an external
// BID (i.e. is not in the uninitialized state).
func (s *Scheduler[T]) IsInitialized(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.blocks[id]
	return ok && (st.hasInternalBuffer() || st.hasExternalBID())
}

// Initialize transitions an uninitialized block directly to the external
// state, associating it with a pre-existing BID without materializing a
// buffer yet.
func (s *Scheduler[T]) Initialize(id int, extBID bid.BID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.get(id)
	if err != nil {
		return err
	}
	if sim, ok := s.algo.(*simulation); ok {
		sim.record(OpInitialize, id)
	}
	st.external = extBID
	return nil
}

// evictOneLocked picks a victim via the current algorithm and writes it
// back if dirty, freeing its internal buffer. Must be called with mu held.
func (s *Scheduler[T]) evictOneLocked(ctx context.Context) error {
	id, ok := s.algo.pickVictim()
	if !ok {
		return ErrOutOfSchedulerMemory
	}
	victim := s.blocks[id]
	if victim.dirty {
		if !victim.hasExternalBID() {
			extBID, err := s.mgr.NewBlock(s.strategy)
			if err != nil {
				return err
			}
			victim.external = extBID
		}
		req, err := s.backend.Write(ctx, victim.external.Storage, victim.external.Offset, victim.buffer.Bytes())
		if err != nil {
			return err
		}
		if err := s.backend.Wait(ctx, req); err != nil {
			return err
		}
		victim.dirty = false
	}
	victim.buffer = nil
	s.resident--
	return nil
}

// Acquire increments id's reference count, attaching a buffer (evicting
// another block if necessary) and reading external data if any. Returns
// ErrOutOfSchedulerMemory if no buffer can be freed because every resident
// block is pinned.
func (s *Scheduler[T]) Acquire(ctx context.Context, id int) (*bid.Block[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if sim, ok := s.algo.(*simulation); ok {
		sim.record(OpAcquire, id)
	}
	s.algo.onAcquire(id)

	if st.hasInternalBuffer() {
		st.refCount++
		return st.buffer, nil
	}
	for s.resident >= s.capacity {
		if err := s.evictOneLocked(ctx); err != nil {
			return nil, err
		}
	}
	st.buffer = s.newBlk()
	s.resident++
	if st.hasExternalBID() {
		raw := make([]byte, st.buffer.RawSize())
		req, err := s.backend.Read(ctx, st.external.Storage, st.external.Offset, raw)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Wait(ctx, req); err != nil {
			return nil, err
		}
		st.buffer.LoadBytes(raw, st.buffer.Capacity)
	}
	st.refCount++
	return st.buffer, nil
}

// Release decrements id's reference count. When it reaches zero and dirty
// (or the block already has an external BID), the buffer becomes
// evictable; otherwise it returns to the free list immediately.
func (s *Scheduler[T]) Release(id int, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.refCount == 0 {
		return fmt.Errorf("scheduler: Release called on non-acquired block %d", id)
	}
	st.refCount--
	if dirty {
		st.dirty = true
	}
	if st.refCount > 0 {
		return nil
	}

	if sim, ok := s.algo.(*simulation); ok {
		if dirty {
			sim.record(OpReleaseDirty, id)
		} else {
			sim.record(OpRelease, id)
		}
	}

	evictable := st.dirty || st.hasExternalBID()
	if !evictable {
		st.buffer = nil
		s.resident--
	}
	s.algo.onRelease(id, evictable)
	return nil
}

// Deinitialize frees id's external BID (if any) and internal buffer,
// returning it to the uninitialized state. Must not be called while
// acquired.
func (s *Scheduler[T]) Deinitialize(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.get(id)
	if err != nil {
		return err
	}
	if st.acquired() {
		return fmt.Errorf("scheduler: cannot deinitialize acquired block %d", id)
	}
	if sim, ok := s.algo.(*simulation); ok {
		sim.record(OpDeinitialize, id)
	}
	s.algo.onRemove(id)
	if st.hasInternalBuffer() {
		s.resident--
	}
	if st.hasExternalBID() {
		s.mgr.DeleteBlock(st.external)
	}
	*st = state[T]{}
	return nil
}

// ExtractExternalBlock returns id's external BID without deinitializing
// it, or bid.Invalid if id is uninitialized (spec.md §4.3).
func (s *Scheduler[T]) ExtractExternalBlock(id int) bid.BID {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.blocks[id]
	if !ok {
		return bid.Invalid
	}
	if sim, ok2 := s.algo.(*simulation); ok2 {
		sim.record(OpExtractExternal, id)
	}
	return st.external
}

// ExplicitTimestep inserts a simulation-mode boundary between release and
// the next acquire; a no-op for non-simulation algorithms.
func (s *Scheduler[T]) ExplicitTimestep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.algo.explicitTimestep()
}
