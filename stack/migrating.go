// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stack

import (
	"context"

	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
	"code.hybscloud.com/xmem/ioengine"
)

// MigratingStack starts as a plain in-memory slice stack and, once its
// size reaches threshold, copies its contents into a GrowShrinkStack2 and
// forwards every subsequent call to it -- paying no I/O at all for stacks
// that never grow past main memory (spec.md §4.12 "migrating").
type MigratingStack[V any] struct {
	threshold int
	mem       []V

	mgr      *blockmgr.Manager
	backend  ioengine.Backend
	strategy blockmgr.Strategy
	pageCap  int
	poolSize int
	aggr     int

	external *GrowShrinkStack2[V]
}

// NewMigratingStack constructs an empty MigratingStack. External-storage
// parameters are only used if and when the stack actually migrates.
func NewMigratingStack[V any](mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy, threshold, pageCap, poolSize, prefetchAggressiveness int) *MigratingStack[V] {
	return &MigratingStack[V]{
		threshold: threshold,
		mgr:       mgr,
		backend:   backend,
		strategy:  strategy,
		pageCap:   pageCap,
		poolSize:  poolSize,
		aggr:      prefetchAggressiveness,
	}
}

// Len returns the number of elements currently stored, in either mode.
func (s *MigratingStack[V]) Len() int {
	if s.external != nil {
		return s.external.Len()
	}
	return len(s.mem)
}

// Empty reports whether the stack holds no elements.
func (s *MigratingStack[V]) Empty() bool { return s.Len() == 0 }

// Migrated reports whether the stack has converted to external storage.
func (s *MigratingStack[V]) Migrated() bool { return s.external != nil }

// migrate copies the in-memory contents (bottom to top) into a fresh
// GrowShrinkStack2 and drops the in-memory slice.
func (s *MigratingStack[V]) migrate(ctx context.Context) error {
	pool := blockpool.NewReadWritePool[V](s.backend, s.poolSize, s.poolSize, newPageFn[V](s.pageCap))
	ext := NewGrowShrinkStack2[V](s.mgr, s.strategy, pool, s.pageCap, s.aggr)
	for _, v := range s.mem {
		if err := ext.Push(ctx, v); err != nil {
			return err
		}
	}
	s.external = ext
	s.mem = nil
	return nil
}

// Push appends val as the new top element, migrating to external storage
// first if the in-memory slice has just reached threshold.
func (s *MigratingStack[V]) Push(ctx context.Context, val V) error {
	if s.external != nil {
		return s.external.Push(ctx, val)
	}
	if len(s.mem) >= s.threshold {
		if err := s.migrate(ctx); err != nil {
			return err
		}
		return s.external.Push(ctx, val)
	}
	s.mem = append(s.mem, val)
	return nil
}

// Top returns the current top element without removing it.
func (s *MigratingStack[V]) Top(ctx context.Context) (V, error) {
	if s.external != nil {
		return s.external.Top(ctx)
	}
	var zero V
	if len(s.mem) == 0 {
		return zero, ErrEmpty
	}
	return s.mem[len(s.mem)-1], nil
}

// Pop removes and returns the current top element.
func (s *MigratingStack[V]) Pop(ctx context.Context) (V, error) {
	if s.external != nil {
		return s.external.Pop(ctx)
	}
	var zero V
	if len(s.mem) == 0 {
		return zero, ErrEmpty
	}
	n := len(s.mem)
	v := s.mem[n-1]
	s.mem = s.mem[:n-1]
	return v, nil
}
