// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stack

import (
	"context"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
)

// GrowShrinkStack2 is a single-page stack backed by a shared
// blockpool.ReadWritePool instead of owning its own write/prefetch pools,
// with a configurable prefetchAggressiveness: the number of predecessor
// pages to Hint ahead of need every time the resident page is refilled
// (spec.md §4.12 "grow_shrink2"). A direction change (push right after
// pop or vice versa) may still cost one I/O, as the pool's single shared
// steal pathway cannot guarantee the stolen buffer is the page just
// flushed.
type GrowShrinkStack2[V any] struct {
	mgr            *blockmgr.Manager
	strategy       blockmgr.Strategy
	pool           *blockpool.ReadWritePool[V]
	pageCap        int
	aggressiveness int

	top   *bid.Block[V]
	pages []bid.BID
	size  int
}

// NewGrowShrinkStack2 constructs an empty GrowShrinkStack2 over pool.
// prefetchAggressiveness of 0 disables look-ahead (degrading to
// NormalStack's synchronous read-back timing).
func NewGrowShrinkStack2[V any](mgr *blockmgr.Manager, strategy blockmgr.Strategy, pool *blockpool.ReadWritePool[V], pageCap, prefetchAggressiveness int) *GrowShrinkStack2[V] {
	return &GrowShrinkStack2[V]{
		mgr:            mgr,
		strategy:       strategy,
		pool:           pool,
		pageCap:        pageCap,
		aggressiveness: prefetchAggressiveness,
		top:            bid.NewBlock[V](pageCap, 0),
	}
}

func (s *GrowShrinkStack2[V]) Len() int    { return s.size }
func (s *GrowShrinkStack2[V]) Empty() bool { return s.size == 0 }

// Push appends val, flushing the resident page asynchronously first if it
// is full. Before that flush it waits for the previous page's write, whose
// buffer Steal then hands back as the new resident page.
func (s *GrowShrinkStack2[V]) Push(ctx context.Context, val V) error {
	if s.top.Full() {
		if len(s.pages) > 0 {
			if err := s.pool.WaitWrite(ctx, s.pages[len(s.pages)-1]); err != nil {
				return err
			}
		}
		id, err := s.mgr.NewBlock(s.strategy)
		if err != nil {
			return err
		}
		if _, err := s.pool.WriteAsync(ctx, s.top, id); err != nil {
			return err
		}
		s.pages = append(s.pages, id)
		s.top = s.pool.Steal()
	}
	s.top.Values = append(s.top.Values, val)
	s.size++
	return nil
}

func (s *GrowShrinkStack2[V]) ensureTop(ctx context.Context) error {
	if len(s.top.Values) > 0 || len(s.pages) == 0 {
		return nil
	}
	id := s.pages[len(s.pages)-1]
	s.pages = s.pages[:len(s.pages)-1]
	blk, err := s.pool.Read(ctx, id, s.pageCap)
	if err != nil {
		return err
	}
	s.top = blk
	s.mgr.DeleteBlock(id)
	for i := 0; i < s.aggressiveness && i < len(s.pages); i++ {
		_ = s.pool.HintRead(ctx, s.pages[len(s.pages)-1-i], s.pageCap)
	}
	return nil
}

// Top returns the current top element without removing it.
func (s *GrowShrinkStack2[V]) Top(ctx context.Context) (V, error) {
	var zero V
	if s.size == 0 {
		return zero, ErrEmpty
	}
	if err := s.ensureTop(ctx); err != nil {
		return zero, err
	}
	return s.top.Values[len(s.top.Values)-1], nil
}

// Pop removes and returns the current top element.
func (s *GrowShrinkStack2[V]) Pop(ctx context.Context) (V, error) {
	var zero V
	if s.size == 0 {
		return zero, ErrEmpty
	}
	if err := s.ensureTop(ctx); err != nil {
		return zero, err
	}
	n := len(s.top.Values)
	v := s.top.Values[n-1]
	s.top.Values = s.top.Values[:n-1]
	s.size--
	return v, nil
}
