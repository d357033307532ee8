// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stack

import (
	"context"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
	"code.hybscloud.com/xmem/ioengine"
)

// GrowShrinkStack behaves like NormalStack but, the instant it refills its
// resident page from disk, it also issues an asynchronous Hint for the
// page one level further down -- "prefetching of the predecessor page on
// shrink" (spec.md §4.12) -- so a run of consecutive pops crosses page
// boundaries without blocking on the second and later reads.
type GrowShrinkStack[V any] struct {
	mgr      *blockmgr.Manager
	strategy blockmgr.Strategy
	write    *blockpool.WritePool[V]
	prefetch *blockpool.PrefetchPool[V]
	pageCap  int

	top   *bid.Block[V]
	pages []bid.BID
	size  int
}

// NewGrowShrinkStack constructs an empty GrowShrinkStack.
func NewGrowShrinkStack[V any](mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy, pageCap, poolSize int) *GrowShrinkStack[V] {
	newPage := newPageFn[V](pageCap)
	return &GrowShrinkStack[V]{
		mgr:      mgr,
		strategy: strategy,
		write:    blockpool.NewWritePool[V](backend, poolSize, newPage),
		prefetch: blockpool.NewPrefetchPool[V](backend, poolSize, newPage),
		pageCap:  pageCap,
		top:      newPage(),
	}
}

func (s *GrowShrinkStack[V]) Len() int    { return s.size }
func (s *GrowShrinkStack[V]) Empty() bool { return s.size == 0 }

// Push appends val, flushing the resident page asynchronously first if it
// is full. Before that flush it waits for the previous page's write, whose
// buffer Steal then hands back as the new resident page.
func (s *GrowShrinkStack[V]) Push(ctx context.Context, val V) error {
	if s.top.Full() {
		if len(s.pages) > 0 {
			if err := s.write.Wait(ctx, s.pages[len(s.pages)-1]); err != nil {
				return err
			}
		}
		id, err := s.mgr.NewBlock(s.strategy)
		if err != nil {
			return err
		}
		if _, err := s.write.Write(ctx, s.top, id); err != nil {
			return err
		}
		s.pages = append(s.pages, id)
		s.top = s.write.Steal()
	}
	s.top.Values = append(s.top.Values, val)
	s.size++
	return nil
}

func (s *GrowShrinkStack[V]) ensureTop(ctx context.Context) error {
	if len(s.top.Values) > 0 || len(s.pages) == 0 {
		return nil
	}
	id := s.pages[len(s.pages)-1]
	s.pages = s.pages[:len(s.pages)-1]
	blk, err := s.prefetch.Read(ctx, id, s.pageCap)
	if err != nil {
		return err
	}
	s.top = blk
	s.mgr.DeleteBlock(id)
	if len(s.pages) > 0 {
		_ = s.prefetch.Hint(ctx, s.pages[len(s.pages)-1], s.pageCap)
	}
	return nil
}

// Top returns the current top element without removing it.
func (s *GrowShrinkStack[V]) Top(ctx context.Context) (V, error) {
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
func (s *GrowShrinkStack[V]) Pop(ctx context.Context) (V, error) {
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
