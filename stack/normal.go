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

// NormalStack is the plainest external stack: one resident page, writing
// it out asynchronously the instant it overflows and reading the
// predecessor page back synchronously the instant the resident page
// empties (spec.md §4.12 "normal").
type NormalStack[V any] struct {
	mgr      *blockmgr.Manager
	strategy blockmgr.Strategy
	write    *blockpool.WritePool[V]
	prefetch *blockpool.PrefetchPool[V]
	pageCap  int

	top   *bid.Block[V]
	pages []bid.BID // on-disk pages, oldest first; top is not among them
	size  int
}

// NewNormalStack constructs an empty NormalStack. pageCap is the number of
// elements per resident page; poolSize bounds concurrent in-flight
// writes/reads.
func NewNormalStack[V any](mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy, pageCap, poolSize int) *NormalStack[V] {
	newPage := newPageFn[V](pageCap)
	return &NormalStack[V]{
		mgr:      mgr,
		strategy: strategy,
		write:    blockpool.NewWritePool[V](backend, poolSize, newPage),
		prefetch: blockpool.NewPrefetchPool[V](backend, poolSize, newPage),
		pageCap:  pageCap,
		top:      newPage(),
	}
}

// Len returns the number of elements currently stored.
func (s *NormalStack[V]) Len() int { return s.size }

// Empty reports whether the stack holds no elements.
func (s *NormalStack[V]) Empty() bool { return s.size == 0 }

// Push appends val as the new top element, flushing the current page to
// disk first if it is full. Before that flush it waits for the previous
// page's write, whose buffer Steal then hands back as the new top page.
func (s *NormalStack[V]) Push(ctx context.Context, val V) error {
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

// ensureTop refills the resident page from the most recently written page
// if the resident page is empty but earlier pages exist on disk.
func (s *NormalStack[V]) ensureTop(ctx context.Context) error {
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
	return nil
}

// Top returns the current top element without removing it.
func (s *NormalStack[V]) Top(ctx context.Context) (V, error) {
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
func (s *NormalStack[V]) Pop(ctx context.Context) (V, error) {
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
