// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pq implements the classical sequence-heap priority queue of
// spec.md §4.6: a bounded insertion heap that overflows into a cascade of
// merged segment levels, each level drained through the internal
// loser-tree merger of package merger.
package pq

import (
	"container/heap"

	"code.hybscloud.com/xmem/bid"
)

// maxHeap is an insert heap (spec.md §4.6 item 1): a binary heap over V
// ordered so that Pop always yields the comparator's maximum, the same
// top()-is-greatest convention the loser-tree merger uses.
type maxHeap[V any] struct {
	cmp  bid.Comparator[V]
	data []V
}

func (h *maxHeap[V]) Len() int            { return len(h.data) }
func (h *maxHeap[V]) Less(i, j int) bool  { return h.cmp.Less(h.data[j], h.data[i]) }
func (h *maxHeap[V]) Swap(i, j int)       { h.data[i], h.data[j] = h.data[j], h.data[i] }
func (h *maxHeap[V]) Push(x any)          { h.data = append(h.data, x.(V)) }
func (h *maxHeap[V]) Pop() any {
	old := h.data
	n := len(old)
	v := old[n-1]
	h.data = old[:n-1]
	return v
}

func newMaxHeap[V any](cmp bid.Comparator[V]) *maxHeap[V] {
	h := &maxHeap[V]{cmp: cmp}
	heap.Init(h)
	return h
}

func (h *maxHeap[V]) push(v V) { heap.Push(h, v) }
func (h *maxHeap[V]) pop() V   { return heap.Pop(h).(V) }
func (h *maxHeap[V]) peek() V  { return h.data[0] }

// drainSortedDescending empties h, returning its elements in descending
// (max-first) order: exactly the run layout merger.InternalLoserTree
// expects.
func (h *maxHeap[V]) drainSortedDescending() []V {
	out := make([]V, 0, h.Len())
	for h.Len() > 0 {
		out = append(out, h.pop())
	}
	return out
}
