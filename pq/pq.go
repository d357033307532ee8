// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/merger"
)

// defaultFanout bounds how many runs accumulate at one level before they
// are merged and promoted: spec.md §4.6's group-buffer refill names a hard
// cap of 4 simultaneously non-empty levels for refill_delete_buffer; PQ
// reuses that constant for its own cascade width.
const defaultFanout = 4

// level is one rung of the overflow cascade (spec.md §4.6, "group buffers
// ... internal mergers ... forming a pipeline"): a small number of sorted
// runs, each descending (max-first) per the comparator, merged and promoted
// to the next level once the fanout is exceeded.
type level[V any] struct {
	runs [][]V
}

// PQ is the classical sequence-heap priority queue: a bounded insertion
// heap whose overflow cascades through a pyramid of loser-tree-merged
// levels (spec.md §4.6). Extraction always yields the comparator's maximum
// first; a caller wanting ascending (extract-min) order supplies a
// Comparator whose Less is the reverse of the value's natural order (see
// bid.Comparator).
type PQ[V any] struct {
	cmp      bid.Comparator[V]
	heapCap  int
	fanout   int
	heap     *maxHeap[V]
	levels   []*level[V]
	runCur   []int // per level: read position within runs[0]
}

// New constructs a PQ whose insertion heap holds up to heapCap elements
// before overflowing into the cascade.
func New[V any](cmp bid.Comparator[V], heapCap int) *PQ[V] {
	bid.ValidateStrictWeakOrdering(cmp)
	if heapCap < 1 {
		heapCap = 1
	}
	return &PQ[V]{
		cmp:     cmp,
		heapCap: heapCap,
		fanout:  defaultFanout,
		heap:    newMaxHeap(cmp),
	}
}

// Push inserts v into the insertion heap, triggering the overflow cascade
// once the heap holds more than heapCap elements (spec.md §4.6, "Overflow
// cascade").
func (q *PQ[V]) Push(v V) {
	q.heap.push(v)
	if q.heap.Len() > q.heapCap {
		q.promote(0, q.heap.drainSortedDescending())
	}
}

// promote inserts run into level i, merging and promoting to level i+1
// once the level's run count exceeds the cascade fanout.
func (q *PQ[V]) promote(i int, run []V) {
	for len(q.levels) <= i {
		q.levels = append(q.levels, &level[V]{})
		q.runCur = append(q.runCur, 0)
	}
	lvl := q.levels[i]
	lvl.runs = append(lvl.runs, run)
	if len(lvl.runs) <= q.fanout {
		return
	}
	// Pop may already have consumed a prefix of the oldest run; merge only
	// its unread tail.
	lvl.runs[0] = lvl.runs[0][q.runCur[i]:]
	tree := merger.NewInternalLoserTree[V](q.cmp, lvl.runs)
	merged := make([]V, 0, runTotalLen(lvl.runs))
	buf := make([]V, 64)
	for {
		n := tree.MultiMerge(buf)
		merged = append(merged, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	lvl.runs = nil
	q.runCur[i] = 0
	q.promote(i+1, merged)
}

func runTotalLen[V any](runs [][]V) int {
	n := 0
	for _, r := range runs {
		n += len(r)
	}
	return n
}

// levelHead returns the current head value of level i's active run, or
// false if the level has nothing left.
func (q *PQ[V]) levelHead(i int) (V, bool) {
	lvl := q.levels[i]
	for len(lvl.runs) > 0 {
		run := lvl.runs[0]
		if q.runCur[i] < len(run) {
			return run[q.runCur[i]], true
		}
		lvl.runs = lvl.runs[1:]
		q.runCur[i] = 0
	}
	var zero V
	return zero, false
}

func (q *PQ[V]) levelAdvance(i int) {
	q.runCur[i]++
}

// Empty reports whether the queue holds no elements.
func (q *PQ[V]) Empty() bool {
	if q.heap.Len() > 0 {
		return false
	}
	for i := range q.levels {
		if _, ok := q.levelHead(i); ok {
			return false
		}
	}
	return true
}

// winner identifies the current maximum across the insertion heap and
// every level's active run head, per spec.md §4.6's top()/pop() rule.
const (
	srcNone = -1
	srcHeap = -2
)

func (q *PQ[V]) winner() (V, int) {
	best := srcNone
	var bestVal V
	haveBest := false
	if q.heap.Len() > 0 {
		best = srcHeap
		bestVal = q.heap.peek()
		haveBest = true
	}
	for i := range q.levels {
		v, ok := q.levelHead(i)
		if !ok {
			continue
		}
		if !haveBest || q.cmp.Less(bestVal, v) {
			bestVal = v
			best = i
			haveBest = true
		}
	}
	return bestVal, best
}

// Top returns the current maximum without removing it. The second result
// is false if the queue is empty.
func (q *PQ[V]) Top() (V, bool) {
	v, src := q.winner()
	return v, src != srcNone
}

// Pop removes and returns the current maximum.
func (q *PQ[V]) Pop() (V, bool) {
	v, src := q.winner()
	switch src {
	case srcNone:
		return v, false
	case srcHeap:
		return q.heap.pop(), true
	default:
		q.levelAdvance(src)
		return v, true
	}
}
