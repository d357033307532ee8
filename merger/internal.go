// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package merger implements the internal and external loser-tree mergers of
// spec.md §4.4: a k-way tournament tree that repeatedly extracts the maximum
// (per the supplied bid.Comparator) head element across k sorted runs.
// Exhausted runs are tracked with an explicit active flag, checked before
// any value comparison, so they never win a match.
package merger

import "code.hybscloud.com/xmem/bid"

// run is one in-memory sorted sequence feeding an InternalLoserTree. Runs
// must be sorted so that data[0] is the maximum element under the tree's
// comparator and data[len-1] the minimum: extraction consumes from the
// front.
type run[V any] struct {
	data []V
	pos  int
}

func (r *run[V]) active() bool { return r.pos < len(r.data) }
func (r *run[V]) head() V      { return r.data[r.pos] }

// InternalLoserTree merges a bounded number of in-memory sorted runs with a
// k-way tournament tree (spec.md §4.4, "Internal Loser-Tree Merger"). Match
// results are cached at internal nodes so advancing the current winner costs
// O(log k) rather than a full O(k) rescan.
type InternalLoserTree[V any] struct {
	cmp   bid.Comparator[V]
	k     int // power of two, padded with permanently-inactive runs
	runs  []*run[V]
	loser []int // tree[1..k-1]: loser leaf index recorded at each internal node
	winner int
	live  int // count of still-active real runs, for compact_tree
}

// NewInternalLoserTree builds a tournament tree over runs, which need not
// have a power-of-two length: it is padded with permanently exhausted dummy
// runs up to the next power of two.
func NewInternalLoserTree[V any](cmp bid.Comparator[V], runs [][]V) *InternalLoserTree[V] {
	bid.ValidateStrictWeakOrdering(cmp)
	k := nextPow2(len(runs))
	if k < 2 {
		k = 2
	}
	t := &InternalLoserTree[V]{cmp: cmp, k: k, runs: make([]*run[V], k), loser: make([]int, k)}
	live := 0
	for i := range t.runs {
		if i < len(runs) {
			t.runs[i] = &run[V]{data: runs[i]}
			if len(runs[i]) > 0 {
				live++
			}
		} else {
			t.runs[i] = &run[V]{}
		}
	}
	t.live = live
	t.rebuild()
	return t
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *InternalLoserTree[V]) valueOf(i int) V {
	if t.runs[i].active() {
		return t.runs[i].head()
	}
	return t.cmp.MinValue()
}

// wins reports whether leaf i beats leaf j in the max-extraction contest:
// an active leaf always beats an inactive one, and among two active leaves
// the one whose value is not Less wins (ties favor the lower index).
func (t *InternalLoserTree[V]) wins(i, j int) bool {
	ai, aj := t.runs[i].active(), t.runs[j].active()
	if ai != aj {
		return ai
	}
	if !ai {
		return i < j
	}
	vi, vj := t.valueOf(i), t.valueOf(j)
	if t.cmp.Less(vi, vj) {
		return false
	}
	if t.cmp.Less(vj, vi) {
		return true
	}
	return i < j
}

// rebuild reconstructs the whole tree bottom-up in O(k).
func (t *InternalLoserTree[V]) rebuild() {
	cur := make([]int, 2*t.k)
	for i := 0; i < t.k; i++ {
		cur[t.k+i] = i
	}
	for pos := t.k - 1; pos >= 1; pos-- {
		left, right := cur[2*pos], cur[2*pos+1]
		if t.wins(left, right) {
			t.loser[pos] = right
			cur[pos] = left
		} else {
			t.loser[pos] = left
			cur[pos] = right
		}
	}
	t.winner = cur[1]
}

// replay recomputes the path from leaf to root after leaf's head value
// changed (or it became exhausted), in O(log k).
func (t *InternalLoserTree[V]) replay(leaf int) {
	winner := leaf
	node := (t.k + leaf) / 2
	for node >= 1 {
		loser := t.loser[node]
		if t.wins(loser, winner) {
			t.loser[node] = winner
			winner = loser
		}
		node /= 2
	}
	t.winner = winner
}

// Next returns the current maximum across all runs without consuming it, or
// the zero value and false if every run is exhausted.
func (t *InternalLoserTree[V]) Next() (V, bool) {
	if !t.runs[t.winner].active() {
		var zero V
		return zero, false
	}
	return t.runs[t.winner].head(), true
}

// Advance consumes the current winner and recomputes the tree. Reports
// whether a value was consumed.
func (t *InternalLoserTree[V]) Advance() bool {
	w := t.winner
	if !t.runs[w].active() {
		return false
	}
	t.runs[w].pos++
	if !t.runs[w].active() {
		t.live--
	}
	t.replay(w)
	t.compactIfSparse()
	return true
}

// compactIfSparse shrinks the tree when the live run count drops to 2k/5 of
// its current width, the threshold spec.md §4.4 documents (ground-truth
// stxxl::priority_queue::compact_tree): below that point a k-leaf tree
// wastes most of its tournament rounds on permanently-exhausted leaves, so
// it is cheaper to rebuild over just the remaining live runs.
func (t *InternalLoserTree[V]) compactIfSparse() {
	if t.k <= 2 || t.live*5 > t.k*2 {
		return
	}
	remaining := make([]*run[V], 0, t.live)
	for _, r := range t.runs {
		if r.active() {
			remaining = append(remaining, r)
		}
	}
	k := nextPow2(len(remaining))
	if k < 2 {
		k = 2
	}
	t.k = k
	t.runs = make([]*run[V], k)
	for i := range t.runs {
		if i < len(remaining) {
			t.runs[i] = remaining[i]
		} else {
			t.runs[i] = &run[V]{}
		}
	}
	t.loser = make([]int, k)
	t.rebuild()
}

// MultiMerge extracts up to len(out) elements in descending-winner order,
// returning the number actually written (fewer than len(out) once every run
// is exhausted).
func (t *InternalLoserTree[V]) MultiMerge(out []V) int {
	n := 0
	for n < len(out) {
		v, ok := t.Next()
		if !ok {
			break
		}
		out[n] = v
		n++
		t.Advance()
	}
	return n
}

// Empty reports whether every run has been fully consumed.
func (t *InternalLoserTree[V]) Empty() bool {
	_, ok := t.Next()
	return !ok
}
