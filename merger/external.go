// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package merger

import (
	"context"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
)

// BlockRef names one block of an external run together with how many of its
// slots are live: every block of a run is full except possibly the last.
type BlockRef struct {
	BID bid.BID
	N   int
}

// externalSeq is one leaf of an ExternalMerger: a queue of BlockRef still to
// be read, and the block currently being consumed.
type externalSeq[T any] struct {
	pending []BlockRef
	block   *bid.Block[T]
	pos     int
}

func (s *externalSeq[T]) active() bool {
	return s.block != nil && s.pos < len(s.block.Values)
}

func (s *externalSeq[T]) head() T { return s.block.Values[s.pos] }

// ExternalMerger is the k-way loser-tree merger over on-disk block sequences
// (spec.md §4.4, "External Loser-Tree Merger"): each leaf holds a resident
// head block fetched through a blockpool.PrefetchPool, with consumed blocks
// released back to the block manager as the merge crosses block boundaries.
type ExternalMerger[T any] struct {
	cmp  bid.Comparator[T]
	pool *blockpool.PrefetchPool[T]
	mgr  *blockmgr.Manager // optional: consumed blocks are freed if non-nil

	seqs   []*externalSeq[T]
	loser  []int
	winner int
	k      int
}

// NewExternalMerger primes one resident block per sequence and builds the
// initial tournament. mgr may be nil if the caller wants to keep ownership
// of consumed blocks (e.g. for replay).
func NewExternalMerger[T any](ctx context.Context, cmp bid.Comparator[T], pool *blockpool.PrefetchPool[T], mgr *blockmgr.Manager, sequences [][]BlockRef) (*ExternalMerger[T], error) {
	bid.ValidateStrictWeakOrdering(cmp)
	k := nextPow2(len(sequences))
	if k < 2 {
		k = 2
	}
	m := &ExternalMerger[T]{cmp: cmp, pool: pool, mgr: mgr, k: k, seqs: make([]*externalSeq[T], k), loser: make([]int, k)}
	for i := range m.seqs {
		if i < len(sequences) {
			m.seqs[i] = &externalSeq[T]{pending: sequences[i]}
		} else {
			m.seqs[i] = &externalSeq[T]{}
		}
	}
	for i := range m.seqs {
		if err := m.primeLeaf(ctx, i); err != nil {
			return nil, err
		}
	}
	m.rebuild()
	return m, nil
}

func (m *ExternalMerger[T]) primeLeaf(ctx context.Context, i int) error {
	s := m.seqs[i]
	if s.block != nil || len(s.pending) == 0 {
		return nil
	}
	ref := s.pending[0]
	blk, err := m.pool.Read(ctx, ref.BID, ref.N)
	if err != nil {
		return err
	}
	s.block = blk
	s.pos = 0
	return nil
}

// advanceLeaf moves leaf i past its current head, crossing a block boundary
// (releasing the exhausted block and reading the next one synchronously
// through the pool) if needed. No read-ahead Hint is issued for the block
// after that one.
func (m *ExternalMerger[T]) advanceLeaf(ctx context.Context, i int) error {
	s := m.seqs[i]
	s.pos++
	if s.pos < len(s.block.Values) {
		return nil
	}
	consumed := s.pending[0].BID
	m.pool.Invalidate(consumed)
	if m.mgr != nil {
		m.mgr.DeleteBlock(consumed)
	}
	s.pending = s.pending[1:]
	s.block = nil
	s.pos = 0
	return m.primeLeaf(ctx, i)
}

func (m *ExternalMerger[T]) valueOf(i int) T {
	if m.seqs[i].active() {
		return m.seqs[i].head()
	}
	return m.cmp.MinValue()
}

func (m *ExternalMerger[T]) wins(i, j int) bool {
	ai, aj := m.seqs[i].active(), m.seqs[j].active()
	if ai != aj {
		return ai
	}
	if !ai {
		return i < j
	}
	return !m.cmp.Less(m.valueOf(i), m.valueOf(j))
}

func (m *ExternalMerger[T]) rebuild() {
	cur := make([]int, 2*m.k)
	for i := 0; i < m.k; i++ {
		cur[m.k+i] = i
	}
	for pos := m.k - 1; pos >= 1; pos-- {
		left, right := cur[2*pos], cur[2*pos+1]
		if m.wins(left, right) {
			m.loser[pos] = right
			cur[pos] = left
		} else {
			m.loser[pos] = left
			cur[pos] = right
		}
	}
	m.winner = cur[1]
}

func (m *ExternalMerger[T]) replay(leaf int) {
	winner := leaf
	node := (m.k + leaf) / 2
	for node >= 1 {
		loser := m.loser[node]
		if m.wins(loser, winner) {
			m.loser[node] = winner
			winner = loser
		}
		node /= 2
	}
	m.winner = winner
}

// Next returns the current maximum across every sequence without consuming
// it, or false once every sequence is exhausted.
func (m *ExternalMerger[T]) Next() (T, bool) {
	if !m.seqs[m.winner].active() {
		var zero T
		return zero, false
	}
	return m.seqs[m.winner].head(), true
}

// Advance consumes the current winner, fetching the next block of its
// sequence if that crosses a block boundary.
func (m *ExternalMerger[T]) Advance(ctx context.Context) (bool, error) {
	w := m.winner
	if !m.seqs[w].active() {
		return false, nil
	}
	if err := m.advanceLeaf(ctx, w); err != nil {
		return false, err
	}
	m.replay(w)
	return true, nil
}

// MultiMerge extracts up to len(out) elements, returning the count actually
// written.
func (m *ExternalMerger[T]) MultiMerge(ctx context.Context, out []T) (int, error) {
	n := 0
	for n < len(out) {
		v, ok := m.Next()
		if !ok {
			break
		}
		out[n] = v
		n++
		if _, err := m.Advance(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Empty reports whether every sequence has been fully consumed.
func (m *ExternalMerger[T]) Empty() bool {
	_, ok := m.Next()
	return !ok
}
