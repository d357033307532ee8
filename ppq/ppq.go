// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ppq implements the parallel priority queue of spec.md §4.7: the
// largest and hardest subsystem in this module. Per-worker insertion heaps
// overflow into internal-array runs, which are externalized to disk as
// external arrays once their combined RAM budget is exceeded; top()/pop()
// scan the current heads of every internal and external array for the
// comparator's maximum, mirroring the same top()-is-greatest convention
// package merger and package pq use.
package ppq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
	"code.hybscloud.com/xmem/ioengine"
	"code.hybscloud.com/xmem/merger"
)

var (
	// ErrNotInBulkScope is returned by BulkPush/BulkPushEnd outside a
	// bulk_push_begin/end scope (spec.md §4.7.7, "precondition_violation").
	ErrNotInBulkScope = errors.New("ppq: bulk_push called outside a bulk scope")
	// ErrBulkScopeActive is returned by Top/Pop/BulkPop while a bulk scope
	// is open: extraction is only legal after bulk_push_end (spec.md
	// §4.7.2).
	ErrBulkScopeActive = errors.New("ppq: top/pop called while a bulk scope is open")
	// ErrPreconditionViolation is returned by Top/Pop/BulkPop while a limit
	// scope is open: limit_top_pop is the only legal extraction call until
	// limit_end closes the scope (spec.md §4.7.6).
	ErrPreconditionViolation = errors.New("ppq: top/pop/bulk_pop called while a limit scope is open")
)

// externalArray is one on-disk sorted run (spec.md §4.7.5), consumed
// through an external loser-tree merger primed lazily on first access.
type externalArray[V any] struct {
	refs []merger.BlockRef
	m    *merger.ExternalMerger[V]
}

// PPQ is the parallel priority queue. V's extraction order is the
// comparator's maximum first (see bid.Comparator); ascending (extract-min)
// use supplies a Comparator with Less reversed relative to natural order.
type PPQ[V any] struct {
	cmp      bid.Comparator[V]
	mgr      *blockmgr.Manager
	backend  ioengine.Backend
	strategy blockmgr.Strategy
	pool     *blockpool.PrefetchPool[V]
	newBlk   func() *bid.Block[V]
	blockCap int

	heapCap  int // single_heap_ram: max elements per worker heap before flush
	iaBudget int // ram_IA: total internal-array elements before externalizing

	heaps  [][]V // per-worker insertion heaps (spec.md §4.7.1)
	inBulk bool

	// iaMu guards ia/iaCursor: spec.md §5 lets worker goroutines call
	// bulk_push concurrently, partitioned by thread_id, so each worker's
	// own heap (heaps[t]) never needs a lock — but every worker's overflow
	// flushes into this one shared pair of slices via flushWorker, and two
	// workers can overflow in the same instant.
	iaMu     sync.Mutex
	ia       [][]V // internal-array runs, each sorted descending (max-first)
	iaCursor []int

	eas []*externalArray[V]

	limitHeaps [][]V
	inLimit    bool
	limitUB    V

	err error
}

// New constructs a PPQ with numWorkers insertion heaps.
func New[V any](cmp bid.Comparator[V], numWorkers, heapCap, iaBudget, blockCap int, mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy, newBlk func() *bid.Block[V]) *PPQ[V] {
	bid.ValidateStrictWeakOrdering(cmp)
	return &PPQ[V]{
		cmp:      cmp,
		mgr:      mgr,
		backend:  backend,
		strategy: strategy,
		pool:     blockpool.NewPrefetchPool[V](backend, 4, newBlk),
		newBlk:   newBlk,
		blockCap: blockCap,
		heapCap:  heapCap,
		iaBudget: iaBudget,
		heaps:    make([][]V, numWorkers),
	}
}

// Push is shorthand for bulk_push_begin(1); bulk_push(v,0); bulk_push_end().
func (p *PPQ[V]) Push(ctx context.Context, v V) error {
	p.BulkPushBegin(1)
	if err := p.BulkPush(v, 0); err != nil {
		return err
	}
	return p.BulkPushEnd(ctx)
}

// BulkPushBegin opens a scope in which BulkPush is legal (spec.md §4.7.2).
// hint is the expected bulk size; it is accepted for interface fidelity but
// does not change behavior.
func (p *PPQ[V]) BulkPushBegin(hint int) {
	_ = hint
	p.inBulk = true
}

// BulkPush inserts v into worker t's insertion heap (spec.md §4.7.3),
// flushing it into a new internal-array run if it now exceeds heapCap.
func (p *PPQ[V]) BulkPush(v V, t int) error {
	if p.err != nil {
		return p.err
	}
	if !p.inBulk {
		return ErrNotInBulkScope
	}
	if t < 0 || t >= len(p.heaps) {
		return fmt.Errorf("ppq: worker id %d out of range [0,%d)", t, len(p.heaps))
	}
	p.heaps[t] = append(p.heaps[t], v)
	if len(p.heaps[t]) > p.heapCap {
		p.flushWorker(t)
	}
	return nil
}

// flushWorker sorts worker t's heap descending (max-first) and promotes it
// to a new internal-array run.
func (p *PPQ[V]) flushWorker(t int) {
	h := p.heaps[t]
	if len(h) == 0 {
		return
	}
	sort.Slice(h, func(i, j int) bool { return p.cmp.Less(h[j], h[i]) })
	p.iaMu.Lock()
	p.ia = append(p.ia, h)
	p.iaCursor = append(p.iaCursor, 0)
	p.iaMu.Unlock()
	p.heaps[t] = nil
}

// BulkPushEnd closes the bulk scope, flushing every worker's remaining heap
// contents and externalizing internal arrays past the RAM budget (spec.md
// §4.7.2-§4.7.3).
func (p *PPQ[V]) BulkPushEnd(ctx context.Context) error {
	if !p.inBulk {
		return ErrNotInBulkScope
	}
	for t := range p.heaps {
		p.flushWorker(t)
	}
	p.inBulk = false
	return p.maybeExternalize(ctx)
}

func (p *PPQ[V]) iaRemaining() int {
	n := 0
	for i, r := range p.ia {
		n += len(r) - p.iaCursor[i]
	}
	return n
}

// maybeExternalize drains every internal-array run into one sorted run and
// writes it to disk as a new external array once the RAM budget is
// exceeded (spec.md §4.7.3, "scheduler picks one or more IA entries to
// externalize").
func (p *PPQ[V]) maybeExternalize(ctx context.Context) error {
	if p.iaRemaining() <= p.iaBudget || len(p.ia) == 0 {
		return nil
	}
	runs := make([][]V, len(p.ia))
	for i, r := range p.ia {
		runs[i] = r[p.iaCursor[i]:]
	}
	tree := merger.NewInternalLoserTree[V](p.cmp, runs)
	merged := make([]V, 0, p.iaRemaining())
	buf := make([]V, 256)
	for {
		n := tree.MultiMerge(buf)
		merged = append(merged, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	p.ia = nil
	p.iaCursor = nil

	refs, err := p.writeRun(ctx, merged)
	if err != nil {
		p.err = err
		return err
	}
	p.eas = append(p.eas, &externalArray[V]{refs: refs})
	return nil
}

// writeRun chunks values (already sorted descending) into blockCap-sized
// blocks and writes them to fresh storage.
func (p *PPQ[V]) writeRun(ctx context.Context, values []V) ([]merger.BlockRef, error) {
	var refs []merger.BlockRef
	for i := 0; i < len(values); i += p.blockCap {
		end := i + p.blockCap
		if end > len(values) {
			end = len(values)
		}
		blk := p.newBlk()
		blk.Values = append(blk.Values, values[i:end]...)
		id, err := p.mgr.NewBlock(p.strategy)
		if err != nil {
			return nil, err
		}
		req, err := p.backend.Write(ctx, id.Storage, id.Offset, blk.Bytes())
		if err != nil {
			return nil, err
		}
		if err := p.backend.Wait(ctx, req); err != nil {
			return nil, err
		}
		refs = append(refs, merger.BlockRef{BID: id, N: end - i})
	}
	return refs, nil
}

func (p *PPQ[V]) primeEA(ctx context.Context, e *externalArray[V]) error {
	if e.m != nil || len(e.refs) == 0 {
		return nil
	}
	m, err := merger.NewExternalMerger[V](ctx, p.cmp, p.pool, p.mgr, [][]merger.BlockRef{e.refs})
	if err != nil {
		return err
	}
	e.m = m
	return nil
}

// primeAllEAs primes every not-yet-primed external array concurrently: each
// priming issues an independent first-block read through the prefetch pool,
// so fanning them out with errgroup (spec.md §9 design note, SPEC_FULL.md
// §5) avoids serializing on disk latency once several arrays exist (e.g.
// right after MergeExternalArrays or a string of externalizations).
func (p *PPQ[V]) primeAllEAs(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range p.eas {
		e := e
		g.Go(func() error { return p.primeEA(gctx, e) })
	}
	return g.Wait()
}

const (
	srcNone = -1
)

// winner scans internal-array heads and every external array's current
// head for the comparator's maximum, returning the source kind and index
// ("ia" entry index, or "ea" entry index with a flag) needed to advance it.
func (p *PPQ[V]) winner(ctx context.Context) (v V, isEA bool, idx int, err error) {
	idx = srcNone
	if err := p.primeAllEAs(ctx); err != nil {
		return v, false, srcNone, err
	}
	have := false
	for i, r := range p.ia {
		if p.iaCursor[i] >= len(r) {
			continue
		}
		cand := r[p.iaCursor[i]]
		if !have || p.cmp.Less(v, cand) {
			v, isEA, idx, have = cand, false, i, true
		}
	}
	for i, e := range p.eas {
		if e.m == nil {
			continue
		}
		cand, ok := e.m.Next()
		if !ok {
			continue
		}
		if !have || p.cmp.Less(v, cand) {
			v, isEA, idx, have = cand, true, i, true
		}
	}
	if !have {
		var zero V
		return zero, false, srcNone, nil
	}
	return v, isEA, idx, nil
}

// Top returns the current global maximum without removing it.
func (p *PPQ[V]) Top(ctx context.Context) (V, bool, error) {
	if p.inLimit {
		var zero V
		return zero, false, ErrPreconditionViolation
	}
	return p.top(ctx)
}

// top is Top's body, also used by LimitTopPop and Empty, both of which must
// keep working while a limit scope is open.
func (p *PPQ[V]) top(ctx context.Context) (V, bool, error) {
	if p.err != nil {
		var zero V
		return zero, false, p.err
	}
	if p.inBulk {
		var zero V
		return zero, false, ErrBulkScopeActive
	}
	v, _, idx, err := p.winner(ctx)
	if err != nil {
		p.err = err
		var zero V
		return zero, false, err
	}
	return v, idx != srcNone, nil
}

// Pop extracts and returns the current global maximum.
func (p *PPQ[V]) Pop(ctx context.Context) (V, bool, error) {
	if p.inLimit {
		var zero V
		return zero, false, ErrPreconditionViolation
	}
	return p.pop(ctx)
}

// pop is Pop's body, also used by LimitTopPop once it decides the regular
// queue's frontier wins over every limit-pushed candidate.
func (p *PPQ[V]) pop(ctx context.Context) (V, bool, error) {
	if p.err != nil {
		var zero V
		return zero, false, p.err
	}
	if p.inBulk {
		var zero V
		return zero, false, ErrBulkScopeActive
	}
	v, isEA, idx, err := p.winner(ctx)
	if err != nil {
		p.err = err
		var zero V
		return zero, false, err
	}
	if idx == srcNone {
		var zero V
		return zero, false, nil
	}
	if !isEA {
		p.iaCursor[idx]++
		return v, true, nil
	}
	if _, err := p.eas[idx].m.Advance(ctx); err != nil {
		p.err = err
		return v, false, err
	}
	return v, true, nil
}

// BulkPop fills out with up to len(out) elements in descending-winner
// order, returning the count actually written.
func (p *PPQ[V]) BulkPop(ctx context.Context, out []V) (int, error) {
	n := 0
	for n < len(out) {
		v, ok, err := p.Pop(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		out[n] = v
		n++
	}
	return n, nil
}

// Empty reports whether the queue holds no elements. Elements still in an
// open limit scope's limit heaps are not counted; while a bulk scope is open
// it returns ErrBulkScopeActive.
func (p *PPQ[V]) Empty(ctx context.Context) (bool, error) {
	_, ok, err := p.top(ctx)
	return !ok, err
}

// MergeExternalArrays coalesces every external array into one, bounding
// open-merger count and merger width (spec.md §4.7.2). It fully drains and
// re-externalizes the current external-array contents.
func (p *PPQ[V]) MergeExternalArrays(ctx context.Context) error {
	if len(p.eas) <= 1 {
		return nil
	}
	if err := p.primeAllEAs(ctx); err != nil {
		return err
	}
	var merged []V
	for _, e := range p.eas {
		if e.m == nil {
			continue
		}
		for {
			v, ok := e.m.Next()
			if !ok {
				break
			}
			merged = append(merged, v)
			if _, err := e.m.Advance(ctx); err != nil {
				p.err = err
				return err
			}
		}
	}
	// Each array drains in order on its own; the concatenation is not.
	sort.Slice(merged, func(i, j int) bool { return p.cmp.Less(merged[j], merged[i]) })
	p.eas = nil
	refs, err := p.writeRun(ctx, merged)
	if err != nil {
		p.err = err
		return err
	}
	if len(refs) > 0 {
		p.eas = []*externalArray[V]{{refs: refs}}
	}
	return nil
}

// DiscardPoisonedArray drops external array idx and clears the poisoned
// error state, per spec.md §4.7.7's optional recover operation: the caller
// accepts loss of that run's data in exchange for the queue becoming usable
// again.
func (p *PPQ[V]) DiscardPoisonedArray(idx int) {
	if idx < 0 || idx >= len(p.eas) {
		return
	}
	p.eas = append(p.eas[:idx], p.eas[idx+1:]...)
	p.err = nil
}
