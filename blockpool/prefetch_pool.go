// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/ioengine"
)

// pendingRead tracks one hinted read.
type pendingRead[T any] struct {
	block *bid.Block[T]
	req   ioengine.Request
	n     int           // number of live elements the read will populate
	done  chan struct{} // closed once block has been loaded from the read
}

// PrefetchPool issues asynchronous reads ahead of need and hands the
// already-resident buffer back on the matching Read call (spec.md §4.2).
// A Read following a Hint for the same BID is guaranteed to reuse the
// hinted buffer.
type PrefetchPool[T any] struct {
	backend ioengine.Backend
	sem     *semaphore.Weighted
	newBlk  func() *bid.Block[T]

	mu      sync.Mutex
	hinted  map[bid.BID]*pendingRead[T]
	freeSig chan struct{}
}

// NewPrefetchPool constructs a PrefetchPool of the given size.
func NewPrefetchPool[T any](backend ioengine.Backend, size int, newBlk func() *bid.Block[T]) *PrefetchPool[T] {
	return &PrefetchPool[T]{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(size)),
		newBlk:  newBlk,
		hinted:  make(map[bid.BID]*pendingRead[T]),
	}
}

// Hint issues an asynchronous read of id into a pool slot. n is the number
// of live elements expected once the read completes (a block may be only
// partially full, e.g. a B-tree leaf's final block). Hinting an id that
// already has a pending hint is a no-op.
func (p *PrefetchPool[T]) Hint(ctx context.Context, id bid.BID, n int) error {
	p.mu.Lock()
	_, already := p.hinted[id]
	p.mu.Unlock()
	if already {
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	blk := p.newBlk()
	raw := make([]byte, blk.RawSize())
	req, err := p.backend.Read(ctx, id.Storage, id.Offset, raw)
	if err != nil {
		p.sem.Release(1)
		return err
	}
	pr := &pendingRead[T]{block: blk, req: req, n: n, done: make(chan struct{})}
	p.mu.Lock()
	p.hinted[id] = pr
	p.mu.Unlock()
	go func() {
		_ = p.backend.Wait(context.Background(), req)
		blk.LoadBytes(raw, n)
		close(pr.done)
	}()
	return nil
}

// Read returns the block for id: the hinted buffer if Hint(id) was called
// (fast path, after waiting on its completion), or a freshly issued
// synchronous read otherwise.
func (p *PrefetchPool[T]) Read(ctx context.Context, id bid.BID, n int) (*bid.Block[T], error) {
	p.mu.Lock()
	pr, ok := p.hinted[id]
	if ok {
		delete(p.hinted, id)
	}
	p.mu.Unlock()
	if ok {
		if err := p.backend.Wait(ctx, pr.req); err != nil {
			p.sem.Release(1)
			return nil, err
		}
		<-pr.done
		p.sem.Release(1)
		return pr.block, nil
	}

	blk := p.newBlk()
	raw := make([]byte, blk.RawSize())
	req, err := p.backend.Read(ctx, id.Storage, id.Offset, raw)
	if err != nil {
		return nil, err
	}
	if err := p.backend.Wait(ctx, req); err != nil {
		return nil, err
	}
	blk.LoadBytes(raw, n)
	return blk, nil
}

// Invalidate drops any pending or completed hint for id without waiting on
// it; the associated slot is released back to the pool.
func (p *PrefetchPool[T]) Invalidate(id bid.BID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.hinted[id]; ok {
		delete(p.hinted, id)
		p.sem.Release(1)
	}
}
