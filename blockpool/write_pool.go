// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockpool

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/ioengine"
)

// pendingWrite tracks one in-flight write until its caller calls Wait.
type pendingWrite[T any] struct {
	block *bid.Block[T]
	req   ioengine.Request
	elem  *list.Element // position in the completed-order list, once done
}

// WritePool holds dirty or recently-written blocks (spec.md §4.2). Write
// enqueues an asynchronous write and returns a handle; the block stays
// tracked by BID until the write completes, so a concurrent Steal(bid)
// returns the still-resident buffer and cancels the write. Steal() (no bid)
// returns an anonymous free block -- the least-recently-completed one.
type WritePool[T any] struct {
	backend ioengine.Backend
	sem     *semaphore.Weighted
	newBlk  func() *bid.Block[T]

	mu        sync.Mutex
	pending   map[bid.BID]*pendingWrite[T]
	completed *list.List // FIFO of *bid.Block[T], oldest-completed first
}

// NewWritePool constructs a WritePool of the given size (bounding
// concurrent in-flight writes), with newBlk used to manufacture fresh
// anonymous blocks when Steal finds the completed queue empty.
func NewWritePool[T any](backend ioengine.Backend, size int, newBlk func() *bid.Block[T]) *WritePool[T] {
	return &WritePool[T]{
		backend:   backend,
		sem:       semaphore.NewWeighted(int64(size)),
		newBlk:    newBlk,
		pending:   make(map[bid.BID]*pendingWrite[T]),
		completed: list.New(),
	}
}

// Write enqueues an asynchronous write of block to id and returns a
// request the caller may Wait on.
func (p *WritePool[T]) Write(ctx context.Context, block *bid.Block[T], id bid.BID) (ioengine.Request, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	req, err := p.backend.Write(ctx, id.Storage, id.Offset, block.Bytes())
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.mu.Lock()
	p.pending[id] = &pendingWrite[T]{block: block, req: req}
	p.mu.Unlock()
	return req, nil
}

// Wait blocks until the write issued for id completes, after which the
// block becomes eligible for anonymous Steal().
func (p *WritePool[T]) Wait(ctx context.Context, id bid.BID) error {
	p.mu.Lock()
	pw, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	err := p.backend.Wait(ctx, pw.req)
	p.sem.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pending[id]; ok && cur == pw {
		delete(p.pending, id)
		pw.elem = p.completed.PushBack(pw.block)
	}
	return err
}

// StealByBID returns the buffer tracked for id. If its write has not yet
// been waited on, the write is logically cancelled (the semaphore slot is
// released and the caller gets the unwritten buffer back, per spec.md
// §4.2). Reports false if id is not tracked by this pool, which includes
// every id whose write has already been waited on: Wait stops tracking the
// buffer by BID, after which it is reachable only through Steal().
func (p *WritePool[T]) StealByBID(id bid.BID) (*bid.Block[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pw, ok := p.pending[id]
	if !ok {
		return nil, false
	}
	delete(p.pending, id)
	if pw.elem == nil {
		// write not yet waited on: cancel it logically.
		p.sem.Release(1)
	} else {
		p.completed.Remove(pw.elem)
	}
	return pw.block, true
}

// Steal returns an anonymous free block: the least-recently-completed
// write's buffer, or a freshly manufactured block if none has completed
// yet.
func (p *WritePool[T]) Steal() *bid.Block[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if front := p.completed.Front(); front != nil {
		p.completed.Remove(front)
		blk := front.Value.(*bid.Block[T])
		blk.Reset()
		return blk
	}
	return p.newBlk()
}
