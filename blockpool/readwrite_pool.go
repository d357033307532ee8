// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockpool

import (
	"context"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/ioengine"
)

// ReadWritePool is a facade composing a PrefetchPool and a WritePool with
// one shared steal pathway (spec.md §4.2): a caller that needs any free
// buffer, regardless of whether it was a read or write slot, calls Steal.
type ReadWritePool[T any] struct {
	Prefetch *PrefetchPool[T]
	Write    *WritePool[T]
}

// NewReadWritePool constructs a ReadWritePool with independently sized
// prefetch and write sub-pools.
func NewReadWritePool[T any](backend ioengine.Backend, prefetchSize, writeSize int, newBlk func() *bid.Block[T]) *ReadWritePool[T] {
	return &ReadWritePool[T]{
		Prefetch: NewPrefetchPool[T](backend, prefetchSize, newBlk),
		Write:    NewWritePool[T](backend, writeSize, newBlk),
	}
}

// Steal returns any free buffer, preferring the write pool's
// least-recently-completed block and falling back to a fresh allocation.
// It never blocks.
func (p *ReadWritePool[T]) Steal() *bid.Block[T] {
	return p.Write.Steal()
}

// HintRead issues a prefetch for id expecting n live elements.
func (p *ReadWritePool[T]) HintRead(ctx context.Context, id bid.BID, n int) error {
	return p.Prefetch.Hint(ctx, id, n)
}

// Read reads id, reusing a hinted buffer when available.
func (p *ReadWritePool[T]) Read(ctx context.Context, id bid.BID, n int) (*bid.Block[T], error) {
	return p.Prefetch.Read(ctx, id, n)
}

// WriteAsync enqueues an asynchronous write of block to id.
func (p *ReadWritePool[T]) WriteAsync(ctx context.Context, block *bid.Block[T], id bid.BID) (ioengine.Request, error) {
	return p.Write.Write(ctx, block, id)
}

// WaitWrite blocks until the write issued for id completes.
func (p *ReadWritePool[T]) WaitWrite(ctx context.Context, id bid.BID) error {
	return p.Write.Wait(ctx, id)
}
