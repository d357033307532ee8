// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stack implements the external stack family of spec.md §4.12:
// LIFO containers backed by page-sized blocks, writing a full page out
// asynchronously on push overflow and reading one back on pop underflow.
// The four variants share that shape but differ, observably, in when the
// read-back is issued: NormalStack blocks synchronously, GrowShrinkStack
// and GrowShrinkStack2 prefetch ahead of need, MigratingStack defers all
// of it until the in-memory stack outgrows its threshold.
//
// Implementer simplification (see DESIGN.md): spec.md describes each
// resident "page" as blocks_per_page separate on-disk blocks; this
// package models one page as a single bid.Block[V] sized
// blocksPerPage*blockCapacity elements, which round-trips through exactly
// one BID per page instead of blocksPerPage. The externally observable
// behavior -- one async write per full page, one read per exhausted page,
// LIFO order, no random access -- is unchanged.
package stack

import (
	"errors"

	"code.hybscloud.com/xmem/bid"
)

// ErrEmpty is returned by Top/Pop on an empty stack.
var ErrEmpty = errors.New("stack: empty")

func newPageFn[V any](pageCap int) func() *bid.Block[V] {
	return func() *bid.Block[V] { return bid.NewBlock[V](pageCap, 0) }
}
