// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blockpool implements the three cooperating block pools described
// in spec.md §4.2: a write pool, a prefetch pool, and a read-write facade
// composing both over one shared steal pathway.
//
// Each pool tracks its resident buffers with a map keyed by bid.BID plus a
// container/list FIFO of completed, stealable blocks, and package ioengine
// for the underlying asynchronous reads and writes. golang.org/x/sync/
// semaphore bounds the number of concurrent in-flight requests a pool will
// issue, matching its configured size.
package blockpool
