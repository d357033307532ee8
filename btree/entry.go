// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package btree implements the ordered map of spec.md §4.8-§4.10: fixed-size
// leaf and internal-node blocks with sibling links, split/fuse-on-underflow
// rebalancing, and an LRU node cache with pinning. The node cache reuses
// package scheduler directly (one Scheduler per node kind) rather than
// reimplementing swappable-block bookkeeping: scheduler.Scheduler's
// acquire/release/evict contract already is spec.md §4.10's node-cache
// contract (resident slot table, pin count, LRU victim, write-back on
// eviction).
package btree

import "code.hybscloud.com/xmem/bid"

// entryBlock names the resident block type an internal node's Scheduler
// hands back, spelled out once so erase.go's fuse/balance helpers don't
// need to repeat the bid.Block[InternalEntry[K]] instantiation.
type entryBlock[K any] = bid.Block[InternalEntry[K]]

// NodeID names a logical node (leaf or internal), a scheduler.Scheduler
// swappable-block id. It is opaque outside this package.
type NodeID = int

// noSibling marks a leaf's missing next/prev link.
const noSibling NodeID = -1

// LeafEntry is one (key, value) pair of a leaf block, stored as a flat
// homogeneous array per bid.Block[T]'s layout (spec.md §4.8).
type LeafEntry[K any, V any] struct {
	Key   K
	Value V
}

// InternalEntry is one routing slot of an internal-node block (spec.md
// §4.9): entries[i].Child is the i-th child, and entries[i].Key (for all
// but the last entry) is the maximum key routed to that child — the last
// entry's Key is unused, it only carries the rightmost child.
type InternalEntry[K any] struct {
	Key   K
	Child NodeID
}
