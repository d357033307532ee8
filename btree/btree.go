// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import (
	"context"
	"errors"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/ioengine"
	"code.hybscloud.com/xmem/scheduler"
)

// ErrNotFound is returned by Find when no entry matches the given key.
var ErrNotFound = errors.New("btree: key not found")

// Comparator orders keys, the same role bid.Comparator plays for merger/pq/
// ppq values (spec.md §4.8's "strict weak ordering over K").
type Comparator[K any] interface {
	Less(a, b K) bool
}

// BTree is an ordered K -> V map backed by fixed-fanout leaf and internal
// node blocks (spec.md §4.8-§4.10). Two scheduler.Scheduler instances cache
// resident nodes, one per node kind, so each kind gets its own eviction
// budget and LRU order rather than competing for one shared pool.
type BTree[K any, V any] struct {
	cmp     Comparator[K]
	leafFan int
	nodeFan int
	leafMin int
	nodeMin int

	leafSched *scheduler.Scheduler[LeafEntry[K, V]]
	nodeSched *scheduler.Scheduler[InternalEntry[K]]

	root   NodeID
	height int // 0: root is a leaf; N: N internal levels sit above the leaves
	size   int

	// iterMap tracks every live Iterator by the leaf it currently names,
	// so leaf-relocating mutations can find and fix up affected cursors
	// (spec.md §3/§4.8-4.9; see iterator.go).
	iterMap map[NodeID][]*Iterator[K, V]
}

// New constructs an empty BTree. leafFan and nodeFan are each node kind's
// maximum entry count; leafCache and nodeCache are each scheduler's
// resident-buffer budget (spec.md §4.10).
func New[K any, V any](cmp Comparator[K], leafFan, nodeFan, leafCache, nodeCache int, mgr *blockmgr.Manager, backend ioengine.Backend, strategy blockmgr.Strategy) *BTree[K, V] {
	if leafFan < 2 || nodeFan < 2 {
		panic("btree: fanout must be >= 2")
	}
	leafSched := scheduler.New[LeafEntry[K, V]](mgr, backend, strategy, leafCache, func() *bid.Block[LeafEntry[K, V]] {
		return bid.NewBlock[LeafEntry[K, V]](leafFan, leafMetaSize)
	})
	nodeSched := scheduler.New[InternalEntry[K]](mgr, backend, strategy, nodeCache, func() *bid.Block[InternalEntry[K]] {
		return bid.NewBlock[InternalEntry[K]](nodeFan, internalMetaSize)
	})

	t := &BTree[K, V]{
		cmp:       cmp,
		leafFan:   leafFan,
		nodeFan:   nodeFan,
		leafMin:   leafFan / 2,
		nodeMin:   nodeFan / 2,
		leafSched: leafSched,
		nodeSched: nodeSched,
	}
	root := t.leafSched.AllocateSwappableBlock()
	blk, err := t.leafSched.Acquire(context.Background(), root)
	if err != nil {
		panic(err)
	}
	blk.Values = blk.Values[:0]
	encodeLeafMeta(blk.Meta, 0, noSibling, noSibling)
	if err := t.leafSched.Release(root, true); err != nil {
		panic(err)
	}
	t.root = root
	return t
}

// Len returns the number of entries currently stored.
func (t *BTree[K, V]) Len() int { return t.size }

func (t *BTree[K, V]) eq(a, b K) bool { return !t.cmp.Less(a, b) && !t.cmp.Less(b, a) }

// routeChild returns the index of the entry that key descends into: the
// first entry whose Key is not less than key, or the last entry (the
// catch-all child) if none qualifies.
func routeChild[K any](cmp Comparator[K], entries []InternalEntry[K], n int, key K) int {
	for i := 0; i < n-1; i++ {
		if !cmp.Less(entries[i].Key, key) {
			return i
		}
	}
	return n - 1
}

// descendToLeaf walks from the root to the leaf that would contain key,
// releasing every internal node visited along the way.
func (t *BTree[K, V]) descendToLeaf(ctx context.Context, key K) (NodeID, error) {
	id := t.root
	for d := t.height; d > 0; d-- {
		blk, n, err := t.acquireNode(ctx, id)
		if err != nil {
			return 0, err
		}
		idx := routeChild(t.cmp, blk.Values, n, key)
		child := blk.Values[idx].Child
		if err := t.nodeSched.Release(id, false); err != nil {
			return 0, err
		}
		id = child
	}
	return id, nil
}

// acquireLeaf pins id's leaf block, decoding its live entry count and
// sibling links alongside it (see siblings.go: Scheduler always reloads a
// full-Capacity Values slice, so the live count can't be read from
// len(Values) after a round trip through storage).
func (t *BTree[K, V]) acquireLeaf(ctx context.Context, id NodeID) (*bid.Block[LeafEntry[K, V]], int, NodeID, NodeID, error) {
	blk, err := t.leafSched.Acquire(ctx, id)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	n, next, prev := decodeLeafMeta(blk.Meta)
	return blk, n, next, prev, nil
}

func (t *BTree[K, V]) acquireNode(ctx context.Context, id NodeID) (*bid.Block[InternalEntry[K]], int, error) {
	blk, err := t.nodeSched.Acquire(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	n := decodeInternalMeta(blk.Meta)
	return blk, n, nil
}

// Find returns the value stored for key, or ErrNotFound.
func (t *BTree[K, V]) Find(ctx context.Context, key K) (V, error) {
	var zero V
	leafID, err := t.descendToLeaf(ctx, key)
	if err != nil {
		return zero, err
	}
	blk, n, _, _, err := t.acquireLeaf(ctx, leafID)
	if err != nil {
		return zero, err
	}
	defer t.leafSched.Release(leafID, false)
	for i := 0; i < n; i++ {
		if t.eq(blk.Values[i].Key, key) {
			return blk.Values[i].Value, nil
		}
	}
	return zero, ErrNotFound
}

// LowerBound returns the first entry whose key is not less than key, in
// ascending order, or ok=false if every stored key is less than key. It
// returns the entry itself; Seek (iterator.go) is the variant that yields a
// live cursor at the same position.
func (t *BTree[K, V]) LowerBound(ctx context.Context, key K) (K, V, bool, error) {
	var zeroK K
	var zeroV V
	leafID, err := t.descendToLeaf(ctx, key)
	if err != nil {
		return zeroK, zeroV, false, err
	}
	for leafID != noSibling {
		blk, n, next, _, err := t.acquireLeaf(ctx, leafID)
		if err != nil {
			return zeroK, zeroV, false, err
		}
		for i := 0; i < n; i++ {
			if !t.cmp.Less(blk.Values[i].Key, key) {
				k, v := blk.Values[i].Key, blk.Values[i].Value
				t.leafSched.Release(leafID, false)
				return k, v, true, nil
			}
		}
		if err := t.leafSched.Release(leafID, false); err != nil {
			return zeroK, zeroV, false, err
		}
		leafID = next
	}
	return zeroK, zeroV, false, nil
}
