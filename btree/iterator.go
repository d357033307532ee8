// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import (
	"context"
	"errors"
)

// ErrIteratorInvalid is returned by Iterator operations once the entry it
// named has been erased out from under it.
var ErrIteratorInvalid = errors.New("btree: iterator invalid")

// Iterator is a live cursor into one leaf entry: the (tree, leaf_bid,
// position) tuple of spec.md §3. Unlike All's one-shot callback walk, an
// Iterator survives across calls and is kept valid by the tree's
// iterator map -- every mutation that relocates leaf entries (insert,
// split, erase, fuse, balance) walks the iterators registered against
// the leaves it touches and rewrites their leaf/position fields so they
// keep naming the same logical (key, value) slot (spec.md §4.8/§4.9),
// grounded on original_source's btree/leaf.h iterator_map_.find/
// unregister_iterator/register_iterator sequence around every leaf
// mutation.
type Iterator[K any, V any] struct {
	tree    *BTree[K, V]
	leaf    NodeID
	pos     int
	invalid bool
}

// Valid reports whether the iterator still names a live entry.
func (it *Iterator[K, V]) Valid() bool { return !it.invalid }

// At returns the (key, value) the iterator currently names.
func (it *Iterator[K, V]) At(ctx context.Context) (K, V, error) {
	var zk K
	var zv V
	if it.invalid {
		return zk, zv, ErrIteratorInvalid
	}
	blk, _, _, _, err := it.tree.acquireLeaf(ctx, it.leaf)
	if err != nil {
		return zk, zv, err
	}
	k, v := blk.Values[it.pos].Key, blk.Values[it.pos].Value
	if err := it.tree.leafSched.Release(it.leaf, false); err != nil {
		return zk, zv, err
	}
	return k, v, nil
}

// Next advances the iterator to the following entry in ascending order,
// crossing into the next leaf over the sibling chain when it runs off
// the end of the current one. It reports false, with the iterator left
// invalid, once there is no following entry.
func (it *Iterator[K, V]) Next(ctx context.Context) (bool, error) {
	if it.invalid {
		return false, nil
	}
	blk, n, next, _, err := it.tree.acquireLeaf(ctx, it.leaf)
	if err != nil {
		return false, err
	}
	if it.pos+1 < n {
		if err := it.tree.leafSched.Release(it.leaf, false); err != nil {
			return false, err
		}
		it.tree.moveIterator(it, it.leaf, it.pos+1)
		return true, nil
	}
	if err := it.tree.leafSched.Release(it.leaf, false); err != nil {
		return false, err
	}
	if next == noSibling {
		it.tree.deregisterIterator(it)
		it.invalid = true
		return false, nil
	}
	it.tree.moveIterator(it, next, 0)
	return true, nil
}

// Close releases it from the tree's iterator map. It is a no-op on an
// already-invalid iterator. Callers that keep an Iterator across many
// Insert/Erase calls should Close it once done so fixups stop walking
// it; an Iterator that is simply dropped without Close leaks its map
// entry until the entry it names is erased (fuse and balance carry it
// over to the surviving leaf rather than dropping it).
func (it *Iterator[K, V]) Close() {
	if it.invalid {
		return
	}
	it.tree.deregisterIterator(it)
	it.invalid = true
}

// Begin returns an iterator at the smallest stored key, or an invalid
// iterator if the tree is empty.
func (t *BTree[K, V]) Begin(ctx context.Context) (*Iterator[K, V], error) {
	leaf, err := t.firstLeaf(ctx)
	if err != nil {
		return nil, err
	}
	_, n, _, _, err := t.acquireLeaf(ctx, leaf)
	if err != nil {
		return nil, err
	}
	if err := t.leafSched.Release(leaf, false); err != nil {
		return nil, err
	}
	it := &Iterator[K, V]{tree: t}
	if n == 0 {
		it.invalid = true
		return it, nil
	}
	t.registerIterator(it, leaf, 0)
	return it, nil
}

// Seek returns a live iterator at the first entry whose key is not less
// than key, mirroring LowerBound but yielding a cursor that subsequent
// mutations keep correct, or an invalid iterator if no stored key
// qualifies.
func (t *BTree[K, V]) Seek(ctx context.Context, key K) (*Iterator[K, V], error) {
	leafID, err := t.descendToLeaf(ctx, key)
	if err != nil {
		return nil, err
	}
	it := &Iterator[K, V]{tree: t}
	for leafID != noSibling {
		blk, n, next, _, err := t.acquireLeaf(ctx, leafID)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if !t.cmp.Less(blk.Values[i].Key, key) {
				if err := t.leafSched.Release(leafID, false); err != nil {
					return nil, err
				}
				t.registerIterator(it, leafID, i)
				return it, nil
			}
		}
		if err := t.leafSched.Release(leafID, false); err != nil {
			return nil, err
		}
		leafID = next
	}
	it.invalid = true
	return it, nil
}

// registerIterator adds it to leaf's bucket in the tree's iterator map.
func (t *BTree[K, V]) registerIterator(it *Iterator[K, V], leaf NodeID, pos int) {
	it.leaf = leaf
	it.pos = pos
	it.invalid = false
	if t.iterMap == nil {
		t.iterMap = make(map[NodeID][]*Iterator[K, V])
	}
	t.iterMap[leaf] = append(t.iterMap[leaf], it)
}

// deregisterIterator removes it from whatever bucket it is currently
// registered under, leaving its leaf/pos fields stale -- callers must
// set those (or mark it invalid) themselves.
func (t *BTree[K, V]) deregisterIterator(it *Iterator[K, V]) {
	bucket := t.iterMap[it.leaf]
	for i, other := range bucket {
		if other == it {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.iterMap, it.leaf)
	} else {
		t.iterMap[it.leaf] = bucket
	}
}

// moveIterator re-registers it under a new (leaf, pos).
func (t *BTree[K, V]) moveIterator(it *Iterator[K, V], newLeaf NodeID, newPos int) {
	t.deregisterIterator(it)
	t.registerIterator(it, newLeaf, newPos)
}

// shiftFrom adds delta to the position of every iterator registered on
// leaf whose current position is >= from, per leaf.h's insert-shift
// fixup (entries at and past the insertion point move right by one).
func (t *BTree[K, V]) shiftFrom(leaf NodeID, from, delta int) {
	for _, it := range t.iterMap[leaf] {
		if it.pos >= from {
			it.pos += delta
		}
	}
}

// splitMove relocates every iterator on oldLeaf whose position is >= mid
// to newLeaf, rebasing its position, mirroring a leaf split moving the
// tail half of the entries to the new sibling.
func (t *BTree[K, V]) splitMove(oldLeaf, newLeaf NodeID, mid int) {
	bucket := t.iterMap[oldLeaf]
	var kept []*Iterator[K, V]
	for _, it := range bucket {
		if it.pos >= mid {
			it.leaf = newLeaf
			it.pos -= mid
			t.iterMap[newLeaf] = append(t.iterMap[newLeaf], it)
		} else {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(t.iterMap, oldLeaf)
	} else {
		t.iterMap[oldLeaf] = kept
	}
}

// eraseFixup handles the iterators registered on leaf after the entry at
// at is removed: an iterator that named exactly that entry is
// invalidated (its target no longer exists); every later iterator's
// position shifts left by one.
func (t *BTree[K, V]) eraseFixup(leaf NodeID, at int) {
	bucket := t.iterMap[leaf]
	var kept []*Iterator[K, V]
	for _, it := range bucket {
		switch {
		case it.pos == at:
			it.invalid = true
		case it.pos > at:
			it.pos--
			kept = append(kept, it)
		default:
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(t.iterMap, leaf)
	} else {
		t.iterMap[leaf] = kept
	}
}

// fuseMove relocates every iterator registered on from to to, adding
// offset to each position -- the whole-bucket move used when one leaf's
// entries are appended wholesale onto a sibling's during a fuse.
func (t *BTree[K, V]) fuseMove(from, to NodeID, offset int) {
	bucket := t.iterMap[from]
	for _, it := range bucket {
		it.leaf = to
		it.pos += offset
	}
	if len(bucket) > 0 {
		t.iterMap[to] = append(t.iterMap[to], bucket...)
	}
	delete(t.iterMap, from)
}

// balanceLeftToSelf fixes up iterators after a balance that prepends
// left's last entry (at position leftLastPos) onto the front of self:
// self's existing iterators shift right by one to make room, then the
// moved entry's iterator (if any) crosses to self at position 0.
func (t *BTree[K, V]) balanceLeftToSelf(leftID, selfID NodeID, leftLastPos int) {
	t.shiftFrom(selfID, 0, 1)
	bucket := t.iterMap[leftID]
	var kept []*Iterator[K, V]
	for _, it := range bucket {
		if it.pos == leftLastPos {
			it.leaf = selfID
			it.pos = 0
			t.iterMap[selfID] = append(t.iterMap[selfID], it)
		} else {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(t.iterMap, leftID)
	} else {
		t.iterMap[leftID] = kept
	}
}

// balanceRightToSelf fixes up iterators after a balance that appends
// right's first entry onto the end of self (landing at selfAppendPos):
// the moved entry's iterator (if any) crosses to self, and right's
// remaining iterators shift left by one.
func (t *BTree[K, V]) balanceRightToSelf(rightID, selfID NodeID, selfAppendPos int) {
	bucket := t.iterMap[rightID]
	var kept []*Iterator[K, V]
	for _, it := range bucket {
		switch {
		case it.pos == 0:
			it.leaf = selfID
			it.pos = selfAppendPos
			t.iterMap[selfID] = append(t.iterMap[selfID], it)
		case it.pos > 0:
			it.pos--
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(t.iterMap, rightID)
	} else {
		t.iterMap[rightID] = kept
	}
}
