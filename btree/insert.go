// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import "context"

// Insert stores value under key, overwriting any existing entry for key
// (spec.md §4.8). It grows the tree's height when the root itself
// overflows.
func (t *BTree[K, V]) Insert(ctx context.Context, key K, value V) error {
	split, splitKey, newChild, err := t.insert(ctx, t.root, t.height, key, value)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}

	newRoot := t.nodeSched.AllocateSwappableBlock()
	blk, _, err := t.acquireNode(ctx, newRoot)
	if err != nil {
		return err
	}
	blk.Values = append(blk.Values[:0], InternalEntry[K]{Key: splitKey, Child: t.root}, InternalEntry[K]{Child: newChild})
	encodeInternalMeta(blk.Meta, 2)
	if err := t.nodeSched.Release(newRoot, true); err != nil {
		return err
	}
	t.root = newRoot
	t.height++
	return nil
}

// insert recurses depth levels below id (id is a leaf when depth == 0),
// inserting (key, value). It reports whether id split, and if so the
// routing key for the left (unchanged id) half and the new right
// sibling's NodeID, per entry.go's "last entry's key is unused" routing
// convention.
func (t *BTree[K, V]) insert(ctx context.Context, id NodeID, depth int, key K, value V) (split bool, splitKey K, newID NodeID, err error) {
	if depth == 0 {
		return t.insertLeaf(ctx, id, key, value)
	}

	blk, n, err := t.acquireNode(ctx, id)
	if err != nil {
		return false, splitKey, 0, err
	}
	idx := routeChild(t.cmp, blk.Values, n, key)
	child := blk.Values[idx].Child
	oldKey := blk.Values[idx].Key
	oldWasLast := idx == n-1
	if err := t.nodeSched.Release(id, false); err != nil {
		return false, splitKey, 0, err
	}

	childSplit, childSplitKey, childNewID, err := t.insert(ctx, child, depth-1, key, value)
	if err != nil {
		return false, splitKey, 0, err
	}
	if !childSplit {
		return false, splitKey, 0, nil
	}

	blk, n, err = t.acquireNode(ctx, id)
	if err != nil {
		return false, splitKey, 0, err
	}
	blk.Values[idx] = InternalEntry[K]{Key: childSplitKey, Child: child}
	rightEntry := InternalEntry[K]{Child: childNewID}
	if !oldWasLast {
		rightEntry.Key = oldKey
	}
	blk.Values = append(blk.Values, InternalEntry[K]{})
	copy(blk.Values[idx+2:], blk.Values[idx+1:n])
	blk.Values[idx+1] = rightEntry
	n++

	if n <= t.nodeFan {
		encodeInternalMeta(blk.Meta, n)
		if err := t.nodeSched.Release(id, true); err != nil {
			return false, splitKey, 0, err
		}
		return false, splitKey, 0, nil
	}

	mid := n / 2
	rightEntries := append([]InternalEntry[K](nil), blk.Values[mid:n]...)
	leftSplitKey := blk.Values[mid-1].Key
	blk.Values = blk.Values[:mid]
	encodeInternalMeta(blk.Meta, mid)
	if err := t.nodeSched.Release(id, true); err != nil {
		return false, splitKey, 0, err
	}

	newNodeID := t.nodeSched.AllocateSwappableBlock()
	rblk, _, err := t.acquireNode(ctx, newNodeID)
	if err != nil {
		return false, splitKey, 0, err
	}
	rblk.Values = append(rblk.Values[:0], rightEntries...)
	encodeInternalMeta(rblk.Meta, len(rightEntries))
	if err := t.nodeSched.Release(newNodeID, true); err != nil {
		return false, splitKey, 0, err
	}

	return true, leftSplitKey, newNodeID, nil
}

// insertLeaf inserts (key, value) into leaf id, splitting it if it
// overflows leafFan entries.
func (t *BTree[K, V]) insertLeaf(ctx context.Context, id NodeID, key K, value V) (split bool, splitKey K, newID NodeID, err error) {
	blk, n, next, prev, err := t.acquireLeaf(ctx, id)
	if err != nil {
		return false, splitKey, 0, err
	}

	pos := n
	for i := 0; i < n; i++ {
		if t.eq(blk.Values[i].Key, key) {
			blk.Values[i].Value = value
			if err := t.leafSched.Release(id, true); err != nil {
				return false, splitKey, 0, err
			}
			return false, splitKey, 0, nil
		}
		if t.cmp.Less(key, blk.Values[i].Key) {
			pos = i
			break
		}
	}

	t.shiftFrom(id, pos, 1)
	blk.Values = append(blk.Values, LeafEntry[K, V]{})
	copy(blk.Values[pos+1:], blk.Values[pos:n])
	blk.Values[pos] = LeafEntry[K, V]{Key: key, Value: value}
	n++
	t.size++

	if n <= t.leafFan {
		encodeLeafMeta(blk.Meta, n, next, prev)
		if err := t.leafSched.Release(id, true); err != nil {
			return false, splitKey, 0, err
		}
		return false, splitKey, 0, nil
	}

	mid := n / 2
	rightValues := append([]LeafEntry[K, V](nil), blk.Values[mid:n]...)
	leftSplitKey := blk.Values[mid-1].Key
	blk.Values = blk.Values[:mid]

	newLeafID := t.leafSched.AllocateSwappableBlock()
	t.splitMove(id, newLeafID, mid)
	encodeLeafMeta(blk.Meta, mid, newLeafID, prev)
	if err := t.leafSched.Release(id, true); err != nil {
		return false, splitKey, 0, err
	}

	rblk, err := t.leafSched.Acquire(ctx, newLeafID)
	if err != nil {
		return false, splitKey, 0, err
	}
	rblk.Values = append(rblk.Values[:0], rightValues...)
	encodeLeafMeta(rblk.Meta, len(rightValues), next, id)
	if err := t.leafSched.Release(newLeafID, true); err != nil {
		return false, splitKey, 0, err
	}

	if next != noSibling {
		nblk, nn, nnext, _, err := t.acquireLeaf(ctx, next)
		if err != nil {
			return false, splitKey, 0, err
		}
		encodeLeafMeta(nblk.Meta, nn, nnext, newLeafID)
		if err := t.leafSched.Release(next, true); err != nil {
			return false, splitKey, 0, err
		}
	}

	return true, leftSplitKey, newLeafID, nil
}
