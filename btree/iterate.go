// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import "context"

// firstLeaf descends the leftmost path from the root to find the leaf
// holding the smallest keys.
func (t *BTree[K, V]) firstLeaf(ctx context.Context) (NodeID, error) {
	id := t.root
	for d := t.height; d > 0; d-- {
		blk, _, err := t.acquireNode(ctx, id)
		if err != nil {
			return 0, err
		}
		child := blk.Values[0].Child
		if err := t.nodeSched.Release(id, false); err != nil {
			return 0, err
		}
		id = child
	}
	return id, nil
}

// All walks every (key, value) pair in ascending order via the leaf
// sibling chain (spec.md §3 "pred/succ form a doubly-linked leaf list"),
// invoking yield for each. Iteration stops early if yield returns false.
// It is the one-shot callback counterpart of the live Iterator in
// iterator.go: no cursor outlives the call, so no iterator-map entry is
// registered.
func (t *BTree[K, V]) All(ctx context.Context, yield func(key K, value V) bool) error {
	id, err := t.firstLeaf(ctx)
	if err != nil {
		return err
	}
	for id != noSibling {
		blk, n, next, _, err := t.acquireLeaf(ctx, id)
		if err != nil {
			return err
		}
		cont := true
		for i := 0; i < n && cont; i++ {
			cont = yield(blk.Values[i].Key, blk.Values[i].Value)
		}
		if err := t.leafSched.Release(id, false); err != nil {
			return err
		}
		if !cont {
			return nil
		}
		id = next
	}
	return nil
}
