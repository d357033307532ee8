// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import "context"

// Erase removes key's entry, if present, fusing or balancing the leaf and
// any ancestor node that drops below its minimum occupancy (spec.md §4.8
// "erase mirrors insert", §4.9 fuse_or_balance). It reports whether key was
// found.
func (t *BTree[K, V]) Erase(ctx context.Context, key K) (bool, error) {
	found, _, err := t.erase(ctx, t.root, t.height, key, true)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if t.height > 0 {
		blk, n, err := t.acquireNode(ctx, t.root)
		if err != nil {
			return true, err
		}
		if n == 1 {
			newRoot := blk.Values[0].Child
			oldRoot := t.root
			if err := t.nodeSched.Release(oldRoot, false); err != nil {
				return true, err
			}
			t.root = newRoot
			t.height--
			if err := t.nodeSched.FreeSwappableBlock(ctx, oldRoot); err != nil {
				return true, err
			}
		} else {
			if err := t.nodeSched.Release(t.root, false); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// erase recurses depth levels below id, removing key if present. It
// reports whether key was found and, if so, whether id underflowed below
// its minimum occupancy and needs fuse/balance from its parent. isRoot
// suppresses the underflow signal: the root is exempt from the minimum
// occupancy rule (spec.md §3, B-tree invariants: "except at the root").
func (t *BTree[K, V]) erase(ctx context.Context, id NodeID, depth int, key K, isRoot bool) (found, underflow bool, err error) {
	if depth == 0 {
		return t.eraseLeaf(ctx, id, key, isRoot)
	}

	blk, n, err := t.acquireNode(ctx, id)
	if err != nil {
		return false, false, err
	}
	idx := routeChild(t.cmp, blk.Values, n, key)
	child := blk.Values[idx].Child
	if err := t.nodeSched.Release(id, false); err != nil {
		return false, false, err
	}

	found, childUnderflow, err := t.erase(ctx, child, depth-1, key, false)
	if err != nil {
		return false, false, err
	}
	if !found || !childUnderflow {
		return found, false, nil
	}

	blk, n, err = t.acquireNode(ctx, id)
	if err != nil {
		return false, false, err
	}
	var newN int
	if depth == 1 {
		newN, err = t.fuseOrBalanceLeaf(ctx, blk, n, idx)
	} else {
		newN, err = t.fuseOrBalanceNode(ctx, blk, n, idx)
	}
	if err != nil {
		t.nodeSched.Release(id, false)
		return false, false, err
	}
	encodeInternalMeta(blk.Meta, newN)
	if err := t.nodeSched.Release(id, true); err != nil {
		return false, false, err
	}
	return true, !isRoot && newN < t.nodeMin, nil
}

func (t *BTree[K, V]) eraseLeaf(ctx context.Context, id NodeID, key K, isRoot bool) (found, underflow bool, err error) {
	blk, n, next, prev, err := t.acquireLeaf(ctx, id)
	if err != nil {
		return false, false, err
	}
	pos := -1
	for i := 0; i < n; i++ {
		if t.eq(blk.Values[i].Key, key) {
			pos = i
			break
		}
	}
	if pos < 0 {
		if err := t.leafSched.Release(id, false); err != nil {
			return false, false, err
		}
		return false, false, nil
	}
	t.eraseFixup(id, pos)
	copy(blk.Values[pos:n-1], blk.Values[pos+1:n])
	blk.Values = blk.Values[:n-1]
	n--
	t.size--
	encodeLeafMeta(blk.Meta, n, next, prev)
	if err := t.leafSched.Release(id, true); err != nil {
		return false, false, err
	}
	return true, !isRoot && n < t.leafMin, nil
}

// fuseOrBalanceLeaf repairs the underflowed leaf child at parentBlk.Values[idx]
// by fusing it with an adjacent sibling under the same parent, or, if the
// fused pair would overflow leafFan, redistributing one entry between them
// instead (spec.md §4.8: "fuse(src) ... balance(left) redistributes").
// It returns the parent's new live entry count.
func (t *BTree[K, V]) fuseOrBalanceLeaf(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	if idx > 0 {
		return t.fuseOrBalanceLeafLeft(ctx, parentBlk, parentN, idx)
	}
	return t.fuseOrBalanceLeafRight(ctx, parentBlk, parentN, idx)
}

func (t *BTree[K, V]) fuseOrBalanceLeafLeft(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	leftID := parentBlk.Values[idx-1].Child
	selfID := parentBlk.Values[idx].Child
	lblk, ln, lnext, lprev, err := t.acquireLeaf(ctx, leftID)
	if err != nil {
		return 0, err
	}
	sblk, sn, snext, _, err := t.acquireLeaf(ctx, selfID)
	if err != nil {
		t.leafSched.Release(leftID, false)
		return 0, err
	}
	_ = lnext

	if ln+sn <= t.leafFan {
		t.fuseMove(selfID, leftID, ln)
		lblk.Values = append(lblk.Values, sblk.Values[:sn]...)
		newLN := ln + sn
		encodeLeafMeta(lblk.Meta, newLN, snext, lprev)
		if err := t.leafSched.Release(leftID, true); err != nil {
			return 0, err
		}
		if err := t.leafSched.Release(selfID, false); err != nil {
			return 0, err
		}
		if snext != noSibling {
			if err := t.fixLeafPrev(ctx, snext, leftID); err != nil {
				return 0, err
			}
		}
		if err := t.leafSched.FreeSwappableBlock(ctx, selfID); err != nil {
			return 0, err
		}
		if idx != parentN-1 {
			parentBlk.Values[idx-1].Key = parentBlk.Values[idx].Key
		}
		copy(parentBlk.Values[idx:parentN-1], parentBlk.Values[idx+1:parentN])
		parentBlk.Values = parentBlk.Values[:parentN-1]
		return parentN - 1, nil
	}

	t.balanceLeftToSelf(leftID, selfID, ln-1)
	moved := lblk.Values[ln-1]
	newLeftMax := lblk.Values[ln-2].Key
	lblk.Values = lblk.Values[:ln-1]
	sblk.Values = append(sblk.Values, LeafEntry[K, V]{})
	copy(sblk.Values[1:], sblk.Values[:sn])
	sblk.Values[0] = moved

	encodeLeafMeta(lblk.Meta, ln-1, selfID, lprev)
	encodeLeafMeta(sblk.Meta, sn+1, snext, leftID)
	if err := t.leafSched.Release(leftID, true); err != nil {
		return 0, err
	}
	if err := t.leafSched.Release(selfID, true); err != nil {
		return 0, err
	}
	parentBlk.Values[idx-1].Key = newLeftMax
	return parentN, nil
}

func (t *BTree[K, V]) fuseOrBalanceLeafRight(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	selfID := parentBlk.Values[idx].Child
	rightID := parentBlk.Values[idx+1].Child
	sblk, sn, _, sprev, err := t.acquireLeaf(ctx, selfID)
	if err != nil {
		return 0, err
	}
	rblk, rn, rnext, _, err := t.acquireLeaf(ctx, rightID)
	if err != nil {
		t.leafSched.Release(selfID, false)
		return 0, err
	}

	if sn+rn <= t.leafFan {
		t.fuseMove(rightID, selfID, sn)
		sblk.Values = append(sblk.Values, rblk.Values[:rn]...)
		newSN := sn + rn
		encodeLeafMeta(sblk.Meta, newSN, rnext, sprev)
		if err := t.leafSched.Release(selfID, true); err != nil {
			return 0, err
		}
		if err := t.leafSched.Release(rightID, false); err != nil {
			return 0, err
		}
		if rnext != noSibling {
			if err := t.fixLeafPrev(ctx, rnext, selfID); err != nil {
				return 0, err
			}
		}
		if err := t.leafSched.FreeSwappableBlock(ctx, rightID); err != nil {
			return 0, err
		}
		if idx+1 != parentN-1 {
			parentBlk.Values[idx].Key = parentBlk.Values[idx+1].Key
		}
		copy(parentBlk.Values[idx+1:parentN-1], parentBlk.Values[idx+2:parentN])
		parentBlk.Values = parentBlk.Values[:parentN-1]
		return parentN - 1, nil
	}

	t.balanceRightToSelf(rightID, selfID, sn)
	moved := rblk.Values[0]
	copy(rblk.Values[0:], rblk.Values[1:rn])
	rblk.Values = rblk.Values[:rn-1]
	sblk.Values = append(sblk.Values, moved)

	encodeLeafMeta(sblk.Meta, sn+1, rightID, sprev)
	encodeLeafMeta(rblk.Meta, rn-1, rnext, selfID)
	if err := t.leafSched.Release(selfID, true); err != nil {
		return 0, err
	}
	if err := t.leafSched.Release(rightID, true); err != nil {
		return 0, err
	}
	parentBlk.Values[idx].Key = moved.Key
	return parentN, nil
}

// fixLeafPrev rewrites id's backward sibling link without disturbing its
// other fields.
func (t *BTree[K, V]) fixLeafPrev(ctx context.Context, id, prev NodeID) error {
	blk, n, next, _, err := t.acquireLeaf(ctx, id)
	if err != nil {
		return err
	}
	encodeLeafMeta(blk.Meta, n, next, prev)
	return t.leafSched.Release(id, true)
}

// fuseOrBalanceNode mirrors fuseOrBalanceLeaf one or more levels above the
// leaves: internal nodes carry no sibling links (spec.md §4.9), so fusing
// two routing blocks is a plain entry-array concatenation.
func (t *BTree[K, V]) fuseOrBalanceNode(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	if idx > 0 {
		return t.fuseOrBalanceNodeLeft(ctx, parentBlk, parentN, idx)
	}
	return t.fuseOrBalanceNodeRight(ctx, parentBlk, parentN, idx)
}

func (t *BTree[K, V]) fuseOrBalanceNodeLeft(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	leftID := parentBlk.Values[idx-1].Child
	selfID := parentBlk.Values[idx].Child
	lblk, ln, err := t.acquireNode(ctx, leftID)
	if err != nil {
		return 0, err
	}
	sblk, sn, err := t.acquireNode(ctx, selfID)
	if err != nil {
		t.nodeSched.Release(leftID, false)
		return 0, err
	}

	if ln+sn <= t.nodeFan {
		lblk.Values = append(lblk.Values, sblk.Values[:sn]...)
		encodeInternalMeta(lblk.Meta, ln+sn)
		if err := t.nodeSched.Release(leftID, true); err != nil {
			return 0, err
		}
		if err := t.nodeSched.Release(selfID, false); err != nil {
			return 0, err
		}
		if err := t.nodeSched.FreeSwappableBlock(ctx, selfID); err != nil {
			return 0, err
		}
		if idx != parentN-1 {
			parentBlk.Values[idx-1].Key = parentBlk.Values[idx].Key
		}
		copy(parentBlk.Values[idx:parentN-1], parentBlk.Values[idx+1:parentN])
		parentBlk.Values = parentBlk.Values[:parentN-1]
		return parentN - 1, nil
	}

	moved := lblk.Values[ln-1]
	newLeftMax := lblk.Values[ln-2].Key
	lblk.Values = lblk.Values[:ln-1]
	sblk.Values = append(sblk.Values, InternalEntry[K]{})
	copy(sblk.Values[1:], sblk.Values[:sn])
	sblk.Values[0] = moved

	encodeInternalMeta(lblk.Meta, ln-1)
	encodeInternalMeta(sblk.Meta, sn+1)
	if err := t.nodeSched.Release(leftID, true); err != nil {
		return 0, err
	}
	if err := t.nodeSched.Release(selfID, true); err != nil {
		return 0, err
	}
	parentBlk.Values[idx-1].Key = newLeftMax
	return parentN, nil
}

func (t *BTree[K, V]) fuseOrBalanceNodeRight(ctx context.Context, parentBlk *entryBlock[K], parentN, idx int) (int, error) {
	selfID := parentBlk.Values[idx].Child
	rightID := parentBlk.Values[idx+1].Child
	sblk, sn, err := t.acquireNode(ctx, selfID)
	if err != nil {
		return 0, err
	}
	rblk, rn, err := t.acquireNode(ctx, rightID)
	if err != nil {
		t.nodeSched.Release(selfID, false)
		return 0, err
	}

	if sn+rn <= t.nodeFan {
		sblk.Values = append(sblk.Values, rblk.Values[:rn]...)
		encodeInternalMeta(sblk.Meta, sn+rn)
		if err := t.nodeSched.Release(selfID, true); err != nil {
			return 0, err
		}
		if err := t.nodeSched.Release(rightID, false); err != nil {
			return 0, err
		}
		if err := t.nodeSched.FreeSwappableBlock(ctx, rightID); err != nil {
			return 0, err
		}
		if idx+1 != parentN-1 {
			parentBlk.Values[idx].Key = parentBlk.Values[idx+1].Key
		}
		copy(parentBlk.Values[idx+1:parentN-1], parentBlk.Values[idx+2:parentN])
		parentBlk.Values = parentBlk.Values[:parentN-1]
		return parentN - 1, nil
	}

	moved := rblk.Values[0]
	copy(rblk.Values[0:], rblk.Values[1:rn])
	rblk.Values = rblk.Values[:rn-1]
	sblk.Values = append(sblk.Values, moved)

	encodeInternalMeta(sblk.Meta, sn+1)
	encodeInternalMeta(rblk.Meta, rn-1)
	if err := t.nodeSched.Release(selfID, true); err != nil {
		return 0, err
	}
	if err := t.nodeSched.Release(rightID, true); err != nil {
		return 0, err
	}
	parentBlk.Values[idx].Key = moved.Key
	return parentN, nil
}
