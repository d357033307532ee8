// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree_test

import (
	"context"
	"math/rand"
	"testing"

	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/btree"
	"code.hybscloud.com/xmem/ioengine"
)

type intCmp struct{}

func (intCmp) Less(a, b int) bool { return a < b }

func newTree(t *testing.T, leafFan, nodeFan, leafCache, nodeCache int) *btree.BTree[int, int] {
	t.Helper()
	be := ioengine.NewMemoryBackend()
	mgr, err := blockmgr.New(be, 1, 4096, 4096)
	if err != nil {
		t.Fatalf("blockmgr.New: %v", err)
	}
	return btree.New[int, int](intCmp{}, leafFan, nodeFan, leafCache, nodeCache, mgr, be, blockmgr.Striping{NDisks: 1})
}

func TestInsertFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 8, 8)

	for i := 0; i < 500; i++ {
		if err := tr.Insert(ctx, i, i*10); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if tr.Len() != 500 {
		t.Fatalf("Len() = %d, want 500", tr.Len())
	}
	for i := 0; i < 500; i++ {
		v, err := tr.Find(ctx, i)
		if err != nil {
			t.Fatalf("Find(%d): %v", i, err)
		}
		if v != i*10 {
			t.Fatalf("Find(%d) = %d, want %d", i, v, i*10)
		}
	}
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 8, 8)

	if err := tr.Insert(ctx, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(ctx, 1, 200); err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	v, err := tr.Find(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 200 {
		t.Fatalf("Find(1) = %d, want 200", v)
	}
}

func TestLowerBound(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 6, 6, 8, 8)

	for _, k := range []int{10, 20, 30, 40, 50} {
		if err := tr.Insert(ctx, k, k); err != nil {
			t.Fatal(err)
		}
	}
	k, v, ok, err := tr.LowerBound(ctx, 25)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || k != 30 || v != 30 {
		t.Fatalf("LowerBound(25) = (%d,%d,%v), want (30,30,true)", k, v, ok)
	}
	_, _, ok, err = tr.LowerBound(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("LowerBound(100) should report ok=false, every key is smaller")
	}
}

func collect(t *testing.T, tr *btree.BTree[int, int]) []int {
	t.Helper()
	var keys []int
	if err := tr.All(context.Background(), func(k, v int) bool {
		if v != k*10 {
			t.Fatalf("All: value for key %d is %d, want %d", k, v, k*10)
		}
		keys = append(keys, k)
		return true
	}); err != nil {
		t.Fatalf("All: %v", err)
	}
	return keys
}

// TestChurnPreservesOrdering is a reduced-scale rendering of spec.md §8
// scenario S5: insert a random permutation, erase every odd key, insert a
// disjoint block of new keys, and check begin..end enumerates exactly the
// expected ascending set.
func TestChurnPreservesOrdering(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 32, 32)

	const n = 2000
	perm := rand.New(rand.NewSource(6789)).Perm(n)
	for _, i := range perm {
		key := i + 1 // 1..n
		if err := tr.Insert(ctx, key, key*10); err != nil {
			t.Fatalf("Insert(%d): %v", key, err)
		}
	}

	for key := 1; key <= n; key += 2 {
		found, err := tr.Erase(ctx, key)
		if err != nil {
			t.Fatalf("Erase(%d): %v", key, err)
		}
		if !found {
			t.Fatalf("Erase(%d): expected found", key)
		}
	}

	for i := 1; i <= n/2; i++ {
		key := i + n
		if err := tr.Insert(ctx, key, key*10); err != nil {
			t.Fatalf("Insert(%d): %v", key, err)
		}
	}

	var want []int
	for i := 2; i <= n; i += 2 {
		want = append(want, i)
	}
	for i := 1; i <= n/2; i++ {
		want = append(want, i+n)
	}

	got := collect(t, tr)
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if tr.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(want))
	}
}

func TestEraseMissingKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 8, 8)
	if err := tr.Insert(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	found, err := tr.Erase(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("Erase(2) should report not found")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
}

func TestIteratorBeginNextMatchesAll(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 6, 6, 16, 16)
	for i := 0; i < 100; i++ {
		if err := tr.Insert(ctx, i, i*10); err != nil {
			t.Fatal(err)
		}
	}
	it, err := tr.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for it.Valid() {
		k, v, err := it.At(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v != k*10 {
			t.Fatalf("At() value for key %d = %d, want %d", k, v, k*10)
		}
		got = append(got, k)
		ok, err := it.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}
	if len(got) != 100 {
		t.Fatalf("len(got) = %d, want 100", len(got))
	}
	for i, k := range got {
		if k != i {
			t.Fatalf("entry %d: got %d, want %d", i, k, i)
		}
	}
}

// TestIteratorMovesAcrossSplit tracks an entry through a leaf split that
// relocates it into the new right sibling, exercising splitMove.
func TestIteratorMovesAcrossSplit(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 4, 4, 8, 8)
	for _, k := range []int{10, 20, 30, 40} {
		if err := tr.Insert(ctx, k, k*10); err != nil {
			t.Fatal(err)
		}
	}
	it, err := tr.Seek(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Insert(ctx, 25, 250); err != nil { // overflows the leaf, forcing a split
		t.Fatal(err)
	}

	k, v, err := it.At(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if k != 30 || v != 300 {
		t.Fatalf("after split: At() = (%d,%d), want (30,300)", k, v)
	}
}

// TestIteratorSurvivesFuseAcrossErase tracks an entry through a leaf fuse
// triggered by an unrelated erase, exercising fuseMove.
func TestIteratorSurvivesFuseAcrossErase(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 4, 4, 8, 8)
	for _, k := range []int{10, 20, 30, 40} {
		if err := tr.Insert(ctx, k, k*10); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Insert(ctx, 50, 500); err != nil { // overflows the leaf, forcing a split
		t.Fatal(err)
	}

	it, err := tr.Seek(ctx, 40)
	if err != nil {
		t.Fatal(err)
	}
	if !it.Valid() {
		t.Fatal("iterator should be valid after Seek")
	}
	if k, v, err := it.At(ctx); err != nil || k != 40 || v != 400 {
		t.Fatalf("At() = (%d,%d,%v), want (40,400,nil)", k, v, err)
	}

	found, err := tr.Erase(ctx, 10) // underflows the left leaf, forcing a fuse
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("Erase(10) should report found")
	}

	if !it.Valid() {
		t.Fatal("iterator tracking an untouched key should survive the fuse")
	}
	k, v, err := it.At(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if k != 40 || v != 400 {
		t.Fatalf("after fuse: At() = (%d,%d), want (40,400)", k, v)
	}
}

func TestIteratorInvalidatedByEraseOfTrackedKey(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 8, 8)
	for _, k := range []int{1, 2, 3} {
		if err := tr.Insert(ctx, k, k); err != nil {
			t.Fatal(err)
		}
	}
	it, err := tr.Seek(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !it.Valid() {
		t.Fatal("expected a valid iterator")
	}
	if _, err := tr.Erase(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if it.Valid() {
		t.Fatal("iterator should be invalidated once its entry is erased")
	}
	if _, _, err := it.At(ctx); err != btree.ErrIteratorInvalid {
		t.Fatalf("At() on invalidated iterator: got %v, want ErrIteratorInvalid", err)
	}
}

func TestEraseDownToEmpty(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, 8, 8, 8, 8)
	for i := 0; i < 200; i++ {
		if err := tr.Insert(ctx, i, i); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 200; i++ {
		found, err := tr.Erase(ctx, i)
		if err != nil {
			t.Fatalf("Erase(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("Erase(%d): expected found", i)
		}
	}
	if tr.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tr.Len())
	}
	_, _, ok, err := tr.LowerBound(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("LowerBound on an empty tree should report ok=false")
	}
}
