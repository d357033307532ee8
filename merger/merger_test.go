// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package merger_test

import (
	"context"
	"math"
	"sort"
	"testing"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
	"code.hybscloud.com/xmem/ioengine"
	"code.hybscloud.com/xmem/merger"
)

// intCmp extracts the maximum int64 first (natural order), guarded by the
// smallest representable int64.
type intCmp struct{}

func (intCmp) Less(a, b int64) bool { return a < b }
func (intCmp) MinValue() int64      { return math.MinInt64 }

func descending(xs ...int64) []int64 {
	out := append([]int64(nil), xs...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func TestInternalLoserTreeMergesDescending(t *testing.T) {
	runs := [][]int64{
		descending(1, 4, 7, 10),
		descending(2, 3, 9),
		descending(5, 6, 8),
	}
	tree := merger.NewInternalLoserTree[int64](intCmp{}, runs)
	var out []int64
	buf := make([]int64, 16)
	for {
		n := tree.MultiMerge(buf)
		out = append(out, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	want := descending(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out, want)
		}
	}
	if !tree.Empty() {
		t.Fatal("tree should be empty after full drain")
	}
}

func TestInternalLoserTreeSingleRun(t *testing.T) {
	tree := merger.NewInternalLoserTree[int64](intCmp{}, [][]int64{descending(3, 2, 1)})
	buf := make([]int64, 3)
	n := tree.MultiMerge(buf)
	if n != 3 || buf[0] != 3 || buf[2] != 1 {
		t.Fatalf("unexpected merge of single run: %v (n=%d)", buf, n)
	}
}

func TestInternalLoserTreeEmptyRuns(t *testing.T) {
	tree := merger.NewInternalLoserTree[int64](intCmp{}, [][]int64{{}, {}})
	if !tree.Empty() {
		t.Fatal("tree built from empty runs must report Empty")
	}
}

func TestInternalLoserTreeCompactsWhenSparse(t *testing.T) {
	// 8 one-element runs, k=8; once 5 drain, live=3 is under 2k/5=3.2 and
	// the tree compacts to k=4, then again to k=2 at live=1, before the
	// final values drain.
	runs := make([][]int64, 8)
	for i := range runs {
		runs[i] = []int64{int64(i)}
	}
	tree := merger.NewInternalLoserTree[int64](intCmp{}, runs)
	buf := make([]int64, 8)
	n := tree.MultiMerge(buf)
	if n != 8 {
		t.Fatalf("expected all 8 values, got %d: %v", n, buf)
	}
	want := descending(0, 1, 2, 3, 4, 5, 6, 7)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, buf, want)
		}
	}
}

func newMergerBackend(t *testing.T) (ioengine.Backend, *blockmgr.Manager) {
	t.Helper()
	be := ioengine.NewMemoryBackend()
	mgr, err := blockmgr.New(be, 1, 4096, 64)
	if err != nil {
		t.Fatalf("blockmgr.New: %v", err)
	}
	return be, mgr
}

func writeRun(t *testing.T, ctx context.Context, be ioengine.Backend, mgr *blockmgr.Manager, values []int64, blockCap int) []merger.BlockRef {
	t.Helper()
	var refs []merger.BlockRef
	for i := 0; i < len(values); i += blockCap {
		end := i + blockCap
		if end > len(values) {
			end = len(values)
		}
		blk := bid.NewBlock[int64](blockCap, 0)
		blk.Values = append(blk.Values, values[i:end]...)
		id, err := mgr.NewBlock(blockmgr.Striping{NDisks: 1})
		if err != nil {
			t.Fatalf("NewBlock: %v", err)
		}
		req, err := be.Write(ctx, id.Storage, id.Offset, blk.Bytes())
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := be.Wait(ctx, req); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		refs = append(refs, merger.BlockRef{BID: id, N: end - i})
	}
	return refs
}

func TestExternalMergerMergesDescendingRuns(t *testing.T) {
	ctx := context.Background()
	be, mgr := newMergerBackend(t)
	pool := blockpool.NewPrefetchPool[int64](be, 4, func() *bid.Block[int64] { return bid.NewBlock[int64](4, 0) })

	refsA := writeRun(t, ctx, be, mgr, descending(1, 3, 5, 7, 9), 4)
	refsB := writeRun(t, ctx, be, mgr, descending(2, 4, 6, 8), 4)

	em, err := merger.NewExternalMerger[int64](ctx, intCmp{}, pool, mgr, [][]merger.BlockRef{refsA, refsB})
	if err != nil {
		t.Fatalf("NewExternalMerger: %v", err)
	}
	out := make([]int64, 9)
	n, err := em.MultiMerge(ctx, out)
	if err != nil {
		t.Fatalf("MultiMerge: %v", err)
	}
	if n != 9 {
		t.Fatalf("expected 9 merged values, got %d: %v", n, out)
	}
	want := descending(1, 2, 3, 4, 5, 6, 7, 8, 9)
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, out, want)
		}
	}
	if !em.Empty() {
		t.Fatal("merger should be empty after full drain")
	}
}
