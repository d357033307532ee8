// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq_test

import (
	"math/rand"
	"sort"
	"testing"

	"code.hybscloud.com/xmem/pq"
)

// ascendingCmp extracts the minimum first: Less is inverted relative to
// natural order, per bid.Comparator's documented top()-is-maximum
// convention (see DESIGN.md's `pq`/`merger` entries).
type ascendingCmp struct{}

func (ascendingCmp) Less(a, b int) bool { return a > b }
func (ascendingCmp) MinValue() int      { return int(^uint(0) >> 1) } // max int: never beaten

func TestPQAscendingRoundTrip(t *testing.T) {
	q := pq.New[int](ascendingCmp{}, 8)
	n := 500
	want := make([]int, n)
	r := rand.New(rand.NewSource(1))
	for i := range want {
		want[i] = r.Intn(10000)
		q.Push(want[i])
	}
	sort.Ints(want)

	for i, w := range want {
		if q.Empty() {
			t.Fatalf("queue emptied early at %d/%d", i, n)
		}
		got, ok := q.Pop()
		if !ok || got != w {
			t.Fatalf("pop %d: got %d want %d", i, got, w)
		}
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining all pushed elements")
	}
}

func TestPQTopDoesNotRemove(t *testing.T) {
	q := pq.New[int](ascendingCmp{}, 4)
	q.Push(5)
	q.Push(1)
	q.Push(3)

	top1, ok := q.Top()
	if !ok || top1 != 1 {
		t.Fatalf("Top: got %d, want 1", top1)
	}
	top2, ok := q.Top()
	if !ok || top2 != top1 {
		t.Fatal("Top must be idempotent")
	}
	got, _ := q.Pop()
	if got != 1 {
		t.Fatalf("Pop after Top: got %d, want 1", got)
	}
}

func TestPQOverflowCascade(t *testing.T) {
	// Force several insert-heap overflows (heapCap=2) so values spread
	// across multiple cascade levels, then verify global ordering still
	// holds across level and heap sources.
	q := pq.New[int](ascendingCmp{}, 2)
	values := []int{9, 4, 7, 1, 8, 2, 6, 3, 5, 0, 20, 15}
	for _, v := range values {
		q.Push(v)
	}
	want := append([]int(nil), values...)
	sort.Ints(want)
	for i, w := range want {
		got, ok := q.Pop()
		if !ok || got != w {
			t.Fatalf("pop %d: got %d want %d", i, got, w)
		}
	}
}

func TestPQEmptyPop(t *testing.T) {
	q := pq.New[int](ascendingCmp{}, 4)
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue must report ok=false")
	}
}
