// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stack_test

import (
	"context"
	"testing"

	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/blockmgr"
	"code.hybscloud.com/xmem/blockpool"
	"code.hybscloud.com/xmem/ioengine"
	"code.hybscloud.com/xmem/stack"
)

func newMgr(t *testing.T) (*blockmgr.Manager, ioengine.Backend) {
	t.Helper()
	be := ioengine.NewMemoryBackend()
	mgr, err := blockmgr.New(be, 1, 4096, 1024)
	if err != nil {
		t.Fatalf("blockmgr.New: %v", err)
	}
	return mgr, be
}

func TestNormalStackLIFO(t *testing.T) {
	ctx := context.Background()
	mgr, be := newMgr(t)
	s := stack.NewNormalStack[int64](mgr, be, blockmgr.Striping{NDisks: 1}, 8, 4)

	const n = 200
	for i := 0; i < n; i++ {
		if err := s.Push(ctx, int64(i)); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if s.Len() != n {
		t.Fatalf("Len() = %d, want %d", s.Len(), n)
	}
	for i := n - 1; i >= 0; i-- {
		top, err := s.Top(ctx)
		if err != nil {
			t.Fatalf("Top at %d: %v", i, err)
		}
		if top != int64(i) {
			t.Fatalf("Top at %d = %d, want %d", i, top, i)
		}
		v, err := s.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop at %d: %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("Pop at %d = %d, want %d", i, v, i)
		}
	}
	if !s.Empty() {
		t.Fatal("stack should be empty")
	}
	if _, err := s.Pop(ctx); err != stack.ErrEmpty {
		t.Fatalf("Pop on empty stack: got %v, want ErrEmpty", err)
	}
}

func TestGrowShrinkStackLIFO(t *testing.T) {
	ctx := context.Background()
	mgr, be := newMgr(t)
	s := stack.NewGrowShrinkStack[int64](mgr, be, blockmgr.Striping{NDisks: 1}, 8, 4)

	const n = 200
	for i := 0; i < n; i++ {
		if err := s.Push(ctx, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := n - 1; i >= 0; i-- {
		v, err := s.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop at %d: %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("Pop at %d = %d, want %d", i, v, i)
		}
	}
}

func TestGrowShrinkStack2LIFO(t *testing.T) {
	ctx := context.Background()
	mgr, be := newMgr(t)
	const pageCap = 8
	pool := blockpool.NewReadWritePool[int64](be, 4, 4, func() *bid.Block[int64] {
		return bid.NewBlock[int64](pageCap, 0)
	})
	s := stack.NewGrowShrinkStack2[int64](mgr, blockmgr.Striping{NDisks: 1}, pool, pageCap, 2)

	const n = 200
	for i := 0; i < n; i++ {
		if err := s.Push(ctx, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Len() != n {
		t.Fatalf("Len() = %d, want %d", s.Len(), n)
	}
	for i := n - 1; i >= 0; i-- {
		v, err := s.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop at %d: %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("Pop at %d = %d, want %d", i, v, i)
		}
	}
	if !s.Empty() {
		t.Fatal("stack should be empty")
	}
}

func TestMigratingStackSwitchesOverAtThreshold(t *testing.T) {
	ctx := context.Background()
	mgr, be := newMgr(t)
	s := stack.NewMigratingStack[int64](mgr, be, blockmgr.Striping{NDisks: 1}, 16, 8, 4, 1)

	for i := 0; i < 10; i++ {
		if err := s.Push(ctx, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Migrated() {
		t.Fatal("should not have migrated yet")
	}

	for i := 10; i < 40; i++ {
		if err := s.Push(ctx, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Migrated() {
		t.Fatal("should have migrated past threshold")
	}
	if s.Len() != 40 {
		t.Fatalf("Len() = %d, want 40", s.Len())
	}
	for i := 39; i >= 0; i-- {
		v, err := s.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop at %d: %v", i, err)
		}
		if v != int64(i) {
			t.Fatalf("Pop at %d = %d, want %d", i, v, i)
		}
	}
}
