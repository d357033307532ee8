// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bid_test

import (
	"testing"

	"code.hybscloud.com/xmem/bid"
)

type intCmp struct{}

func (intCmp) Less(a, b int) bool { return a < b }
func (intCmp) MinValue() int      { return -1 << 62 }

func TestBIDValidity(t *testing.T) {
	var zero bid.BID
	if zero.Valid() {
		t.Fatal("zero-value BID must be invalid")
	}
	b := bid.BID{Storage: 1, Offset: 4096}
	if !b.Valid() {
		t.Fatal("constructed BID with non-zero storage must be valid")
	}
}

func TestValidateStrictWeakOrdering(t *testing.T) {
	bid.ValidateStrictWeakOrdering[int](intCmp{})
}

func TestValidateStrictWeakOrderingPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a comparator violating strict weak ordering")
		}
	}()
	bid.ValidateStrictWeakOrdering[int](badCmp{})
}

type badCmp struct{}

func (badCmp) Less(a, b int) bool { return true }
func (badCmp) MinValue() int      { return 0 }

func TestBlockRoundTrip(t *testing.T) {
	blk := bid.NewBlock[int64](4, 0)
	if !blk.HasOnlyData() {
		t.Fatal("zero metaSize block must be data-only")
	}
	blk.Values = append(blk.Values, 10, 20, 30)
	raw := blk.Bytes()

	loaded := bid.NewBlock[int64](4, 0)
	loaded.LoadBytes(raw, 3)
	if len(loaded.Values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(loaded.Values))
	}
	for i, v := range []int64{10, 20, 30} {
		if loaded.Values[i] != v {
			t.Fatalf("value %d: want %d got %d", i, v, loaded.Values[i])
		}
	}
}

func TestBlockWithMeta(t *testing.T) {
	blk := bid.NewBlock[int64](4, 16)
	if blk.HasOnlyData() {
		t.Fatal("block with metaSize > 0 must not be data-only")
	}
	copy(blk.Meta, []byte("0123456789abcdef"))
	blk.Values = append(blk.Values, 1, 2)
	raw := blk.Bytes()

	loaded := bid.NewBlock[int64](4, 16)
	loaded.LoadBytes(raw, 2)
	if string(loaded.Meta) != "0123456789abcdef" {
		t.Fatalf("meta mismatch: got %q", loaded.Meta)
	}
}

func TestBlockFullAndReset(t *testing.T) {
	blk := bid.NewBlock[int32](2, 0)
	blk.Values = append(blk.Values, 1, 2)
	if !blk.Full() {
		t.Fatal("block at capacity must report Full")
	}
	blk.Reset()
	if blk.Full() || len(blk.Values) != 0 {
		t.Fatal("Reset must empty Values")
	}
}
