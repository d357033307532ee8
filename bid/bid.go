// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bid defines the block identifier, the typed fixed-size block, and
// the comparator contract shared by every external-memory container in this
// module.
package bid

import "fmt"

// StorageHandle is an opaque reference to a storage device, assigned by the
// out-of-scope block-I/O backend (see package ioengine). The zero value
// never names a real device.
type StorageHandle uint32

// InvalidStorage is the zero StorageHandle; no real device is ever assigned
// this value.
const InvalidStorage StorageHandle = 0

// BID identifies a fixed-size extent of a storage device: a (storage,
// offset) pair. The block manager (package blockmgr) is the sole authority
// for allocating and releasing BIDs; every other package treats a BID as an
// opaque, comparable reference.
//
// A zero-value BID is invalid; Valid distinguishes real BIDs from the
// sentinel used to mean "no block".
type BID struct {
	Storage StorageHandle
	Offset  int64
}

// Invalid is the zero BID, used as a sentinel meaning "no block".
var Invalid = BID{}

// Valid reports whether b names a real storage extent.
func (b BID) Valid() bool {
	return b.Storage != InvalidStorage
}

func (b BID) String() string {
	if !b.Valid() {
		return "bid(invalid)"
	}
	return fmt.Sprintf("bid(%d:%d)", b.Storage, b.Offset)
}

// Comparator supplies the total order over values of type V used by every
// merger and ordered container in this module. MinValue must return a
// sentinel value no real value is Less than; it guards loser-tree leaves and
// external-array maxima tables without per-step boundary tests.
//
// Implementations must be a strict weak ordering: Less(v, v) must be false
// for every v. Constructors in this module validate this invariant using
// MinValue at construction time (spec.md §7, "Assertions").
type Comparator[V any] interface {
	Less(a, b V) bool
	MinValue() V
}

// ValidateStrictWeakOrdering panics if cmp.Less(cmp.MinValue(), cmp.MinValue())
// holds, which would violate the strict weak ordering every merger in this
// module assumes. Constructors call this once, not on the hot path.
func ValidateStrictWeakOrdering[V any](cmp Comparator[V]) {
	m := cmp.MinValue()
	if cmp.Less(m, m) {
		panic("bid: comparator violates strict weak ordering: Less(MinValue, MinValue) is true")
	}
}
