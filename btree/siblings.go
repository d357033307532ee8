// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package btree

import "encoding/binary"

// Scheduler always loads a block's Values up to its full Capacity (see
// scheduler.Acquire), so the logical number of live entries in a node
// cannot be read from len(Values) once the block has round-tripped through
// storage. Both node kinds therefore keep their live count in Meta.

// leafMetaSize is the fixed Meta payload every leaf block carries: the live
// entry count plus the forward and backward sibling NodeID (spec.md §4.8,
// "doubly-linked siblings").
const leafMetaSize = 24

func encodeLeafMeta(meta []byte, count int, next, prev NodeID) {
	binary.LittleEndian.PutUint64(meta[0:8], uint64(int64(count)))
	binary.LittleEndian.PutUint64(meta[8:16], uint64(int64(next)))
	binary.LittleEndian.PutUint64(meta[16:24], uint64(int64(prev)))
}

func decodeLeafMeta(meta []byte) (count int, next, prev NodeID) {
	count = int(int64(binary.LittleEndian.Uint64(meta[0:8])))
	next = NodeID(int64(binary.LittleEndian.Uint64(meta[8:16])))
	prev = NodeID(int64(binary.LittleEndian.Uint64(meta[16:24])))
	return
}

// internalMetaSize is the fixed Meta payload every internal-node block
// carries: the live entry count (spec.md §4.9).
const internalMetaSize = 8

func encodeInternalMeta(meta []byte, count int) {
	binary.LittleEndian.PutUint64(meta[0:8], uint64(int64(count)))
}

func decodeInternalMeta(meta []byte) (count int) {
	return int(int64(binary.LittleEndian.Uint64(meta[0:8])))
}
