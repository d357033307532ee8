// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blockmgr implements the block manager described in spec.md
// §4.1: it issues unique BIDs across a configured set of storage devices
// and reclaims them, delegating device selection to a pluggable Strategy.
package blockmgr

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/spin"
	"code.hybscloud.com/xmem/bid"
	"code.hybscloud.com/xmem/ioengine"
)

// ErrOutOfSpace is returned when every configured device refuses an
// allocation, per spec.md §7.
var ErrOutOfSpace = errors.New("blockmgr: out of space")

// Manager allocates and frees BIDs across a fixed set of storage devices.
// It is the sole authority for block allocation (spec.md §3); every other
// package treats the BIDs it returns as opaque.
type Manager struct {
	backend   ioengine.Backend
	blockSize int64

	mu      sync.Mutex
	devices []bid.StorageHandle
	free    map[bid.StorageHandle][]int64 // free offsets per device, LIFO

	counter atomic.Uint64
}

// New constructs a Manager with ndisks devices of the given per-device
// byte capacity, each sized to hold capacityBlocks blocks of blockSize
// bytes. Devices are allocated eagerly from backend.
func New(backend ioengine.Backend, ndisks int, blockSize int64, capacityBlocks int64) (*Manager, error) {
	if ndisks < 1 {
		return nil, fmt.Errorf("blockmgr: ndisks must be >= 1, got %d", ndisks)
	}
	m := &Manager{
		backend:   backend,
		blockSize: blockSize,
		devices:   make([]bid.StorageHandle, ndisks),
		free:      make(map[bid.StorageHandle][]int64, ndisks),
	}
	for i := range ndisks {
		h, err := backend.AllocateStorage(blockSize * capacityBlocks)
		if err != nil {
			return nil, fmt.Errorf("blockmgr: allocating device %d: %w", i, err)
		}
		m.devices[i] = h
		offsets := make([]int64, capacityBlocks)
		for j := range offsets {
			// reverse order so the lowest offset is popped first, which
			// keeps allocation deterministic and friendly for tests.
			offsets[j] = blockSize * int64(capacityBlocks-1-j)
		}
		m.free[h] = offsets
	}
	return m, nil
}

// BlockSize returns the fixed block size this manager allocates.
func (m *Manager) BlockSize() int64 { return m.blockSize }

// NewBlock allocates a single BID on the device strategy selects for the
// manager's current allocation counter.
func (m *Manager) NewBlock(strategy Strategy) (bid.BID, error) {
	var out [1]bid.BID
	if err := m.NewBlocks(strategy, out[:]); err != nil {
		return bid.Invalid, err
	}
	return out[0], nil
}

// NewBlocks allocates len(out) BIDs, assigning the i-th entry's device via
// strategy.Device(base+i) where base is the manager's internal monotone
// counter, advanced by len(out) on return (spec.md §4.1).
func (m *Manager) NewBlocks(strategy Strategy, out []bid.BID) error {
	if len(out) == 0 {
		return nil
	}
	base := m.counter.Add(uint64(len(out))) - uint64(len(out))

	m.mu.Lock()
	defer m.mu.Unlock()

	var sw spin.Wait
	for i := range out {
		devIdx := strategy.Device(base + uint64(i))
		if devIdx < 0 || devIdx >= len(m.devices) {
			return fmt.Errorf("blockmgr: strategy returned device index %d out of range [0,%d)", devIdx, len(m.devices))
		}
		dev := m.devices[devIdx]
		offsets := m.free[dev]
		if len(offsets) == 0 {
			// no space on the chosen device; spin.Wait models the brief
			// contention window while a sibling allocation elsewhere
			// frees space, then fail outright -- this manager does not
			// evict, unlike the scheduler.
			sw.Once()
			return fmt.Errorf("%w: device %d exhausted", ErrOutOfSpace, devIdx)
		}
		offset := offsets[len(offsets)-1]
		m.free[dev] = offsets[:len(offsets)-1]
		out[i] = bid.BID{Storage: dev, Offset: offset}
	}
	return nil
}

// DeleteBlock returns b's extent to its device's free list. Deleting an
// invalid BID is a no-op, per spec.md §4.1.
func (m *Manager) DeleteBlock(b bid.BID) {
	if !b.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[b.Storage] = append(m.free[b.Storage], b.Offset)
}

// DeleteBlocks returns every BID in bids. Idempotency is not promised: a
// BID freed twice will be double-counted in the free list, matching
// spec.md §4.1 (deletion idempotency is the caller's responsibility).
func (m *Manager) DeleteBlocks(bids []bid.BID) {
	for _, b := range bids {
		m.DeleteBlock(b)
	}
}

// Devices returns the storage handles this manager allocated.
func (m *Manager) Devices() []bid.StorageHandle {
	out := make([]bid.StorageHandle, len(m.devices))
	copy(out, m.devices)
	return out
}
