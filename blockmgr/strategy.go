// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockmgr

import (
	"math/rand"

	"code.hybscloud.com/xmem/bid"
)

// Strategy selects which configured device receives the i-th block of a
// contiguous allocation batch (spec.md §4.1). Implementations must be safe
// for concurrent use only via the synchronization the BlockManager already
// provides around allocation; Strategy.Device itself need not be
// goroutine-safe on its own.
type Strategy interface {
	// Device returns the device index (into the manager's configured
	// device list) that should receive the i-th block, where i is the
	// manager's monotone allocation counter.
	Device(i uint64) int
}

// Striping assigns the i-th block to device i % ndisks, matching
// original_source's striping allocation strategy (SPEC_FULL.md §4).
type Striping struct {
	NDisks int
}

func (s Striping) Device(i uint64) int {
	return int(i % uint64(s.NDisks))
}

// FullyRandom picks a uniformly random device for every block
// independently.
type FullyRandom struct {
	NDisks int
	rng    *rand.Rand
}

// NewFullyRandom returns a FullyRandom strategy seeded from seed.
func NewFullyRandom(ndisks int, seed int64) *FullyRandom {
	return &FullyRandom{NDisks: ndisks, rng: rand.New(rand.NewSource(seed))}
}

func (s *FullyRandom) Device(i uint64) int {
	return s.rng.Intn(s.NDisks)
}

// SimpleRandom fixes one random permutation of devices at construction and
// reuses it for every allocation, so repeated calls with the same counter
// value always land on the same device.
type SimpleRandom struct {
	perm []int
}

// NewSimpleRandom builds a SimpleRandom strategy over ndisks devices with a
// permutation derived from seed.
func NewSimpleRandom(ndisks int, seed int64) *SimpleRandom {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(ndisks)
	return &SimpleRandom{perm: perm}
}

func (s *SimpleRandom) Device(i uint64) int {
	return s.perm[int(i)%len(s.perm)]
}

// RandomCyclic reshuffles its device permutation every ndisks calls,
// cycling through all devices exactly once per period while varying the
// order between periods.
type RandomCyclic struct {
	ndisks int
	rng    *rand.Rand
	perm   []int
}

// NewRandomCyclic builds a RandomCyclic strategy over ndisks devices.
func NewRandomCyclic(ndisks int, seed int64) *RandomCyclic {
	rng := rand.New(rand.NewSource(seed))
	return &RandomCyclic{ndisks: ndisks, rng: rng, perm: rng.Perm(ndisks)}
}

func (s *RandomCyclic) Device(i uint64) int {
	period := i / uint64(s.ndisks)
	offset := i % uint64(s.ndisks)
	if offset == 0 && period > 0 {
		s.perm = s.rng.Perm(s.ndisks)
	}
	return s.perm[offset]
}

// deviceHandles maps a device index (as returned by a Strategy) to the
// bid.StorageHandle backing it.
type deviceHandles []bid.StorageHandle
