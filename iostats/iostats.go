// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iostats implements the process-wide I/O statistics surface
// described in spec.md §6: per-device read/write counters plus
// process-wide parallel-I/O and wait-time aggregation, and a scoped timer
// for measuring deltas between two snapshots.
package iostats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/xmem/bid"
)

// DeviceStats is a snapshot of one device's counters.
type DeviceStats struct {
	Device     bid.StorageHandle
	Reads      uint64
	Writes     uint64
	ReadBytes  uint64
	WriteBytes uint64
	ReadTime   time.Duration
	WriteTime  time.Duration
}

// ProcessStats is a snapshot of the process-wide counters.
type ProcessStats struct {
	ParallelReadTime  time.Duration
	ParallelWriteTime time.Duration
	ParallelIOTime    time.Duration
	WaitTimeTotal     time.Duration
	WaitTimeRead      time.Duration
	WaitTimeWrite     time.Duration
	Elapsed           time.Duration
}

type deviceCounters struct {
	reads      atomic.Uint64
	writes     atomic.Uint64
	readBytes  atomic.Uint64
	writeBytes atomic.Uint64
	readTimeNs atomic.Int64
	writeTimeNs atomic.Int64
}

// Stats is the process-wide I/O statistics singleton (spec.md §9, "Global
// state": a single I/O-statistics instance; containers hold a pointer to it
// and never create it implicitly). Call Init once before using it and
// Shutdown when done; both are idempotent.
type Stats struct {
	mu      sync.RWMutex
	devices map[bid.StorageHandle]*deviceCounters
	start   time.Time
	running atomic.Bool

	parallelReadNs  atomic.Int64
	parallelWriteNs atomic.Int64
	waitTotalNs     atomic.Int64
	waitReadNs      atomic.Int64
	waitWriteNs     atomic.Int64
}

// New returns an uninitialized Stats instance. Call Init before use.
func New() *Stats {
	return &Stats{devices: make(map[bid.StorageHandle]*deviceCounters)}
}

// Init starts the elapsed-time clock. Calling Init on an already-running
// Stats is a no-op (idempotent per spec.md §7 "Retries and recovery").
func (s *Stats) Init() {
	if s.running.CompareAndSwap(false, true) {
		s.start = time.Now()
	}
}

// Shutdown marks s as no longer running, so that a later Init restarts the
// elapsed-time clock. Record* calls made after Shutdown still update the
// counters. Idempotent.
func (s *Stats) Shutdown() {
	s.running.Store(false)
}

func (s *Stats) counters(device bid.StorageHandle) *deviceCounters {
	s.mu.RLock()
	c, ok := s.devices[device]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.devices[device]; ok {
		return c
	}
	c = &deviceCounters{}
	s.devices[device] = c
	return c
}

// RecordRead records a completed read of n bytes from device taking d.
func (s *Stats) RecordRead(device bid.StorageHandle, n int, d time.Duration) {
	c := s.counters(device)
	c.reads.Add(1)
	c.readBytes.Add(uint64(n))
	c.readTimeNs.Add(int64(d))
	s.parallelReadNs.Add(int64(d))
}

// RecordWrite records a completed write of n bytes to device taking d.
func (s *Stats) RecordWrite(device bid.StorageHandle, n int, d time.Duration) {
	c := s.counters(device)
	c.writes.Add(1)
	c.writeBytes.Add(uint64(n))
	c.writeTimeNs.Add(int64(d))
	s.parallelWriteNs.Add(int64(d))
}

// RecordWait records time spent inside a Wait call, split by whether it was
// waiting on a read or a write.
func (s *Stats) RecordWait(isRead bool, d time.Duration) {
	s.waitTotalNs.Add(int64(d))
	if isRead {
		s.waitReadNs.Add(int64(d))
	} else {
		s.waitWriteNs.Add(int64(d))
	}
}

// Device returns a snapshot of one device's counters.
func (s *Stats) Device(device bid.StorageHandle) DeviceStats {
	c := s.counters(device)
	return DeviceStats{
		Device:     device,
		Reads:      c.reads.Load(),
		Writes:     c.writes.Load(),
		ReadBytes:  c.readBytes.Load(),
		WriteBytes: c.writeBytes.Load(),
		ReadTime:   time.Duration(c.readTimeNs.Load()),
		WriteTime:  time.Duration(c.writeTimeNs.Load()),
	}
}

// Devices returns a snapshot of every device seen so far.
func (s *Stats) Devices() []DeviceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceStats, 0, len(s.devices))
	for h, c := range s.devices {
		out = append(out, DeviceStats{
			Device:     h,
			Reads:      c.reads.Load(),
			Writes:     c.writes.Load(),
			ReadBytes:  c.readBytes.Load(),
			WriteBytes: c.writeBytes.Load(),
			ReadTime:   time.Duration(c.readTimeNs.Load()),
			WriteTime:  time.Duration(c.writeTimeNs.Load()),
		})
	}
	return out
}

// Process returns a snapshot of the process-wide counters.
func (s *Stats) Process() ProcessStats {
	var elapsed time.Duration
	if !s.start.IsZero() {
		elapsed = time.Since(s.start)
	}
	readNs := s.parallelReadNs.Load()
	writeNs := s.parallelWriteNs.Load()
	return ProcessStats{
		ParallelReadTime:  time.Duration(readNs),
		ParallelWriteTime: time.Duration(writeNs),
		ParallelIOTime:    time.Duration(readNs + writeNs),
		WaitTimeTotal:     time.Duration(s.waitTotalNs.Load()),
		WaitTimeRead:      time.Duration(s.waitReadNs.Load()),
		WaitTimeWrite:     time.Duration(s.waitWriteNs.Load()),
		Elapsed:           elapsed,
	}
}

// Delta is the element-wise difference between two ProcessStats snapshots,
// used by ScopedTimer to report the work done during a bracketed region.
type Delta struct {
	ProcessStats
	Devices []DeviceStats
}

// Sub computes b - a for two ProcessStats snapshots.
func (b ProcessStats) Sub(a ProcessStats) ProcessStats {
	return ProcessStats{
		ParallelReadTime:  b.ParallelReadTime - a.ParallelReadTime,
		ParallelWriteTime: b.ParallelWriteTime - a.ParallelWriteTime,
		ParallelIOTime:    b.ParallelIOTime - a.ParallelIOTime,
		WaitTimeTotal:     b.WaitTimeTotal - a.WaitTimeTotal,
		WaitTimeRead:      b.WaitTimeRead - a.WaitTimeRead,
		WaitTimeWrite:     b.WaitTimeWrite - a.WaitTimeWrite,
		Elapsed:           b.Elapsed - a.Elapsed,
	}
}

// SubDevices computes the element-wise difference between two device
// snapshot slices, matched by Device handle. A device present in b but not
// a (or vice versa) raises an error, per spec.md §6 "a device-count
// mismatch raising an error".
func SubDevices(b, a []DeviceStats) ([]DeviceStats, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("iostats: device-count mismatch: %d vs %d", len(a), len(b))
	}
	byDevice := make(map[bid.StorageHandle]DeviceStats, len(a))
	for _, d := range a {
		byDevice[d.Device] = d
	}
	out := make([]DeviceStats, 0, len(b))
	for _, d := range b {
		prev, ok := byDevice[d.Device]
		if !ok {
			return nil, fmt.Errorf("iostats: device %v missing from earlier snapshot", d.Device)
		}
		out = append(out, DeviceStats{
			Device:     d.Device,
			Reads:      d.Reads - prev.Reads,
			Writes:     d.Writes - prev.Writes,
			ReadBytes:  d.ReadBytes - prev.ReadBytes,
			WriteBytes: d.WriteBytes - prev.WriteBytes,
			ReadTime:   d.ReadTime - prev.ReadTime,
			WriteTime:  d.WriteTime - prev.WriteTime,
		})
	}
	return out, nil
}

// ScopedTimer captures a Stats snapshot at creation and computes the delta
// against a later snapshot when Delta is called, per spec.md §6.
type ScopedTimer struct {
	stats   *Stats
	process ProcessStats
	devices []DeviceStats
}

// NewScopedTimer starts a scoped measurement against s.
func NewScopedTimer(s *Stats) *ScopedTimer {
	return &ScopedTimer{stats: s, process: s.Process(), devices: s.Devices()}
}

// Delta returns the work done (process-wide and per-device) since the timer
// was created.
func (t *ScopedTimer) Delta() (Delta, error) {
	devices, err := SubDevices(t.stats.Devices(), t.devices)
	if err != nil {
		return Delta{}, err
	}
	return Delta{
		ProcessStats: t.stats.Process().Sub(t.process),
		Devices:      devices,
	}, nil
}
