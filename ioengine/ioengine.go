// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ioengine defines the block-I/O backend contract every other
// package in this module consumes. The filesystem-level disk backend (raw
// file access, direct I/O, Linux AIO) is explicitly out of scope (spec.md
// §1); ioengine only specifies the interface and ships an in-memory
// implementation used throughout this module's tests.
package ioengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/xmem/bid"
)

// ErrIO wraps any failure surfaced from Wait, per spec.md §7.
var ErrIO = errors.New("ioengine: i/o error")

// ErrUnknownStorage is returned when an operation names a StorageHandle the
// backend never allocated.
var ErrUnknownStorage = errors.New("ioengine: unknown storage handle")

// Request is a handle to an in-flight asynchronous read or write. Wait
// blocks the caller until the operation completes, matching spec.md §6.
type Request interface {
	// Wait blocks until the request completes and returns its result. Wait
	// is idempotent: calling it more than once returns the same outcome.
	Wait(ctx context.Context) error
}

// Backend is the block-I/O abstraction every container in this module is
// built against (spec.md §6). A concrete backend might be backed by Linux
// AIO, io_uring, or (as here) an in-memory map; none of that is visible
// above this interface.
type Backend interface {
	// Read issues an asynchronous read of len(buf) bytes starting at
	// offset on the given storage device into buf.
	Read(ctx context.Context, storage bid.StorageHandle, offset int64, buf []byte) (Request, error)
	// Write issues an asynchronous write of buf to offset on the given
	// storage device.
	Write(ctx context.Context, storage bid.StorageHandle, offset int64, buf []byte) (Request, error)
	// Wait blocks until req completes.
	Wait(ctx context.Context, req Request) error
	// AllocateStorage reserves space for n bytes on a (possibly new)
	// device and returns its handle. Real
	// backends tie this to device geometry; the in-memory backend just
	// grows a map entry.
	AllocateStorage(n int64) (bid.StorageHandle, error)
	// FreeStorage releases a device previously returned by
	// AllocateStorage. Freeing an unknown handle is a no-op.
	FreeStorage(storage bid.StorageHandle)
}

// memoryRequest is a synchronously-completed request: the in-memory backend
// has no real asynchrony, so Wait always returns the already-computed
// outcome. Real backends would park on a completion queue here.
type memoryRequest struct {
	err error
}

func (r *memoryRequest) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.err
}

// MemoryBackend is an in-memory Backend implementation used by every
// package's tests in place of a real disk. It is not part of the spec'd
// core (spec.md §1 treats the disk backend as an external collaborator);
// it exists solely to make the rest of this module's tests possible
// without a filesystem.
type MemoryBackend struct {
	mu      sync.Mutex
	next    bid.StorageHandle
	devices map[bid.StorageHandle][]byte
	failing map[bid.StorageHandle]bool
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		next:    bid.InvalidStorage + 1,
		devices: make(map[bid.StorageHandle][]byte),
		failing: make(map[bid.StorageHandle]bool),
	}
}

// AllocateStorage reserves an n-byte region and returns its handle.
func (m *MemoryBackend) AllocateStorage(n int64) (bid.StorageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.next
	m.next++
	m.devices[h] = make([]byte, n)
	return h, nil
}

// FreeStorage drops the backing buffer for storage.
func (m *MemoryBackend) FreeStorage(storage bid.StorageHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, storage)
	delete(m.failing, storage)
}

// FailStorage marks storage so every subsequent Read/Write against it
// fails; used by tests exercising PPQ/B-tree error propagation (spec.md
// §7).
func (m *MemoryBackend) FailStorage(storage bid.StorageHandle, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[storage] = fail
}

func (m *MemoryBackend) Read(ctx context.Context, storage bid.StorageHandle, offset int64, buf []byte) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[storage] {
		return &memoryRequest{err: fmt.Errorf("%w: storage %v read failed", ErrIO, storage)}, nil
	}
	dev, ok := m.devices[storage]
	if !ok {
		return nil, ErrUnknownStorage
	}
	if offset < 0 || offset+int64(len(buf)) > int64(len(dev)) {
		return nil, fmt.Errorf("%w: read out of range", ErrIO)
	}
	copy(buf, dev[offset:offset+int64(len(buf))])
	return &memoryRequest{}, nil
}

func (m *MemoryBackend) Write(ctx context.Context, storage bid.StorageHandle, offset int64, buf []byte) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[storage] {
		return &memoryRequest{err: fmt.Errorf("%w: storage %v write failed", ErrIO, storage)}, nil
	}
	dev, ok := m.devices[storage]
	if !ok {
		return nil, ErrUnknownStorage
	}
	if offset+int64(len(buf)) > int64(len(dev)) {
		grown := make([]byte, offset+int64(len(buf)))
		copy(grown, dev)
		dev = grown
		m.devices[storage] = dev
	}
	copy(dev[offset:], buf)
	return &memoryRequest{}, nil
}

func (m *MemoryBackend) Wait(ctx context.Context, req Request) error {
	return req.Wait(ctx)
}
