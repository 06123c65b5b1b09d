// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heap implements the per-goroutine heap: one queue per size class,
// a list of large objects, and a remote-free list for memory handed back by
// other goroutines.
//
// A heap's owner allocates and frees without locks. Non-owners only ever
// touch the remote-free list, which the owner drains in bounded batches at
// allocation time using a try-lock, so the owner never blocks on remote
// traffic.
package heap

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/timandy/routine"

	"github.com/Fabbboy/tinyalloc/internal/arena"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/debug"
	"github.com/Fabbboy/tinyalloc/internal/list"
	"github.com/Fabbboy/tinyalloc/internal/mem"
)

var (
	ErrInvalidSize    = errors.New("heap: invalid size")
	ErrInvalidPointer = errors.New("heap: pointer not owned by allocator")
)

// Remote-drain policy. Tunables, not correctness constraints.
const (
	remoteBatchSize      = 32
	remoteCheckFrequency = 16
	remoteMaxBatch       = 64
)

// remoteFree is one allocation pending return from a non-owning goroutine.
type remoteFree struct {
	ptr         unsafe.Pointer
	size, align int
}

// Stats are operation counters. They are maintained without synchronization
// on the owner's path and are therefore approximate under concurrency.
type Stats struct {
	Allocs, Frees, RemoteFrees, RemoteDrains uint64
}

// Heap owns one queue per size class and a list of large objects.
type Heap struct {
	queues []Queue
	larges list.List[*Large]
	goid   int64
	ops    uint64

	remote struct {
		mu    sync.Mutex
		count atomic.Int32
		items []remoteFree
	}

	stats Stats
}

// registry keeps every heap alive for the process lifetime: segments point
// back at their owning heap from raw memory the GC never scans.
var registry struct {
	mu    sync.Mutex
	heaps []*Heap
}

// New builds a heap owned by the calling goroutine.
func New() *Heap {
	h := &Heap{goid: int64(routine.Goid())}
	h.queues = make([]Queue, len(class.Table))
	for i := range h.queues {
		h.queues[i].init(&class.Table[i], h)
	}

	registry.mu.Lock()
	registry.heaps = append(registry.heaps, h)
	registry.mu.Unlock()
	return h
}

// Goid returns the id of the goroutine that created the heap.
func (h *Heap) Goid() int64 { return h.goid }

// Allocate returns size bytes aligned to align.
//
// Requests above the largest size class get a dedicated mapping; alignment
// there is capped at the cache line.
func (h *Heap) Allocate(size, align int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if align < 1 {
		align = 1
	}

	h.ops++
	h.drainRemoteIfDue()

	if size > class.Largest().Size {
		if align > mem.CacheLineSize() {
			return nil, ErrInvalidSize
		}
		return h.allocLarge(size)
	}

	c, ok := class.Find(size, align)
	if !ok {
		return nil, ErrInvalidSize
	}
	p, err := h.queues[c.Index].Allocate()
	if err == nil {
		h.stats.Allocs++
	}
	return p, err
}

// Deallocate returns an allocation made with the same size and alignment.
func (h *Heap) Deallocate(p unsafe.Pointer, size, align int) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	h.ops++
	h.drainRemoteIfDue()
	return h.deallocate(p, size)
}

// RemoteFree hands an allocation owned by h back from a non-owning
// goroutine. It is picked up by one of the owner's periodic drains.
func (h *Heap) RemoteFree(p unsafe.Pointer, size, align int) {
	h.remote.mu.Lock()
	h.remote.items = append(h.remote.items, remoteFree{p, size, align})
	h.remote.count.Store(int32(len(h.remote.items)))
	h.stats.RemoteFrees++
	h.remote.mu.Unlock()
}

// RemotePending returns the number of queued remote frees.
func (h *Heap) RemotePending() int {
	return int(h.remote.count.Load())
}

// Segments returns the number of segments owned across all queues.
func (h *Heap) Segments() int {
	n := 0
	for i := range h.queues {
		free, partial, full := h.queues[i].Counts()
		n += free + partial + full
	}
	return n
}

// Queue returns the queue serving class index i.
func (h *Heap) Queue(i int) *Queue {
	return &h.queues[i]
}

// Stats returns a copy of the heap's counters.
func (h *Heap) Stats() Stats {
	return h.stats
}

// Release drains the remote list and returns every owned segment and large
// object to the OS layer. The heap must not be used afterwards.
func (h *Heap) Release() error {
	h.remote.mu.Lock()
	items := h.remote.items
	h.remote.items = nil
	h.remote.count.Store(0)
	h.remote.mu.Unlock()

	var firstErr error
	for _, f := range items {
		if err := h.deallocate(f.ptr, f.size); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for l := range h.larges.Drain() {
		if err := l.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := range h.queues {
		if err := h.queues[i].release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *Heap) allocLarge(size int) (unsafe.Pointer, error) {
	l, err := NewLarge(size)
	if err != nil {
		return nil, err
	}
	l.owner = h
	h.larges.Push(l)
	h.stats.Allocs++
	return l.User(), nil
}

// deallocate is the routing core shared by Deallocate and the remote drain.
func (h *Heap) deallocate(p unsafe.Pointer, size int) error {
	if size > class.Largest().Size {
		l := LargeFromPtr(p)
		if l == nil || !h.larges.Remove(l) {
			return ErrInvalidPointer
		}
		h.stats.Frees++
		return l.release()
	}

	seg := arena.SegmentFromPtr(p)
	if seg == nil {
		return ErrInvalidPointer
	}
	debug.Assert(seg.Owner() == unsafe.Pointer(h), "segment routed to wrong heap")

	err := h.queues[seg.Class().Index].Deallocate(seg, p)
	if err == nil {
		h.stats.Frees++
	}
	return err
}

// drainRemoteIfDue processes a bounded batch of remote frees when the list
// has grown past the batch threshold, or on every check-frequency'th
// operation. The owner never blocks: a contended lock skips the drain.
func (h *Heap) drainRemoteIfDue() {
	n := int(h.remote.count.Load())
	if n == 0 {
		return
	}
	if n <= remoteBatchSize && h.ops%remoteCheckFrequency != 0 {
		return
	}
	if !h.remote.mu.TryLock() {
		return
	}

	var taken []remoteFree
	if len(h.remote.items) > remoteMaxBatch {
		keep := len(h.remote.items) - remoteMaxBatch
		taken = append(taken, h.remote.items[keep:]...)
		h.remote.items = h.remote.items[:keep]
	} else {
		taken = h.remote.items
		h.remote.items = nil
	}
	h.remote.count.Store(int32(len(h.remote.items)))
	h.remote.mu.Unlock()

	for _, f := range taken {
		_ = h.deallocate(f.ptr, f.size)
	}
	if len(taken) > 0 {
		h.stats.RemoteDrains++
	}
}
