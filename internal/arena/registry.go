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

package arena

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/class"
)

const (
	// RegistryLimit caps the number of arenas a process can create.
	RegistryLimit = 80

	// arenaInitialSize is the reservation size of the first arenas: 64 MiB.
	arenaInitialSize = 1 << 26
	// arenaMaxSize is the reservation-size ceiling: 1 GiB.
	arenaMaxSize = 1 << 30
	// The reservation size doubles every arenaGrowthStep arenas.
	arenaGrowthStep   = 4
	arenaGrowthFactor = 2
)

// static is the process-wide arena registry. It is grown on demand and never
// shrinks: arenas live until the process exits.
var static struct {
	mu       sync.RWMutex
	arenas   [RegistryLimit]atomic.Pointer[Arena]
	count    atomic.Int32
	nextSize atomic.Int64
}

// AllocateSegment finds or creates an arena with room and allocates a
// segment for c from it.
func AllocateSegment(c *class.Class) (*Segment, error) {
	static.mu.RLock()
	n := int(static.count.Load())
	for i := 0; i < n; i++ {
		a := static.arenas[i].Load()
		if a == nil || !a.HasSpace() {
			continue
		}
		if seg, err := a.Allocate(c); err == nil {
			static.mu.RUnlock()
			return seg, nil
		}
	}
	static.mu.RUnlock()

	static.mu.Lock()
	defer static.mu.Unlock()

	// Another goroutine may have registered an arena while we waited for the
	// write lock.
	for i := int(static.count.Load()) - 1; i >= n; i-- {
		a := static.arenas[i].Load()
		if a == nil || !a.HasSpace() {
			continue
		}
		if seg, err := a.Allocate(c); err == nil {
			return seg, nil
		}
	}

	a, err := createArena()
	if err != nil {
		return nil, err
	}
	return a.Allocate(c)
}

// DeallocateSegment returns seg to the arena that owns its address range.
func DeallocateSegment(seg *Segment) error {
	a := arenaOf(uintptr(unsafe.Pointer(seg)))
	if a == nil {
		return ErrInsufficient
	}
	return a.Deallocate(seg)
}

// SegmentFromPtr recovers the live segment whose slot region holds p, or
// nil if no arena owns p.
func SegmentFromPtr(p unsafe.Pointer) *Segment {
	a := arenaOf(uintptr(p))
	if a == nil {
		return nil
	}
	return a.Lookup(uintptr(p))
}

// Arenas returns the number of registered arenas.
func Arenas() int {
	return int(static.count.Load())
}

func arenaOf(addr uintptr) *Arena {
	static.mu.RLock()
	defer static.mu.RUnlock()
	for i := range int(static.count.Load()) {
		a := static.arenas[i].Load()
		if a != nil && a.Contains(addr) {
			return a
		}
	}
	return nil
}

// createArena is called with the registry write lock held.
func createArena() (*Arena, error) {
	n := int(static.count.Load())
	if n >= RegistryLimit {
		return nil, ErrInsufficient
	}

	size := static.nextSize.Load()
	if size == 0 {
		size = arenaInitialSize
	}

	a, err := New(int(size))
	if err != nil {
		return nil, err
	}
	static.arenas[n].Store(a)
	static.count.Store(int32(n + 1))

	next := size
	if (n+1)%arenaGrowthStep == 0 {
		next = min(size*arenaGrowthFactor, arenaMaxSize)
	}
	static.nextSize.Store(next)
	return a, nil
}
