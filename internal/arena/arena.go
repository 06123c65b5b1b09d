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

// Package arena manages large virtual reservations carved into fixed-size
// segments.
//
// An arena commits only its own preamble up front; segment spans are
// committed when handed out and decommitted when returned, so an arena's
// resident size tracks its live segments. A process-wide registry routes
// segment allocation across arenas and recovers segments from raw
// addresses.
package arena

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/bitmap"
	"github.com/Fabbboy/tinyalloc/internal/bounded"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/debug"
	"github.com/Fabbboy/tinyalloc/internal/layout"
	"github.com/Fabbboy/tinyalloc/internal/mem"
	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

const (
	// SegmentShift is the log2 of every segment's span size.
	SegmentShift = 19
	// SegmentSize is the span size of every segment: 512 KiB.
	SegmentSize = 1 << SegmentShift

	// arenaCacheCap is the capacity of an arena's recently-freed segment
	// cache.
	arenaCacheCap = 8
)

// ErrInsufficient reports that an arena (or the registry) has no room for
// another segment, or was handed something it does not own.
var ErrInsufficient = errors.New("arena: insufficient space")

// Arena is a large reservation divided into segment-sized slots.
//
// The Arena header lives at the base of its own reservation, followed by the
// segment bitmap (bit set means segment exists) and the recently-freed
// cache; the page-aligned remainder is the user region segments are carved
// from. Arenas never move and live for the rest of the process.
type Arena struct {
	_ unsafe2.NoCopy

	mu     sync.Mutex
	region mem.Region
	bits   bitmap.Bitmap
	cache  bounded.Stack[uint32]
	user   []byte
	nseg   int
}

// New reserves size bytes and builds an arena in place at the base.
//
// Only the preamble is committed; segments commit their spans on demand.
func New(size int) (*Arena, error) {
	region, err := mem.NewRegion(size)
	if err != nil {
		return nil, err
	}
	data := region.Data()

	maxSeg := len(data) / SegmentSize
	if maxSeg == 0 {
		_ = region.Release()
		return nil, ErrInsufficient
	}
	words := bitmap.Words(maxSeg)

	hdr := layout.RoundUp(layout.Size[Arena](), layout.Align[uint64]())
	wordsOff := hdr
	cacheOff := wordsOff + words*8
	preamble := cacheOff + arenaCacheCap*4
	userOff := mem.PageRound(preamble)

	if userOff+SegmentSize > len(data) {
		_ = region.Release()
		return nil, ErrInsufficient
	}
	nseg := (len(data) - userOff) / SegmentSize

	if err := mem.Protect(data[:preamble], mem.Read|mem.Write); err != nil {
		_ = region.Release()
		return nil, err
	}

	base := unsafe.SliceData(data)
	a := unsafe2.Cast[Arena](base)
	a.region = region
	a.user = data[userOff:]
	a.nseg = nseg

	bits, err := bitmap.Zero(
		unsafe2.Slice(unsafe2.Cast[bitmap.Word](unsafe2.Add(base, wordsOff)), words),
		nseg,
	)
	if err != nil {
		_ = region.Release()
		return nil, err
	}
	a.bits = bits
	a.cache = bounded.Make(unsafe2.Cast[uint32](unsafe2.Add(base, cacheOff)), arenaCacheCap)

	a.log("new", "%d segments, user %v+%#x", nseg, unsafe2.AddrOf(unsafe.SliceData(a.user)), len(a.user))
	return a, nil
}

// Allocate commits a free segment span and constructs a segment for c in it.
func (a *Arena) Allocate(c *class.Class) (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for {
		i, ok := a.cache.Pop()
		if !ok {
			break
		}
		// Stale entries (slots the bitmap scan already reused) are dropped.
		if set, err := a.bits.Get(int(i)); err == nil && !set {
			idx = int(i)
			break
		}
	}
	if idx < 0 {
		i, ok := a.bits.FindFirstClear()
		if !ok {
			return nil, ErrInsufficient
		}
		idx = i
	}

	off := idx * SegmentSize
	if off+SegmentSize > len(a.user) {
		return nil, ErrInsufficient
	}
	span := a.user[off : off+SegmentSize]

	if err := a.region.Partial(span, mem.Read|mem.Write); err != nil {
		return nil, err
	}
	seg, err := NewSegment(c, span)
	if err != nil {
		_ = a.region.Partial(span, mem.None)
		return nil, err
	}

	_ = a.bits.Set(idx)
	a.log("allocate", "segment %d, class %d:%d", idx, c.Size, c.Align)
	return seg, nil
}

// Deallocate decommits a segment's span and frees its slot.
//
// The segment pointer must have come from this arena's Allocate.
func (a *Arena) Deallocate(seg *Segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	base := uintptr(unsafe.Pointer(seg))
	start := a.userStart()
	if base < start || base >= start+uintptr(len(a.user)) {
		return ErrInsufficient
	}
	off := int(base - start)
	if off%SegmentSize != 0 {
		return ErrInsufficient
	}
	idx := off / SegmentSize
	if idx >= a.nseg {
		return ErrInsufficient
	}
	if set, err := a.bits.Get(idx); err != nil || !set {
		return ErrInsufficient
	}

	if err := a.region.Partial(a.user[off:off+SegmentSize], mem.None); err != nil {
		return err
	}
	_ = a.cache.Push(uint32(idx))
	_ = a.bits.Clear(idx)
	a.log("deallocate", "segment %d", idx)
	return nil
}

// HasSpace reports whether another segment could be allocated.
func (a *Arena) HasSpace() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.Len() > 0 {
		return true
	}
	_, ok := a.bits.FindFirstClear()
	return ok
}

// Contains reports whether addr falls inside the arena's user region.
func (a *Arena) Contains(addr uintptr) bool {
	start := a.userStart()
	return addr >= start && addr < start+uintptr(len(a.user))
}

// Lookup recovers the live segment whose slot region holds addr, or nil.
func (a *Arena) Lookup(addr uintptr) *Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.userStart()
	if addr < start || addr >= start+uintptr(len(a.user)) {
		return nil
	}
	idx := int(addr-start) / SegmentSize
	if idx >= a.nseg {
		return nil
	}
	if set, err := a.bits.Get(idx); err != nil || !set {
		return nil
	}

	seg := unsafe2.Cast[Segment](unsafe2.Add(unsafe.SliceData(a.user), idx*SegmentSize))
	if !seg.Contains(unsafe.Pointer(unsafe2.Addr[byte](addr).AssertValid())) {
		return nil
	}
	return seg
}

// Segments returns the number of live segments.
func (a *Arena) Segments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bits.CountSet()
}

// UserStart returns the address of the arena's user region.
func (a *Arena) UserStart() uintptr {
	return a.userStart()
}

// UserLen returns the size of the arena's user region.
func (a *Arena) UserLen() int {
	return len(a.user)
}

func (a *Arena) userStart() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(a.user)))
}

func (a *Arena) log(op, format string, args ...any) {
	if debug.Enabled {
		debug.Log([]any{"arena %p", a}, op, format, args...)
	}
}
