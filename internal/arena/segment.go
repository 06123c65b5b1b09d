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
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/bitmap"
	"github.com/Fabbboy/tinyalloc/internal/bounded"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/debug"
	"github.com/Fabbboy/tinyalloc/internal/layout"
	"github.com/Fabbboy/tinyalloc/internal/list"
	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

// segCacheCap is the capacity of a segment's recently-freed slot cache.
const segCacheCap = 12

// Position records which of its queue's lists a segment is in.
type Position uint8

const (
	PosFree Position = iota
	PosPartial
	PosFull
)

// Segment is a fixed-size span serving slots of a single size class.
//
// The Segment header lives at the base of its span, inside the owning
// arena's reservation, followed by the slot bitmap (bit set means slot in
// use), the recently-freed cache, and the slots themselves. A segment is
// only ever touched by the queue that owns it, or by its arena during
// eviction; no synchronization happens here.
type Segment struct {
	class *class.Class
	link  list.Link[*Segment]
	pos   Position

	// The heap whose queue owns this segment. Opaque here; the heap layer
	// stores and recovers it.
	owner unsafe.Pointer

	bits  bitmap.Bitmap
	cache bounded.Stack[uint32]

	slots  unsafe2.Addr[byte]
	nslots int
	span   []byte
}

// NewSegment constructs a segment for c in place at the base of span.
//
// Fails with [ErrInsufficient] when the span cannot hold at least one slot
// after the preamble.
func NewSegment(c *class.Class, span []byte) (*Segment, error) {
	maxSlots := len(span) / c.Size
	if maxSlots == 0 {
		return nil, ErrInsufficient
	}
	words := bitmap.Words(maxSlots)

	hdr := layout.RoundUp(layout.Size[Segment](), layout.Align[uint64]())
	wordsOff := hdr
	cacheOff := wordsOff + words*8

	// The first slot is aligned as an address, not as an offset, so spans
	// whose base is only word-aligned still produce aligned slots.
	base := unsafe.SliceData(span)
	baseAddr := int(uintptr(unsafe.Pointer(base)))
	slotOff := layout.RoundUp(baseAddr+cacheOff+segCacheCap*4, c.Align) - baseAddr

	if slotOff >= len(span) {
		return nil, ErrInsufficient
	}
	nslots := (len(span) - slotOff) / c.Size
	if nslots < 1 {
		return nil, ErrInsufficient
	}

	seg := unsafe2.Cast[Segment](base)
	seg.class = c
	seg.link = list.Link[*Segment]{}
	seg.pos = PosFree
	seg.owner = nil
	seg.slots = unsafe2.AddrOf(base).Add(slotOff)
	seg.nslots = nslots
	seg.span = span

	bits, err := bitmap.Zero(
		unsafe2.Slice(unsafe2.Cast[bitmap.Word](unsafe2.Add(base, wordsOff)), words),
		nslots,
	)
	if err != nil {
		return nil, err
	}
	seg.bits = bits
	seg.cache = bounded.Make(unsafe2.Cast[uint32](unsafe2.Add(base, cacheOff)), segCacheCap)

	debug.Assert(uintptr(seg.slots)%uintptr(c.Align) == 0, "misaligned slot base %v", seg.slots)
	return seg, nil
}

// ListLink implements [list.Node].
func (s *Segment) ListLink() *list.Link[*Segment] { return &s.link }

// Class returns the size class this segment serves.
func (s *Segment) Class() *class.Class { return s.class }

// Pos returns the queue position recorded by the owning queue.
func (s *Segment) Pos() Position { return s.pos }

// SetPos records the queue position.
func (s *Segment) SetPos(p Position) { s.pos = p }

// Owner returns the opaque owner set by the heap layer.
func (s *Segment) Owner() unsafe.Pointer { return s.owner }

// SetOwner records the opaque owner.
func (s *Segment) SetOwner(p unsafe.Pointer) { s.owner = p }

// Slots returns the number of slots this segment holds.
func (s *Segment) Slots() int { return s.nslots }

// Used returns the number of slots currently allocated.
func (s *Segment) Used() int { return s.bits.CountSet() }

// Span returns the segment's whole byte span, header included.
func (s *Segment) Span() []byte { return s.span }

// Alloc takes a free slot, preferring recently freed ones.
//
// Returns false when the segment is full.
func (s *Segment) Alloc() (unsafe.Pointer, bool) {
	for {
		idx, ok := s.cache.Pop()
		if !ok {
			break
		}
		// The bitmap scan may have handed a cached slot out already; such
		// stale entries are dropped.
		if set, err := s.bits.Get(int(idx)); err != nil || set {
			continue
		}
		_ = s.bits.Set(int(idx))
		return s.slot(int(idx)), true
	}

	idx, ok := s.bits.FindFirstClear()
	if !ok {
		return nil, false
	}
	_ = s.bits.Set(idx)
	return s.slot(idx), true
}

// Dealloc returns a slot. Reports false for pointers outside the slot
// region, misaligned pointers, and slots that are already free.
func (s *Segment) Dealloc(p unsafe.Pointer) bool {
	addr := uintptr(p)
	base := uintptr(s.slots)
	end := base + uintptr(s.nslots*s.class.Size)
	if addr < base || addr >= end {
		return false
	}
	off := int(addr - base)
	if off%s.class.Size != 0 {
		return false
	}

	idx := off / s.class.Size
	set, err := s.bits.Get(idx)
	if err != nil || !set {
		return false
	}

	// Best effort: a full cache just means the slot is found by scan later.
	_ = s.cache.Push(uint32(idx))
	_ = s.bits.Clear(idx)
	return true
}

// Contains reports whether p points into this segment's slot region.
func (s *Segment) Contains(p unsafe.Pointer) bool {
	addr := uintptr(p)
	base := uintptr(s.slots)
	return addr >= base && addr < base+uintptr(s.nslots*s.class.Size)
}

// IsFull reports whether every slot is allocated.
func (s *Segment) IsFull() bool {
	_, ok := s.bits.FindFirstClear()
	return !ok
}

// IsEmpty reports whether no slot is allocated.
func (s *Segment) IsEmpty() bool {
	_, ok := s.bits.FindFirstSet()
	return !ok
}

func (s *Segment) slot(i int) unsafe.Pointer {
	return unsafe.Pointer(s.slots.Add(i * s.class.Size).AssertValid())
}
