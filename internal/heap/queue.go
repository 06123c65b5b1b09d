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

package heap

import (
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/arena"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/debug"
	"github.com/Fabbboy/tinyalloc/internal/list"
)

// freeSegmentLimit bounds a queue's free list; empty segments beyond it go
// back to their arena. A policy tunable, not a correctness constraint.
const freeSegmentLimit = 12

// Queue tracks one size class's segments, partitioned by fill state.
//
// Every segment is in exactly one of the three lists, matching its recorded
// position: free (bitmap clear), partial, or full (bitmap set). A queue is
// owned by a single heap and takes no locks.
type Queue struct {
	class *class.Class
	owner *Heap

	free, partial, full list.List[*arena.Segment]
}

func (q *Queue) init(c *class.Class, h *Heap) {
	q.class = c
	q.owner = h
}

// Allocate returns a slot pointer, pulling in a fresh segment from the
// arenas when every owned segment is full.
func (q *Queue) Allocate() (unsafe.Pointer, error) {
	for {
		// Empty free segments before touching partial ones.
		seg, ok := q.free.Pop()
		if !ok {
			seg, ok = q.partial.Pop()
		}
		if !ok {
			fresh, err := arena.AllocateSegment(q.class)
			if err != nil {
				return nil, err
			}
			fresh.SetOwner(unsafe.Pointer(q.owner))
			fresh.SetPos(arena.PosFree)
			seg = fresh
		}

		p, ok := seg.Alloc()
		if !ok {
			// A full segment has no business on the free or partial list;
			// park it where it belongs and try again.
			q.full.Push(seg)
			seg.SetPos(arena.PosFull)
			continue
		}

		if seg.IsFull() {
			q.full.Push(seg)
			seg.SetPos(arena.PosFull)
		} else {
			q.partial.Push(seg)
			seg.SetPos(arena.PosPartial)
		}
		return p, nil
	}
}

// Deallocate returns the slot at p to seg and repositions seg, trimming it
// back to its arena when the free list is already at its bound.
func (q *Queue) Deallocate(seg *arena.Segment, p unsafe.Pointer) error {
	debug.Assert(seg.Owner() == unsafe.Pointer(q.owner), "segment freed through wrong heap")

	if !seg.Dealloc(p) {
		return ErrInvalidPointer
	}

	if seg.IsEmpty() {
		if q.free.Len() >= freeSegmentLimit {
			q.listFor(seg.Pos()).Remove(seg)
			return arena.DeallocateSegment(seg)
		}
		q.displace(seg, arena.PosFree)
		return nil
	}
	q.displace(seg, arena.PosPartial)
	return nil
}

// displace moves seg to the list for pos. Idempotent when it is already
// there.
func (q *Queue) displace(seg *arena.Segment, pos arena.Position) {
	if seg.Pos() == pos {
		return
	}
	q.listFor(seg.Pos()).Remove(seg)
	q.listFor(pos).Push(seg)
	seg.SetPos(pos)
}

func (q *Queue) listFor(pos arena.Position) *list.List[*arena.Segment] {
	switch pos {
	case arena.PosFree:
		return &q.free
	case arena.PosPartial:
		return &q.partial
	default:
		return &q.full
	}
}

// Counts returns the lengths of the free, partial and full lists.
func (q *Queue) Counts() (free, partial, full int) {
	return q.free.Len(), q.partial.Len(), q.full.Len()
}

// release hands every owned segment back to its arena.
func (q *Queue) release() error {
	var firstErr error
	for _, l := range []*list.List[*arena.Segment]{&q.free, &q.partial, &q.full} {
		for seg := range l.Drain() {
			if err := arena.DeallocateSegment(seg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
