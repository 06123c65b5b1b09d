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

package tinyalloc

import (
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/arena"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/heap"
)

// Alloc returns size bytes aligned to align from the calling goroutine's
// heap. The same size and align must be passed to [Dealloc].
func Alloc(size, align int) (unsafe.Pointer, error) {
	h, release := acquireHeap()
	defer release()
	return h.Allocate(size, align)
}

// Dealloc returns an allocation made by [Alloc].
//
// The owning heap is decoded from the pointer itself: the segment registry
// for small allocations, the page-aligned header probe for large ones. A
// free on a non-owning goroutine is delivered through the owner's
// remote-free list and never blocks the owner.
func Dealloc(p unsafe.Pointer, size, align int) error {
	if p == nil {
		return ErrInvalidPointer
	}
	if size <= 0 {
		return ErrInvalidSize
	}

	owner, err := ownerOf(p, size)
	if err != nil {
		return err
	}

	h, release := acquireHeap()
	if owner == h {
		err := owner.Deallocate(p, size, align)
		release()
		return err
	}
	release()

	owner.RemoteFree(p, size, align)
	return nil
}

// ownerOf resolves which heap owns p.
func ownerOf(p unsafe.Pointer, size int) (*heap.Heap, error) {
	if size > class.Largest().Size {
		l := heap.LargeFromPtr(p)
		if l == nil || l.Owner() == nil {
			return nil, ErrInvalidPointer
		}
		return l.Owner(), nil
	}

	seg := arena.SegmentFromPtr(p)
	if seg == nil || seg.Owner() == nil {
		return nil, ErrInvalidPointer
	}
	return (*heap.Heap)(seg.Owner()), nil
}
