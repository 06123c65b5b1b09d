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
	"math"
	"unsafe"

	"github.com/Fabbboy/tinyalloc/internal/layout"
	"github.com/Fabbboy/tinyalloc/internal/list"
	"github.com/Fabbboy/tinyalloc/internal/mem"
	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

// Large is a dedicated mapping for one allocation above the largest size
// class.
//
// The header sits at the page-aligned base of the mapping; the user bytes
// begin at the next cache-line boundary. Given a user pointer, the header is
// recovered by rounding the address down to a page.
type Large struct {
	region mem.Region
	user   unsafe2.Addr[byte]
	len    int
	link   list.Link[*Large]
	owner  *Heap
}

// NewLarge maps a fresh region big enough for size user bytes.
func NewLarge(size int) (*Large, error) {
	hdr := layout.RoundUp(layout.Size[Large](), mem.CacheLineSize())
	if size <= 0 || size > math.MaxInt-hdr {
		return nil, ErrInvalidSize
	}

	region, err := mem.NewRegion(hdr + size)
	if err != nil {
		return nil, err
	}
	if err := region.Activate(); err != nil {
		_ = region.Release()
		return nil, err
	}

	base := unsafe.SliceData(region.Data())
	l := unsafe2.Cast[Large](base)
	l.region = region
	l.user = unsafe2.AddrOf(base).Add(hdr)
	l.len = size
	l.link = list.Link[*Large]{}
	l.owner = nil
	return l, nil
}

// ListLink implements [list.Node].
func (l *Large) ListLink() *list.Link[*Large] { return &l.link }

// User returns the user pointer.
func (l *Large) User() unsafe.Pointer {
	return unsafe.Pointer(l.user.AssertValid())
}

// Len returns the user byte count.
func (l *Large) Len() int { return l.len }

// Owner returns the heap whose large list holds this object.
func (l *Large) Owner() *Heap { return l.owner }

// Contains reports whether p points into the user bytes.
func (l *Large) Contains(p unsafe.Pointer) bool {
	addr := uintptr(p)
	return addr >= uintptr(l.user) && addr < uintptr(l.user)+uintptr(l.len)
}

// LargeFromPtr recovers a large object from its user pointer by probing the
// page-aligned header, or nil when the probe does not check out.
//
// p must be a pointer previously returned by [NewLarge]'s User, or at least
// point into mapped memory; the probe reads the candidate header.
func LargeFromPtr(p unsafe.Pointer) *Large {
	base := uintptr(p) &^ uintptr(mem.PageSize()-1)
	if base == 0 {
		return nil
	}
	l := unsafe2.Addr[Large](base).AssertValid()
	if !l.Contains(p) {
		return nil
	}
	return l
}

// release unmaps the region. The header dies with it.
func (l *Large) release() error {
	region := l.region
	return region.Release()
}
