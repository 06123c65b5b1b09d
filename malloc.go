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
	"math"
	"math/bits"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Fabbboy/tinyalloc/internal/layout"
	"github.com/Fabbboy/tinyalloc/internal/mem"
	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

// The C-contract layer. Every pointer it returns is preceded by a header
// and followed by a trailer, both canary-guarded, so free and realloc can
// recover the full layout from the pointer alone. The word immediately
// before the user pointer stores the header offset.

const (
	minAlign = 8

	headerCanary  uint32 = 0xDEADBEEF
	trailerCanary uint32 = 0xBEEFDEAD

	// Offsets are bounded by the worst-case alignment request; anything
	// bigger than this cannot have come from us.
	maxUserOffset = 1 << 24
)

// header sits at the base of every C-contract allocation.
type header struct {
	base    unsafe.Pointer
	canary  uint32
	size    uintptr // full allocation size handed to Alloc
	align   uintptr // alignment handed to Alloc
	uoffset uint32  // user pointer is base+uoffset
	ualign  uint32  // alignment the user asked for
}

// trailer closes every C-contract allocation, right past the usable bytes.
type trailer struct {
	canary  uint32
	uoffset uint32
}

var headerSize = layout.RoundUp(layout.Size[header](), minAlign)

const trailerSize = 8

// zeroSizeObj gives the zero-size sentinel a real, minAlign-aligned address,
// so the sentinel is a valid pointer wherever the runtime inspects it.
var zeroSizeObj uint64

// zeroSizePtr is the unique sentinel returned for zero-size requests. It is
// never dereferenced and is accepted by Free, Realloc and MallocUsableSize.
var zeroSizePtr = unsafe.Pointer(&zeroSizeObj)

// Malloc returns a pointer to n uninitialized bytes, or nil.
//
// Malloc(0) returns a unique non-nil sentinel that is legal to pass to
// [Free].
func Malloc(n int) unsafe.Pointer {
	return allocate(n, minAlign, false)
}

// Calloc returns zero-initialized memory for k elements of n bytes, or nil.
// Overflow of k*n returns nil.
func Calloc(k, n int) unsafe.Pointer {
	hi, total := bits.Mul64(uint64(k), uint64(n))
	if hi != 0 || total > math.MaxInt {
		return nil
	}
	return allocate(int(total), minAlign, true)
}

// Free releases a pointer returned by this layer. Free(nil) is a no-op;
// pointers that fail the canary check are silently ignored.
func Free(p unsafe.Pointer) {
	if p == nil || p == zeroSizePtr {
		return
	}
	h := headerFromUser(p)
	if h == nil {
		return
	}
	base, size, align := h.base, int(h.size), int(h.align)
	_ = Dealloc(base, size, align)
}

// Realloc resizes an allocation.
//
// Realloc(nil, n) behaves as Malloc(n); Realloc(p, 0) frees p and returns
// nil. When n fits the existing allocation the same pointer is returned;
// otherwise the live bytes move to a new allocation and p is freed.
func Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	if p == nil || p == zeroSizePtr {
		return Malloc(n)
	}
	if n == 0 {
		Free(p)
		return nil
	}

	h := headerFromUser(p)
	if h == nil {
		return nil
	}
	usable := usableSize(h)
	if n <= usable {
		return p
	}

	base, size, align := h.base, int(h.size), int(h.align)
	np := allocate(n, int(h.ualign), false)
	if np == nil {
		return nil
	}
	unsafe2.Copy((*byte)(np), (*byte)(p), usable)
	_ = Dealloc(base, size, align)
	return np
}

// AlignedAlloc returns n bytes aligned to align. align must be a power of
// two and n a multiple of align.
func AlignedAlloc(align, n int) unsafe.Pointer {
	if !layout.IsPow2(align) || n%align != 0 {
		return nil
	}
	return allocate(n, align, false)
}

// Memalign returns n bytes aligned to align. align must be a power of two.
func Memalign(align, n int) unsafe.Pointer {
	if !layout.IsPow2(align) {
		return nil
	}
	return allocate(n, align, false)
}

// PosixMemalign stores n bytes aligned to align at *out and returns 0.
// Returns EINVAL when align is not a power of two that is a multiple of the
// pointer size, ENOMEM on allocation failure.
func PosixMemalign(out *unsafe.Pointer, align, n int) int {
	if !layout.IsPow2(align) || align%unsafe2.PointerSize != 0 {
		return int(unix.EINVAL)
	}
	p := allocate(n, align, false)
	if p == nil {
		return int(unix.ENOMEM)
	}
	*out = p
	return 0
}

// Valloc returns n bytes aligned to the page size.
func Valloc(n int) unsafe.Pointer {
	return Memalign(mem.PageSize(), n)
}

// Pvalloc returns n bytes rounded up to a whole number of pages, aligned to
// the page size.
func Pvalloc(n int) unsafe.Pointer {
	return Memalign(mem.PageSize(), mem.PageRound(n))
}

// MallocUsableSize returns the number of usable bytes at p, or 0 for nil,
// the zero-size sentinel, and unrecognized pointers.
func MallocUsableSize(p unsafe.Pointer) int {
	if p == nil || p == zeroSizePtr {
		return 0
	}
	h := headerFromUser(p)
	if h == nil {
		return 0
	}
	return usableSize(h)
}

// allocate reserves header + user + trailer in one inner allocation and
// slides the user pointer to the first align-aligned offset past the
// header.
func allocate(size, align int, zero bool) unsafe.Pointer {
	if size == 0 {
		return zeroSizePtr
	}
	if size < 0 {
		return nil
	}
	ualign := max(align, minAlign)
	if ualign > maxUserOffset {
		return nil
	}

	total, ok := totalLayout(size, ualign)
	if !ok {
		return nil
	}

	base, err := Alloc(total, minAlign)
	if err != nil {
		return nil
	}
	baseAddr := uintptr(base)

	userAddr := (baseAddr + uintptr(headerSize+unsafe2.PointerSize) + uintptr(ualign-1)) &^ uintptr(ualign-1)
	uoff := int(userAddr - baseAddr)
	usable := total - uoff - trailerSize

	h := (*header)(base)
	h.base = base
	h.canary = headerCanary
	h.size = uintptr(total)
	h.align = minAlign
	h.uoffset = uint32(uoff)
	h.ualign = uint32(ualign)

	// The offset word free uses to find the header again.
	unsafe2.ByteStore((*byte)(base), uoff-unsafe2.PointerSize, uintptr(uoff))

	tr := (*trailer)(unsafe.Add(base, uoff+usable))
	tr.canary = trailerCanary
	tr.uoffset = uint32(uoff)

	p := unsafe.Pointer(unsafe2.Addr[byte](userAddr).AssertValid())
	if zero {
		unsafe2.Clear((*byte)(p), size)
	}
	return p
}

// totalLayout sizes the inner allocation for a user request, including the
// worst-case alignment slide.
func totalLayout(size, ualign int) (int, bool) {
	worst := headerSize + unsafe2.PointerSize
	if ualign > minAlign {
		worst += ualign - minAlign
	}
	if size > math.MaxInt-worst-trailerSize-minAlign {
		return 0, false
	}
	return layout.RoundUp(worst+size+trailerSize, minAlign), true
}

// headerFromUser walks back from a user pointer and validates both
// canaries. Returns nil for anything that does not check out.
func headerFromUser(p unsafe.Pointer) *header {
	off := unsafe2.ByteLoad[uintptr]((*byte)(p), -unsafe2.PointerSize)
	if off < uintptr(headerSize+unsafe2.PointerSize) || off > maxUserOffset {
		return nil
	}

	base := unsafe.Add(p, -int(off))
	h := (*header)(base)
	if h.canary != headerCanary || h.base != base || uintptr(h.uoffset) != off {
		return nil
	}

	usable := int(h.size) - int(off) - trailerSize
	if usable < 0 {
		return nil
	}
	tr := (*trailer)(unsafe.Add(p, usable))
	if tr.canary != trailerCanary || tr.uoffset != h.uoffset {
		return nil
	}
	return h
}

func usableSize(h *header) int {
	return int(h.size) - int(h.uoffset) - trailerSize
}
