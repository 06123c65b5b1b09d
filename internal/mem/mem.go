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

// Package mem talks to the operating system's virtual memory subsystem.
//
// Reservations are made with no access; committing memory is expressed as
// granting Read|Write protection, and decommitting tells the OS the pages
// are unneeded and drops protection again. The allocator above never
// distinguishes commit-on-touch from explicit-commit systems.
package mem

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"

	"github.com/Fabbboy/tinyalloc/internal/layout"
	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

// Prot is a set of page protections.
type Prot uint8

const (
	Read Prot = 1 << iota
	Write

	// None makes the range inaccessible.
	None Prot = 0
)

var (
	ErrOutOfMemory    = errors.New("out of memory")
	ErrProtectFailed  = errors.New("protect failed")
	ErrDecommitFailed = errors.New("decommit failed")
)

var pageSize = unix.Getpagesize()

// PageSize returns the OS page size.
func PageSize() int {
	return pageSize
}

// CacheLineSize returns the size of a cache line on this architecture.
func CacheLineSize() int {
	return int(unsafe.Sizeof(cpu.CacheLinePad{}))
}

// PageRound rounds n up to a whole number of pages.
func PageRound(n int) int {
	return layout.RoundUp(n, pageSize)
}

// pageSpan expands b outward to whole page bounds.
func pageSpan(b []byte) []byte {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	end := start + uintptr(len(b))

	alignedStart := start &^ uintptr(pageSize-1)
	alignedEnd := (end + uintptr(pageSize-1)) &^ uintptr(pageSize-1)

	p := unsafe2.Addr[byte](alignedStart).AssertValid()
	return unsafe2.Slice(p, int(alignedEnd-alignedStart))
}

// Reserve maps size bytes of inaccessible virtual address space.
//
// size is rounded up to a whole number of pages. The returned slice must be
// passed back to [Release] unmodified.
func Reserve(size int) ([]byte, error) {
	data, err := unix.Mmap(
		-1, 0,
		PageRound(size),
		unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANON|extraMapFlags,
	)
	if err != nil {
		return nil, fmt.Errorf("tinyalloc: mmap of %d bytes: %w: %v", size, ErrOutOfMemory, err)
	}
	return data, nil
}

// Release unmaps a reservation made by [Reserve].
func Release(b []byte) error {
	return unix.Munmap(b)
}

// Protect sets the protection for every page overlapping b.
func Protect(b []byte, p Prot) error {
	prot := unix.PROT_NONE
	if p&Read != 0 {
		prot |= unix.PROT_READ
	}
	if p&Write != 0 {
		prot |= unix.PROT_WRITE
	}

	if err := unix.Mprotect(pageSpan(b), prot); err != nil {
		return fmt.Errorf("tinyalloc: mprotect: %w: %v", ErrProtectFailed, err)
	}
	return nil
}

// Decommit tells the OS the pages overlapping b are unneeded; their contents
// may be dropped on the floor. The range is left inaccessible.
func Decommit(b []byte) error {
	span := pageSpan(b)
	if err := unix.Madvise(span, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("tinyalloc: madvise: %w: %v", ErrDecommitFailed, err)
	}
	if err := unix.Mprotect(span, unix.PROT_NONE); err != nil {
		return fmt.Errorf("tinyalloc: mprotect: %w: %v", ErrDecommitFailed, err)
	}
	return nil
}
