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

package arena_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabbboy/tinyalloc/internal/arena"
	"github.com/Fabbboy/tinyalloc/internal/class"
	"github.com/Fabbboy/tinyalloc/internal/mem"
)

func TestArenaConstruction(t *testing.T) {
	t.Parallel()

	a, err := arena.New(8 * arena.SegmentSize)
	require.NoError(t, err)

	assert.True(t, a.HasSpace())
	assert.Equal(t, 0, a.Segments())
	assert.Zero(t, a.UserStart()%uintptr(mem.PageSize()))
	assert.GreaterOrEqual(t, a.UserLen(), arena.SegmentSize)
}

func TestArenaInsufficient(t *testing.T) {
	t.Parallel()

	_, err := arena.New(arena.SegmentSize / 2)
	assert.ErrorIs(t, err, arena.ErrInsufficient)
}

func TestArenaAllocateDeallocate(t *testing.T) {
	t.Parallel()

	a, err := arena.New(4 * arena.SegmentSize)
	require.NoError(t, err)

	c, ok := class.Find(64, 1)
	require.True(t, ok)

	seg, err := a.Allocate(c)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Segments())

	// The segment span is writable.
	p, ok := seg.Alloc()
	require.True(t, ok)
	*(*uint64)(p) = 0xFEEDFACE
	require.True(t, seg.Dealloc(p))

	require.NoError(t, a.Deallocate(seg))
	assert.Equal(t, 0, a.Segments())
	assert.True(t, a.HasSpace())
}

func TestArenaExhaustion(t *testing.T) {
	t.Parallel()

	a, err := arena.New(2 * arena.SegmentSize)
	require.NoError(t, err)

	c, ok := class.Find(64, 1)
	require.True(t, ok)

	// The preamble consumes part of the reservation, so fewer spans fit than
	// the raw division suggests.
	var segs []*arena.Segment
	for {
		seg, err := a.Allocate(c)
		if err != nil {
			assert.ErrorIs(t, err, arena.ErrInsufficient)
			break
		}
		segs = append(segs, seg)
	}
	require.NotEmpty(t, segs)
	assert.False(t, a.HasSpace())

	for _, seg := range segs {
		require.NoError(t, a.Deallocate(seg))
	}
	assert.True(t, a.HasSpace())
}

func TestArenaDeallocateRejects(t *testing.T) {
	t.Parallel()

	a, err := arena.New(4 * arena.SegmentSize)
	require.NoError(t, err)

	c, ok := class.Find(64, 1)
	require.True(t, ok)
	seg, err := a.Allocate(c)
	require.NoError(t, err)

	b, err := arena.New(4 * arena.SegmentSize)
	require.NoError(t, err)

	// A segment belongs to exactly one arena.
	assert.ErrorIs(t, b.Deallocate(seg), arena.ErrInsufficient)
	require.NoError(t, a.Deallocate(seg))
	// Double free of the slot index.
	assert.ErrorIs(t, a.Deallocate(seg), arena.ErrInsufficient)
}

func TestArenaSegmentReuse(t *testing.T) {
	t.Parallel()

	a, err := arena.New(8 * arena.SegmentSize)
	require.NoError(t, err)

	c, ok := class.Find(64, 1)
	require.True(t, ok)

	seg, err := a.Allocate(c)
	require.NoError(t, err)
	base := uintptr(unsafe.Pointer(seg))
	require.NoError(t, a.Deallocate(seg))

	// The recently freed slot is reused first.
	seg2, err := a.Allocate(c)
	require.NoError(t, err)
	assert.Equal(t, base, uintptr(unsafe.Pointer(seg2)))
	require.NoError(t, a.Deallocate(seg2))
}

func TestArenaLookup(t *testing.T) {
	t.Parallel()

	a, err := arena.New(4 * arena.SegmentSize)
	require.NoError(t, err)

	c, ok := class.Find(64, 1)
	require.True(t, ok)
	seg, err := a.Allocate(c)
	require.NoError(t, err)

	p, ok := seg.Alloc()
	require.True(t, ok)

	assert.Equal(t, seg, a.Lookup(uintptr(p)))
	// Header bytes are not slot bytes.
	assert.Nil(t, a.Lookup(uintptr(unsafe.Pointer(seg))))
	// Addresses outside the arena find nothing.
	var local byte
	assert.Nil(t, a.Lookup(uintptr(unsafe.Pointer(&local))))

	require.True(t, seg.Dealloc(p))
	require.NoError(t, a.Deallocate(seg))
	assert.Nil(t, a.Lookup(uintptr(p)))
}
