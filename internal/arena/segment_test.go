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

// span commits a page-aligned segment-sized span for tests.
func span(t *testing.T) []byte {
	t.Helper()
	r, err := mem.NewRegion(arena.SegmentSize)
	require.NoError(t, err)
	require.NoError(t, r.Activate())
	t.Cleanup(func() { _ = r.Release() })
	return r.Data()
}

func classOf(t *testing.T, size int) *class.Class {
	t.Helper()
	c, ok := class.Find(size, 1)
	require.True(t, ok)
	return c
}

func TestSegmentConstruction(t *testing.T) {
	t.Parallel()

	c := classOf(t, 64)
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	assert.Same(t, c, seg.Class())
	assert.GreaterOrEqual(t, seg.Slots(), 1)
	assert.True(t, seg.IsEmpty())
	assert.False(t, seg.IsFull())
	assert.Equal(t, arena.PosFree, seg.Pos())

	// Too small a span for even one slot.
	_, err = arena.NewSegment(c, span(t)[:128])
	assert.ErrorIs(t, err, arena.ErrInsufficient)
}

func TestSegmentAllocAligned(t *testing.T) {
	t.Parallel()

	c := classOf(t, 64)
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	seen := map[unsafe.Pointer]bool{}
	for range 100 {
		p, ok := seg.Alloc()
		require.True(t, ok)
		assert.Zero(t, uintptr(p)%uintptr(c.Align))
		assert.True(t, seg.Contains(p))
		assert.False(t, seen[p], "slot handed out twice")
		seen[p] = true
	}
	assert.Equal(t, 100, seg.Used())
}

func TestSegmentFreeReuseLIFO(t *testing.T) {
	t.Parallel()

	c := classOf(t, 64)
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	p, ok := seg.Alloc()
	require.True(t, ok)
	require.True(t, seg.Dealloc(p))

	// The recently freed slot comes back first.
	q, ok := seg.Alloc()
	require.True(t, ok)
	assert.Equal(t, p, q)
}

func TestSegmentDeallocRejects(t *testing.T) {
	t.Parallel()

	c := classOf(t, 64)
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	p, ok := seg.Alloc()
	require.True(t, ok)

	// Misaligned interior pointer.
	assert.False(t, seg.Dealloc(unsafe.Add(p, 1)))
	// Foreign pointer.
	var local byte
	assert.False(t, seg.Dealloc(unsafe.Pointer(&local)))

	require.True(t, seg.Dealloc(p))
	// Double free.
	assert.False(t, seg.Dealloc(p))
	assert.True(t, seg.IsEmpty())
}

func TestSegmentFull(t *testing.T) {
	t.Parallel()

	// The largest class keeps slot counts small.
	c := class.Largest()
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	var last unsafe.Pointer
	for range seg.Slots() {
		p, ok := seg.Alloc()
		require.True(t, ok)
		last = p
	}
	assert.True(t, seg.IsFull())

	_, ok := seg.Alloc()
	assert.False(t, ok)

	require.True(t, seg.Dealloc(last))
	assert.False(t, seg.IsFull())
	p, ok := seg.Alloc()
	require.True(t, ok)
	assert.Equal(t, last, p)
}

func TestSegmentCountMatchesOutstanding(t *testing.T) {
	t.Parallel()

	c := classOf(t, 128)
	seg, err := arena.NewSegment(c, span(t))
	require.NoError(t, err)

	var ptrs []unsafe.Pointer
	for range 64 {
		p, ok := seg.Alloc()
		require.True(t, ok)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs[:32] {
		require.True(t, seg.Dealloc(p))
	}
	assert.Equal(t, 32, seg.Used())
}
