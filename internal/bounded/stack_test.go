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

package bounded_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabbboy/tinyalloc/internal/bounded"
)

func TestPushPop(t *testing.T) {
	t.Parallel()

	var storage [4]uint32
	s := bounded.Make(&storage[0], len(storage))

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, s.Cap())

	_, ok := s.Pop()
	assert.False(t, ok)

	for i := range uint32(4) {
		require.NoError(t, s.Push(i))
	}
	assert.ErrorIs(t, s.Push(9), bounded.ErrInsufficientCapacity)
	assert.Equal(t, 4, s.Len())

	// LIFO order.
	for want := uint32(3); ; want-- {
		got, ok := s.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
		if want == 0 {
			break
		}
	}

	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestGet(t *testing.T) {
	t.Parallel()

	var storage [2]uint32
	s := bounded.Make(&storage[0], len(storage))

	require.NoError(t, s.Push(7))

	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)

	_, err = s.Get(1)
	assert.ErrorIs(t, err, bounded.ErrOutOfBounds)
	_, err = s.Get(-1)
	assert.ErrorIs(t, err, bounded.ErrOutOfBounds)
}
