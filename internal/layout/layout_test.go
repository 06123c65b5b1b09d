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

package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Fabbboy/tinyalloc/internal/layout"
)

func TestAlign(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 8, layout.RoundUp(8, 8))
	assert.Equal(t, 16, layout.RoundUp(9, 8))
	assert.Equal(t, 16, layout.RoundUp(10, 8))
	assert.Equal(t, 16, layout.RoundUp(15, 8))
	assert.Equal(t, 16, layout.RoundUp(16, 8))

	assert.Equal(t, 0, layout.Padding(8, 8))
	assert.Equal(t, 7, layout.Padding(9, 8))
	assert.Equal(t, 1, layout.Padding(15, 8))
	assert.Equal(t, 0, layout.Padding(16, 8))

	assert.Equal(t, 8, layout.RoundDown(8, 8))
	assert.Equal(t, 8, layout.RoundDown(9, 8))
	assert.Equal(t, 8, layout.RoundDown(15, 8))
	assert.Equal(t, 16, layout.RoundDown(16, 8))
}

func TestIsPow2(t *testing.T) {
	t.Parallel()

	assert.True(t, layout.IsPow2(1))
	assert.True(t, layout.IsPow2(2))
	assert.True(t, layout.IsPow2(4096))
	assert.False(t, layout.IsPow2(0))
	assert.False(t, layout.IsPow2(3))
	assert.False(t, layout.IsPow2(-8))
}

func TestOf(t *testing.T) {
	t.Parallel()

	l := layout.Of[uint64]()
	assert.Equal(t, 8, l.Size)
	assert.Equal(t, 8, l.Align)

	m := l.Max(layout.Of[byte]())
	assert.Equal(t, l, m)
}
