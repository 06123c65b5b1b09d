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

package list_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabbboy/tinyalloc/internal/list"
)

type elem struct {
	id   int
	link list.Link[*elem]
}

func (e *elem) ListLink() *list.Link[*elem] { return &e.link }

func TestPushPop(t *testing.T) {
	t.Parallel()

	var l list.List[*elem]
	assert.True(t, l.Empty())

	a, b, c := &elem{id: 1}, &elem{id: 2}, &elem{id: 3}
	l.Push(a)
	l.Push(b)
	l.Push(c)
	assert.Equal(t, 3, l.Len())

	// Pop is LIFO with respect to Push.
	v, ok := l.Pop()
	require.True(t, ok)
	assert.Same(t, c, v)

	v, ok = l.PopFront()
	require.True(t, ok)
	assert.Same(t, a, v)

	v, ok = l.Pop()
	require.True(t, ok)
	assert.Same(t, b, v)

	_, ok = l.Pop()
	assert.False(t, ok)
	assert.True(t, l.Empty())
}

func TestRemove(t *testing.T) {
	t.Parallel()

	var l, other list.List[*elem]
	a, b, c := &elem{id: 1}, &elem{id: 2}, &elem{id: 3}
	l.Push(a)
	l.Push(b)
	l.Push(c)

	assert.True(t, l.Contains(b))
	assert.False(t, other.Contains(b))

	// Membership is checked against the owning list.
	assert.False(t, other.Remove(b))
	assert.True(t, l.Remove(b))
	assert.False(t, l.Remove(b))
	assert.Equal(t, 2, l.Len())

	// b can now join another list.
	other.Push(b)
	assert.True(t, other.Contains(b))

	v, ok := l.PopFront()
	require.True(t, ok)
	assert.Same(t, a, v)
	v, ok = l.PopFront()
	require.True(t, ok)
	assert.Same(t, c, v)
}

func TestDrain(t *testing.T) {
	t.Parallel()

	var l list.List[*elem]
	for i := range 5 {
		l.Push(&elem{id: i})
	}

	var got []int
	for e := range l.Drain() {
		got = append(got, e.id)
		assert.False(t, l.Contains(e))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.True(t, l.Empty())
}

func TestDrainEarlyStop(t *testing.T) {
	t.Parallel()

	var l list.List[*elem]
	for i := range 4 {
		l.Push(&elem{id: i})
	}

	for e := range l.Drain() {
		if e.id == 1 {
			break
		}
	}
	assert.Equal(t, 2, l.Len())
}
