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

// Package bounded implements a fixed-capacity LIFO over caller-provided
// storage.
//
// Like a slice, a Stack does not own its backing memory; unlike a slice, it
// does not contain Go pointers, so it may itself be stored in raw mapped
// memory. It must be kept alive no longer than its storage.
package bounded

import (
	"errors"

	"github.com/Fabbboy/tinyalloc/internal/unsafe2"
)

var (
	ErrInsufficientCapacity = errors.New("bounded: stack is full")
	ErrOutOfBounds          = errors.New("bounded: index out of bounds")
)

// Stack is a fixed-capacity LIFO.
type Stack[T any] struct {
	ptr      unsafe2.Addr[T]
	len, cap uint32
}

// Make builds an empty stack over capacity elements at p.
func Make[T any](p *T, capacity int) Stack[T] {
	return Stack[T]{ptr: unsafe2.AddrOf(p), cap: uint32(capacity)}
}

// Len returns the number of live elements.
func (s *Stack[T]) Len() int {
	return int(s.len)
}

// Cap returns the stack's fixed capacity.
func (s *Stack[T]) Cap() int {
	return int(s.cap)
}

// Push appends v.
func (s *Stack[T]) Push(v T) error {
	if s.len == s.cap {
		return ErrInsufficientCapacity
	}
	unsafe2.Store(s.ptr.AssertValid(), s.len, v)
	s.len++
	return nil
}

// Pop removes and returns the most recently pushed element.
func (s *Stack[T]) Pop() (T, bool) {
	if s.len == 0 {
		var z T
		return z, false
	}
	s.len--
	return unsafe2.Load(s.ptr.AssertValid(), s.len), true
}

// Get returns the element at index i, bottom first.
func (s *Stack[T]) Get(i int) (T, error) {
	if uint32(i) >= s.len {
		var z T
		return z, ErrOutOfBounds
	}
	return unsafe2.Load(s.ptr.AssertValid(), i), nil
}
