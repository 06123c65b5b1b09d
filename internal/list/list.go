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

// Package list implements an intrusive doubly linked list.
//
// Elements embed a [Link] and hand it out via [Node.ListLink]; the list owns
// the chain but allocates nothing. Because the links live inside the
// elements, elements may live in raw mapped memory, and an element can
// belong to at most one list at a time. The link records its owning list,
// which makes membership checks O(1).
package list

import "iter"

// Node is a pointer type that embeds a [Link].
type Node[T any] interface {
	comparable
	ListLink() *Link[T]
}

// Link is the chain embedded in every list element.
//
// The zero Link is an unlinked element.
type Link[T any] struct {
	next, prev T

	// The owning list, or nil. Typed loosely so that Link does not have to
	// constrain T itself.
	list any
}

// List is an intrusive doubly linked list of T.
//
// The zero List is empty and ready to use.
type List[T Node[T]] struct {
	head, tail T
	len        int
}

// Len returns the number of linked elements.
func (l *List[T]) Len() int {
	return l.len
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return l.len == 0
}

// Contains reports whether v is currently linked into l.
func (l *List[T]) Contains(v T) bool {
	return v.ListLink().list == l
}

// Push appends v at the tail.
//
// v must not be in any list.
func (l *List[T]) Push(v T) {
	var zero T
	ln := v.ListLink()
	ln.list = l
	ln.prev = l.tail
	ln.next = zero

	if l.tail != zero {
		l.tail.ListLink().next = v
	} else {
		l.head = v
	}
	l.tail = v
	l.len++
}

// Pop removes and returns the tail element.
func (l *List[T]) Pop() (T, bool) {
	var zero T
	if l.tail == zero {
		return zero, false
	}
	v := l.tail
	l.unlink(v)
	return v, true
}

// PopFront removes and returns the head element.
func (l *List[T]) PopFront() (T, bool) {
	var zero T
	if l.head == zero {
		return zero, false
	}
	v := l.head
	l.unlink(v)
	return v, true
}

// Remove unlinks v. Returns false if v is not in l.
func (l *List[T]) Remove(v T) bool {
	if v.ListLink().list != l {
		return false
	}
	l.unlink(v)
	return true
}

// Drain iterates front to back, unlinking each element as it is yielded.
func (l *List[T]) Drain() iter.Seq[T] {
	return func(yield func(T) bool) {
		var zero T
		for {
			v := l.head
			if v == zero {
				return
			}
			l.unlink(v)
			if !yield(v) {
				return
			}
		}
	}
}

func (l *List[T]) unlink(v T) {
	var zero T
	ln := v.ListLink()

	if ln.prev != zero {
		ln.prev.ListLink().next = ln.next
	} else {
		l.head = ln.next
	}
	if ln.next != zero {
		ln.next.ListLink().prev = ln.prev
	} else {
		l.tail = ln.prev
	}

	ln.next, ln.prev, ln.list = zero, zero, nil
	l.len--
}
