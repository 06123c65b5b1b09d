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
	"sync"
	"sync/atomic"

	"github.com/timandy/routine"

	"github.com/Fabbboy/tinyalloc/internal/heap"
)

// localHeap hands every goroutine its own heap on first touch.
var localHeap = routine.NewThreadLocalWithInitial(func() *heap.Heap {
	return heap.New()
})

// tearingDown, once set, routes every operation through the bootstrap heap.
// Goroutine-local storage is bypassed from then on, which keeps allocation
// working from exit handlers and other late-life contexts.
var tearingDown atomic.Bool

// bootstrap is the process-wide fallback heap, shared under a mutex.
var bootstrap struct {
	once sync.Once
	mu   sync.Mutex
	heap *heap.Heap
}

// acquireHeap returns the heap to operate on and a func to call when done.
//
// On the common path this is the goroutine-local heap and the release func
// does nothing; during teardown it is the bootstrap heap with its lock held.
func acquireHeap() (*heap.Heap, func()) {
	if tearingDown.Load() {
		return bootstrapHeap()
	}
	return localHeap.Get(), func() {}
}

func bootstrapHeap() (*heap.Heap, func()) {
	bootstrap.once.Do(func() {
		bootstrap.heap = heap.New()
	})
	bootstrap.mu.Lock()
	return bootstrap.heap, bootstrap.mu.Unlock
}

// BeginTeardown switches the allocator into teardown mode: all subsequent
// operations on every goroutine go through a single process-wide heap under
// a lock. Meant to be called when goroutine-local state is about to become
// unreliable (process exit handlers); it is one-way.
func BeginTeardown() {
	tearingDown.Store(true)
}

// TearingDown reports whether [BeginTeardown] has been called.
func TearingDown() bool {
	return tearingDown.Load()
}
