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

// Package tinyalloc is a general-purpose dynamic memory allocator built on
// virtual memory it obtains directly from the operating system.
//
// Memory is organized in three tiers. Arenas are large lazily-committed
// reservations, registered process-wide. Segments are fixed 512 KiB spans
// carved out of arenas, each serving equally sized slots of a single size
// class under a slot bitmap. Heaps are per-goroutine owners that route
// requests to one segment queue per size class, keep a list of large
// objects for requests beyond the class table, and drain a remote-free list
// fed by other goroutines.
//
// The hot path is lock-free: a goroutine allocating and freeing its own
// memory touches only its own heap, and performs no syscalls while reusing
// segments that already exist.
//
// # API tiers
//
// [Alloc] and [Dealloc] are the raw interface: the caller supplies the
// layout on both sides and gets bare slots with no per-allocation metadata.
//
// [Malloc], [Free], [Realloc], [Calloc], [AlignedAlloc], [PosixMemalign],
// [Memalign], [Valloc], [Pvalloc] and [MallocUsableSize] follow the C
// memory-management contract: each allocation carries a canary-guarded
// header so that free recovers the layout (and rejects corrupt or foreign
// pointers) from the pointer alone.
//
// Go offers no hook for replacing the runtime allocator, so there is no
// global registration; the package-level functions are the installation
// surface.
//
// All parameters (segment size, arena tiers, class table, drain thresholds)
// are compile-time constants; there is no runtime configuration.
package tinyalloc
