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
	"github.com/Fabbboy/tinyalloc/internal/heap"
	"github.com/Fabbboy/tinyalloc/internal/mem"
)

// The allocator's error surface.
//
// Size and pointer errors are the caller's; the map errors propagate OS
// failures and surface as allocation failure.
var (
	ErrInvalidSize    = heap.ErrInvalidSize
	ErrInvalidPointer = heap.ErrInvalidPointer

	ErrOutOfMemory    = mem.ErrOutOfMemory
	ErrProtectFailed  = mem.ErrProtectFailed
	ErrDecommitFailed = mem.ErrDecommitFailed
)
