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

// Package class defines the size-class table used to bucket small
// allocations.
//
// The table starts at the machine word and advances by a quarter of the
// enclosing power-of-two bucket, so each doubling of size contributes four
// classes. Requests above the largest class bypass the table entirely and
// get a dedicated mapping.
package class

import (
	"math/bits"

	"github.com/Fabbboy/tinyalloc/internal/mem"
)

const (
	// Quantum is the smallest class size and the minimum alignment of every
	// class.
	Quantum = 8

	// Cutoff bounds the table: every class size is smaller than Cutoff.
	Cutoff = 1 << 16
)

// Class is one entry of the size-class table.
type Class struct {
	// Size is the slot size in bytes, a positive multiple of Align.
	Size int
	// Align is the guaranteed alignment of every slot, a power of two no
	// smaller than Quantum.
	Align int
	// Index is this class's position in [Table].
	Index int
}

// Table is the size-class table, sorted by Size ascending.
var Table = build()

// MaxAlign returns the class alignment ceiling, derived from the cache line.
func MaxAlign() int {
	return max(mem.CacheLineSize(), 2*Quantum)
}

func build() []Class {
	ceiling := MaxAlign()

	var table []Class
	for size := Quantum; size < Cutoff; {
		table = append(table, Class{
			Size:  size,
			Align: alignFor(size, ceiling),
			Index: len(table),
		})

		// A quarter of the bucket below, so every doubling of size holds
		// four classes.
		step := max(Quantum, prevPow2(size)/4)
		size += step
	}
	return table
}

// alignFor returns the largest power of two dividing size, capped at
// ceiling.
func alignFor(size, ceiling int) int {
	return min(size&-size, ceiling)
}

func prevPow2(n int) int {
	return 1 << (bits.Len(uint(n)) - 1)
}

// Largest returns the biggest class; anything bigger is a large object.
func Largest() *Class {
	return &Table[len(Table)-1]
}

// Find returns the smallest class whose size and alignment satisfy the
// request, or false if the request is zero, too big, or over-aligned.
func Find(size, align int) (*Class, bool) {
	if size == 0 || size > Largest().Size {
		return nil, false
	}
	for i := range Table {
		c := &Table[i]
		if c.Size >= size && c.Align >= align {
			return c, true
		}
	}
	return nil, false
}
