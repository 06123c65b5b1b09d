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

package tinyalloc_test

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Fabbboy/tinyalloc"
)

// trace is a YAML-described allocation scenario replayed against the C
// layer. Named pointers flow between steps.
type trace struct {
	Name string  `yaml:"name"`
	Ops  []*step `yaml:"ops"`
}

type step struct {
	Op    string `yaml:"op"`
	ID    string `yaml:"id"`
	Size  int    `yaml:"size"`
	Count int    `yaml:"count"`
	Align int    `yaml:"align"`
	Value int    `yaml:"value"`
}

func TestTraces(t *testing.T) {
	t.Parallel()

	files, err := filepath.Glob(filepath.Join("testdata", "traces", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			t.Parallel()

			raw, err := os.ReadFile(file)
			require.NoError(t, err)

			var tr trace
			require.NoError(t, yaml.Unmarshal(raw, &tr))
			replay(t, &tr)
		})
	}
}

func replay(t *testing.T, tr *trace) {
	t.Helper()

	ptrs := map[string]unsafe.Pointer{}
	sizes := map[string]int{}

	for i, s := range tr.Ops {
		switch s.Op {
		case "malloc":
			p := tinyalloc.Malloc(s.Size)
			require.NotNil(t, p, "op %d", i)
			ptrs[s.ID], sizes[s.ID] = p, s.Size

		case "calloc":
			p := tinyalloc.Calloc(s.Count, s.Size)
			require.NotNil(t, p, "op %d", i)
			n := s.Count * s.Size
			verify(t, p, n, 0)
			ptrs[s.ID], sizes[s.ID] = p, n

		case "memalign":
			p := tinyalloc.Memalign(s.Align, s.Size)
			require.NotNil(t, p, "op %d", i)
			require.Zero(t, uintptr(p)%uintptr(s.Align), "op %d", i)
			ptrs[s.ID], sizes[s.ID] = p, s.Size

		case "realloc":
			p := tinyalloc.Realloc(ptrs[s.ID], s.Size)
			require.NotNil(t, p, "op %d", i)
			ptrs[s.ID], sizes[s.ID] = p, s.Size

		case "free":
			tinyalloc.Free(ptrs[s.ID])
			delete(ptrs, s.ID)
			delete(sizes, s.ID)

		case "fill":
			fill(ptrs[s.ID], sizes[s.ID], byte(s.Value))

		case "verify":
			n := sizes[s.ID]
			if s.Size > 0 {
				n = min(n, s.Size)
			}
			verify(t, ptrs[s.ID], n, byte(s.Value))

		case "usable":
			assert.GreaterOrEqual(t,
				tinyalloc.MallocUsableSize(ptrs[s.ID]), s.Size, "op %d", i)

		default:
			t.Fatalf("op %d: unknown op %q", i, s.Op)
		}
	}

	// Anything the trace leaks, the test frees.
	for _, p := range ptrs {
		tinyalloc.Free(p)
	}
}
