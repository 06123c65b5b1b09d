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

package mem

// Region is an owned reservation of virtual address space.
//
// A fresh Region is entirely inaccessible; pages become usable through
// [Region.Activate] or [Region.Partial].
type Region struct {
	data   []byte
	active bool
}

// NewRegion reserves size bytes, rounded up to whole pages.
func NewRegion(size int) (Region, error) {
	data, err := Reserve(size)
	if err != nil {
		return Region{}, err
	}
	return Region{data: data}, nil
}

// Data returns the whole reserved range.
func (r *Region) Data() []byte {
	return r.data
}

// Len returns the reservation's size in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Activate makes the whole region readable and writable.
func (r *Region) Activate() error {
	if err := Protect(r.data, Read|Write); err != nil {
		return err
	}
	r.active = true
	return nil
}

// Deactivate decommits the whole region.
func (r *Region) Deactivate() error {
	if err := Decommit(r.data); err != nil {
		return err
	}
	r.active = false
	return nil
}

// Partial changes the protection of a subrange. Empty protection decommits
// the subrange instead.
func (r *Region) Partial(sub []byte, p Prot) error {
	if p == None {
		return Decommit(sub)
	}
	return Protect(sub, p)
}

// Release returns the reservation to the OS. The region must not be used
// afterwards.
func (r *Region) Release() error {
	data := r.data
	r.data = nil
	r.active = false
	return Release(data)
}
