// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slab provides a fixed-capacity arena whose elements are addressed by
// stable integer handles.
//
// Elements never move: a pointer returned by Alloc stays valid until the slot
// is freed. The arena is not synchronized; callers provide locking.
package slab

import (
	"iter"

	"laritos.dev/laritos/pkg/bitmap"
	"laritos.dev/laritos/pkg/errors/kerr"
)

// Slab is an arena of n elements of type T.
type Slab[T any] struct {
	slots []T
	used  bitmap.Bitmap
}

// New returns a slab with room for n elements.
func New[T any](n int) *Slab[T] {
	return &Slab[T]{
		slots: make([]T, n),
		used:  bitmap.New(uint32(n)),
	}
}

// Alloc reserves the lowest free slot, zeroes it and returns its handle and
// address. It returns kerr.ENOMEM when the slab is full.
func (s *Slab[T]) Alloc() (int, *T, error) {
	if len(s.slots) == 0 {
		return -1, nil, kerr.ENOMEM
	}
	i, err := s.used.FirstZero(0)
	if err != nil {
		return -1, nil, kerr.ENOMEM
	}
	s.used.Add(i)
	clear(s.slots[i : i+1])
	return int(i), &s.slots[i], nil
}

// AllocAt reserves the slot with the given handle. It returns kerr.EBUSY if
// the slot is taken and kerr.EINVAL if the handle is out of range.
func (s *Slab[T]) AllocAt(i int) (*T, error) {
	if i < 0 || i >= len(s.slots) {
		return nil, kerr.EINVAL
	}
	if s.used.Contains(uint32(i)) {
		return nil, kerr.EBUSY
	}
	s.used.Add(uint32(i))
	clear(s.slots[i : i+1])
	return &s.slots[i], nil
}

// Free releases slot i. Freeing a free slot is a no-op.
func (s *Slab[T]) Free(i int) {
	if i < 0 || i >= len(s.slots) {
		return
	}
	s.used.Remove(uint32(i))
}

// Get returns the element in slot i, or nil if the slot is free.
func (s *Slab[T]) Get(i int) *T {
	if i < 0 || i >= len(s.slots) || !s.used.Contains(uint32(i)) {
		return nil
	}
	return &s.slots[i]
}

// Cap returns the capacity of the slab.
func (s *Slab[T]) Cap() int {
	return len(s.slots)
}

// Len returns the number of allocated slots.
func (s *Slab[T]) Len() int {
	return int(s.used.GetNumOnes())
}

// All iterates over allocated slots in handle order.
func (s *Slab[T]) All() iter.Seq2[int, *T] {
	return func(yield func(int, *T) bool) {
		for _, i := range s.used.ToSlice() {
			if !s.used.Contains(i) {
				continue
			}
			if !yield(int(i), &s.slots[i]) {
				return
			}
		}
	}
}
