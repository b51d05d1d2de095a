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

package slab

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
)

type pcb struct {
	pid  int
	name string
}

func TestAllocFirstFit(t *testing.T) {
	s := New[pcb](3)
	for want := 0; want < 3; want++ {
		i, p, err := s.Alloc()
		if err != nil {
			t.Fatalf("Alloc() failed: %v", err)
		}
		if i != want {
			t.Errorf("Alloc() = %d, want %d", i, want)
		}
		p.pid = i
	}
	if _, _, err := s.Alloc(); !errors.Is(err, kerr.ENOMEM) {
		t.Fatalf("Alloc() on a full slab = %v, want ENOMEM", err)
	}

	s.Free(1)
	i, p, err := s.Alloc()
	if err != nil || i != 1 {
		t.Fatalf("Alloc() after Free(1) = %d, %v, want 1", i, err)
	}
	if p.pid != 0 || p.name != "" {
		t.Errorf("reused slot was not zeroed: %+v", *p)
	}
}

func TestGetAndIterate(t *testing.T) {
	s := New[pcb](4)
	for _, name := range []string{"init", "idle", "shell"} {
		i, p, _ := s.Alloc()
		p.pid = i
		p.name = name
	}
	s.Free(1)
	if s.Get(1) != nil {
		t.Errorf("Get(1) returned a freed slot")
	}
	if got := s.Get(2); got == nil || got.name != "shell" {
		t.Errorf("Get(2) = %v, want shell", got)
	}
	var names []string
	for _, p := range s.All() {
		names = append(names, p.name)
	}
	if diff := cmp.Diff([]string{"init", "shell"}, names); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestAllocAt(t *testing.T) {
	s := New[pcb](2)
	if _, err := s.AllocAt(1); err != nil {
		t.Fatalf("AllocAt(1) failed: %v", err)
	}
	if _, err := s.AllocAt(1); !errors.Is(err, kerr.EBUSY) {
		t.Errorf("AllocAt(1) twice = %v, want EBUSY", err)
	}
	if _, err := s.AllocAt(5); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("AllocAt(5) = %v, want EINVAL", err)
	}
	if i, _, _ := s.Alloc(); i != 0 {
		t.Errorf("Alloc() = %d, want 0", i)
	}
}
