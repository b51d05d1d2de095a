// Copyright 2018 The gVisor Authors.
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

package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testElement struct {
	value int

	allEntry Entry[testElement]
	oddEntry Entry[testElement]
}

type allLinker struct{}

func (allLinker) Link(e *testElement) *Entry[testElement] { return &e.allEntry }

type oddLinker struct{}

func (oddLinker) Link(e *testElement) *Entry[testElement] { return &e.oddEntry }

func values[L Linker[testElement]](l *List[testElement, L]) []int {
	var v []int
	for e := range l.All() {
		v = append(v, e.value)
	}
	return v
}

func TestPushBack(t *testing.T) {
	var l List[testElement, allLinker]
	if !l.Empty() {
		t.Fatalf("new list is not empty")
	}
	elems := make([]testElement, 4)
	for i := range elems {
		elems[i].value = i
		l.PushBack(&elems[i])
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if got := l.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
	if l.Front() != &elems[0] || l.Back() != &elems[3] {
		t.Errorf("Front/Back = %v/%v, want 0/3", l.Front().value, l.Back().value)
	}
}

func TestPushFrontAndInsert(t *testing.T) {
	var l List[testElement, allLinker]
	elems := make([]testElement, 5)
	for i := range elems {
		elems[i].value = i
	}
	l.PushFront(&elems[2])
	l.PushFront(&elems[0])
	l.InsertAfter(&elems[0], &elems[1])
	l.InsertBefore(&elems[0], &elems[4])
	l.InsertAfter(&elems[2], &elems[3])
	if diff := cmp.Diff([]int{4, 0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if l.Prev(&elems[1]) != &elems[0] || l.Next(&elems[1]) != &elems[2] {
		t.Errorf("neighbours of 1 are wrong")
	}
}

func TestRemove(t *testing.T) {
	var l List[testElement, allLinker]
	elems := make([]testElement, 4)
	for i := range elems {
		elems[i].value = i
		l.PushBack(&elems[i])
	}
	l.Remove(&elems[0])
	l.Remove(&elems[3])
	l.Remove(&elems[3])
	if diff := cmp.Diff([]int{1, 2}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if l.Linked(&elems[0]) {
		t.Errorf("removed element still linked")
	}
	if e := l.PopFront(); e != &elems[1] {
		t.Errorf("PopFront() = %v, want 1", e.value)
	}
	l.PopFront()
	if !l.Empty() || l.PopFront() != nil {
		t.Errorf("list should be empty")
	}
}

func TestRemoveWhileIterating(t *testing.T) {
	var l List[testElement, allLinker]
	elems := make([]testElement, 6)
	for i := range elems {
		elems[i].value = i
		l.PushBack(&elems[i])
	}
	for e := range l.All() {
		if e.value%2 == 0 {
			l.Remove(e)
		}
	}
	if diff := cmp.Diff([]int{1, 3, 5}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestMultipleLists(t *testing.T) {
	var all List[testElement, allLinker]
	var odd List[testElement, oddLinker]
	elems := make([]testElement, 5)
	for i := range elems {
		elems[i].value = i
		all.PushBack(&elems[i])
		if i%2 == 1 {
			odd.PushBack(&elems[i])
		}
	}
	all.Remove(&elems[1])
	if diff := cmp.Diff([]int{0, 2, 3, 4}, values(&all)); diff != "" {
		t.Errorf("all mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3}, values(&odd)); diff != "" {
		t.Errorf("odd mismatch (-want +got):\n%s", diff)
	}
	if !elems[1].oddEntry.Linked() || elems[1].allEntry.Linked() {
		t.Errorf("entries of element 1 have the wrong state")
	}
}
