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

// Package ilist provides the implementation of intrusive linked lists.
//
// An object may sit on several lists at once by embedding one Entry per list
// and declaring a zero-sized Linker type for each of them.
package ilist

import "iter"

// Linker maps an element to the Entry used by a particular list.
//
// Implementations are expected to be zero-sized struct types, e.g.:
//
//	type readyLinker struct{}
//
//	func (readyLinker) Link(p *Process) *ilist.Entry[Process] { return &p.readyEntry }
type Linker[T any] interface {
	Link(*T) *Entry[T]
}

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = l.Next(e) {
//		// do something with e.
//	}
type List[T any, L Linker[T]] struct {
	head *T
	tail *T
}

func linkerFor[T any, L Linker[T]](e *T) *Entry[T] {
	var l L
	return l.Link(e)
}

// Reset resets list l to the empty state. Elements are not unlinked.
func (l *List[T, L]) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
func (l *List[T, L]) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
func (l *List[T, L]) Front() *T {
	return l.head
}

// Back returns the last element of list l or nil.
func (l *List[T, L]) Back() *T {
	return l.tail
}

// Next returns the element that follows e in l, or nil.
func (l *List[T, L]) Next(e *T) *T {
	return linkerFor[T, L](e).next
}

// Prev returns the element that precedes e in l, or nil.
func (l *List[T, L]) Prev(e *T) *T {
	return linkerFor[T, L](e).prev
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
func (l *List[T, L]) Len() (count int) {
	for e := l.Front(); e != nil; e = l.Next(e) {
		count++
	}
	return count
}

// Linked returns true if e is currently on a list of this kind.
func (l *List[T, L]) Linked(e *T) bool {
	return linkerFor[T, L](e).linked
}

// PushFront inserts the element e at the front of list l.
func (l *List[T, L]) PushFront(e *T) {
	linker := linkerFor[T, L](e)
	linker.next = l.head
	linker.prev = nil
	linker.linked = true
	if l.head != nil {
		linkerFor[T, L](l.head).prev = e
	} else {
		l.tail = e
	}

	l.head = e
}

// PushBack inserts the element e at the back of list l.
func (l *List[T, L]) PushBack(e *T) {
	linker := linkerFor[T, L](e)
	linker.next = nil
	linker.prev = l.tail
	linker.linked = true
	if l.tail != nil {
		linkerFor[T, L](l.tail).next = e
	} else {
		l.head = e
	}

	l.tail = e
}

// InsertAfter inserts e after b.
func (l *List[T, L]) InsertAfter(b, e *T) {
	bLinker := linkerFor[T, L](b)
	eLinker := linkerFor[T, L](e)

	a := bLinker.next

	eLinker.next = a
	eLinker.prev = b
	eLinker.linked = true
	bLinker.next = e

	if a != nil {
		linkerFor[T, L](a).prev = e
	} else {
		l.tail = e
	}
}

// InsertBefore inserts e before a.
func (l *List[T, L]) InsertBefore(a, e *T) {
	aLinker := linkerFor[T, L](a)
	eLinker := linkerFor[T, L](e)

	b := aLinker.prev
	eLinker.next = a
	eLinker.prev = b
	eLinker.linked = true
	aLinker.prev = e

	if b != nil {
		linkerFor[T, L](b).next = e
	} else {
		l.head = e
	}
}

// Remove removes e from l. Removing an element that is not linked is a
// no-op.
func (l *List[T, L]) Remove(e *T) {
	linker := linkerFor[T, L](e)
	if !linker.linked {
		return
	}
	prev := linker.prev
	next := linker.next

	if prev != nil {
		linkerFor[T, L](prev).next = next
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		linkerFor[T, L](next).prev = prev
	} else if l.tail == e {
		l.tail = prev
	}

	linker.next = nil
	linker.prev = nil
	linker.linked = false
}

// PopFront removes and returns the first element of l, or nil.
func (l *List[T, L]) PopFront() *T {
	e := l.head
	if e != nil {
		l.Remove(e)
	}
	return e
}

// All iterates over the list from front to back. The element being visited
// may be removed from the list during iteration.
func (l *List[T, L]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for e := l.head; e != nil; {
			next := linkerFor[T, L](e).next
			if !yield(e) {
				return
			}
			e = next
		}
	}
}

// Entry is the per-list link state embedded in list elements.
//
// The zero value is an unlinked entry.
type Entry[T any] struct {
	next   *T
	prev   *T
	linked bool
}

// Linked returns true if the entry is on a list.
func (e *Entry[T]) Linked() bool {
	return e.linked
}
