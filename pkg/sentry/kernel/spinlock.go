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

package kernel

import (
	"fmt"
	"sync"
)

// Spinlock is a short-term lock that also masks local interrupts while held.
//
// Spinlocks must not be held across anything that may block or reschedule.
// A Spinlock must be initialized with Init (or NewSpinlock) before use.
type Spinlock struct {
	k  *Kernel
	mu sync.Mutex

	// owner is the process that holds the lock, nil if the lock is free or
	// held outside process mode. held distinguishes the two.
	owner *Process
	held  bool
}

// NewSpinlock returns an initialized Spinlock.
func NewSpinlock(k *Kernel) *Spinlock {
	s := &Spinlock{}
	s.Init(k)
	return s
}

// Init binds s to the CPU of k.
func (s *Spinlock) Init(k *Kernel) {
	s.k = k
}

// Acquire masks interrupts and takes the lock. The returned state must be
// passed to Release.
func (s *Spinlock) Acquire() IRQState {
	st := s.k.cpu.DisableIRQ()
	s.lockNoIRQ()
	return st
}

// TryAcquire is the non-blocking variant of Acquire. If the lock is busy,
// interrupts are restored and false is returned.
func (s *Spinlock) TryAcquire() (IRQState, bool) {
	st := s.k.cpu.DisableIRQ()
	if !s.mu.TryLock() {
		s.k.cpu.RestoreIRQ(st)
		return st, false
	}
	s.setOwner()
	return st, true
}

// Release drops the lock and restores interrupts to st.
func (s *Spinlock) Release(st IRQState) {
	s.unlockNoIRQ()
	s.k.cpu.RestoreIRQ(st)
}

// OwnedByCurrent returns true if the running context holds s.
func (s *Spinlock) OwnedByCurrent() bool {
	return s.held && s.owner == s.k.Current()
}

// Owner returns the process holding s, or nil.
func (s *Spinlock) Owner() *Process {
	return s.owner
}

func (s *Spinlock) lockNoIRQ() {
	if s.OwnedByCurrent() {
		panic(fmt.Sprintf("spinlock %p acquired recursively by %v", s, s.owner))
	}
	s.mu.Lock()
	s.setOwner()
}

func (s *Spinlock) setOwner() {
	s.owner = s.k.Current()
	s.held = true
}

func (s *Spinlock) unlockNoIRQ() {
	s.owner = nil
	s.held = false
	s.mu.Unlock()
}

// acquireIfNotOwned takes s unless the running context already holds it. It
// returns whether the lock was taken, in which case releaseIfAcquired must
// drop it.
func (s *Spinlock) acquireIfNotOwned() (IRQState, bool) {
	if s.OwnedByCurrent() {
		return IRQState{}, false
	}
	return s.Acquire(), true
}

func (s *Spinlock) releaseIfAcquired(st IRQState, acquired bool) {
	if acquired {
		s.Release(st)
	}
}
