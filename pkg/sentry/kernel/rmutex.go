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

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// RMutex is a recursive sleeping mutex. The owner may acquire it again
// without blocking, and must release it as many times as it acquired it.
type RMutex struct {
	lock  Spinlock
	cond  Condition
	owner *Process
	count uint32
}

// NewRMutex returns an initialized RMutex.
func NewRMutex(k *Kernel) *RMutex {
	m := &RMutex{}
	m.Init(k)
	return m
}

// Init binds m to k.
func (m *RMutex) Init(k *Kernel) {
	m.lock.Init(k)
	m.cond.Init(k)
}

// Acquire takes m, blocking while another process owns it.
func (m *RMutex) Acquire() {
	cur := m.lock.k.Current()
	st := m.lock.Acquire()
	for m.owner != cur && m.count != 0 {
		m.cond.Wait(&m.lock, &st)
	}
	m.count++
	m.owner = cur
	m.lock.Release(st)
}

// Release drops one level of ownership. When the last one is dropped, all
// waiters are woken and the scheduler runs so that a more important waiter
// takes over at once. Releasing a mutex the caller does not own fails with
// EPERM and changes nothing.
func (m *RMutex) Release() error {
	k := m.lock.k
	cur := k.Current()
	st := m.lock.Acquire()
	if m.owner != cur || m.count == 0 {
		m.lock.Release(st)
		log.Debugf("Mutex %p released by non-owner", m)
		return fmt.Errorf("mutex not owned by the caller: %w", kerr.EPERM)
	}
	woken := 0
	m.count--
	if m.count == 0 {
		m.owner = nil
		woken = m.cond.NotifyAll()
	}
	m.lock.Release(st)
	if woken > 0 {
		k.Schedule()
	}
	return nil
}

// Owner returns the owning process and the number of times it acquired m.
func (m *RMutex) Owner() (*Process, uint32) {
	st := m.lock.Acquire()
	defer m.lock.Release(st)
	return m.owner, m.count
}

// Lock implements sync.Locker.
func (m *RMutex) Lock() {
	m.Acquire()
}

// Unlock implements sync.Locker. Unlocking a mutex the caller does not own
// panics.
func (m *RMutex) Unlock() {
	if err := m.Release(); err != nil {
		panic(fmt.Sprintf("RMutex.Unlock: %v", err))
	}
}
