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

// Semaphore is a counting semaphore for processes.
type Semaphore struct {
	lock  Spinlock
	cond  Condition
	count uint32
}

// NewSemaphore returns a semaphore with count permits.
func NewSemaphore(k *Kernel, count uint32) *Semaphore {
	s := &Semaphore{}
	s.Init(k, count)
	return s
}

// Init binds s to k and sets its count.
func (s *Semaphore) Init(k *Kernel, count uint32) {
	s.lock.Init(k)
	s.cond.Init(k)
	s.count = count
}

// Acquire takes a permit, blocking while there are none.
func (s *Semaphore) Acquire() {
	st := s.lock.Acquire()
	for s.count == 0 {
		s.cond.Wait(&s.lock, &st)
	}
	s.count--
	s.lock.Release(st)
}

// TryAcquire takes a permit if one is available.
func (s *Semaphore) TryAcquire() bool {
	st := s.lock.Acquire()
	defer s.lock.Release(st)
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Release returns a permit and wakes one waiter, letting it run at once if
// it is more important than the caller.
func (s *Semaphore) Release() {
	st := s.lock.Acquire()
	s.count++
	woken := s.cond.NotifyOne() != nil
	s.lock.Release(st)
	if woken {
		s.lock.k.Schedule()
	}
}

// Count returns the number of available permits.
func (s *Semaphore) Count() uint32 {
	st := s.lock.Acquire()
	defer s.lock.Release(st)
	return s.count
}
