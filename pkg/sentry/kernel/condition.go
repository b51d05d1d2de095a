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
	"laritos.dev/laritos/pkg/ilist"
)

// Condition is a condition variable for processes. It keeps no predicate:
// waiters must re-check theirs in a loop, since wakeups may be spurious.
//
// Waiters are woken in the order they started waiting. The blocked list is
// protected by Kernel.procData.
type Condition struct {
	k       *Kernel
	blocked ilist.List[Process, blockedLinker]
}

// NewCondition returns an initialized Condition.
func NewCondition(k *Kernel) *Condition {
	c := &Condition{}
	c.Init(k)
	return c
}

// Init binds c to k.
func (c *Condition) Init(k *Kernel) {
	c.k = k
}

// Wait blocks the running process until the condition is notified.
//
// lock must be held, and st must be the state its Acquire returned. Wait
// releases lock while blocked and re-acquires it before returning; st is
// left untouched.
func (c *Condition) Wait(lock *Spinlock, st *IRQState) {
	k := c.k
	cur := k.Current()
	if cur == nil {
		panic("Condition.Wait outside process mode")
	}
	if cur.unwinding {
		lock.unlockNoIRQ()
		k.abandonUnwind(cur)
	}

	dst, acquired := k.procData.acquireIfNotOwned()
	c.blocked.PushBack(cur)
	cur.blockedOn = c
	k.moveToBlockedLocked(cur)
	k.procData.releaseIfAcquired(dst, acquired)

	// Interrupts stay masked until lock is re-acquired, so a notification
	// cannot slip in between releasing lock and switching away.
	lock.unlockNoIRQ()
	k.schedule()
	lock.lockNoIRQ()
}

// NotifyOne readies the longest-waiting process and returns it, or nil if
// nobody waits.
func (c *Condition) NotifyOne() *Process {
	k := c.k
	st, acquired := k.procData.acquireIfNotOwned()
	defer k.procData.releaseIfAcquired(st, acquired)
	p := c.blocked.Front()
	if p == nil {
		return nil
	}
	c.wakeLocked(p)
	return p
}

// NotifyAll readies every waiter and returns how many there were.
func (c *Condition) NotifyAll() int {
	k := c.k
	st, acquired := k.procData.acquireIfNotOwned()
	defer k.procData.releaseIfAcquired(st, acquired)
	return c.notifyAllLocked()
}

// Waiters returns the number of blocked processes.
func (c *Condition) Waiters() int {
	k := c.k
	st, acquired := k.procData.acquireIfNotOwned()
	defer k.procData.releaseIfAcquired(st, acquired)
	return c.blocked.Len()
}

// Preconditions: k.procData is held.
func (c *Condition) notifyAllLocked() int {
	n := 0
	for p := range c.blocked.All() {
		c.wakeLocked(p)
		n++
	}
	return n
}

// Preconditions: k.procData is held; p waits on c.
func (c *Condition) wakeLocked(p *Process) {
	c.blocked.Remove(p)
	p.blockedOn = nil
	c.k.moveToReadyLocked(p)
}
