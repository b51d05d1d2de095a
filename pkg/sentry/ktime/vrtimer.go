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

package ktime

import (
	"sync"
	"time"

	"github.com/google/btree"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// VTimer is a software timer armed on a Multiplexer.
type VTimer struct {
	deadline uint64
	period   uint64
	seq      uint64
	cb       func()
	queued   bool
}

// Deadline returns the counter value at which the timer fires next.
func (v *VTimer) Deadline() uint64 {
	return v.deadline
}

// Periodic returns true if the timer re-arms itself after firing.
func (v *VTimer) Periodic() bool {
	return v.period != 0
}

func vtimerLess(a, b *VTimer) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.seq < b.seq
}

// Multiplexer serves any number of virtual timers from a single hardware
// timer. The hardware timer is always programmed for the earliest pending
// deadline.
//
// Callbacks run from the hardware timer's interrupt handler, in deadline
// order, without Multiplexer locks held; they may add and remove timers.
type Multiplexer struct {
	timer hw.Timer

	mu      sync.Mutex
	pending *btree.BTreeG[*VTimer]
	seq     uint64

	// programmed is the deadline the hardware timer is armed for, valid if
	// armed is set.
	programmed uint64
	armed      bool
}

// NewMultiplexer takes ownership of timer's expiration and enables it.
func NewMultiplexer(timer hw.Timer) *Multiplexer {
	m := &Multiplexer{
		timer:   timer,
		pending: btree.NewG(8, vtimerLess),
	}
	timer.Enable()
	return m
}

// Timer returns the underlying hardware timer.
func (m *Multiplexer) Timer() hw.Timer {
	return m.timer
}

// Now implements Clock.Now.
func (m *Multiplexer) Now() Time {
	return TimerClock{m.timer}.Now()
}

// Ticks returns the current counter value.
func (m *Multiplexer) Ticks() uint64 {
	return m.timer.Value()
}

// Add arms a timer firing cb after ticks counter ticks, and every ticks
// thereafter if periodic is set.
func (m *Multiplexer) Add(ticks uint64, cb func(), periodic bool) *VTimer {
	if ticks == 0 {
		ticks = 1
	}
	v := &VTimer{cb: cb}
	if periodic {
		v.period = ticks
	}
	now := m.timer.Value()
	m.mu.Lock()
	v.deadline = now + ticks
	m.enqueueLocked(v)
	m.programLocked()
	m.mu.Unlock()
	return v
}

// AddDuration is Add with the interval given as a duration.
func (m *Multiplexer) AddDuration(d time.Duration, cb func(), periodic bool) *VTimer {
	return m.Add(DurationToTicks(d, m.timer.Frequency()), cb, periodic)
}

// Remove disarms v. It returns false if v was not armed, e.g. because a
// one-shot timer already fired.
func (m *Multiplexer) Remove(v *VTimer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !v.queued {
		return false
	}
	m.pending.Delete(v)
	v.queued = false
	m.programLocked()
	return true
}

// Len returns the number of armed timers.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

func (m *Multiplexer) enqueueLocked(v *VTimer) {
	m.seq++
	v.seq = m.seq
	v.queued = true
	m.pending.ReplaceOrInsert(v)
}

// programLocked arms the hardware timer for the earliest deadline.
func (m *Multiplexer) programLocked() {
	first, ok := m.pending.Min()
	if !ok {
		if m.armed {
			m.timer.ClearExpiration()
			m.armed = false
		}
		return
	}
	if m.armed && m.programmed == first.deadline {
		return
	}
	if err := m.timer.SetExpiration(first.deadline, hw.Absolute, m.expire, false); err != nil {
		log.Warningf("Failed to program timer %s: %v", m.timer.Info(), err)
		return
	}
	m.programmed = first.deadline
	m.armed = true
}

// expire runs every timer whose deadline has passed.
func (m *Multiplexer) expire() {
	now := m.timer.Value()
	var fired []func()

	m.mu.Lock()
	m.armed = false
	for {
		v, ok := m.pending.Min()
		if !ok || v.deadline > now {
			break
		}
		m.pending.DeleteMin()
		v.queued = false
		fired = append(fired, v.cb)
		if v.period != 0 {
			// Skip the periods that were missed entirely.
			missed := (now - v.deadline) / v.period
			v.deadline += (missed + 1) * v.period
			m.enqueueLocked(v)
		}
	}
	m.programLocked()
	m.mu.Unlock()

	for _, cb := range fired {
		cb()
	}
}
