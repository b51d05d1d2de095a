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

	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/arch"
)

// Schedule switches to the most important ready process unless the running
// process is still runnable and strictly more important than every ready
// one.
func (k *Kernel) Schedule() {
	st := k.cpu.DisableIRQ()
	k.schedule()
	k.cpu.RestoreIRQ(st)
}

// Yield gives the CPU to the next ready process of equal or higher
// importance, if any.
func (k *Kernel) Yield() {
	k.countSyscall(SyscallYield)
	k.Schedule()
}

// ScheduleIfNeeded runs the scheduler if something asked for it since it last
// ran.
func (k *Kernel) ScheduleIfNeeded() {
	c := k.cpu
	st := c.DisableIRQ()
	if c.needResched && k.processMode.Load() {
		c.needResched = false
		k.schedule()
	}
	c.RestoreIRQ(st)
}

// pickReadyLocked returns the first process of the ready queue, which is
// both policies' choice: the queue is ordered by priority, then by insertion.
//
// Preconditions: k.procData is held.
func (k *Kernel) pickReadyLocked() *Process {
	return k.cpu.ready.Front()
}

// schedule is Schedule with interrupts already masked. It returns once the
// calling process is switched back in.
//
// Preconditions: interrupts are disabled; no spinlock is held; the caller
// is not an interrupt handler.
func (k *Kernel) schedule() {
	if !k.processMode.Load() {
		return
	}
	c := k.cpu
	if cur := c.current.Load(); cur != nil && cur.unwinding {
		// A dead process running its deferred calls stays on the CPU.
		return
	}
	st := k.procData.Acquire()
	cur := c.current.Load()
	next := k.pickReadyLocked()
	for next != nil && next != cur && !next.ctx.Valid() {
		k.warn.Warningf("Cannot switch to %v, invalid context. Killing process...", next)
		k.killLocked(next, ExitStatusKilled)
		next = k.pickReadyLocked()
	}

	if cur.status == StatusRunning && (next == nil || cur.priority < next.priority) {
		k.procData.Release(st)
		return
	}
	if next == nil {
		k.procData.Release(st)
		panic(fmt.Sprintf("no process ready to run after %v, where is the idle process?\n%s", cur, k.dumpProcesses()))
	}
	if next == cur {
		// cur was made ready again before it switched away.
		k.moveToRunningLocked(cur)
		k.procData.Release(st)
		return
	}

	if cur.status == StatusRunning {
		k.moveToReadyLocked(cur)
	}
	k.moveToRunningLocked(next)
	c.current.Store(next)
	k.ctxSwitches.Add(1)
	k.procData.Release(st)

	if log.IsLogging(log.Debug) {
		log.Debugf("Context switch %v -> %v", cur, next)
	}
	arch.Switch(cur.ctx, next.ctx)
}

// updateStatsLocked charges the time since the last status change to the
// current status of p.
//
// Preconditions: k.procData is held.
func (k *Kernel) updateStatsLocked(p *Process) {
	now := k.osTicks.Load()
	p.ticks[p.status] += now - p.lastChange
	p.lastChange = now
}

// moveToReadyLocked inserts p into the ready queue after every process of
// the same or better priority, and flags a reschedule if p ends up first.
//
// Preconditions: k.procData is held.
func (k *Kernel) moveToReadyLocked(p *Process) {
	if p.status == StatusZombie {
		log.Warningf("Cannot move zombie %v to READY", p)
		return
	}
	c := k.cpu
	k.updateStatsLocked(p)
	c.ready.Remove(p)
	inserted := false
	for q := range c.ready.All() {
		if p.priority < q.priority {
			c.ready.InsertBefore(q, p)
			inserted = true
			break
		}
	}
	if !inserted {
		c.ready.PushBack(p)
	}
	p.status = StatusReady
	if c.ready.Front() == p {
		c.needResched = true
	}
}

// Preconditions: k.procData is held.
func (k *Kernel) moveToBlockedLocked(p *Process) {
	if p.status == StatusZombie || p.status == StatusNotInit {
		log.Warningf("Cannot move %s process %v to BLOCKED", p.status, p)
		return
	}
	k.updateStatsLocked(p)
	k.cpu.ready.Remove(p)
	p.status = StatusBlocked
}

// Preconditions: k.procData is held.
func (k *Kernel) moveToRunningLocked(p *Process) {
	if p.status != StatusReady {
		panic(fmt.Sprintf("cannot run %v in status %s", p, p.status))
	}
	k.updateStatsLocked(p)
	k.cpu.ready.Remove(p)
	p.status = StatusRunning
}

// Preconditions: k.procData is held.
func (k *Kernel) moveToZombieLocked(p *Process) {
	k.updateStatsLocked(p)
	k.cpu.ready.Remove(p)
	if p.blockedOn != nil {
		p.blockedOn.blocked.Remove(p)
		p.blockedOn = nil
	}
	p.status = StatusZombie
}

// ReadyQueue returns the ready processes in the order they will run.
func (k *Kernel) ReadyQueue() []*Process {
	st := k.procData.Acquire()
	defer k.procData.Release(st)
	var ready []*Process
	for p := range k.cpu.ready.All() {
		ready = append(ready, p)
	}
	return ready
}
