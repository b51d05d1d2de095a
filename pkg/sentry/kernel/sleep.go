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
	"time"

	"laritos.dev/laritos/pkg/sentry/ktime"
)

// Sleep blocks the calling process for at least d.
//
// The pending timer holds a reference to the process, so a process killed
// and reaped while asleep is only freed once the timer is done with it.
func (k *Kernel) Sleep(d time.Duration) {
	cur := k.Current()
	if cur == nil {
		panic("Sleep outside process mode")
	}
	if cur.unwinding {
		k.abandonUnwind(cur)
	}
	k.countSyscall(SyscallSleep)
	ticks := ktime.DurationToTicks(d, k.mux.Timer().Frequency())

	c := k.cpu
	st := c.DisableIRQ()
	dst := k.procData.Acquire()
	cur.IncRef()
	cur.sleeping = true
	k.moveToBlockedLocked(cur)
	// Interrupts are masked, so the timer cannot fire before cur switches
	// away.
	cur.sleepTimer = k.mux.Add(ticks, func() { k.wake(cur) }, false)
	k.procData.Release(dst)
	k.schedule()
	c.RestoreIRQ(st)
}

// Msleep sleeps for ms milliseconds.
func (k *Kernel) Msleep(ms uint32) {
	k.Sleep(time.Duration(ms) * time.Millisecond)
}

// Usleep sleeps for us microseconds.
func (k *Kernel) Usleep(us uint32) {
	k.Sleep(time.Duration(us) * time.Microsecond)
}

// wake ends the sleep of p. It runs from the timer interrupt.
func (k *Kernel) wake(p *Process) {
	st := k.procData.Acquire()
	if p.sleeping {
		p.sleeping = false
		p.sleepTimer = nil
		if p.status == StatusBlocked {
			k.moveToReadyLocked(p)
		}
	}
	k.procData.Release(st)
	k.decRef(p)
}
