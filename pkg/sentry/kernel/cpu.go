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
	"sync/atomic"

	"laritos.dev/laritos/pkg/ilist"
)

// IRQState is the local interrupt state saved by Spinlock.Acquire and
// DisableIRQ.
type IRQState struct {
	enabled bool
}

// Enabled returns true if interrupts were enabled when the state was saved.
func (s IRQState) Enabled() bool {
	return s.enabled
}

// CPU is the per-CPU state.
//
// All fields but current are only touched by the goroutine the CPU is
// running.
type CPU struct {
	k *Kernel

	// irqEnabled is the local interrupt enable flag.
	irqEnabled bool

	// inIRQ is set while interrupt handlers run.
	inIRQ bool

	// needResched asks the next safe point to call the scheduler.
	needResched bool

	// current is the process the CPU is running. It is an atomic so that
	// log lines emitted by host goroutines can read it.
	current atomic.Pointer[Process]

	// ready is the priority-ordered ready queue, protected by
	// Kernel.procData.
	ready ilist.List[Process, schedLinker]
}

// IRQEnabled returns true if the CPU takes interrupts.
func (c *CPU) IRQEnabled() bool {
	return c.irqEnabled
}

// DisableIRQ masks local interrupts and returns the previous state.
func (c *CPU) DisableIRQ() IRQState {
	st := IRQState{enabled: c.irqEnabled}
	c.irqEnabled = false
	return st
}

// RestoreIRQ returns local interrupts to st. Re-enabling them is a safe
// point: pending interrupts are delivered and a pending reschedule runs.
func (c *CPU) RestoreIRQ(st IRQState) {
	if !st.enabled {
		return
	}
	c.irqEnabled = true
	c.safePoint()
}

// EnableIRQ unmasks local interrupts.
func (c *CPU) EnableIRQ() {
	c.RestoreIRQ(IRQState{enabled: true})
}

// safePoint delivers pending interrupts and runs a pending reschedule while
// interrupts are enabled.
func (c *CPU) safePoint() {
	k := c.k
	if !k.processMode.Load() || c.inIRQ {
		return
	}
	for c.irqEnabled {
		if k.intc.Pending() {
			c.handleIRQ()
			continue
		}
		if c.needResched {
			c.needResched = false
			c.irqEnabled = false
			k.schedule()
			c.irqEnabled = true
			continue
		}
		return
	}
}

// handleIRQ dispatches pending interrupts with interrupts masked.
func (c *CPU) handleIRQ() {
	c.irqEnabled = false
	c.inIRQ = true
	c.k.intc.Dispatch()
	c.inIRQ = false
	c.irqEnabled = true
}

// InIRQ returns true while interrupt handlers run.
func (c *CPU) InIRQ() bool {
	return c.inIRQ
}

// waitForInterrupt parks the CPU until an interrupt is pending and then
// takes it. The caller must run with interrupts enabled.
func (c *CPU) waitForInterrupt() {
	k := c.k
	for !k.intc.Pending() {
		if k.idler != nil && k.idler.Idle() {
			continue
		}
		k.intc.Wait(k.halted)
		select {
		case <-k.halted:
			return
		default:
		}
	}
	c.safePoint()
}

// CPU returns the kernel's CPU.
func (k *Kernel) CPU() *CPU {
	return k.cpu
}

// Current returns the running process, or nil outside process mode.
func (k *Kernel) Current() *Process {
	return k.cpu.current.Load()
}
