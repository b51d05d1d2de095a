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

package hw

import (
	"fmt"
	"sync"
	"time"

	"laritos.dev/laritos/pkg/errors/kerr"
)

// ExpirationMode selects how SetExpiration interprets its ticks argument.
type ExpirationMode uint8

const (
	// Relative deadlines are counted from the current counter value.
	Relative ExpirationMode = iota

	// Absolute deadlines are counter values.
	Absolute
)

// Timer is a free-running counter with a single programmable expiration.
// Expiration callbacks run from interrupt dispatch.
type Timer interface {
	Component

	// Frequency returns the counter frequency in Hz.
	Frequency() uint64

	// Value returns the current counter value.
	Value() uint64

	// SetExpiration programs cb to run when the counter reaches the
	// deadline. A periodic expiration is re-armed ticks after each firing.
	// Programming an expiration replaces the previous one.
	SetExpiration(ticks uint64, mode ExpirationMode, cb func(), periodic bool) error

	// ClearExpiration cancels the programmed expiration.
	ClearExpiration()

	// Enable starts delivering expirations.
	Enable()

	// Disable stops delivering expirations. The counter keeps running.
	Disable()
}

// Idler is implemented by timers whose time only moves forward when the CPU
// has nothing else to do.
type Idler interface {
	// Idle advances the counter to the programmed deadline and raises the
	// timer interrupt. It returns false if nothing is programmed.
	Idle() bool
}

// expiration is the programmed state shared by the timer implementations.
type expiration struct {
	armed    bool
	enabled  bool
	deadline uint64
	period   uint64
	periodic bool
	cb       func()
}

func (e *expiration) set(now, ticks uint64, mode ExpirationMode, cb func(), periodic bool) error {
	if cb == nil {
		return fmt.Errorf("nil expiration callback: %w", kerr.EINVAL)
	}
	deadline := ticks
	if mode == Relative {
		deadline = now + ticks
	}
	var period uint64
	if deadline > now {
		period = deadline - now
	}
	if periodic && period == 0 {
		return fmt.Errorf("zero period: %w", kerr.EINVAL)
	}
	e.deadline = deadline
	e.period = period
	e.periodic = periodic
	e.cb = cb
	e.armed = true
	return nil
}

func (e *expiration) due(now uint64) bool {
	return e.armed && e.enabled && now >= e.deadline
}

// fire consumes a due expiration and returns its callback.
func (e *expiration) fire(now uint64) func() {
	if !e.due(now) {
		return nil
	}
	cb := e.cb
	if e.periodic {
		e.deadline += e.period
		if e.deadline <= now {
			e.deadline = now + e.period
		}
	} else {
		e.armed = false
	}
	return cb
}

// VirtualTimer is a Timer whose counter only moves when it is read or when
// the CPU idles. Every read advances the counter by one tick, so consecutive
// timestamps are strictly increasing, and an idle CPU jumps straight to the
// next deadline. Runs driven by a VirtualTimer are deterministic.
type VirtualTimer struct {
	info ComponentInfo
	freq uint64
	intc *InterruptController
	irq  IRQ

	mu  sync.Mutex
	now uint64
	exp expiration
}

// NewVirtualTimer returns a virtual timer ticking at freq Hz that raises irq
// on intc when it expires.
func NewVirtualTimer(info ComponentInfo, freq uint64, intc *InterruptController, irq IRQ) (*VirtualTimer, error) {
	if freq == 0 {
		return nil, fmt.Errorf("zero timer frequency: %w", kerr.EINVAL)
	}
	info.Type = TypeTimer
	t := &VirtualTimer{info: info, freq: freq, intc: intc, irq: irq}
	if _, err := intc.AddHandler(irq, t.handle); err != nil {
		return nil, err
	}
	if err := intc.Enable(irq); err != nil {
		return nil, err
	}
	return t, nil
}

// Info implements Component.Info.
func (t *VirtualTimer) Info() ComponentInfo {
	return t.info
}

// Frequency implements Timer.Frequency.
func (t *VirtualTimer) Frequency() uint64 {
	return t.freq
}

// Value implements Timer.Value.
func (t *VirtualTimer) Value() uint64 {
	t.mu.Lock()
	t.now++
	v, due := t.now, t.exp.due(t.now)
	t.mu.Unlock()
	if due {
		t.intc.Raise(t.irq)
	}
	return v
}

// Advance moves the counter forward by ticks.
func (t *VirtualTimer) Advance(ticks uint64) {
	t.mu.Lock()
	t.now += ticks
	due := t.exp.due(t.now)
	t.mu.Unlock()
	if due {
		t.intc.Raise(t.irq)
	}
}

// Idle implements Idler.Idle.
func (t *VirtualTimer) Idle() bool {
	t.mu.Lock()
	if !t.exp.armed || !t.exp.enabled {
		t.mu.Unlock()
		return false
	}
	if t.now < t.exp.deadline {
		t.now = t.exp.deadline
	}
	t.mu.Unlock()
	t.intc.Raise(t.irq)
	return true
}

// SetExpiration implements Timer.SetExpiration.
func (t *VirtualTimer) SetExpiration(ticks uint64, mode ExpirationMode, cb func(), periodic bool) error {
	t.mu.Lock()
	err := t.exp.set(t.now, ticks, mode, cb, periodic)
	due := t.exp.due(t.now)
	t.mu.Unlock()
	if due {
		t.intc.Raise(t.irq)
	}
	return err
}

// ClearExpiration implements Timer.ClearExpiration.
func (t *VirtualTimer) ClearExpiration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exp.armed = false
}

// Enable implements Timer.Enable.
func (t *VirtualTimer) Enable() {
	t.mu.Lock()
	t.exp.enabled = true
	due := t.exp.due(t.now)
	t.mu.Unlock()
	if due {
		t.intc.Raise(t.irq)
	}
}

// Disable implements Timer.Disable.
func (t *VirtualTimer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exp.enabled = false
}

func (t *VirtualTimer) handle(IRQ) IRQReturn {
	t.mu.Lock()
	cb := t.exp.fire(t.now)
	t.mu.Unlock()
	if cb == nil {
		return IRQNotHandled
	}
	cb()
	return IRQHandled
}

// HostTimer is a Timer driven by the host clock.
type HostTimer struct {
	info  ComponentInfo
	freq  uint64
	intc  *InterruptController
	irq   IRQ
	start time.Time

	mu    sync.Mutex
	exp   expiration
	timer *time.Timer
}

// NewHostTimer returns a host timer ticking at freq Hz that raises irq on
// intc when it expires.
func NewHostTimer(info ComponentInfo, freq uint64, intc *InterruptController, irq IRQ) (*HostTimer, error) {
	if freq == 0 || freq > uint64(time.Second) {
		return nil, fmt.Errorf("unsupported timer frequency %d: %w", freq, kerr.EINVAL)
	}
	info.Type = TypeTimer
	t := &HostTimer{info: info, freq: freq, intc: intc, irq: irq, start: time.Now()}
	if _, err := intc.AddHandler(irq, t.handle); err != nil {
		return nil, err
	}
	if err := intc.Enable(irq); err != nil {
		return nil, err
	}
	return t, nil
}

// Info implements Component.Info.
func (t *HostTimer) Info() ComponentInfo {
	return t.info
}

// Frequency implements Timer.Frequency.
func (t *HostTimer) Frequency() uint64 {
	return t.freq
}

// Value implements Timer.Value.
func (t *HostTimer) Value() uint64 {
	d := time.Since(t.start)
	secs, rem := uint64(d/time.Second), uint64(d%time.Second)
	return secs*t.freq + rem*t.freq/uint64(time.Second)
}

func (t *HostTimer) ticksDuration(ticks uint64) time.Duration {
	secs, rem := ticks/t.freq, ticks%t.freq
	return time.Duration(secs)*time.Second + time.Duration(rem*uint64(time.Second)/t.freq)
}

// armLocked (re)starts the host timer for the programmed deadline.
func (t *HostTimer) armLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.exp.armed || !t.exp.enabled {
		return
	}
	var delay time.Duration
	if now := t.Value(); t.exp.deadline > now {
		delay = t.ticksDuration(t.exp.deadline - now)
	}
	t.timer = time.AfterFunc(delay, func() { t.intc.Raise(t.irq) })
}

// SetExpiration implements Timer.SetExpiration.
func (t *HostTimer) SetExpiration(ticks uint64, mode ExpirationMode, cb func(), periodic bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.exp.set(t.Value(), ticks, mode, cb, periodic); err != nil {
		return err
	}
	t.armLocked()
	return nil
}

// ClearExpiration implements Timer.ClearExpiration.
func (t *HostTimer) ClearExpiration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exp.armed = false
	t.armLocked()
}

// Enable implements Timer.Enable.
func (t *HostTimer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exp.enabled = true
	t.armLocked()
}

// Disable implements Timer.Disable.
func (t *HostTimer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exp.enabled = false
	t.armLocked()
}

func (t *HostTimer) handle(IRQ) IRQReturn {
	t.mu.Lock()
	if !t.exp.armed || !t.exp.enabled {
		t.mu.Unlock()
		return IRQNotHandled
	}
	cb := t.exp.fire(t.Value())
	// Re-arm for the next period, or for the remainder of an early fire.
	t.armLocked()
	t.mu.Unlock()
	if cb == nil {
		return IRQHandled
	}
	cb()
	return IRQHandled
}
