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

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// IRQ is an interrupt line number.
type IRQ uint32

// MaxIRQs is the number of interrupt lines of an InterruptController.
const MaxIRQs = 64

// TriggerMode selects how raises of an interrupt line are accounted.
type TriggerMode uint8

const (
	// TriggerEdge coalesces raises that happen before the line is
	// dispatched.
	TriggerEdge TriggerMode = iota

	// TriggerLevel keeps the line asserted until every raise has been
	// dispatched.
	TriggerLevel
)

// IRQReturn reports whether a handler serviced an interrupt.
type IRQReturn int

const (
	// IRQNotHandled means the interrupt did not belong to the handler.
	IRQNotHandled IRQReturn = iota

	// IRQHandled means the handler serviced the interrupt.
	IRQHandled
)

// IRQHandler services an interrupt. Handlers run with local interrupts
// disabled and must not block.
type IRQHandler func(irq IRQ) IRQReturn

type handlerEntry struct {
	id int
	h  IRQHandler
}

type irqLine struct {
	enabled  bool
	trigger  TriggerMode
	pending  uint32
	handlers []handlerEntry
}

// InterruptController collects interrupts raised by devices and dispatches
// them to registered handlers. Raise may be called from any goroutine;
// Dispatch is called by the CPU at safe points.
type InterruptController struct {
	info ComponentInfo

	// signal is poked on every Raise so an idle CPU can wait for one.
	signal chan struct{}

	mu      sync.Mutex
	lines   [MaxIRQs]irqLine
	nextID  int
	handled uint64
}

// NewInterruptController returns a controller with every line disabled.
func NewInterruptController(info ComponentInfo) *InterruptController {
	info.Type = TypeIntc
	return &InterruptController{
		info:   info,
		signal: make(chan struct{}, 1),
	}
}

// Info implements Component.Info.
func (c *InterruptController) Info() ComponentInfo {
	return c.info
}

func checkIRQ(irq IRQ) error {
	if irq >= MaxIRQs {
		return fmt.Errorf("irq %d out of range: %w", irq, kerr.EINVAL)
	}
	return nil
}

// Enable unmasks irq.
func (c *InterruptController) Enable(irq IRQ) error {
	return c.setEnabled(irq, true)
}

// Disable masks irq. Raises of a masked line are discarded.
func (c *InterruptController) Disable(irq IRQ) error {
	return c.setEnabled(irq, false)
}

func (c *InterruptController) setEnabled(irq IRQ, enabled bool) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[irq].enabled = enabled
	if !enabled {
		c.lines[irq].pending = 0
	}
	return nil
}

// SetTrigger sets the trigger mode of irq.
func (c *InterruptController) SetTrigger(irq IRQ, mode TriggerMode) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[irq].trigger = mode
	return nil
}

// AddHandler registers h for irq and returns an id for RemoveHandler.
func (c *InterruptController) AddHandler(irq IRQ, h IRQHandler) (int, error) {
	if err := checkIRQ(irq); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.lines[irq].handlers = append(c.lines[irq].handlers, handlerEntry{id: c.nextID, h: h})
	return c.nextID, nil
}

// RemoveHandler unregisters the handler with the given id from irq.
func (c *InterruptController) RemoveHandler(irq IRQ, id int) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.lines[irq].handlers
	for i, e := range hs {
		if e.id == id {
			c.lines[irq].handlers = append(hs[:i:i], hs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no handler %d on irq %d: %w", id, irq, kerr.ENOENT)
}

// Raise asserts irq. Raising a masked line is a no-op.
func (c *InterruptController) Raise(irq IRQ) {
	if irq >= MaxIRQs {
		return
	}
	c.mu.Lock()
	l := &c.lines[irq]
	if !l.enabled {
		c.mu.Unlock()
		return
	}
	if l.trigger == TriggerLevel || l.pending == 0 {
		l.pending++
	}
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Pending returns true if some line is asserted.
func (c *InterruptController) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].pending > 0 {
			return true
		}
	}
	return false
}

// Dispatch services every asserted line, lowest number first, and returns the
// number of interrupts serviced. Handlers run without the controller lock
// held, so they may raise or register interrupts.
func (c *InterruptController) Dispatch() int {
	n := 0
	for {
		irq, handlers, ok := c.next()
		if !ok {
			return n
		}
		handled := false
		for _, e := range handlers {
			if e.h(irq) == IRQHandled {
				handled = true
			}
		}
		if !handled {
			log.Debugf("Spurious interrupt on irq %d", irq)
		}
		n++
	}
}

// next acknowledges one raise of the lowest asserted line.
func (c *InterruptController) next() (IRQ, []handlerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		l := &c.lines[i]
		if l.pending == 0 {
			continue
		}
		l.pending--
		c.handled++
		return IRQ(i), append([]handlerEntry(nil), l.handlers...), true
	}
	return 0, nil, false
}

// Handled returns the number of interrupts dispatched so far.
func (c *InterruptController) Handled() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handled
}

// Wait blocks until an interrupt is raised or done is closed. It may return
// spuriously; callers check Pending.
func (c *InterruptController) Wait(done <-chan struct{}) {
	select {
	case <-c.signal:
	case <-done:
	}
}
