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

// Package console implements a UART-like console device.
//
// Output written by processes is queued in a transmit ring buffer and drained
// to a host writer by a kernel daemon. Input arrives from the host through
// an interrupt and is queued in a receive ring buffer.
package console

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/kernel/circbuf"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// DefaultBufferSize is the size of each ring buffer.
const DefaultBufferSize = 512

// Options configures a Console.
type Options struct {
	Info hw.ComponentInfo

	// Output receives transmitted bytes. It is written with interrupts
	// masked, so it should not block. A short write leaves the rest queued
	// for the next attempt.
	Output io.Writer

	// Intc and IRQ are the interrupt line input is signaled on. Input is
	// disabled if Intc is nil.
	Intc *hw.InterruptController
	IRQ  hw.IRQ

	// BufferSize defaults to DefaultBufferSize.
	BufferSize int
}

// Console is a console device.
type Console struct {
	k    *kernel.Kernel
	info hw.ComponentInfo
	out  io.Writer
	tx   *circbuf.Buffer
	rx   *circbuf.Buffer

	// mu protects pending, the input received from the host but not yet
	// moved to rx by the interrupt handler.
	mu      sync.Mutex
	pending []byte

	intc *hw.InterruptController
	irq  hw.IRQ

	// dropped counts input bytes lost to a full receive buffer.
	dropped atomic.Uint64
}

// New returns a console of k. It does not transmit until Start is called.
func New(k *kernel.Kernel, opts Options) (*Console, error) {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	tx, err := circbuf.New(k, size)
	if err != nil {
		return nil, err
	}
	rx, err := circbuf.New(k, size)
	if err != nil {
		return nil, err
	}
	info := opts.Info
	info.Type = hw.TypeConsole
	c := &Console{
		k:    k,
		info: info,
		out:  opts.Output,
		tx:   tx,
		rx:   rx,
		intc: opts.Intc,
		irq:  opts.IRQ,
	}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.intc != nil {
		if _, err := c.intc.AddHandler(c.irq, c.handleInput); err != nil {
			return nil, fmt.Errorf("console %s: %w", info.ID, err)
		}
		if err := c.intc.Enable(c.irq); err != nil {
			return nil, fmt.Errorf("console %s: %w", info.ID, err)
		}
	}
	return c, nil
}

// Info implements hw.Component.Info.
func (c *Console) Info() hw.ComponentInfo {
	return c.info
}

// Start spawns the daemon that drains the transmit buffer.
func (c *Console) Start(priority uint8) (*kernel.Process, error) {
	return c.k.Spawn(kernel.SpawnOptions{
		Name:     "console-" + c.info.ID,
		Main:     c.transmit,
		Priority: priority,
		Daemon:   true,
	})
}

// transmit moves queued output to the host writer. Bytes stay queued until
// the writer has accepted them.
func (c *Console) transmit(p *kernel.Process, _ any) int {
	buf := make([]byte, c.tx.Cap())
	for {
		g, n, err := c.tx.Peek(buf, true)
		if err != nil {
			log.Warningf("Console %s stopped: %v", c.info.ID, err)
			return 1
		}
		sent, err := c.out.Write(buf[:n])
		if sent >= n {
			g.Complete(true)
			continue
		}
		g.Complete(false)
		if sent > 0 {
			// Only this process reads tx, so the same bytes are still at
			// the head.
			c.tx.Read(buf[:sent], false)
		}
		if err != nil {
			log.Debugf("Console %s output failed after %d/%d bytes: %v", c.info.ID, sent, n, err)
		}
		// Give the host time to drain.
		c.k.Msleep(1)
	}
}

// Write queues p for transmission, blocking while the transmit buffer is
// full. It must be called from process context.
func (c *Console) Write(p []byte) (int, error) {
	done := 0
	for done < len(p) {
		n, err := c.tx.Write(p[done:min(len(p), done+c.tx.Cap())], true)
		done += n
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// flushStall is how many milliseconds Flush waits on a writer that accepts
// nothing.
const flushStall = 1000

// Flush waits until all queued output has reached the host writer. It gives
// up and returns false if the writer stops making progress.
func (c *Console) Flush() bool {
	stalled := 0
	for last := c.tx.Len(); last > 0; {
		c.k.Msleep(1)
		n := c.tx.Len()
		if n < last {
			stalled = 0
		} else {
			stalled++
		}
		if stalled >= flushStall {
			log.Warningf("Console %s: %d bytes not flushed", c.info.ID, n)
			return false
		}
		last = n
	}
	return true
}

// Read reads received input. A blocking read waits for at least one byte.
func (c *Console) Read(p []byte, blocking bool) (int, error) {
	return c.rx.Read(p, blocking)
}

// Input hands bytes typed on the host to the console. It is safe to call
// from any goroutine.
func (c *Console) Input(p []byte) {
	if c.intc == nil {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, p...)
	c.mu.Unlock()
	c.intc.Raise(c.irq)
}

// handleInput runs in interrupt context and moves pending input to rx.
func (c *Console) handleInput(hw.IRQ) hw.IRQReturn {
	c.mu.Lock()
	in := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(in) == 0 {
		return hw.IRQNotHandled
	}
	if free := c.rx.Cap() - c.rx.Len(); len(in) > free {
		c.dropped.Add(uint64(len(in) - free))
		in = in[:free]
	}
	c.rx.Write(in, false)
	return hw.IRQHandled
}

// Dropped returns the number of input bytes lost to a full receive buffer.
func (c *Console) Dropped() uint64 {
	return c.dropped.Load()
}

// CreateFile exposes c as the file name in dir, a pseudofs directory.
// Reads return the input received so far without blocking; writes block
// until they are queued.
func (c *Console) CreateFile(v *vfs.VFS, dir *vfs.Dentry, name string) (*vfs.Dentry, error) {
	return pseudofs.CreateCustomRWFile(v, dir, name,
		func(to []byte, _ int64) (int, error) { return c.Read(to, false) },
		func(from []byte, _ int64) (int, error) { return c.Write(from) })
}
