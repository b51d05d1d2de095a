// Copyright 2018 The gVisor Authors.
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

// Package arch provides the execution-context primitive used by the
// scheduler.
//
// Every process runs on its own goroutine, but only the goroutine holding the
// CPU executes. Handing the CPU over is explicit: Switch resumes the target
// context and parks the caller until someone switches back to it. This is the
// goroutine rendition of "save the current registers, load the target's".
package arch

import (
	"fmt"
	"runtime"
	"sync"
)

// contextMagic marks an intact Context.
const contextMagic = 0x1a717051

// Context is the saved execution state of a process.
type Context struct {
	// magic is contextMagic while the context is intact.
	magic uint32

	// entry is run on the context's goroutine the first time it is
	// resumed.
	entry func()

	// resume grants the CPU to the context.
	resume chan struct{}

	// dead is closed when the context is released.
	dead chan struct{}

	// parked is set while the context's goroutine waits in Switch. It is
	// only touched by whoever holds the CPU.
	parked bool

	// unwound is closed once a released context's goroutine is done with
	// its deferred calls. It is set by Release before the goroutine is
	// resumed.
	unwound chan struct{}

	started     bool
	releaseOnce sync.Once
}

// NewContext returns a context that will run entry when first resumed.
func NewContext(entry func()) *Context {
	return &Context{
		magic:  contextMagic,
		entry:  entry,
		resume: make(chan struct{}, 1),
		dead:   make(chan struct{}),
	}
}

// Valid returns true if c can be resumed.
func (c *Context) Valid() bool {
	return c != nil && c.magic == contextMagic && c.entry != nil
}

// Corrupt clobbers the context so that Valid returns false, as a stack
// overflow into the saved registers would.
func (c *Context) Corrupt() {
	c.magic = 0xdeadbeef
}

func (c *Context) String() string {
	return fmt.Sprintf("context %p (valid=%t)", c, c.Valid())
}

// Released returns true if Release was called.
func (c *Context) Released() bool {
	select {
	case <-c.dead:
		return true
	default:
		return false
	}
}

// Release discards the context. A goroutine parked in it is handed the CPU
// one last time to run its pending deferred calls, and Release returns once
// they are done and the goroutine has exited; no other process code runs.
// The caller must hold the CPU. Release is idempotent.
func (c *Context) Release() {
	c.releaseOnce.Do(func() {
		close(c.dead)
		if !c.parked {
			return
		}
		c.parked = false
		c.unwound = make(chan struct{})
		c.resume <- struct{}{}
		<-c.unwound
	})
}

// Abandon stops the unwind of a released context from its own goroutine:
// Release returns without running the remaining deferred calls, and the
// caller never returns.
func (c *Context) Abandon() {
	close(c.unwound)
	select {}
}

func (c *Context) grant() {
	if !c.started {
		c.started = true
		go c.run()
		return
	}
	c.resume <- struct{}{}
}

func (c *Context) run() {
	defer func() {
		if c.unwound != nil {
			close(c.unwound)
		}
	}()
	select {
	case <-c.dead:
		return
	default:
	}
	c.entry()
}

// park blocks until the context is granted the CPU again. If the context was
// released in the meantime, the goroutine unwinds instead of returning.
func (c *Context) park() {
	<-c.resume
	if c.Released() {
		runtime.Goexit()
	}
}

// Switch hands the CPU from the running context from to to, and returns once
// from is switched back in.
//
// Preconditions: the caller is running on from. to is Valid.
func Switch(from, to *Context) {
	if from == to {
		return
	}
	from.parked = true
	to.grant()
	from.park()
	from.parked = false
}

// Restore hands the CPU to to without saving the caller, which must not touch
// kernel state afterwards. It is used to start the first process and to
// leave a context for good.
//
// Preconditions: to is Valid.
func Restore(to *Context) {
	to.grant()
}
