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

// Package kernel provides the process and scheduling core of laritOS.
//
// A Kernel owns one CPU. Processes are goroutines, but only the process the
// CPU is currently running executes; the rest are parked in their
// arch.Context. Interrupts raised by devices are delivered by the running
// process at safe points: when it re-enables interrupts, when it yields and
// while the idle process waits for interrupts.
//
// Lock order (outermost locks must be taken first):
//
//	Kernel.procList
//	  Spinlocks guarding Condition predicates
//	    Kernel.procData
//
// Kernel.procData protects every mutable Process field that the scheduler
// reads, the ready queue and the blocked lists of all Conditions.
package kernel

import (
	"fmt"
	"sync/atomic"
	"time"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/ilist"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/refs"
	"laritos.dev/laritos/pkg/slab"
	"laritos.dev/laritos/pkg/sentry/arch"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/ktime"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Policy names a scheduling policy.
type Policy string

const (
	// PolicyPreemptRR preempts the running process on every scheduler tick,
	// so processes of equal priority take turns.
	PolicyPreemptRR Policy = "preempt-rr"

	// PolicyCoopFIFO only switches processes at suspension points and
	// priority changes.
	PolicyCoopFIFO Policy = "coop-fifo"
)

// Default tunables.
const (
	DefaultTick            = 10 * time.Millisecond
	DefaultMaxProcesses    = 64
	DefaultMaxFDs          = 16
	DefaultLowestPriority  = 255
	DefaultMaxUserPriority = 10
	DefaultStackSize       = 8196
)

// SoftIRQShutdown is the interrupt line Shutdown raises to stop the kernel
// from outside.
const SoftIRQShutdown hw.IRQ = hw.MaxIRQs - 1

// Options configures a Kernel.
type Options struct {
	// Timer drives the scheduler tick and all virtual timers. It must raise
	// its interrupt on Intc. Required.
	Timer hw.Timer

	// Intc is the interrupt controller the CPU takes interrupts from.
	// Required.
	Intc *hw.InterruptController

	// Policy is the scheduling policy. Defaults to PolicyPreemptRR.
	Policy Policy

	// Tick is the scheduler tick period.
	Tick time.Duration

	// MaxProcesses bounds the process table.
	MaxProcesses int

	// MaxFDs bounds each process's file descriptor table.
	MaxFDs int

	// LowestPriority is the numerically largest priority. The idle process
	// runs at it and init ten levels above.
	LowestPriority uint8

	// MaxUserPriority is the numerically smallest priority a user process
	// may have.
	MaxUserPriority uint8

	// VFS, if set, gives processes a working directory. Init starts at its
	// root and children inherit their parent's.
	VFS *vfs.VFS

	// BuildInfo is appended to Version().Version.
	BuildInfo string
}

func (o *Options) setDefaults() error {
	if o.Timer == nil || o.Intc == nil {
		return fmt.Errorf("kernel needs a timer and an interrupt controller: %w", kerr.EINVAL)
	}
	switch o.Policy {
	case "":
		o.Policy = PolicyPreemptRR
	case PolicyPreemptRR, PolicyCoopFIFO:
	default:
		return fmt.Errorf("unknown scheduling policy %q: %w", o.Policy, kerr.EINVAL)
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.MaxProcesses <= 0 {
		o.MaxProcesses = DefaultMaxProcesses
	}
	if o.MaxFDs <= 0 {
		o.MaxFDs = DefaultMaxFDs
	}
	if o.LowestPriority == 0 {
		o.LowestPriority = DefaultLowestPriority
	}
	if o.MaxUserPriority == 0 {
		o.MaxUserPriority = DefaultMaxUserPriority
	}
	if o.LowestPriority < 20 || o.MaxUserPriority >= o.LowestPriority-10 {
		return fmt.Errorf("priority range %d..%d too narrow: %w", o.MaxUserPriority, o.LowestPriority, kerr.EINVAL)
	}
	return nil
}

// Kernel is a single-CPU laritOS kernel.
type Kernel struct {
	opts Options

	// intc and mux are immutable.
	intc *hw.InterruptController
	mux  *ktime.Multiplexer

	// idler is set if the timer can fast-forward an idle CPU.
	idler hw.Idler

	cpu *CPU

	// procList protects procs and the global list.
	procList Spinlock
	procs    *slab.Slab[Process]
	all      ilist.List[Process, globalLinker]

	// procData is the scheduling data lock.
	procData Spinlock

	// init is the first process. It is set once by Run.
	init *Process

	// idle is the idle process.
	idle *Process

	// processMode is set once init runs. Before that there is no current
	// process and spawned processes have no parent.
	processMode atomic.Bool

	started atomic.Bool
	halted  chan struct{}

	// exitStatus is the status Run returns. It is written by init before
	// halted is closed.
	exitStatus int

	tick    *ktime.VTimer
	osTicks atomic.Uint64

	ctxSwitches atomic.Uint64

	// warn throttles warnings that a broken process could otherwise emit in
	// a loop.
	warn log.Logger

	observers    []ProcessObserver
	components   componentRegistry
	shutdownOnce atomic.Bool
}

// New returns a kernel that has not started running yet.
func New(opts Options) (*Kernel, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	k := &Kernel{
		opts:   opts,
		intc:   opts.Intc,
		procs:  slab.New[Process](opts.MaxProcesses),
		halted: make(chan struct{}),
		warn:   log.BasicRateLimitedLogger(time.Second),
	}
	k.cpu = &CPU{k: k}
	k.procList.Init(k)
	k.procData.Init(k)
	k.components.lock.Init(k)
	if idler, ok := opts.Timer.(hw.Idler); ok {
		k.idler = idler
	}
	if _, err := k.intc.AddHandler(SoftIRQShutdown, k.handleShutdown); err != nil {
		return nil, err
	}
	if err := k.intc.Enable(SoftIRQShutdown); err != nil {
		return nil, err
	}
	k.mux = ktime.NewMultiplexer(opts.Timer)
	return k, nil
}

// Intc returns the interrupt controller the CPU takes interrupts from.
func (k *Kernel) Intc() *hw.InterruptController {
	return k.intc
}

// Timers returns the kernel's virtual timer multiplexer.
func (k *Kernel) Timers() *ktime.Multiplexer {
	return k.mux
}

// Now returns the time elapsed since the timer started counting.
func (k *Kernel) Now() ktime.Time {
	return k.mux.Now()
}

// Policy returns the scheduling policy in use.
func (k *Kernel) Policy() Policy {
	return k.opts.Policy
}

// VFS returns the VFS processes resolve paths against, or nil.
func (k *Kernel) VFS() *vfs.VFS {
	return k.opts.VFS
}

// InitPriority is the priority of the init process.
func (k *Kernel) InitPriority() uint8 {
	return k.opts.LowestPriority - 10
}

// LowestPriority is the priority of the idle process.
func (k *Kernel) LowestPriority() uint8 {
	return k.opts.LowestPriority
}

// Init returns the init process, or nil before Run.
func (k *Kernel) Init() *Process {
	return k.init
}

// Run boots the kernel. It starts init, which spawns the idle process and
// then main as a kernel process with arg. Run returns main's exit status once
// init has reaped every non-daemon process.
func (k *Kernel) Run(main ProcessMain, arg any) (int, error) {
	if !k.started.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("kernel already started: %w", kerr.EBUSY)
	}
	log.SetContextTag(k.contextTag)
	defer log.SetContextTag(nil)

	initProc, err := k.spawn(spawnArgs{
		name:      "init",
		main:      k.initMain,
		arg:       initArgs{main: main, arg: arg},
		stackSize: DefaultStackSize,
		priority:  k.InitPriority(),
		kernel:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("creating init: %w", err)
	}
	if v := k.opts.VFS; v != nil {
		initProc.cwd = v.Root()
	}
	k.init = initProc
	k.tick = k.mux.AddDuration(k.opts.Tick, k.onTick, true)

	st := k.procData.Acquire()
	k.moveToRunningLocked(initProc)
	k.cpu.current.Store(initProc)
	k.procData.Release(st)

	k.processMode.Store(true)
	log.Infof("Process mode started (%s scheduler)", k.opts.Policy)
	arch.Restore(initProc.ctx)

	<-k.halted
	k.mux.Remove(k.tick)
	k.opts.Timer.Disable()
	for _, p := range k.procs.All() {
		k.unwind(p)
		if p == initProc {
			refs.Unregister(p)
		}
	}
	return k.exitStatus, nil
}

// halt stops the kernel with status. It is called by init as its last act.
func (k *Kernel) halt(status int) {
	log.Infof("Halting with status %d after %d context switches", status, k.ctxSwitches.Load())
	k.exitStatus = status
	k.processMode.Store(false)
	k.cpu.current.Store(nil)
	close(k.halted)
}

// Shutdown asks a running kernel to stop: every process but init is killed,
// and Run returns once init has reaped them. It is safe to call from any
// goroutine, any number of times.
func (k *Kernel) Shutdown() {
	k.shutdownOnce.Store(true)
	k.intc.Raise(SoftIRQShutdown)
}

func (k *Kernel) handleShutdown(hw.IRQ) hw.IRQReturn {
	if !k.shutdownOnce.Load() || !k.processMode.Load() {
		return hw.IRQNotHandled
	}
	log.Infof("Shutdown requested, killing all processes")
	st := k.procData.Acquire()
	for p := range k.all.All() {
		if p != k.init {
			k.killLocked(p, ExitStatusKilled)
		}
	}
	k.procData.Release(st)
	return hw.IRQHandled
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	// CtxSwitches counts context switches since boot.
	CtxSwitches uint64

	// OSTicks counts scheduler ticks since boot.
	OSTicks uint64
}

// Stats returns the scheduler counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		CtxSwitches: k.ctxSwitches.Load(),
		OSTicks:     k.osTicks.Load(),
	}
}

// onTick runs from the timer interrupt every scheduler tick.
func (k *Kernel) onTick() {
	k.osTicks.Add(1)
	if k.opts.Policy == PolicyPreemptRR {
		k.cpu.needResched = true
	}
}

func (k *Kernel) contextTag() string {
	if p := k.cpu.current.Load(); p != nil {
		return fmt.Sprintf("[pid %d]", p.pid)
	}
	return "[kernel]"
}
