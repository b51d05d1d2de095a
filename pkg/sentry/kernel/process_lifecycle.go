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
	"strings"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/refs"
	"laritos.dev/laritos/pkg/sentry/arch"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// SpawnOptions describes a new process.
type SpawnOptions struct {
	// Name is the process name.
	Name string

	// Cmd is the command line shown in sysfs. Defaults to Name.
	Cmd string

	// Main is the process body. Required.
	Main ProcessMain

	// Arg is passed to Main.
	Arg any

	// StackSize is recorded for introspection. Defaults to
	// DefaultStackSize.
	StackSize uint32

	// Priority is the initial priority. Lower values are more important.
	Priority uint8

	// User marks a user process, whose priority may not be more important
	// than Options.MaxUserPriority.
	User bool

	// Daemon marks a process that does not keep the kernel running: once
	// only daemons are left, init kills them and halts.
	Daemon bool
}

type spawnArgs struct {
	name      string
	cmd       string
	main      ProcessMain
	arg       any
	stackSize uint32
	priority  uint8
	kernel    bool
	daemon    bool
}

// SpawnKernelProcess creates a kernel process running main(arg) and makes it
// ready. If it is more important than the caller, it runs before
// SpawnKernelProcess returns.
func (k *Kernel) SpawnKernelProcess(name string, main ProcessMain, arg any, stackSize uint32, priority uint8) (*Process, error) {
	return k.Spawn(SpawnOptions{
		Name:      name,
		Main:      main,
		Arg:       arg,
		StackSize: stackSize,
		Priority:  priority,
	})
}

// Spawn creates a process as described by opts and makes it ready. In
// process mode the caller becomes its parent.
func (k *Kernel) Spawn(opts SpawnOptions) (*Process, error) {
	if opts.Main == nil {
		return nil, fmt.Errorf("process %q has no main function: %w", opts.Name, kerr.EINVAL)
	}
	return k.spawn(spawnArgs{
		name:      opts.Name,
		cmd:       opts.Cmd,
		main:      opts.Main,
		arg:       opts.Arg,
		stackSize: opts.StackSize,
		priority:  opts.Priority,
		kernel:    !opts.User,
		daemon:    opts.Daemon,
	})
}

func (k *Kernel) spawn(a spawnArgs) (*Process, error) {
	if !a.kernel && a.priority < k.opts.MaxUserPriority {
		log.Warningf("Invalid priority %d for user process %q, max priority is %d", a.priority, a.name, k.opts.MaxUserPriority)
		return nil, fmt.Errorf("priority %d above user maximum %d: %w", a.priority, k.opts.MaxUserPriority, kerr.EINVAL)
	}
	p, err := k.allocProcess()
	if err != nil {
		log.Warningf("Could not allocate a process for %q: %v", a.name, err)
		return nil, err
	}
	if a.name != "" {
		p.name = a.name
	}
	p.cmd = a.cmd
	if p.cmd == "" {
		p.cmd = p.name
	}
	p.main = a.main
	p.arg = a.arg
	p.kernel = a.kernel
	p.daemon = a.daemon
	p.stackSize = a.stackSize
	if p.stackSize == 0 {
		p.stackSize = DefaultStackSize
	}
	p.priority = a.priority
	p.ctx = arch.NewContext(func() { k.processEntry(p) })
	if cur := k.Current(); cur != nil {
		p.cwd = cur.cwd
	}
	log.Debugf("Spawning %s process %q with priority %d", kindOf(p), p.name, p.priority)

	for _, o := range k.observers {
		o.ProcessRegistered(p)
	}
	// A more important child runs as soon as register drops its locks.
	k.register(p)
	return p, nil
}

func kindOf(p *Process) string {
	if p.kernel {
		return "kernel"
	}
	return "user"
}

// allocProcess takes a free process slot. The slot index is the PID.
func (k *Kernel) allocProcess() (*Process, error) {
	st := k.procList.Acquire()
	pid, p, err := k.procs.Alloc()
	k.procList.Release(st)
	if err != nil {
		return nil, err
	}
	p.k = k
	p.pid = PID(pid)
	p.name = "?"
	p.status = StatusNotInit
	p.parentWait.Init(k)
	p.childExit.Init(k)
	p.fds = vfs.NewFDTable(k.opts.MaxFDs)
	refs.Register(p)
	return p, nil
}

// register links p into the process tree and the ready queue. This is the
// only place a process becomes schedulable.
func (k *Kernel) register(p *Process) {
	lst := k.procList.Acquire()
	dst := k.procData.Acquire()
	if parent := k.Current(); parent != nil {
		p.parent = parent
		parent.children.PushBack(p)
		// Held by the parent until it reaps p.
		p.IncRef()
	}
	p.startTime = k.Now()
	p.lastChange = k.osTicks.Load()
	k.all.PushBack(p)
	k.moveToReadyLocked(p)
	k.procData.Release(dst)
	k.procList.Release(lst)
}

// processEntry is the first code every process runs.
func (k *Kernel) processEntry(p *Process) {
	k.cpu.irqEnabled = true
	k.cpu.safePoint()
	status := k.runMain(p)
	if p == k.init {
		k.halt(status)
		return
	}
	k.exitCurrent(p, status)
}

// exitRequest unwinds a process calling Exit.
type exitRequest struct {
	status int
}

func (k *Kernel) runMain(p *Process) (status int) {
	defer func() {
		if r := recover(); r != nil {
			req, ok := r.(exitRequest)
			if !ok {
				panic(r)
			}
			status = req.status
		}
	}()
	return p.main(p, p.arg)
}

// Exit terminates the calling process with status. Deferred calls of the
// process run first. Exit does not return.
func (k *Kernel) Exit(status int) {
	k.countSyscall(SyscallExit)
	if cur := k.Current(); cur != nil && cur.unwinding {
		k.abandonUnwind(cur)
	}
	panic(exitRequest{status: status})
}

// exitCurrent closes the files of the running process p, turns it into a
// zombie and switches away for good.
func (k *Kernel) exitCurrent(p *Process, status int) {
	log.Debugf("Exiting %s process %v with status %d", kindOf(p), p, status)
	p.fds.CloseAll()
	st := k.cpu.DisableIRQ()
	dst := k.procData.Acquire()
	k.killLocked(p, status)
	k.procData.Release(dst)
	k.schedule()
	k.cpu.RestoreIRQ(st)
	panic(fmt.Sprintf("zombie %v was scheduled", p))
}

// Kill turns p into a zombie regardless of what it is doing. Killing the
// calling process does not return. init and idle cannot be killed. p must not
// have been reaped; a reaped process whose slot was not reused yet yields
// ESRCH. The pending deferred calls of p run when it is reaped, on the CPU
// and as p.
func (k *Kernel) Kill(p *Process) error {
	if p == k.init || p == k.idle {
		return fmt.Errorf("cannot kill %v: %w", p, kerr.EPERM)
	}
	st := k.procData.Acquire()
	if p.status == StatusNotInit {
		k.procData.Release(st)
		return fmt.Errorf("%v is not running: %w", p, kerr.ESRCH)
	}
	k.killLocked(p, ExitStatusKilled)
	k.procData.Release(st)
	return nil
}

// killLocked makes p a zombie with the given exit status. Its children are
// handed to its parent, or to init if it has none.
//
// Preconditions: k.procData is held.
func (k *Kernel) killLocked(p *Process, status int) {
	if p.status == StatusZombie || p.status == StatusNotInit {
		return
	}
	log.Debugf("Killing %v (%s) with status %d", p, p.status, status)
	p.exitStatus = status
	if p.sleeping {
		p.sleeping = false
		if p.sleepTimer != nil && k.mux.Remove(p.sleepTimer) {
			// The timer will not fire, so its reference goes now. The
			// registry still holds one, so this is never the last.
			p.DecRef()
		}
		p.sleepTimer = nil
	}

	heir := p.parent
	if heir == nil {
		heir = k.init
	}
	for c := range p.children.All() {
		p.children.Remove(c)
		c.parent = heir
		if heir != nil {
			heir.children.PushBack(c)
			if c.status == StatusZombie {
				heir.childExit.notifyAllLocked()
			}
		}
	}

	k.moveToZombieLocked(p)
	p.parentWait.notifyAllLocked()
	if p.parent != nil {
		p.parent.childExit.notifyAllLocked()
	}
	if p == k.cpu.current.Load() {
		k.cpu.needResched = true
	}
}

// WaitFor blocks until p, a child of the caller, exits and reaps it. It
// returns p's exit status.
func (k *Kernel) WaitFor(p *Process) (int, error) {
	cur := k.Current()
	k.countSyscall(SyscallWaitFor)
	if p == nil || p == cur {
		return 0, fmt.Errorf("cannot wait for %v: %w", p, kerr.ECHILD)
	}
	st := k.procData.Acquire()
	if p.parent != cur || cur == nil {
		k.procData.Release(st)
		return 0, fmt.Errorf("%v is not a child of %v: %w", p, cur, kerr.ECHILD)
	}
	for p.status != StatusZombie {
		p.parentWait.Wait(&k.procData, &st)
	}
	k.procData.Release(st)
	return k.reap(cur, p), nil
}

// WaitPID is WaitFor for the child with the given PID.
func (k *Kernel) WaitPID(pid PID) (int, error) {
	cur := k.Current()
	if cur == nil {
		return 0, fmt.Errorf("no current process: %w", kerr.ECHILD)
	}
	st := k.procData.Acquire()
	var child *Process
	for c := range cur.children.All() {
		if c.pid == pid {
			child = c
			break
		}
	}
	k.procData.Release(st)
	if child == nil {
		return 0, fmt.Errorf("pid %d is not a child of %v: %w", pid, cur, kerr.ECHILD)
	}
	return k.WaitFor(child)
}

// UnregisterZombieChildren reaps every zombie child of p without blocking
// and returns how many it reaped.
func (k *Kernel) UnregisterZombieChildren(p *Process) int {
	st := k.procData.Acquire()
	var zombies []*Process
	for c := range p.children.All() {
		if c.status == StatusZombie {
			zombies = append(zombies, c)
		}
	}
	k.procData.Release(st)
	for _, c := range zombies {
		k.reap(p, c)
	}
	return len(zombies)
}

// reap removes the zombie p from the process tree and the global list, and
// drops the references its parent and the registry hold. It returns p's exit
// status.
func (k *Kernel) reap(parent, p *Process) int {
	lst := k.procList.Acquire()
	dst := k.procData.Acquire()
	status := p.exitStatus
	if p.status != StatusZombie || p.parent != parent || !k.all.Linked(p) {
		// Somebody else got to it first.
		k.procData.Release(dst)
		k.procList.Release(lst)
		return status
	}
	hadParent := p.parent != nil
	if hadParent {
		p.parent.children.Remove(p)
		p.parent = nil
	}
	k.all.Remove(p)
	k.procData.Release(dst)
	k.procList.Release(lst)

	log.Debugf("Reaped %v with exit status %d", p, status)
	p.fds.CloseAll()
	for _, o := range k.observers {
		o.ProcessReaped(p)
	}
	if hadParent {
		k.decRef(p)
	}
	k.decRef(p)
	return status
}

// decRef drops a reference to p, freeing it with the last one. No kernel lock
// may be held.
func (k *Kernel) decRef(p *Process) {
	p.DecRefWithDestructor(func() { k.freeProcess(p) })
}

// freeProcess returns the slot of p to the process table. It runs when the
// last reference to p is dropped. The slot is reused by later processes, so
// p must not be used afterwards; until then, it reads as NOT_INIT.
func (k *Kernel) freeProcess(p *Process) {
	log.Debugf("Freeing %s process %v", kindOf(p), p)
	k.unwind(p)
	refs.Unregister(p)
	lst := k.procList.Acquire()
	dst := k.procData.Acquire()
	p.status = StatusNotInit
	k.procData.Release(dst)
	k.procs.Free(int(p.pid))
	k.procList.Release(lst)
}

// unwind releases the context of the dead process p. If p was switched out
// when it died, its goroutine first runs the pending deferred calls on the
// CPU, as the current process and with interrupts masked. Those calls must
// not block: one that tries is abandoned along with the calls after it.
//
// Preconditions: no kernel lock is held.
func (k *Kernel) unwind(p *Process) {
	c := k.cpu
	st := c.DisableIRQ()
	prev := c.current.Swap(p)
	p.unwinding = true
	p.ctx.Release()
	p.unwinding = false
	c.current.Store(prev)
	c.RestoreIRQ(st)
}

// countSyscall records a call to sc by the current process.
func (k *Kernel) countSyscall(sc Syscall) {
	cur := k.Current()
	if cur == nil {
		return
	}
	st := k.procData.Acquire()
	cur.syscalls[sc]++
	k.procData.Release(st)
}

// abandonUnwind ends the unwind of the dead process p, which tried to block
// or exit in a deferred call. It does not return.
func (k *Kernel) abandonUnwind(p *Process) {
	k.warn.Warningf("Dead process %v blocked or exited in a deferred call, skipping the rest", p)
	p.ctx.Abandon()
}

// SetPriority changes the priority of p. A ready process is requeued; a
// running process that became less important triggers a reschedule at the
// next safe point.
func (k *Kernel) SetPriority(p *Process, prio uint8) error {
	st := k.procData.Acquire()
	if !p.kernel && prio < k.opts.MaxUserPriority {
		k.procData.Release(st)
		log.Warningf("Invalid priority %d for user process %v, max priority is %d", prio, p, k.opts.MaxUserPriority)
		return fmt.Errorf("priority %d above user maximum %d: %w", prio, k.opts.MaxUserPriority, kerr.EINVAL)
	}
	if p.status == StatusNotInit {
		k.procData.Release(st)
		return fmt.Errorf("%v is not running: %w", p, kerr.ESRCH)
	}
	log.Debugf("Setting priority of %v to %d", p, prio)
	prev := p.priority
	p.priority = prio
	switch {
	case p.status == StatusReady:
		k.moveToReadyLocked(p)
	case p.status == StatusRunning && prio > prev:
		k.cpu.needResched = true
	}
	k.procData.Release(st)
	return nil
}

// Lookup returns the registered process with the given PID.
func (k *Kernel) Lookup(pid PID) (*Process, error) {
	st := k.procList.Acquire()
	defer k.procList.Release(st)
	for p := range k.all.All() {
		if p.pid == pid {
			return p, nil
		}
	}
	return nil, fmt.Errorf("pid %d: %w", pid, kerr.ESRCH)
}

// Processes returns all registered processes in registration order.
func (k *Kernel) Processes() []*Process {
	st := k.procList.Acquire()
	defer k.procList.Release(st)
	var ps []*Process
	for p := range k.all.All() {
		ps = append(ps, p)
	}
	return ps
}

// dumpProcesses describes every registered process.
//
// Preconditions: k.procData is held, k.procList is not.
func (k *Kernel) dumpProcesses() string {
	var b strings.Builder
	for p := range k.all.All() {
		ppid := PID(-1)
		if p.parent != nil {
			ppid = p.parent.pid
		}
		fmt.Fprintf(&b, "pid=%d ppid=%d name=%q prio=%d status=%s ctx=%v\n", p.pid, ppid, p.name, p.priority, p.status, p.ctx)
	}
	return b.String()
}
