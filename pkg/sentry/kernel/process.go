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

	"laritos.dev/laritos/pkg/ilist"
	"laritos.dev/laritos/pkg/refs"
	"laritos.dev/laritos/pkg/sentry/arch"
	"laritos.dev/laritos/pkg/sentry/ktime"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// PID identifies a process. It is the process's slot in the process table,
// so PIDs are reused once a process is freed.
type PID int32

// ProcessMain is the body of a process. Its return value is the process's
// exit status.
type ProcessMain func(p *Process, arg any) int

// ExitStatusKilled is the exit status of a process killed by someone else.
const ExitStatusKilled = -1

// Status is the scheduling state of a process.
type Status uint8

// Process states. A process moves NotInit -> Ready <-> Running, Running ->
// Blocked -> Ready, and from any state to Zombie, where it stays until its
// parent reaps it.
const (
	StatusNotInit Status = iota
	StatusReady
	StatusRunning
	StatusBlocked
	StatusZombie
	numStatuses
)

var statusNames = [...]string{
	StatusNotInit: "NOT_INIT",
	StatusReady:   "READY",
	StatusRunning: "RUNNING",
	StatusBlocked: "BLOCKED",
	StatusZombie:  "ZOMBIE",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Syscall is a kernel entry point whose calls are counted per process.
type Syscall int

// Counted entry points.
const (
	SyscallExit Syscall = iota
	SyscallYield
	SyscallSleep
	SyscallWaitFor
	NumSyscalls
)

var syscallNames = [...]string{
	SyscallExit:    "exit",
	SyscallYield:   "yield",
	SyscallSleep:   "sleep",
	SyscallWaitFor: "waitfor",
}

func (s Syscall) String() string {
	if s >= 0 && int(s) < len(syscallNames) {
		return syscallNames[s]
	}
	return fmt.Sprintf("Syscall(%d)", s)
}

// Process is a process control block.
//
// A *Process is only valid until its parent reaps it. Its slot then goes back
// to the process table and is reused by the next spawn, so a handle kept
// past WaitFor may name an unrelated process. Until the slot is reused the
// handle reads as NOT_INIT and operations on it fail with ESRCH.
//
// Fields documented as protected by procData must only be accessed with
// Kernel.procData held; the exported accessors take it.
type Process struct {
	refs.AtomicRefCount

	k   *Kernel
	pid PID

	// The following fields are immutable once the process is registered.
	name      string
	cmd       string
	kernel    bool
	daemon    bool
	stackSize uint32
	main      ProcessMain
	arg       any
	ctx       *arch.Context
	startTime ktime.Time

	// globalEntry links the process into Kernel.all. Protected by
	// procList.
	globalEntry ilist.Entry[Process]

	// All of the following fields are protected by procData.
	status       Status
	priority     uint8
	parent       *Process
	children     ilist.List[Process, siblingLinker]
	siblingEntry ilist.Entry[Process]

	// schedEntry links the process into the ready queue.
	schedEntry ilist.Entry[Process]

	// blockedEntry links the process into blockedOn's waiters.
	blockedEntry ilist.Entry[Process]
	blockedOn    *Condition

	exitStatus int

	// sleeping is set while sleepTimer may wake the process.
	sleeping   bool
	sleepTimer *ktime.VTimer

	// unwinding is set while a dead process runs its pending deferred
	// calls. It is only touched by the goroutine holding the CPU.
	unwinding bool

	// ticks accumulates the OS ticks spent in each status, up to
	// lastChange.
	ticks      [numStatuses]uint64
	lastChange uint64

	// syscalls counts the calls to each counted entry point.
	syscalls [NumSyscalls]uint64

	// parentWait is notified when the process becomes a zombie.
	parentWait Condition

	// childExit is notified when a child becomes a zombie.
	childExit Condition

	// cwd and fds are only touched by the process itself, and by its
	// reaper once it is a zombie.
	cwd *vfs.Dentry
	fds *vfs.FDTable
}

type globalLinker struct{}

func (globalLinker) Link(p *Process) *ilist.Entry[Process] { return &p.globalEntry }

type schedLinker struct{}

func (schedLinker) Link(p *Process) *ilist.Entry[Process] { return &p.schedEntry }

type siblingLinker struct{}

func (siblingLinker) Link(p *Process) *ilist.Entry[Process] { return &p.siblingEntry }

type blockedLinker struct{}

func (blockedLinker) Link(p *Process) *ilist.Entry[Process] { return &p.blockedEntry }

// Kernel returns the kernel p runs on.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// PID returns the process ID.
func (p *Process) PID() PID {
	return p.pid
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// Cmd returns the command line the process was started with.
func (p *Process) Cmd() string {
	return p.cmd
}

// IsKernel returns true for kernel processes.
func (p *Process) IsKernel() bool {
	return p.kernel
}

// IsDaemon returns true for processes that do not keep the kernel alive.
func (p *Process) IsDaemon() bool {
	return p.daemon
}

// StackSize returns the stack size the process was created with.
func (p *Process) StackSize() uint32 {
	return p.stackSize
}

// StartTime returns when the process was registered.
func (p *Process) StartTime() ktime.Time {
	return p.startTime
}

// Context returns the saved execution context of p.
func (p *Process) Context() *arch.Context {
	return p.ctx
}

// Status returns the scheduling state of p.
func (p *Process) Status() Status {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	return p.status
}

// Priority returns the priority of p. Lower values are more important.
func (p *Process) Priority() uint8 {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	return p.priority
}

// Parent returns the parent of p, or nil.
func (p *Process) Parent() *Process {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	return p.parent
}

// PPID returns the parent's PID, or -1 if p has no parent.
func (p *Process) PPID() PID {
	if parent := p.Parent(); parent != nil {
		return parent.pid
	}
	return -1
}

// Children returns the children of p in creation order.
func (p *Process) Children() []*Process {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	var children []*Process
	for c := range p.children.All() {
		children = append(children, c)
	}
	return children
}

// ExitStatus returns the exit status of a zombie process.
func (p *Process) ExitStatus() (int, bool) {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	return p.exitStatus, p.status == StatusZombie
}

// TicksIn returns the number of OS ticks p has spent in status s.
func (p *Process) TicksIn(s Status) uint64 {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	t := p.ticks[s]
	if p.status == s {
		t += p.k.osTicks.Load() - p.lastChange
	}
	return t
}

// SyscallCount returns the number of times p called sc.
func (p *Process) SyscallCount(sc Syscall) uint64 {
	st := p.k.procData.Acquire()
	defer p.k.procData.Release(st)
	return p.syscalls[sc]
}

// CWD implements vfs.ProcessContext.CWD.
func (p *Process) CWD() *vfs.Dentry {
	return p.cwd
}

// SetCWD changes the working directory of p.
func (p *Process) SetCWD(d *vfs.Dentry) {
	p.cwd = d
}

// FDTable implements vfs.ProcessContext.FDTable.
func (p *Process) FDTable() *vfs.FDTable {
	return p.fds
}

func (p *Process) String() string {
	return fmt.Sprintf("%s(pid=%d)", p.name, p.pid)
}

// RefType implements refs.CheckedObject.RefType.
func (p *Process) RefType() string {
	return "kernel.Process"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (p *Process) LeakMessage() string {
	return fmt.Sprintf("[kernel.Process %p] %v reachable after the kernel halted", p, p)
}

// ProcessObserver is told about processes entering and leaving the process
// table. Both methods are called without kernel locks held, so they may
// block.
type ProcessObserver interface {
	// ProcessRegistered is called right before p becomes schedulable.
	ProcessRegistered(p *Process)

	// ProcessReaped is called once p's parent collected its exit status.
	ProcessReaped(p *Process)
}

// AddObserver registers o. It must be called before Run.
func (k *Kernel) AddObserver(o ProcessObserver) {
	k.observers = append(k.observers, o)
}
