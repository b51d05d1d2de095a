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

package kernel_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/kernel/kerneltest"
	"laritos.dev/laritos/pkg/sentry/ktime"
)

// spawn starts a kernel process from within a running process. Failures are
// reported with Errorf, since process bodies do not run on the test
// goroutine.
func spawn(t *testing.T, k *kernel.Kernel, name string, prio uint8, main kernel.ProcessMain) *kernel.Process {
	t.Helper()
	p, err := k.SpawnKernelProcess(name, main, nil, 0, prio)
	if err != nil {
		t.Errorf("SpawnKernelProcess(%q): %v", name, err)
	}
	return p
}

func wait(t *testing.T, k *kernel.Kernel, p *kernel.Process) int {
	t.Helper()
	if p == nil {
		return 0
	}
	status, err := k.WaitFor(p)
	if err != nil {
		t.Errorf("WaitFor(%v): %v", p, err)
	}
	return status
}

func names(ps []*kernel.Process, keep func(*kernel.Process) bool) []string {
	var ns []string
	for _, p := range ps {
		if keep == nil || keep(p) {
			ns = append(ns, p.Name())
		}
	}
	return ns
}

func TestRunReturnsMainStatus(t *testing.T) {
	_, status := kerneltest.Boot(t, nil, func(p *kernel.Process, _ any) int {
		if got, want := p.Name(), "main"; got != want {
			t.Errorf("main process name = %q, want %q", got, want)
		}
		if got := p.Status(); got != kernel.StatusRunning {
			t.Errorf("main status = %s, want RUNNING", got)
		}
		return 42
	})
	if status != 42 {
		t.Errorf("Run = %d, want 42", status)
	}
}

func TestRunTwice(t *testing.T) {
	k, _ := kerneltest.Boot(t, nil, func(*kernel.Process, any) int { return 0 })
	if _, err := k.Run(func(*kernel.Process, any) int { return 0 }, nil); !errors.Is(err, kerr.EBUSY) {
		t.Errorf("second Run: got %v, want EBUSY", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(*kernel.Options)
	}{
		{"no timer", func(o *kernel.Options) { o.Timer = nil }},
		{"unknown policy", func(o *kernel.Options) { o.Policy = "lottery" }},
		{"narrow priorities", func(o *kernel.Options) { o.LowestPriority = 12 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			intc := hw.NewInterruptController(hw.ComponentInfo{ID: "intc0"})
			timer, err := hw.NewVirtualTimer(hw.ComponentInfo{ID: "timer0"}, kerneltest.Frequency, intc, kerneltest.TimerIRQ)
			if err != nil {
				t.Fatalf("NewVirtualTimer: %v", err)
			}
			opts := kernel.Options{Timer: timer, Intc: intc}
			tc.mod(&opts)
			if _, err := kernel.New(opts); !errors.Is(err, kerr.EINVAL) {
				t.Errorf("New: got %v, want EINVAL", err)
			}
		})
	}
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	var order []string
	started := make(map[string]ktime.Time)
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if err := k.SetPriority(p, 0); err != nil {
			t.Errorf("SetPriority: %v", err)
		}
		var children []*kernel.Process
		for _, prio := range []uint8{3, 2, 1} {
			name := fmt.Sprintf("prio%d", prio)
			children = append(children, spawn(t, k, name, prio, func(*kernel.Process, any) int {
				order = append(order, name)
				started[name] = k.Now()
				return 0
			}))
		}
		if len(order) != 0 {
			t.Errorf("children ran before main blocked: %v", order)
		}
		for _, c := range children {
			wait(t, k, c)
		}
		return 0
	})
	if diff := cmp.Diff([]string{"prio1", "prio2", "prio3"}, order); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
	if !started["prio1"].Before(started["prio2"]) || !started["prio2"].Before(started["prio3"]) {
		t.Errorf("start times not increasing: %v", started)
	}
}

func TestMoreImportantChildPreemptsParent(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		ran := false
		c := spawn(t, k, "eager", 5, func(*kernel.Process, any) int {
			ran = true
			return 0
		})
		if !ran {
			t.Errorf("child of priority 5 did not run before Spawn returned")
		}
		wait(t, k, c)
		return 0
	})
}

func TestWaitForSleepingChild(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		a := spawn(t, k, "A", 5, func(*kernel.Process, any) int {
			b := spawn(t, k, "B", 10, func(*kernel.Process, any) int {
				k.Sleep(3 * time.Second)
				return 12345
			})
			start := k.Now()
			if got := wait(t, k, b); got != 12345 {
				t.Errorf("WaitFor(B) = %d, want 12345", got)
			}
			elapsed := k.Now().Sub(start)
			if elapsed < 3*time.Second || elapsed > 3*time.Second+100*time.Millisecond {
				t.Errorf("WaitFor(B) took %v, want about 3s", elapsed)
			}
			return 0
		})
		wait(t, k, a)
		return 0
	})
}

func TestExitRunsDeferredCalls(t *testing.T) {
	k := kerneltest.New(t, nil)
	deferred := false
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "quitter", 10, func(*kernel.Process, any) int {
			defer func() { deferred = true }()
			k.Exit(7)
			t.Errorf("Exit returned")
			return 0
		})
		if got := c.Status(); got != kernel.StatusZombie {
			t.Errorf("child status = %s, want ZOMBIE", got)
		}
		if got, ok := c.ExitStatus(); !ok || got != 7 {
			t.Errorf("ExitStatus = %d, %t, want 7, true", got, ok)
		}
		if got := wait(t, k, c); got != 7 {
			t.Errorf("WaitFor = %d, want 7", got)
		}
		return 0
	})
	if !deferred {
		t.Errorf("deferred call did not run")
	}
}

func TestReapedChildIsGone(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "short", 10, func(*kernel.Process, any) int { return 0 })
		pid := c.PID()
		if got := names(p.Children(), nil); !cmp.Equal(got, []string{"short"}) {
			t.Errorf("children before reaping = %v", got)
		}
		wait(t, k, c)
		if got := p.Children(); len(got) != 0 {
			t.Errorf("children after reaping = %v, want none", got)
		}
		if _, err := k.Lookup(pid); !errors.Is(err, kerr.ESRCH) {
			t.Errorf("Lookup(%d) after reaping: got %v, want ESRCH", pid, err)
		}
		for _, q := range k.Processes() {
			if q.PID() == pid {
				t.Errorf("reaped pid %d still listed as %v", pid, q)
			}
		}
		return 0
	})
}

func TestWaitForRejectsNonChildren(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		for _, target := range []*kernel.Process{nil, p, k.Init()} {
			if _, err := k.WaitFor(target); !errors.Is(err, kerr.ECHILD) {
				t.Errorf("WaitFor(%v): got %v, want ECHILD", target, err)
			}
		}
		if _, err := k.WaitPID(1000); !errors.Is(err, kerr.ECHILD) {
			t.Errorf("WaitPID(1000): got %v, want ECHILD", err)
		}
		return 0
	})
}

func TestWaitPID(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "child", 10, func(*kernel.Process, any) int { return 3 })
		status, err := k.WaitPID(c.PID())
		if err != nil || status != 3 {
			t.Errorf("WaitPID = %d, %v, want 3, nil", status, err)
		}
		return 0
	})
}

func TestOrphansGoToGrandparent(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		sem := kernel.NewSemaphore(k, 0)
		parent := spawn(t, k, "parent", 5, func(*kernel.Process, any) int {
			c := spawn(t, k, "orphan", 6, func(*kernel.Process, any) int {
				sem.Acquire()
				return 0
			})
			return int(c.PID())
		})
		pid := kernel.PID(wait(t, k, parent))

		orphan, err := k.Lookup(pid)
		if err != nil {
			t.Errorf("Lookup(%d): %v", pid, err)
			return 1
		}
		if got := orphan.Parent(); got != p {
			t.Errorf("orphan parent = %v, want %v", got, p)
		}
		if got := names(p.Children(), nil); !cmp.Equal(got, []string{"orphan"}) {
			t.Errorf("children = %v, want [orphan]", got)
		}
		sem.Release()
		if got := wait(t, k, orphan); got != 0 {
			t.Errorf("orphan status = %d, want 0", got)
		}
		return 0
	})
}

func TestOrphansOfMainGoToInit(t *testing.T) {
	var grandchild kernel.PID
	k := kerneltest.New(t, nil)
	status := kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "leftover", 250, func(*kernel.Process, any) int {
			k.Msleep(100)
			return 0
		})
		grandchild = c.PID()
		return 9
	})
	// init only halts once it has reaped the orphan.
	if status != 9 {
		t.Errorf("Run = %d, want 9", status)
	}
	if _, err := k.Lookup(grandchild); !errors.Is(err, kerr.ESRCH) {
		t.Errorf("orphan %d still registered: %v", grandchild, err)
	}
}

func TestKill(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "sleeper", 10, func(*kernel.Process, any) int {
			k.Sleep(time.Hour)
			return 0
		})
		if got := c.Status(); got != kernel.StatusBlocked {
			t.Errorf("sleeper status = %s, want BLOCKED", got)
		}
		if err := k.Kill(c); err != nil {
			t.Errorf("Kill: %v", err)
		}
		if got := wait(t, k, c); got != kernel.ExitStatusKilled {
			t.Errorf("killed status = %d, want %d", got, kernel.ExitStatusKilled)
		}
		if err := k.Kill(k.Init()); !errors.Is(err, kerr.EPERM) {
			t.Errorf("Kill(init): got %v, want EPERM", err)
		}
		return 0
	})
}

func TestKilledProcessDefersRunAsItself(t *testing.T) {
	k := kerneltest.New(t, nil)
	var ranAs string
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		m := kernel.NewRMutex(k)
		sem := kernel.NewSemaphore(k, 0)
		c := spawn(t, k, "holder", 10, func(*kernel.Process, any) int {
			m.Acquire()
			defer m.Unlock()
			defer func() { ranAs = k.Current().Name() }()
			sem.Acquire()
			t.Errorf("killed process resumed")
			return 0
		})
		if owner, n := m.Owner(); owner != c || n != 1 {
			t.Errorf("Owner = %v, %d, want %v, 1", owner, n, c)
		}
		if err := k.Kill(c); err != nil {
			t.Errorf("Kill: %v", err)
		}
		wait(t, k, c)
		if ranAs != "holder" {
			t.Errorf("deferred call ran as %q, want %q", ranAs, "holder")
		}
		if got := k.Current(); got != p {
			t.Errorf("Current after reap = %v, want %v", got, p)
		}
		if owner, n := m.Owner(); owner != nil || n != 0 {
			t.Errorf("Owner after reap = %v, %d, want nil, 0", owner, n)
		}
		m.Acquire()
		if err := m.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
		k.Msleep(1)
		return 0
	})
}

func TestBlockingDeferOfKilledProcessIsSkipped(t *testing.T) {
	k := kerneltest.New(t, nil)
	var reached, after bool
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		sem := kernel.NewSemaphore(k, 0)
		c := spawn(t, k, "stuck", 10, func(*kernel.Process, any) int {
			defer func() { after = true }()
			defer func() {
				reached = true
				sem.Acquire()
				t.Errorf("blocking deferred call returned")
			}()
			sem.Acquire()
			return 0
		})
		if err := k.Kill(c); err != nil {
			t.Errorf("Kill: %v", err)
		}
		if got := wait(t, k, c); got != kernel.ExitStatusKilled {
			t.Errorf("killed status = %d, want %d", got, kernel.ExitStatusKilled)
		}
		if got := sem.Count(); got != 0 {
			t.Errorf("semaphore count = %d, want 0", got)
		}
		sem.Release()
		if got := sem.Count(); got != 1 {
			t.Errorf("semaphore count after Release = %d, want 1", got)
		}
		return 0
	})
	if !reached || after {
		t.Errorf("deferred calls: reached=%t after=%t, want true/false", reached, after)
	}
}

func TestKillUnlinksWaiter(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		lock := kernel.NewSpinlock(k)
		cond := kernel.NewCondition(k)
		c := spawn(t, k, "waiter", 10, func(*kernel.Process, any) int {
			st := lock.Acquire()
			cond.Wait(lock, &st)
			lock.Release(st)
			t.Errorf("killed waiter was woken")
			return 0
		})
		if got := cond.Waiters(); got != 1 {
			t.Errorf("Waiters = %d, want 1", got)
		}
		if err := k.Kill(c); err != nil {
			t.Errorf("Kill: %v", err)
		}
		if got := cond.Waiters(); got != 0 {
			t.Errorf("Waiters after Kill = %d, want 0", got)
		}
		wait(t, k, c)
		if got := cond.NotifyAll(); got != 0 {
			t.Errorf("NotifyAll after reap = %d, want 0", got)
		}
		if got := cond.NotifyOne(); got != nil {
			t.Errorf("NotifyOne after reap woke %v", got)
		}
		return 0
	})
}

func TestReapedHandleIsStale(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		c := spawn(t, k, "brief", 10, func(*kernel.Process, any) int { return 0 })
		wait(t, k, c)
		if got := c.Status(); got != kernel.StatusNotInit {
			t.Errorf("reaped status = %s, want NOT_INIT", got)
		}
		if err := k.Kill(c); !errors.Is(err, kerr.ESRCH) {
			t.Errorf("Kill(reaped): got %v, want ESRCH", err)
		}
		if err := k.SetPriority(c, 20); !errors.Is(err, kerr.ESRCH) {
			t.Errorf("SetPriority(reaped): got %v, want ESRCH", err)
		}
		return 0
	})
}

func TestInvalidContextIsKilled(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		ran := false
		victim := spawn(t, k, "victim", 250, func(*kernel.Process, any) int {
			ran = true
			return 0
		})
		victim.Context().Corrupt()
		if got := wait(t, k, victim); got != kernel.ExitStatusKilled {
			t.Errorf("victim status = %d, want %d", got, kernel.ExitStatusKilled)
		}
		if ran {
			t.Errorf("process with a corrupt context ran")
		}
		return 0
	})
}

func TestReadyQueueOrder(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if err := k.SetPriority(p, 0); err != nil {
			t.Errorf("SetPriority: %v", err)
		}
		var children []*kernel.Process
		for _, n := range []string{"a", "b", "c"} {
			children = append(children, spawn(t, k, n, 20, func(*kernel.Process, any) int { return 0 }))
		}
		mine := func(q *kernel.Process) bool { return q.Parent() == p }

		if diff := cmp.Diff([]string{"a", "b", "c"}, names(k.ReadyQueue(), mine)); diff != "" {
			t.Errorf("ready queue mismatch (-want +got):\n%s", diff)
		}
		if err := k.SetPriority(children[2], 15); err != nil {
			t.Errorf("SetPriority(c): %v", err)
		}
		if err := k.SetPriority(children[0], 20); err != nil {
			t.Errorf("SetPriority(a): %v", err)
		}
		if diff := cmp.Diff([]string{"c", "b", "a"}, names(k.ReadyQueue(), mine)); diff != "" {
			t.Errorf("ready queue after SetPriority mismatch (-want +got):\n%s", diff)
		}
		for _, c := range children {
			wait(t, k, c)
		}
		return 0
	})
}

func TestUserPriorityLimit(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		noop := func(*kernel.Process, any) int { return 0 }
		if _, err := k.Spawn(kernel.SpawnOptions{Name: "greedy", Main: noop, Priority: 5, User: true}); !errors.Is(err, kerr.EINVAL) {
			t.Errorf("Spawn user process at priority 5: got %v, want EINVAL", err)
		}
		u, err := k.Spawn(kernel.SpawnOptions{Name: "user", Main: noop, Priority: 250, User: true})
		if err != nil {
			t.Errorf("Spawn: %v", err)
			return 1
		}
		if u.IsKernel() {
			t.Errorf("user process reported as kernel process")
		}
		if err := k.SetPriority(u, 3); !errors.Is(err, kerr.EINVAL) {
			t.Errorf("SetPriority(user, 3): got %v, want EINVAL", err)
		}
		if got := u.Priority(); got != 250 {
			t.Errorf("priority after rejected change = %d, want 250", got)
		}
		wait(t, k, u)
		if _, err := k.Spawn(kernel.SpawnOptions{Name: "nobody"}); !errors.Is(err, kerr.EINVAL) {
			t.Errorf("Spawn without main: got %v, want EINVAL", err)
		}
		return 0
	})
}

func TestProcessTableFull(t *testing.T) {
	k := kerneltest.New(t, func(o *kernel.Options) { o.MaxProcesses = 4 })
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		// init, idle and main take three slots.
		c := spawn(t, k, "last", 250, func(*kernel.Process, any) int { return 0 })
		if _, err := k.SpawnKernelProcess("extra", func(*kernel.Process, any) int { return 0 }, nil, 0, 250); err == nil {
			t.Errorf("Spawn on a full process table succeeded")
		}
		wait(t, k, c)
		return 0
	})
}

func TestSleepAccounting(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		start := k.Now()
		k.Msleep(250)
		if elapsed := k.Now().Sub(start); elapsed < 250*time.Millisecond {
			t.Errorf("Msleep(250) returned after %v", elapsed)
		}
		k.Usleep(500)
		if got := p.TicksIn(kernel.StatusBlocked); got < 20 {
			t.Errorf("ticks blocked = %d, want at least 20", got)
		}
		return 0
	})
	if got := k.Stats(); got.OSTicks < 25 || got.CtxSwitches == 0 {
		t.Errorf("Stats = %+v, want at least 25 ticks and some switches", got)
	}
}

func TestShutdown(t *testing.T) {
	k := kerneltest.New(t, nil)
	started := make(chan struct{})
	go func() {
		<-started
		k.Shutdown()
	}()
	status := kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		spawn(t, k, "worker", 250, func(*kernel.Process, any) int {
			for {
				k.Sleep(time.Minute)
			}
		})
		close(started)
		for {
			k.Sleep(time.Hour)
		}
	})
	if status != kernel.ExitStatusKilled {
		t.Errorf("Run = %d, want %d", status, kernel.ExitStatusKilled)
	}
}

func TestDaemonDoesNotKeepKernelAlive(t *testing.T) {
	k := kerneltest.New(t, nil)
	status := kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		// Reparented to init when main exits.
		_, err := k.Spawn(kernel.SpawnOptions{
			Name:   "forever",
			Daemon: true,
			Main: func(*kernel.Process, any) int {
				for {
					k.Sleep(time.Second)
				}
			},
			Priority: 250,
		})
		if err != nil {
			t.Errorf("Spawn: %v", err)
		}
		return 0
	})
	if status != 0 {
		t.Errorf("Run = %d, want 0", status)
	}
}
