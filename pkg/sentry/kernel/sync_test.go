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
	"testing"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/kernel/kerneltest"
)

func TestRMutexRecursion(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		m := kernel.NewRMutex(k)
		for range 3 {
			m.Acquire()
		}
		if owner, count := m.Owner(); owner != p || count != 3 {
			t.Errorf("Owner = %v, %d, want %v, 3", owner, count, p)
		}

		acquired := false
		contender := spawn(t, k, "contender", 5, func(c *kernel.Process, _ any) int {
			m.Acquire()
			acquired = true
			if owner, count := m.Owner(); owner != c || count != 1 {
				t.Errorf("Owner after handover = %v, %d, want %v, 1", owner, count, c)
			}
			if err := m.Release(); err != nil {
				t.Errorf("contender Release: %v", err)
			}
			return 0
		})
		if acquired {
			t.Errorf("contender acquired a mutex held by main")
		}

		intruder := spawn(t, k, "intruder", 5, func(*kernel.Process, any) int {
			if err := m.Release(); !errors.Is(err, kerr.EPERM) {
				t.Errorf("Release by non-owner: got %v, want EPERM", err)
			}
			return 0
		})
		wait(t, k, intruder)
		if owner, count := m.Owner(); owner != p || count != 3 {
			t.Errorf("Owner after foreign release = %v, %d, want %v, 3", owner, count, p)
		}

		for range 2 {
			if err := m.Release(); err != nil {
				t.Errorf("Release: %v", err)
			}
		}
		if acquired {
			t.Errorf("contender acquired the mutex while main still held it once")
		}
		if err := m.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
		if !acquired {
			t.Errorf("more important contender did not take over the released mutex")
		}
		wait(t, k, contender)

		if err := m.Release(); !errors.Is(err, kerr.EPERM) {
			t.Errorf("Release of a free mutex: got %v, want EPERM", err)
		}
		return 0
	})
}

func TestRMutexIsLocker(t *testing.T) {
	k := kerneltest.New(t, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		m := kernel.NewRMutex(k)
		m.Lock()
		m.Lock()
		m.Unlock()
		m.Unlock()
		if owner, count := m.Owner(); owner != nil || count != 0 {
			t.Errorf("Owner = %v, %d, want nil, 0", owner, count)
		}
		return 0
	})
}

func TestConditionWakesInOrder(t *testing.T) {
	k := kerneltest.New(t, nil)
	var woke []string
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		lock := kernel.NewSpinlock(k)
		cond := kernel.NewCondition(k)
		var waiters []*kernel.Process
		for _, n := range []string{"w1", "w2", "w3"} {
			waiters = append(waiters, spawn(t, k, n, 5, func(w *kernel.Process, _ any) int {
				st := lock.Acquire()
				if !lock.OwnedByCurrent() {
					t.Errorf("%v does not own the lock it acquired", w)
				}
				cond.Wait(lock, &st)
				woke = append(woke, w.Name())
				lock.Release(st)
				return 0
			}))
		}
		if got := cond.Waiters(); got != 3 {
			t.Errorf("Waiters = %d, want 3", got)
		}
		if got := cond.NotifyOne(); got != waiters[0] {
			t.Errorf("NotifyOne woke %v, want %v", got, waiters[0])
		}
		if got := cond.NotifyAll(); got != 2 {
			t.Errorf("NotifyAll = %d, want 2", got)
		}
		if got := cond.NotifyOne(); got != nil {
			t.Errorf("NotifyOne without waiters woke %v", got)
		}
		for _, w := range waiters {
			wait(t, k, w)
		}
		return 0
	})
	if diff := cmp.Diff([]string{"w1", "w2", "w3"}, woke); diff != "" {
		t.Errorf("wake order mismatch (-want +got):\n%s", diff)
	}
}

func TestSpinlockTryAcquire(t *testing.T) {
	k := kerneltest.New(t, nil)
	s := kernel.NewSpinlock(k)
	st, ok := s.TryAcquire()
	if !ok {
		t.Fatalf("TryAcquire of a free lock failed")
	}
	if _, ok := s.TryAcquire(); ok {
		t.Errorf("TryAcquire of a held lock succeeded")
	}
	s.Release(st)
	if k.CPU().IRQEnabled() != st.Enabled() {
		t.Errorf("interrupt state not restored")
	}
}

func TestSemaphore(t *testing.T) {
	k := kerneltest.New(t, nil)
	var trace []string
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		sem := kernel.NewSemaphore(k, 1)
		if !sem.TryAcquire() {
			t.Errorf("TryAcquire with one permit failed")
		}
		if sem.TryAcquire() {
			t.Errorf("TryAcquire without permits succeeded")
		}
		consumer := spawn(t, k, "consumer", 5, func(*kernel.Process, any) int {
			for range 2 {
				sem.Acquire()
				trace = append(trace, "consumed")
			}
			return 0
		})
		for range 2 {
			trace = append(trace, "produced")
			sem.Release()
		}
		wait(t, k, consumer)
		if got := sem.Count(); got != 0 {
			t.Errorf("Count = %d, want 0", got)
		}
		return 0
	})
	want := []string{"produced", "consumed", "produced", "consumed"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func busyPair(t *testing.T, policy kernel.Policy) []string {
	k := kerneltest.New(t, func(o *kernel.Options) { o.Policy = policy })
	var trace []string
	busy := func(p *kernel.Process, _ any) int {
		for range 3 {
			trace = append(trace, p.Name())
			start := k.Now()
			for k.Now().Sub(start) < 2*kernel.DefaultTick {
				// Interrupts are taken when they are re-enabled.
				k.CPU().EnableIRQ()
			}
		}
		return 0
	}
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if err := k.SetPriority(p, 0); err != nil {
			t.Errorf("SetPriority: %v", err)
		}
		a := spawn(t, k, "a", 5, busy)
		b := spawn(t, k, "b", 5, busy)
		wait(t, k, a)
		wait(t, k, b)
		return 0
	})
	if k.Stats().OSTicks == 0 {
		t.Errorf("no scheduler ticks counted")
	}
	return trace
}

func TestCooperativeFIFO(t *testing.T) {
	got := busyPair(t, kernel.PolicyCoopFIFO)
	if diff := cmp.Diff([]string{"a", "a", "a", "b", "b", "b"}, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestPreemptiveRoundRobin(t *testing.T) {
	got := busyPair(t, kernel.PolicyPreemptRR)
	if len(got) != 6 {
		t.Fatalf("trace = %v, want 6 entries", got)
	}
	if cmp.Equal([]string{"a", "a", "a", "b", "b", "b"}, got) {
		t.Errorf("processes of equal priority were not time-sliced: %v", got)
	}
}

func TestComponents(t *testing.T) {
	k := kerneltest.New(t, nil)
	ram0 := hw.NewRAMDisk(hw.ComponentInfo{ID: "ram0"}, 512, 8)
	ram1 := hw.NewRAMDisk(hw.ComponentInfo{ID: "ram1", Default: true}, 512, 8)
	for _, c := range []hw.Component{ram0, ram1} {
		if err := k.RegisterComponent(c); err != nil {
			t.Fatalf("RegisterComponent(%v): %v", c.Info(), err)
		}
	}
	if err := k.RegisterComponent(ram0); !errors.Is(err, kerr.EEXIST) {
		t.Errorf("duplicate RegisterComponent: got %v, want EEXIST", err)
	}
	if err := k.RegisterComponent(hw.NewRAMDisk(hw.ComponentInfo{}, 512, 1)); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("RegisterComponent without id: got %v, want EINVAL", err)
	}

	var ids []string
	for _, c := range k.Components(hw.TypeBlockDevice) {
		ids = append(ids, c.Info().ID)
	}
	if diff := cmp.Diff([]string{"ram1", "ram0"}, ids); diff != "" {
		t.Errorf("Components mismatch (-want +got):\n%s", diff)
	}
	if c, err := k.Component(hw.TypeBlockDevice, ""); err != nil || c != ram1 {
		t.Errorf("preferred block device = %v, %v, want ram1", c, err)
	}
	if err := k.UnregisterComponent(hw.TypeBlockDevice, "ram1"); err != nil {
		t.Errorf("UnregisterComponent: %v", err)
	}
	if c, err := k.Component(hw.TypeBlockDevice, ""); err != nil || c != ram0 {
		t.Errorf("preferred block device = %v, %v, want ram0", c, err)
	}
	if err := k.UnregisterComponent(hw.TypeBlockDevice, "ram1"); !errors.Is(err, kerr.ENODEV) {
		t.Errorf("UnregisterComponent of a missing component: got %v, want ENODEV", err)
	}
	if _, err := k.Component(hw.TypeConsole, ""); !errors.Is(err, kerr.ENODEV) {
		t.Errorf("Component of a missing type: got %v, want ENODEV", err)
	}
}
