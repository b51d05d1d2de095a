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

// Package kerneltest boots kernels on a virtual timer for tests. Time only
// advances when the kernel idles, so sleeps finish instantly and runs are
// deterministic.
package kerneltest

import (
	"testing"
	"time"

	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/kernel"
)

// Frequency is the virtual timer frequency, 1 tick per microsecond.
const Frequency = 1_000_000

// TimerIRQ is the interrupt line of the virtual timer.
const TimerIRQ hw.IRQ = 30

// Timeout bounds the wall time of Run.
const Timeout = 30 * time.Second

// New returns a kernel driven by a fresh virtual timer. mod, if set, may
// adjust the options before the kernel is created.
func New(t testing.TB, mod func(*kernel.Options)) *kernel.Kernel {
	t.Helper()
	intc := hw.NewInterruptController(hw.ComponentInfo{ID: "intc0", Product: "Virtual INTC"})
	timer, err := hw.NewVirtualTimer(hw.ComponentInfo{ID: "timer0", Product: "Virtual timer"}, Frequency, intc, TimerIRQ)
	if err != nil {
		t.Fatalf("NewVirtualTimer: %v", err)
	}
	opts := kernel.Options{
		Timer: timer,
		Intc:  intc,
	}
	if mod != nil {
		mod(&opts)
	}
	k, err := kernel.New(opts)
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	return k
}

// Run runs main on k and returns its exit status. The test fails if the
// kernel does not halt within Timeout.
func Run(t testing.TB, k *kernel.Kernel, main kernel.ProcessMain) int {
	t.Helper()
	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := k.Run(main, nil)
		done <- result{status, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Run: %v", r.err)
		}
		return r.status
	case <-time.After(Timeout):
		t.Fatalf("kernel did not halt within %v", Timeout)
		return 0
	}
}

// Boot is New followed by Run.
func Boot(t testing.TB, mod func(*kernel.Options), main kernel.ProcessMain) (*kernel.Kernel, int) {
	t.Helper()
	k := New(t, mod)
	return k, Run(t, k, main)
}
