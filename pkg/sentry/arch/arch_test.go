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

package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSwitchPingPong(t *testing.T) {
	var trace []string
	done := make(chan struct{})
	var a, b *Context
	a = NewContext(func() {
		for i := 0; i < 3; i++ {
			trace = append(trace, "a")
			Switch(a, b)
		}
		close(done)
	})
	b = NewContext(func() {
		for {
			trace = append(trace, "b")
			Switch(b, a)
		}
	})
	Restore(a)
	<-done
	b.Release()

	want := []string{"a", "b", "a", "b", "a", "b"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("execution trace mismatch (-want +got):\n%s", diff)
	}
}

func TestReleaseParkedContext(t *testing.T) {
	exited := make(chan struct{})
	finished := false
	var main, victim *Context
	back := make(chan struct{})
	victim = NewContext(func() {
		defer close(exited)
		Switch(victim, main)
		finished = true
	})
	main = NewContext(func() {
		Switch(main, victim)
		close(back)
	})
	Restore(main)
	<-back
	victim.Release()
	select {
	case <-exited:
	default:
		t.Errorf("Release returned before the deferred calls ran")
	}
	if finished {
		t.Errorf("released context kept running")
	}
	if !victim.Released() || main.Released() {
		t.Errorf("Released() = %t/%t, want true/false", victim.Released(), main.Released())
	}
}

func TestAbandonUnwind(t *testing.T) {
	var reached, after bool
	var main, victim *Context
	back := make(chan struct{})
	victim = NewContext(func() {
		defer func() { after = true }()
		defer func() {
			reached = true
			victim.Abandon()
		}()
		Switch(victim, main)
	})
	main = NewContext(func() {
		Switch(main, victim)
		close(back)
	})
	Restore(main)
	<-back
	victim.Release()
	if !reached || after {
		t.Errorf("deferred calls ran: reached=%t after=%t, want true/false", reached, after)
	}
}

func TestReleaseUnstartedContext(t *testing.T) {
	ran := false
	c := NewContext(func() { ran = true })
	c.Release()
	c.Release()
	if ran || !c.Released() {
		t.Errorf("ran=%t Released()=%t, want false/true", ran, c.Released())
	}
}

func TestValid(t *testing.T) {
	c := NewContext(func() {})
	if !c.Valid() {
		t.Fatalf("new context is not valid")
	}
	c.Corrupt()
	if c.Valid() {
		t.Errorf("corrupted context is valid")
	}
	var nilCtx *Context
	if nilCtx.Valid() {
		t.Errorf("nil context is valid")
	}
}
