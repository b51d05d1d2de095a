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

package circbuf_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/kernel/circbuf"
	"laritos.dev/laritos/pkg/sentry/kernel/kerneltest"
)

func newBuffer(t *testing.T, k *kernel.Kernel, size int) *circbuf.Buffer {
	t.Helper()
	b, err := circbuf.New(k, size)
	if err != nil {
		t.Fatalf("New(%d): %v", size, err)
	}
	return b
}

func read(t *testing.T, b *circbuf.Buffer, n int) string {
	t.Helper()
	p := make([]byte, n)
	got, err := b.Read(p, false)
	if err != nil {
		t.Errorf("Read: %v", err)
	}
	return string(p[:got])
}

func TestNewRejectsEmpty(t *testing.T) {
	k := kerneltest.New(t, nil)
	if _, err := circbuf.New(k, 0); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("New(0): got %v, want EINVAL", err)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 5)

	n, err := b.Write([]byte("abcdefg"), false)
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v, want 5, nil", n, err)
	}
	if got := b.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
	if _, err := b.Write([]byte("XY"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := b.Len(); got != b.Cap() {
		t.Errorf("Len = %d, want %d", got, b.Cap())
	}
	if got := read(t, b, 10); got != "cdeXY" {
		t.Errorf("Read = %q, want %q", got, "cdeXY")
	}
	if got := b.Len(); got != 0 {
		t.Errorf("Len after draining = %d, want 0", got)
	}
}

func TestWrapAround(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 4)
	var got []string
	for _, s := range []string{"ab", "cd", "ef", "gh"} {
		if _, err := b.Write([]byte(s), false); err != nil {
			t.Fatalf("Write(%q): %v", s, err)
		}
		got = append(got, read(t, b, 1))
	}
	got = append(got, read(t, b, 8))
	// The last write overflows by one byte and drops "d".
	want := []string{"a", "b", "c", "e", "fgh"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reads mismatch (-want +got):\n%s", diff)
	}
}

func TestNilBuffers(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 4)
	if _, err := b.Write(nil, false); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("Write(nil): got %v, want EINVAL", err)
	}
	if _, err := b.Read(nil, false); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("Read(nil): got %v, want EINVAL", err)
	}
	if got := read(t, b, 4); got != "" {
		t.Errorf("non-blocking Read of an empty buffer = %q", got)
	}
}

func TestPeek(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 8)
	if _, err := b.Write([]byte("hello"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p := make([]byte, 3)
	g, n, err := b.Peek(p, false)
	if err != nil || n != 3 || string(p) != "hel" {
		t.Fatalf("Peek = %q, %d, %v", p[:n], n, err)
	}
	g.Complete(false)
	g.Complete(true)
	if got := b.Len(); got != 5 {
		t.Errorf("Len after aborted peek = %d, want 5", got)
	}

	g, n, err = b.Peek(p, false)
	if err != nil || string(p[:n]) != "hel" {
		t.Fatalf("second Peek = %q, %v", p[:n], err)
	}
	g.Complete(true)
	if got := read(t, b, 8); got != "lo" {
		t.Errorf("Read after committed peek = %q, want %q", got, "lo")
	}
}

func TestBlockingReadWaitsForWriter(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 10)
	var got []byte
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		reader, err := k.SpawnKernelProcess("reader", func(*kernel.Process, any) int {
			buf := make([]byte, 10)
			n, err := b.Read(buf, true)
			if err != nil {
				t.Errorf("Read: %v", err)
			}
			got = buf[:n]
			return n
		}, nil, 0, 5)
		if err != nil {
			t.Errorf("Spawn: %v", err)
			return 1
		}
		if got := reader.Status(); got != kernel.StatusBlocked {
			t.Errorf("reader status = %s, want BLOCKED", got)
		}
		if _, err := b.Write([]byte("abc\x00"), false); err != nil {
			t.Errorf("Write: %v", err)
		}
		n, err := k.WaitFor(reader)
		if err != nil || n != 4 {
			t.Errorf("reader returned %d, %v, want 4, nil", n, err)
		}
		return 0
	})
	if diff := cmp.Diff([]byte("abc\x00"), got); diff != "" {
		t.Errorf("read mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockingWriteWaitsForSpace(t *testing.T) {
	k := kerneltest.New(t, nil)
	b := newBuffer(t, k, 4)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if _, err := b.Write([]byte("abcd"), true); err != nil {
			t.Errorf("Write: %v", err)
		}
		writer, err := k.SpawnKernelProcess("writer", func(*kernel.Process, any) int {
			n, err := b.Write([]byte("ef"), true)
			if err != nil {
				t.Errorf("Write: %v", err)
			}
			return n
		}, nil, 0, 5)
		if err != nil {
			t.Errorf("Spawn: %v", err)
			return 1
		}
		if got := b.Len(); got != 4 {
			t.Errorf("blocking write overwrote data: Len = %d", got)
		}
		if got := read(t, b, 2); got != "ab" {
			t.Errorf("Read = %q, want %q", got, "ab")
		}
		if n, err := k.WaitFor(writer); err != nil || n != 2 {
			t.Errorf("writer returned %d, %v, want 2, nil", n, err)
		}
		if got := read(t, b, 4); got != "cdef" {
			t.Errorf("Read = %q, want %q", got, "cdef")
		}
		return 0
	})
}
