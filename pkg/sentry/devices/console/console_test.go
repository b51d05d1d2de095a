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

package console_test

import (
	"bytes"
	"io"
	"testing"

	"laritos.dev/laritos/pkg/sentry/devices/console"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/kernel/kerneltest"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

const inputIRQ = 5

// slowWriter accepts at most max bytes per call, like a small UART FIFO.
type slowWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
}

func (w *slowWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.max {
		w.buf.Write(p[:w.max])
		return w.max, io.ErrShortWrite
	}
	return w.buf.Write(p)
}

func newConsole(t *testing.T, k *kernel.Kernel, out io.Writer) *console.Console {
	t.Helper()
	c, err := console.New(k, console.Options{
		Output:     out,
		Intc:       k.Intc(),
		IRQ:        inputIRQ,
		BufferSize: 16,
	})
	if err != nil {
		t.Fatalf("console.New: %v", err)
	}
	return c
}

// waitOutput sleeps until out holds n bytes or a virtual second passed.
func waitOutput(k *kernel.Kernel, out *slowWriter, n int) {
	for i := 0; i < 100 && out.buf.Len() < n; i++ {
		k.Msleep(10)
	}
}

func TestOutputSurvivesShortWrites(t *testing.T) {
	k := kerneltest.New(t, nil)
	out := &slowWriter{max: 3}
	c := newConsole(t, k, out)
	const msg = "hello from laritOS, this does not fit in the buffer at once\n"
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if _, err := c.Start(k.InitPriority() + 1); err != nil {
			t.Errorf("Start: %v", err)
			return 1
		}
		if n, err := c.Write([]byte(msg)); err != nil || n != len(msg) {
			t.Errorf("Write = %d, %v, want %d, nil", n, err, len(msg))
		}
		waitOutput(k, out, len(msg))
		return 0
	})
	if got := out.buf.String(); got != msg {
		t.Errorf("output = %q, want %q", got, msg)
	}
	if out.calls <= len(msg)/3 {
		t.Errorf("output written in %d calls, want more than %d", out.calls, len(msg)/3)
	}
}

func TestInput(t *testing.T) {
	k := kerneltest.New(t, nil)
	c := newConsole(t, k, nil)
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		buf := make([]byte, 8)
		if n, err := c.Read(buf, false); n != 0 || err != nil {
			t.Errorf("Read with no input = %d, %v, want 0, nil", n, err)
		}
		c.Input([]byte("ls\n"))
		n, err := c.Read(buf, true)
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		if got := string(buf[:n]); got != "ls\n" {
			t.Errorf("Read = %q, want %q", got, "ls\n")
		}

		c.Input(bytes.Repeat([]byte("x"), 20))
		big := make([]byte, 32)
		if n, _ := c.Read(big, true); n != 16 {
			t.Errorf("Read after overflow = %d bytes, want 16", n)
		}
		return 0
	})
	if got := c.Dropped(); got != 4 {
		t.Errorf("Dropped = %d, want 4", got)
	}
}

func TestFile(t *testing.T) {
	v := vfs.New(vfs.Options{})
	v.MustRegisterFilesystemType(pseudofs.FilesystemType{})
	if _, err := v.Mount(pseudofs.Name, "/", vfs.MountRead|vfs.MountWrite, nil); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	k := kerneltest.New(t, func(o *kernel.Options) { o.VFS = v })
	out := &slowWriter{max: 64}
	c := newConsole(t, k, out)
	if _, err := c.CreateFile(v, v.Root(), "console"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		if _, err := c.Start(k.InitPriority() + 1); err != nil {
			t.Errorf("Start: %v", err)
			return 1
		}
		f, err := v.OpenFile(p, "/console", vfs.ModeRW)
		if err != nil {
			t.Errorf("OpenFile: %v", err)
			return 1
		}
		defer f.Close()
		if _, err := f.Write([]byte("$ "), 0); err != nil {
			t.Errorf("Write: %v", err)
		}
		waitOutput(k, out, 2)

		c.Input([]byte("pwd"))
		// Let the input interrupt be taken.
		k.Msleep(1)
		buf := make([]byte, 8)
		n, err := f.Read(buf, 0)
		if err != nil || string(buf[:n]) != "pwd" {
			t.Errorf("Read = %q, %v, want %q, nil", buf[:n], err, "pwd")
		}
		return 0
	})
	if got := out.buf.String(); got != "$ " {
		t.Errorf("output = %q, want %q", got, "$ ")
	}
}

type stuckWriter struct{}

func (stuckWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFlush(t *testing.T) {
	k := kerneltest.New(t, nil)
	out := &slowWriter{max: 5}
	c := newConsole(t, k, out)
	stuck := newConsole(t, k, stuckWriter{})
	const msg = "flushed before exit\n"
	kerneltest.Run(t, k, func(p *kernel.Process, _ any) int {
		for _, cons := range []*console.Console{c, stuck} {
			if _, err := cons.Start(k.InitPriority() + 1); err != nil {
				t.Errorf("Start: %v", err)
				return 1
			}
		}
		c.Write([]byte(msg))
		// Fits in the buffer, so Write does not wait for the stuck writer.
		stuck.Write([]byte("stuck\n"))
		if !c.Flush() {
			t.Errorf("Flush = false, want true")
		}
		if stuck.Flush() {
			t.Errorf("Flush of a stuck writer = true, want false")
		}
		return 0
	})
	if got := out.buf.String(); got != msg {
		t.Errorf("output = %q, want %q", got, msg)
	}
}
