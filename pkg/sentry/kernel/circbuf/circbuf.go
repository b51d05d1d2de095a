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

// Package circbuf provides a fixed-size ring buffer shared by processes,
// with blocking reads and writes and a read that can be undone.
package circbuf

import (
	"fmt"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/kernel"
)

// Buffer is a ring buffer. When a non-blocking write does not fit, the
// oldest unread bytes are overwritten.
type Buffer struct {
	lock       kernel.Spinlock
	dataAvail  kernel.Condition
	spaceAvail kernel.Condition

	// The following fields are protected by lock.
	buf     []byte
	head    int
	datalen int
}

// New returns an empty buffer of the given capacity.
func New(k *kernel.Kernel, size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("circular buffer size %d: %w", size, kerr.EINVAL)
	}
	b := &Buffer{buf: make([]byte, size)}
	b.lock.Init(k)
	b.dataAvail.Init(k)
	b.spaceAvail.Init(k)
	return b, nil
}

// Cap returns the capacity of b.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	st := b.lock.Acquire()
	defer b.lock.Release(st)
	return b.datalen
}

// Write copies at most Cap bytes of p into b and returns how many it copied.
// A blocking write waits until all of them fit; a non-blocking one drops the
// oldest unread bytes to make room.
func (b *Buffer) Write(p []byte, blocking bool) (int, error) {
	if p == nil {
		return 0, kerr.EINVAL
	}
	n := min(len(p), len(b.buf))
	st := b.lock.Acquire()
	if blocking {
		for n > len(b.buf)-b.datalen {
			b.spaceAvail.Wait(&b.lock, &st)
		}
	}
	b.writeLocked(p[:n])
	b.dataAvail.NotifyAll()
	b.lock.Release(st)
	return n, nil
}

// Preconditions: b.lock is held; len(p) <= len(b.buf).
func (b *Buffer) writeLocked(p []byte) {
	size := len(b.buf)
	tail := (b.head + b.datalen) % size
	c := copy(b.buf[tail:], p)
	copy(b.buf, p[c:])
	b.datalen += len(p)
	if over := b.datalen - size; over > 0 {
		b.head = (b.head + over) % size
		b.datalen = size
	}
}

// Read copies up to len(p) unread bytes into p and consumes them. A blocking
// read waits for at least one byte; a non-blocking one returns 0 if there is
// nothing to read.
func (b *Buffer) Read(p []byte, blocking bool) (int, error) {
	g, n, err := b.Peek(p, blocking)
	if err != nil {
		return 0, err
	}
	g.Complete(true)
	return n, nil
}

// Peek is Read without consuming the data: the returned guard keeps b
// locked (and interrupts masked) until Complete either consumes the n peeked
// bytes or leaves them in place. The guard must be completed promptly, on
// every path.
func (b *Buffer) Peek(p []byte, blocking bool) (*PeekGuard, int, error) {
	if p == nil {
		return nil, 0, kerr.EINVAL
	}
	st := b.lock.Acquire()
	if blocking {
		for b.datalen == 0 {
			b.dataAvail.Wait(&b.lock, &st)
		}
	}
	n := min(len(p), b.datalen)
	c := copy(p[:n], b.buf[b.head:min(b.head+n, len(b.buf))])
	copy(p[c:n], b.buf)
	return &PeekGuard{b: b, st: st, n: n}, n, nil
}

// PeekGuard is a pending Peek.
type PeekGuard struct {
	b    *Buffer
	st   kernel.IRQState
	n    int
	done bool
}

// Complete ends the peek. If commit is set the peeked bytes are consumed,
// otherwise they stay for the next reader. Calling Complete again has no
// effect.
func (g *PeekGuard) Complete(commit bool) {
	if g == nil || g.done {
		return
	}
	g.done = true
	b := g.b
	if commit && g.n > 0 {
		b.head = (b.head + g.n) % len(b.buf)
		b.datalen -= g.n
		b.spaceAvail.NotifyAll()
	}
	b.lock.Release(g.st)
}
