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

package vfs

import (
	"bytes"
	"fmt"
	"sync"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/slab"
)

// FDTable maps file descriptors to open Files. Descriptors are slot indices
// of a fixed-size slab, so a new file always gets the lowest free one.
type FDTable struct {
	// mu protects files.
	mu    sync.Mutex
	files *slab.Slab[*File]
}

// NewFDTable returns a table with room for max open files.
func NewFDTable(max int) *FDTable {
	return &FDTable{files: slab.New[*File](max)}
}

// alloc takes the lowest free descriptor for a new file. The file is not
// open yet.
func (t *FDTable) alloc(d *Dentry, inode Inode, mode AccessMode) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd, slot, err := t.files.Alloc()
	if err != nil {
		return nil, fmt.Errorf("all %d file descriptors in use: %w", t.files.Cap(), kerr.EMFILE)
	}
	f := &File{
		fd:     fd,
		table:  t,
		dentry: d,
		inode:  inode,
		mode:   mode,
	}
	*slot = f
	return f, nil
}

// release frees the descriptor of f.
func (t *FDTable) release(f *File) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot := t.files.Get(f.fd); slot != nil && *slot == f {
		*slot = nil
		t.files.Free(f.fd)
	}
}

// Get returns the open file with descriptor fd.
func (t *FDTable) Get(fd int) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.files.Get(fd)
	if slot == nil || *slot == nil || !(*slot).IsOpen() {
		return nil, kerr.EBADF
	}
	return *slot, nil
}

// Size returns the number of descriptors in use.
func (t *FDTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files.Len()
}

// openFiles returns the open files in descriptor order.
func (t *FDTable) openFiles() []*File {
	t.mu.Lock()
	defer t.mu.Unlock()
	var fs []*File
	for _, slot := range t.files.All() {
		if f := *slot; f != nil && f.IsOpen() {
			fs = append(fs, f)
		}
	}
	return fs
}

// CloseAll closes every open file. It is called when the owner dies.
func (t *FDTable) CloseAll() {
	for _, f := range t.openFiles() {
		if err := f.Close(); err != nil {
			log.Warningf("Error closing %v: %v", f, err)
		}
	}
}

// String is a stringer for FDTable.
func (t *FDTable) String() string {
	var buf bytes.Buffer
	for _, f := range t.openFiles() {
		fmt.Fprintf(&buf, "\tfd:%d => name %s\n", f.fd, f.dentry.name)
	}
	return buf.String()
}
