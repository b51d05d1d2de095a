// Copyright 2019 The gVisor Authors.
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
	"fmt"
	"sync/atomic"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// A File is an open file: a dentry, the access mode it was opened with and
// the descriptor it occupies in its FDTable.
type File struct {
	fd     int
	table  *FDTable
	dentry *Dentry
	inode  Inode
	mode   AccessMode

	// opened is set once the inode's Open succeeded and cleared by Close.
	opened atomic.Bool

	// Private is owned by the inode's FileOperations, e.g. a copy of the
	// data a pseudo-file exposes.
	Private any
}

// FD returns the descriptor of f.
func (f *File) FD() int {
	return f.fd
}

// Dentry returns the dentry f was opened by.
func (f *File) Dentry() *Dentry {
	return f.dentry
}

// Inode returns the inode f refers to. It stays valid after the dentry is
// removed from the tree.
func (f *File) Inode() Inode {
	return f.inode
}

// Mode returns the access mode f was opened with.
func (f *File) Mode() AccessMode {
	return f.mode
}

// IsOpen returns true until f is closed.
func (f *File) IsOpen() bool {
	return f.opened.Load()
}

func (f *File) String() string {
	return fmt.Sprintf("fd %d (%s, %s)", f.fd, f.dentry.name, f.mode)
}

// OpenFile opens the file at pathname with mode, which must ask for read,
// write or exec access. The file takes the lowest free descriptor of the
// FDTable of ctx.
func (v *VFS) OpenFile(ctx ProcessContext, pathname string, mode AccessMode) (*File, error) {
	if ctx == nil || ctx.FDTable() == nil {
		return nil, fmt.Errorf("opening %s without a file descriptor table: %w", pathname, kerr.EINVAL)
	}
	d, err := v.Lookup(ctx, pathname)
	if err != nil {
		log.Debugf("Could not find %s: %v", pathname, err)
		return nil, fmt.Errorf("opening %s: %w", pathname, err)
	}
	inode := d.inode
	if inode == nil {
		return nil, fmt.Errorf("opening %s: %w", pathname, kerr.ENOENT)
	}
	if err := checkOpen(d, mode); err != nil {
		log.Debugf("Cannot open %s (%s) with mode %s: %v", pathname, inode.Attrs().Mode(), mode, err)
		return nil, fmt.Errorf("opening %s: %w", pathname, err)
	}
	fds := ctx.FDTable()
	f, err := fds.alloc(d, inode, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", pathname, err)
	}
	if err := inode.Open(f); err != nil {
		fds.release(f)
		return nil, fmt.Errorf("opening %s: %w", pathname, err)
	}
	f.opened.Store(true)
	return f, nil
}

// Read reads from f at byte offset off.
func (f *File) Read(buf []byte, off int64) (int, error) {
	if !f.IsOpen() || f.mode&MayRead == 0 {
		return 0, kerr.EBADF
	}
	if off < 0 {
		return 0, kerr.EINVAL
	}
	return f.inode.Read(f, buf, off)
}

// Write writes buf to f at byte offset off.
func (f *File) Write(buf []byte, off int64) (int, error) {
	if !f.IsOpen() || f.mode&MayWrite == 0 {
		return 0, kerr.EBADF
	}
	if off < 0 {
		return 0, kerr.EINVAL
	}
	return f.inode.Write(f, buf, off)
}

// ListDir fills list with directory entries, skipping the first offset
// ones, and returns how many it filled. It returns 0 past the last entry.
func (f *File) ListDir(offset int, list []DirEntry) (int, error) {
	if !f.IsOpen() || f.mode&MayRead == 0 {
		return 0, kerr.EBADF
	}
	if offset < 0 {
		return 0, kerr.EINVAL
	}
	if !f.inode.Attrs().Mode().IsDir() {
		return 0, kerr.ENOTDIR
	}
	v := f.dentry.mount.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	return f.inode.ListDir(f, offset, list)
}

// ReadDir returns every entry of the directory f.
func (f *File) ReadDir() ([]DirEntry, error) {
	var all []DirEntry
	list := make([]DirEntry, 16)
	for {
		n, err := f.ListDir(len(all), list)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return all, nil
		}
		all = append(all, list[:n]...)
	}
}

// Close closes f and frees its descriptor. Closing a closed file fails with
// EBADF.
func (f *File) Close() error {
	if !f.opened.CompareAndSwap(true, false) {
		return kerr.EBADF
	}
	err := f.inode.Close(f)
	f.table.release(f)
	return err
}
