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

// Package pseudofs implements a filesystem that lives entirely in memory.
//
// Directories only exist as dentries. Regular files either keep their data
// in a byte slice or are backed by read and write callbacks, which is how
// the kernel exposes its state as files.
package pseudofs

import (
	"sync"
	"sync/atomic"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Name is the name of the filesystem type.
const Name = "pseudofs"

// FilesystemType implements vfs.FilesystemType.
type FilesystemType struct{}

// Name implements vfs.FilesystemType.Name.
func (FilesystemType) Name() string {
	return Name
}

// Mount implements vfs.FilesystemType.Mount. pseudofs takes no parameters.
func (FilesystemType) Mount(flags vfs.MountFlags, params vfs.Params) (vfs.Superblock, error) {
	sb := &superblock{}
	sb.root = sb.newInode(vfs.MayRead | vfs.MayWrite | vfs.MayExec | vfs.ModeDir)
	return sb, nil
}

type superblock struct {
	root    *Inode
	lastIno atomic.Uint64
	live    atomic.Int64
}

func (sb *superblock) newInode(mode vfs.AccessMode) *Inode {
	i := &Inode{}
	i.Init(sb, sb.lastIno.Add(1), mode)
	sb.live.Add(1)
	return i
}

// Root implements vfs.Superblock.Root.
func (sb *superblock) Root() vfs.Inode {
	return sb.root
}

// Device implements vfs.Superblock.Device.
func (sb *superblock) Device() hw.BlockDevice {
	return nil
}

// AllocInode implements vfs.Superblock.AllocInode.
func (sb *superblock) AllocInode() (vfs.Inode, error) {
	return sb.newInode(0), nil
}

// FreeInode implements vfs.Superblock.FreeInode.
func (sb *superblock) FreeInode(vfs.Inode) {
	sb.live.Add(-1)
}

// Release implements vfs.Superblock.Release.
func (sb *superblock) Release() error {
	return nil
}

// LiveInodes returns the number of inodes of the filesystem sb that have not
// been freed, the root included.
func LiveInodes(sb vfs.Superblock) int64 {
	if s, ok := sb.(*superblock); ok {
		return s.live.Load()
	}
	return 0
}

// ReadFunc reads the contents of a pseudo-file at byte offset off into buf.
type ReadFunc func(buf []byte, off int64) (int, error)

// WriteFunc writes buf at byte offset off of a pseudo-file.
type WriteFunc func(buf []byte, off int64) (int, error)

// Inode is a pseudofs inode.
type Inode struct {
	vfs.InodeAttrs
	vfs.InodeNoopOpenClose

	// mu protects the fields below.
	mu sync.Mutex

	read  ReadFunc
	write WriteFunc

	// data holds the contents of regular files without callbacks.
	data []byte
}

// SetCallbacks makes reads and writes of i go through read and write. A nil
// callback makes the corresponding operation fail with EPERM.
func (i *Inode) SetCallbacks(read ReadFunc, write WriteFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if read == nil {
		read = func([]byte, int64) (int, error) { return 0, kerr.EPERM }
	}
	if write == nil {
		write = func([]byte, int64) (int, error) { return 0, kerr.EPERM }
	}
	i.read = read
	i.write = write
	i.data = nil
}

// Lookup implements vfs.DirectoryOperations.Lookup. Every child of a pseudofs
// directory already has a dentry.
func (i *Inode) Lookup(dir *vfs.Dentry, name string) (vfs.Inode, error) {
	if !i.Mode().IsDir() {
		return nil, kerr.ENOTDIR
	}
	return nil, kerr.ENOENT
}

// Mkdir implements vfs.DirectoryOperations.Mkdir.
func (i *Inode) Mkdir(dir, child *vfs.Dentry, mode vfs.AccessMode) error {
	return nil
}

// Rmdir implements vfs.DirectoryOperations.Rmdir.
func (i *Inode) Rmdir(dir, child *vfs.Dentry) error {
	return nil
}

// MkRegFile implements vfs.DirectoryOperations.MkRegFile.
func (i *Inode) MkRegFile(dir, child *vfs.Dentry, mode vfs.AccessMode) error {
	return nil
}

// RmRegFile implements vfs.DirectoryOperations.RmRegFile.
func (i *Inode) RmRegFile(dir, child *vfs.Dentry) error {
	return nil
}

// Read implements vfs.FileOperations.Read.
func (i *Inode) Read(f *vfs.File, buf []byte, off int64) (int, error) {
	if i.Mode().IsDir() {
		return 0, kerr.EISDIR
	}
	i.mu.Lock()
	read := i.read
	if read == nil {
		defer i.mu.Unlock()
		return WriteToBuf(buf, i.data, off), nil
	}
	i.mu.Unlock()
	return read(buf, off)
}

// Write implements vfs.FileOperations.Write.
func (i *Inode) Write(f *vfs.File, buf []byte, off int64) (int, error) {
	if i.Mode().IsDir() {
		return 0, kerr.EISDIR
	}
	i.mu.Lock()
	write := i.write
	if write == nil {
		defer i.mu.Unlock()
		if end := off + int64(len(buf)); end > int64(len(i.data)) {
			i.data = append(i.data, make([]byte, end-int64(len(i.data)))...)
		}
		return copy(i.data[off:], buf), nil
	}
	i.mu.Unlock()
	return write(buf, off)
}

// ListDir implements vfs.FileOperations.ListDir. The parent directory comes
// first, followed by the children in the order they were created.
func (i *Inode) ListDir(f *vfs.File, offset int, list []vfs.DirEntry) (int, error) {
	if !i.Mode().IsDir() {
		return 0, kerr.ENOTDIR
	}
	n := 0
	pos := 0
	emit := func(name string, isDir bool) bool {
		if pos >= offset {
			if n == len(list) {
				return false
			}
			list[n] = vfs.DirEntry{Name: name, IsDir: isDir}
			n++
		}
		pos++
		return true
	}
	if !emit("..", true) {
		return n, nil
	}
	for c := range f.Dentry().Children() {
		if !emit(c.Name(), c.IsDir()) {
			break
		}
	}
	return n, nil
}
