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

package vfs

import (
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// Inode is the identity of a file or directory, independent of the names it
// is reachable by. Filesystems implement Inode, usually by embedding
// InodeAttrs and some of the Inode* helpers below.
type Inode interface {
	// Attrs returns the attributes common to all inodes.
	Attrs() *InodeAttrs

	DirectoryOperations
	FileOperations
}

// DirectoryOperations are the structural operations of directory inodes.
// They are called with the tree lock held, on the inode of dir.
type DirectoryOperations interface {
	// Lookup returns the inode of a child of dir that has no dentry yet, or
	// kerr.ENOENT.
	Lookup(dir *Dentry, name string) (Inode, error)

	// Mkdir creates the directory child in dir. child is already linked
	// into the tree and carries an inode from Superblock.AllocInode.
	Mkdir(dir, child *Dentry, mode AccessMode) error

	// Rmdir removes the directory child from dir.
	Rmdir(dir, child *Dentry) error

	// MkRegFile creates the regular file child in dir, like Mkdir.
	MkRegFile(dir, child *Dentry, mode AccessMode) error

	// RmRegFile removes the regular file child from dir.
	RmRegFile(dir, child *Dentry) error
}

// FileOperations are the operations of open files.
type FileOperations interface {
	// Open prepares f, a file for the inode being opened.
	Open(f *File) error

	// Close releases what Open set up.
	Close(f *File) error

	// Read reads into buf at byte offset off and returns the number of bytes
	// read, 0 at end of file.
	Read(f *File, buf []byte, off int64) (int, error)

	// Write writes buf at byte offset off.
	Write(f *File, buf []byte, off int64) (int, error)

	// ListDir fills list with the entries of a directory, skipping the
	// first offset ones. It returns the number of entries filled, 0 past
	// the last entry. It is called with the tree lock held.
	ListDir(f *File, offset int, list []DirEntry) (int, error)
}

// InodeAttrs holds the attributes common to all inodes. It is meant to be
// embedded.
type InodeAttrs struct {
	sb   Superblock
	ino  uint64
	mode AccessMode
}

// Init initializes a.
func (a *InodeAttrs) Init(sb Superblock, ino uint64, mode AccessMode) {
	a.sb = sb
	a.ino = ino
	a.mode = mode
}

// Attrs implements Inode.Attrs.
func (a *InodeAttrs) Attrs() *InodeAttrs {
	return a
}

// Superblock returns the superblock the inode belongs to.
func (a *InodeAttrs) Superblock() Superblock {
	return a.sb
}

// Ino returns the inode number.
func (a *InodeAttrs) Ino() uint64 {
	return a.ino
}

// SetIno sets the inode number. Filesystems that only learn the number in
// Mkdir or MkRegFile call it there.
func (a *InodeAttrs) SetIno(ino uint64) {
	a.ino = ino
}

// Mode returns the inode permissions.
func (a *InodeAttrs) Mode() AccessMode {
	return a.mode
}

// SetMode sets the inode permissions.
func (a *InodeAttrs) SetMode(mode AccessMode) {
	a.mode = mode
}

// InodeNotDirectory implements DirectoryOperations and ListDir for inodes
// that are not directories.
type InodeNotDirectory struct{}

// Lookup implements DirectoryOperations.Lookup.
func (InodeNotDirectory) Lookup(*Dentry, string) (Inode, error) {
	return nil, kerr.ENOTDIR
}

// Mkdir implements DirectoryOperations.Mkdir.
func (InodeNotDirectory) Mkdir(*Dentry, *Dentry, AccessMode) error {
	return kerr.ENOTDIR
}

// Rmdir implements DirectoryOperations.Rmdir.
func (InodeNotDirectory) Rmdir(*Dentry, *Dentry) error {
	return kerr.ENOTDIR
}

// MkRegFile implements DirectoryOperations.MkRegFile.
func (InodeNotDirectory) MkRegFile(*Dentry, *Dentry, AccessMode) error {
	return kerr.ENOTDIR
}

// RmRegFile implements DirectoryOperations.RmRegFile.
func (InodeNotDirectory) RmRegFile(*Dentry, *Dentry) error {
	return kerr.ENOTDIR
}

// ListDir implements FileOperations.ListDir.
func (InodeNotDirectory) ListDir(*File, int, []DirEntry) (int, error) {
	return 0, kerr.ENOTDIR
}

// InodeDirectoryNoData implements Read and Write for directories.
type InodeDirectoryNoData struct{}

// Read implements FileOperations.Read.
func (InodeDirectoryNoData) Read(*File, []byte, int64) (int, error) {
	return 0, kerr.EISDIR
}

// Write implements FileOperations.Write.
func (InodeDirectoryNoData) Write(*File, []byte, int64) (int, error) {
	return 0, kerr.EISDIR
}

// InodeNoopOpenClose implements Open and Close for inodes that keep no
// per-file state.
type InodeNoopOpenClose struct{}

// Open implements FileOperations.Open.
func (InodeNoopOpenClose) Open(*File) error {
	return nil
}

// Close implements FileOperations.Close.
func (InodeNoopOpenClose) Close(*File) error {
	return nil
}

// Superblock is the state of a mounted filesystem instance.
type Superblock interface {
	// Root returns the root directory inode.
	Root() Inode

	// Device returns the backing block device, or nil.
	Device() hw.BlockDevice

	// AllocInode returns a new in-memory inode for a file or directory
	// about to be created.
	AllocInode() (Inode, error)

	// FreeInode releases an in-memory inode. It does not touch the backing
	// store.
	FreeInode(Inode)

	// Release is called on unmount. If it fails, the filesystem stays
	// mounted.
	Release() error
}

// Params are filesystem-specific mount parameters.
type Params map[string]any

// FilesystemType is a kind of filesystem that can be mounted.
type FilesystemType interface {
	// Name is the unique name of the type, e.g. "ext2".
	Name() string

	// Mount returns the superblock of a new filesystem instance. It is
	// called with the tree lock held and must not call back into the VFS.
	Mount(flags MountFlags, params Params) (Superblock, error)
}
