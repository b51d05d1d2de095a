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

// Package vfs implements the virtual filesystem of laritOS.
//
// The VFS keeps one tree of Dentries rooted at "/". Filesystems are mounted
// on it: the root dentry of a mount is an ordinary child of the directory it
// was mounted in, whose inode belongs to the mounted superblock. Lookups
// walk the children of each directory and ask the directory inode for names
// that have no dentry yet.
//
// Lock order:
//
//	VFS.mu (the tree lock)
//	  VFS.typesMu
//	  FDTable.mu
//
// Reads and writes of open files do not take the tree lock.
package vfs

import (
	"fmt"
	"sort"
	"sync"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// VFS is a dentry tree plus the mounts and filesystem types that feed it.
type VFS struct {
	// mu protects root, mounts and the tree below root.
	mu sync.Locker

	root   *Dentry
	mounts []*Mount

	typesMu sync.Mutex
	types   map[string]FilesystemType
}

// New returns a VFS with nothing mounted.
func New(opts Options) *VFS {
	mu := opts.TreeLock
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &VFS{
		mu:    mu,
		types: make(map[string]FilesystemType),
	}
}

// Root returns the root dentry, or nil if nothing is mounted at "/".
func (v *VFS) Root() *Dentry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.root
}

// RegisterFilesystemType makes fsType mountable by its name.
func (v *VFS) RegisterFilesystemType(fsType FilesystemType) error {
	if fsType == nil {
		return fmt.Errorf("nil filesystem type: %w", kerr.EINVAL)
	}
	name := fsType.Name()
	if name == "" {
		return fmt.Errorf("filesystem type without a name: %w", kerr.EINVAL)
	}
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	if _, ok := v.types[name]; ok {
		return fmt.Errorf("filesystem type %q already registered: %w", name, kerr.EEXIST)
	}
	v.types[name] = fsType
	log.Debugf("Registered filesystem type %q", name)
	return nil
}

// MustRegisterFilesystemType is like RegisterFilesystemType but panics on
// failure.
func (v *VFS) MustRegisterFilesystemType(fsType FilesystemType) {
	if err := v.RegisterFilesystemType(fsType); err != nil {
		panic(fmt.Sprintf("failed to register filesystem type: %v", err))
	}
}

// UnregisterFilesystemType forgets the type called name. Existing mounts are
// not affected.
func (v *VFS) UnregisterFilesystemType(name string) error {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	if _, ok := v.types[name]; !ok {
		return fmt.Errorf("filesystem type %q not registered: %w", name, kerr.ENODEV)
	}
	delete(v.types, name)
	return nil
}

// FilesystemTypes returns the names of the registered types, sorted.
func (v *VFS) FilesystemTypes() []string {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	names := make([]string, 0, len(v.types))
	for name := range v.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *VFS) getFilesystemType(name string) FilesystemType {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	return v.types[name]
}
