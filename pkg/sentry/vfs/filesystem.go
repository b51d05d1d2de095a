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
	"fmt"

	"laritos.dev/laritos/pkg/cleanup"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// DirCreate creates the directory name in parent.
func (v *VFS) DirCreate(parent *Dentry, name string, mode AccessMode) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createLocked(parent, name, mode|ModeDir)
}

// FileCreate creates the regular file name in parent.
func (v *VFS) FileCreate(parent *Dentry, name string, mode AccessMode) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createLocked(parent, name, mode&^ModeDir)
}

// DirRemove removes the directory name from parent together with everything
// below it.
func (v *VFS) DirRemove(parent *Dentry, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.removeLocked(parent, name, true)
}

// FileRemove removes the regular file name from parent.
func (v *VFS) FileRemove(parent *Dentry, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.removeLocked(parent, name, false)
}

// MkdirAt creates the directory at pathname.
func (v *VFS) MkdirAt(ctx ProcessContext, pathname string, mode AccessMode) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, name, err := v.lookupParentLocked(ctx, pathname)
	if err != nil {
		return nil, err
	}
	return v.createLocked(parent, name, mode|ModeDir)
}

// CreateFileAt creates the regular file at pathname.
func (v *VFS) CreateFileAt(ctx ProcessContext, pathname string, mode AccessMode) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, name, err := v.lookupParentLocked(ctx, pathname)
	if err != nil {
		return nil, err
	}
	return v.createLocked(parent, name, mode&^ModeDir)
}

// RemoveAt removes the file or directory at pathname.
func (v *VFS) RemoveAt(ctx ProcessContext, pathname string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	parent, name, err := v.lookupParentLocked(ctx, pathname)
	if err != nil {
		return err
	}
	d, err := v.lookupChildLocked(parent, name)
	if err != nil {
		return err
	}
	return v.removeLocked(parent, name, d.IsDir())
}

// Preconditions: v.mu is held.
func (v *VFS) lookupParentLocked(ctx ProcessContext, pathname string) (*Dentry, string, error) {
	dir, name, err := splitPath(pathname)
	if err != nil {
		return nil, "", err
	}
	parent, err := v.lookupLocked(cwdOf(ctx), dir)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

// createLocked allocates a dentry and an inode for name and has the parent
// inode create it. Nothing is left behind on failure.
//
// Preconditions: v.mu is held.
func (v *VFS) createLocked(parent *Dentry, name string, mode AccessMode) (*Dentry, error) {
	kind := "file"
	if mode.IsDir() {
		kind = "directory"
	}
	if err := checkName(name); err != nil {
		return nil, fmt.Errorf("creating %s %q: %w", kind, name, err)
	}
	if err := checkCreate(parent); err != nil {
		return nil, fmt.Errorf("creating %s %q in %s: %w", kind, name, fullPathLocked(parent), err)
	}
	if _, err := v.lookupChildLocked(parent, name); err == nil {
		return nil, fmt.Errorf("creating %s %s/%s: %w", kind, fullPathLocked(parent), name, kerr.EEXIST)
	} else if !kerr.Equals(kerr.ENOENT, err) {
		return nil, err
	}

	sb := parent.inode.Attrs().Superblock()
	inode, err := sb.AllocInode()
	if err != nil {
		return nil, fmt.Errorf("allocating inode for %q: %w", name, err)
	}
	inode.Attrs().SetMode(mode)
	d := newDentry(name, inode, parent, parent.mount)
	cu := cleanup.Make(func() { v.freeTreeLocked(d) })
	defer cu.Clean()

	if mode.IsDir() {
		err = parent.inode.Mkdir(parent, d, mode)
	} else {
		err = parent.inode.MkRegFile(parent, d, mode)
	}
	if err != nil {
		log.Debugf("Could not create %s %s/%s: %v", kind, fullPathLocked(parent), name, err)
		return nil, fmt.Errorf("creating %s %q: %w", kind, name, err)
	}
	cu.Release()
	return d, nil
}

// removeLocked removes name from parent. dir selects between directories
// and regular files.
//
// Preconditions: v.mu is held.
func (v *VFS) removeLocked(parent *Dentry, name string, dir bool) error {
	if err := checkCreate(parent); err != nil {
		return fmt.Errorf("removing %q from %s: %w", name, fullPathLocked(parent), err)
	}
	switch name {
	case ".", "..":
		return fmt.Errorf("removing %q: %w", name, kerr.EINVAL)
	}
	d, err := v.lookupChildLocked(parent, name)
	if err != nil {
		return fmt.Errorf("removing %s/%s: %w", fullPathLocked(parent), name, err)
	}
	switch {
	case dir && !d.IsDir():
		return fmt.Errorf("removing %s: %w", fullPathLocked(d), kerr.ENOTDIR)
	case !dir && d.IsDir():
		return fmt.Errorf("removing %s: %w", fullPathLocked(d), kerr.EISDIR)
	case d.IsMountRoot() || v.hasMountBelowLocked(d):
		return fmt.Errorf("removing %s: %w", fullPathLocked(d), kerr.EBUSY)
	}
	if dir {
		err = parent.inode.Rmdir(parent, d)
	} else {
		err = parent.inode.RmRegFile(parent, d)
	}
	if err != nil {
		log.Debugf("Could not remove %s: %v", fullPathLocked(d), err)
		return fmt.Errorf("removing %s: %w", fullPathLocked(d), err)
	}
	v.freeTreeLocked(d)
	return nil
}
