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
	"slices"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/fspath"
	"laritos.dev/laritos/pkg/log"
)

// A Mount binds the root inode of a Superblock to a dentry of the tree.
//
// All fields are immutable once the mount is registered.
type Mount struct {
	vfs    *VFS
	fsType FilesystemType
	sb     Superblock
	flags  MountFlags

	// root is the dentry the superblock's root inode is reachable by. It is
	// named after the last component of the mount point.
	root *Dentry
}

// Root returns the root dentry of m.
func (m *Mount) Root() *Dentry {
	return m.root
}

// Flags returns the mount flags.
func (m *Mount) Flags() MountFlags {
	return m.flags
}

// Superblock returns the mounted superblock.
func (m *Mount) Superblock() Superblock {
	return m.sb
}

// FilesystemType returns the type of the mounted filesystem.
func (m *Mount) FilesystemType() FilesystemType {
	return m.fsType
}

// Path returns the mount point.
func (m *Mount) Path() string {
	return m.vfs.FullPath(m.root)
}

func (m *Mount) String() string {
	return fmt.Sprintf("%s on %s (%s)", m.fsType.Name(), m.Path(), m.flags)
}

// Mount mounts a new filesystem of type fsTypeName at mountPoint.
//
// "/" mounts the root filesystem. Any other mount point must not exist yet
// and its parent must be a directory.
func (v *VFS) Mount(fsTypeName, mountPoint string, flags MountFlags, params Params) (*Mount, error) {
	log.Infof("Mounting filesystem %q at %s with flags %q", fsTypeName, mountPoint, flags)
	fsType := v.getFilesystemType(fsTypeName)
	if fsType == nil {
		return nil, fmt.Errorf("filesystem type %q not supported: %w", fsTypeName, kerr.ENODEV)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := cleanMountPoint(mountPoint)
	if err != nil {
		return nil, err
	}
	var parent *Dentry
	name := "/"
	if p != "/" {
		dir, base, err := splitPath(p)
		if err != nil {
			return nil, err
		}
		if v.root == nil {
			return nil, fmt.Errorf("cannot mount at %s without a root filesystem: %w", mountPoint, kerr.ENOENT)
		}
		if parent, err = v.lookupLocked(v.root, dir); err != nil {
			return nil, fmt.Errorf("mount point parent %s: %w", dir, err)
		}
		if !parent.IsDir() {
			return nil, fmt.Errorf("mount point parent %s: %w", dir, kerr.ENOTDIR)
		}
		if _, err := v.lookupChildLocked(parent, base); err == nil {
			return nil, fmt.Errorf("mount point %s already in use: %w", mountPoint, kerr.EEXIST)
		} else if !kerr.Equals(kerr.ENOENT, err) {
			return nil, err
		}
		name = base
	} else if v.root != nil {
		return nil, fmt.Errorf("root filesystem already mounted: %w", kerr.EEXIST)
	}

	sb, err := fsType.Mount(flags, params)
	if err != nil {
		return nil, fmt.Errorf("mounting %q at %s: %w", fsTypeName, mountPoint, err)
	}
	if sb == nil || sb.Root() == nil {
		return nil, fmt.Errorf("filesystem %q instantiated no superblock: %w", fsTypeName, kerr.EINVAL)
	}
	m := &Mount{
		vfs:    v,
		fsType: fsType,
		sb:     sb,
		flags:  flags,
	}
	m.root = newDentry(name, sb.Root(), parent, m)
	if parent == nil {
		v.root = m.root
	}
	v.mounts = append(v.mounts, m)
	return m, nil
}

// Unmount unmounts the filesystem mounted at mountPoint and drops its part of
// the tree. It fails with EBUSY while other filesystems are mounted below it.
func (v *VFS) Unmount(mountPoint string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := cleanMountPoint(mountPoint)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(v.mounts, func(m *Mount) bool {
		return fullPathLocked(m.root) == p
	})
	if i < 0 {
		return fmt.Errorf("%s not mounted: %w", mountPoint, kerr.EINVAL)
	}
	m := v.mounts[i]
	if v.hasMountBelowLocked(m.root) {
		return fmt.Errorf("%s has filesystems mounted below it: %w", mountPoint, kerr.EBUSY)
	}
	log.Infof("Unmounting filesystem %s", p)
	if err := m.sb.Release(); err != nil {
		return fmt.Errorf("unmounting %s: %w", mountPoint, err)
	}
	v.mounts = slices.Delete(v.mounts, i, i+1)
	v.freeTreeLocked(m.root)
	if m.root == v.root {
		v.root = nil
	}
	return nil
}

// Mounts returns the mounts in the order they were made.
func (v *VFS) Mounts() []*Mount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.mounts)
}

// cleanMountPoint returns mountPoint as an absolute path without redundant
// separators.
func cleanMountPoint(mountPoint string) (string, error) {
	if mountPoint == "" {
		return "", fmt.Errorf("empty mount point: %w", kerr.EINVAL)
	}
	p, err := fspath.Parse(mountPoint)
	if err != nil {
		return "", err
	}
	p.Absolute = true
	p.Dir = false
	return p.String(), nil
}
