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
	"iter"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/fspath"
	"laritos.dev/laritos/pkg/ilist"
)

// Dentry is a node of the VFS tree: a name bound to an inode.
//
// Every dentry but the root has exactly one parent. The tree fields are
// protected by the tree lock.
type Dentry struct {
	name   string
	inode  Inode
	parent *Dentry
	mount  *Mount

	children     ilist.List[Dentry, siblingLinker]
	siblingEntry ilist.Entry[Dentry]

	// dead is set once the dentry is removed from the tree.
	dead bool
}

type siblingLinker struct{}

func (siblingLinker) Link(d *Dentry) *ilist.Entry[Dentry] { return &d.siblingEntry }

func newDentry(name string, inode Inode, parent *Dentry, mnt *Mount) *Dentry {
	d := &Dentry{
		name:   name,
		inode:  inode,
		parent: parent,
		mount:  mnt,
	}
	if parent != nil {
		parent.children.PushBack(d)
	}
	return d
}

// Name returns the last component of d's path.
func (d *Dentry) Name() string {
	return d.name
}

// Inode returns the inode d names.
func (d *Dentry) Inode() Inode {
	return d.inode
}

// Parent returns the parent directory. The root is its own parent.
func (d *Dentry) Parent() *Dentry {
	if d.parent == nil {
		return d
	}
	return d.parent
}

// Mount returns the mount d belongs to.
func (d *Dentry) Mount() *Mount {
	return d.mount
}

// IsDir returns true if d names a directory.
func (d *Dentry) IsDir() bool {
	return d.inode != nil && d.inode.Attrs().Mode().IsDir()
}

// IsMountRoot returns true if d is the root of its mount.
func (d *Dentry) IsMountRoot() bool {
	return d.mount != nil && d.mount.root == d
}

// IsDead returns true if d was removed from the tree.
func (d *Dentry) IsDead() bool {
	return d.dead
}

// Children iterates over the cached children of d in creation order.
//
// Preconditions: the tree lock is held, e.g. from an inode operation.
func (d *Dentry) Children() iter.Seq[*Dentry] {
	return d.children.All()
}

// lookupChildLocked returns the child of dir called name, asking the inode
// of dir for it if it has no dentry yet.
//
// Preconditions: v.mu is held.
func (v *VFS) lookupChildLocked(dir *Dentry, name string) (*Dentry, error) {
	if !dir.IsDir() {
		return nil, kerr.ENOTDIR
	}
	switch name {
	case ".":
		return dir, nil
	case "..":
		return dir.Parent(), nil
	}
	for c := range dir.children.All() {
		if c.name == name {
			return c, nil
		}
	}
	inode, err := dir.inode.Lookup(dir, name)
	if err != nil {
		return nil, err
	}
	if inode == nil {
		return nil, kerr.ENOENT
	}
	return newDentry(name, inode, dir, dir.mount), nil
}

// lookupLocked resolves pathname from start.
//
// Preconditions: v.mu is held.
func (v *VFS) lookupLocked(start *Dentry, pathname string) (*Dentry, error) {
	if pathname == "" {
		if start == nil {
			return nil, kerr.ENOENT
		}
		return start, nil
	}
	p, err := fspath.Parse(pathname)
	if err != nil {
		return nil, err
	}
	d := start
	if p.Absolute || d == nil {
		d = v.root
	}
	if d == nil {
		return nil, kerr.ENOENT
	}
	for _, pc := range p.Components {
		if d, err = v.lookupChildLocked(d, pc); err != nil {
			return nil, err
		}
	}
	if p.Dir && !d.IsDir() {
		return nil, kerr.ENOTDIR
	}
	return d, nil
}

// Lookup resolves pathname. Relative paths start at the working directory
// of ctx, which may be nil.
func (v *VFS) Lookup(ctx ProcessContext, pathname string) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lookupLocked(cwdOf(ctx), pathname)
}

// LookupFrom resolves pathname relative to dir. An empty pathname resolves
// to dir itself.
func (v *VFS) LookupFrom(dir *Dentry, pathname string) (*Dentry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lookupLocked(dir, pathname)
}

func cwdOf(ctx ProcessContext) *Dentry {
	if ctx == nil {
		return nil
	}
	if cwd := ctx.CWD(); cwd != nil && !cwd.dead {
		return cwd
	}
	return nil
}

// freeTreeLocked unlinks d from its parent and drops d and everything below
// it, releasing their in-memory inodes.
//
// Preconditions: v.mu is held.
func (v *VFS) freeTreeLocked(d *Dentry) {
	if d.parent != nil {
		d.parent.children.Remove(d)
	}
	v.freeSubtreeLocked(d)
}

func (v *VFS) freeSubtreeLocked(d *Dentry) {
	for c := range d.children.All() {
		d.children.Remove(c)
		v.freeSubtreeLocked(c)
	}
	d.dead = true
	if d.inode != nil && !d.IsMountRoot() {
		d.inode.Attrs().Superblock().FreeInode(d.inode)
	}
	d.inode = nil
}

// hasMountBelowLocked returns true if a mount other than d's own is rooted
// at or below d.
//
// Preconditions: v.mu is held.
func (v *VFS) hasMountBelowLocked(d *Dentry) bool {
	for _, m := range v.mounts {
		if m == d.mount && m.root == d {
			continue
		}
		for a := m.root; a != nil; a = a.parent {
			if a == d {
				return true
			}
		}
	}
	return false
}
