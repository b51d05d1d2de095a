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
	"sync"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/fspath"
)

var fspathBuilderPool = sync.Pool{
	New: func() any {
		return &fspath.Builder{}
	},
}

// FullPath returns the absolute pathname of d, e.g. "/test/dir1". Dentries
// removed from the tree keep the path they had.
func (v *VFS) FullPath(d *Dentry) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fullPathLocked(d)
}

// Preconditions: the tree lock is held.
func fullPathLocked(d *Dentry) string {
	b := fspathBuilderPool.Get().(*fspath.Builder)
	defer func() {
		b.Reset()
		fspathBuilderPool.Put(b)
	}()
	for ; d.parent != nil; d = d.parent {
		b.Prepend(d.name)
	}
	return b.String()
}

// splitPath splits pathname into the directory part and the last component.
// The directory part of a relative single-component path is empty.
func splitPath(pathname string) (dir, name string, err error) {
	p, err := fspath.Parse(pathname)
	if err != nil {
		return "", "", err
	}
	if !p.HasComponents() {
		return "", "", kerr.EEXIST
	}
	parent, name := p.Split()
	if parent.Absolute || parent.HasComponents() {
		dir = parent.String()
	}
	return dir, name, nil
}

// checkName validates the name of a new file or directory.
func checkName(name string) error {
	return fspath.CheckName(name)
}
