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

// Package sys builds the sysfs tree: pseudo-files that expose kernel, process
// and hardware state.
//
// The tree is split over two directories. Files describing the whole system
// ("kver", "mount") live in the VFS root; everything else lives below the
// sysfs directory, usually a pseudofs mounted at "/sys":
//
//	proc/<pid>/{name,pid,ppid,kernel,cmd,cwd,priority,status,running,ready,blocked}
//	stats/sched/{ctxswitches,osticks}
//	component/<type>/<id>/{product,vendor,description,default}
//
// Block devices additionally get {data,nsectors,sectorsize}. Each group of
// files is created by a Module; Install creates all of them or none.
package sys

import (
	"fmt"
	"strconv"
	"sync"

	"laritos.dev/laritos/pkg/cleanup"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

const dirMode = vfs.MayRead | vfs.MayWrite | vfs.MayExec

// Module creates and removes one group of sysfs files.
type Module struct {
	// Name identifies the module in logs.
	Name string

	// Create adds the files of the module to t.
	Create func(t *Tree) error

	// Remove undoes Create. It is called in reverse module order on
	// uninstall and when a later module fails to install.
	Remove func(t *Tree) error
}

// Modules returns the modules Install uses by default.
func Modules() []Module {
	return []Module{
		coreModule,
		mountModule,
		procModule,
		schedModule,
		componentModule,
	}
}

// Tree is an installed sysfs tree. It implements kernel.ProcessObserver to
// keep proc/ in sync with the process table.
type Tree struct {
	k    *kernel.Kernel
	v    *vfs.VFS
	root *vfs.Dentry
	sys  *vfs.Dentry

	// mu protects the fields below. It is never held while files are
	// created or removed.
	mu        sync.Mutex
	installed []Module
	procDir   *vfs.Dentry
	compDir   *vfs.Dentry
}

// New returns an empty tree for k. root is the VFS root and sys the
// directory, usually a mount point, that holds the per-subsystem files.
func New(k *kernel.Kernel, v *vfs.VFS, root, sys *vfs.Dentry) *Tree {
	t := &Tree{k: k, v: v, root: root, sys: sys}
	k.AddObserver(t)
	return t
}

// Kernel returns the kernel t describes.
func (t *Tree) Kernel() *kernel.Kernel {
	return t.k
}

// VFS returns the VFS t lives in.
func (t *Tree) VFS() *vfs.VFS {
	return t.v
}

// Root returns the VFS root.
func (t *Tree) Root() *vfs.Dentry {
	return t.root
}

// Sys returns the sysfs directory.
func (t *Tree) Sys() *vfs.Dentry {
	return t.sys
}

// Install creates the files of mods in order. If a module fails, the ones
// already created are removed in reverse order and the error is returned.
func (t *Tree) Install(mods []Module) error {
	var done []Module
	cu := cleanup.Make(func() {
		for i := len(done) - 1; i >= 0; i-- {
			m := done[i]
			log.Warningf("Removing sysfs files for %q", m.Name)
			if err := m.Remove(t); err != nil {
				log.Warningf("Failed to remove sysfs files for %q: %v", m.Name, err)
			}
		}
	})
	defer cu.Clean()
	for _, m := range mods {
		log.Debugf("Creating sysfs files for %q", m.Name)
		if err := m.Create(t); err != nil {
			log.Warningf("Failed to create sysfs files for %q: %v", m.Name, err)
			return fmt.Errorf("sysfs module %q: %w", m.Name, err)
		}
		done = append(done, m)
	}
	cu.Release()
	t.mu.Lock()
	t.installed = append(t.installed, done...)
	t.mu.Unlock()
	return nil
}

// Uninstall removes every installed module, last installed first. It keeps
// going after a failure and returns the first error.
func (t *Tree) Uninstall() error {
	t.mu.Lock()
	installed := t.installed
	t.installed = nil
	t.mu.Unlock()
	var first error
	for i := len(installed) - 1; i >= 0; i-- {
		m := installed[i]
		if err := m.Remove(t); err != nil {
			log.Warningf("Failed to remove sysfs files for %q: %v", m.Name, err)
			if first == nil {
				first = fmt.Errorf("sysfs module %q: %w", m.Name, err)
			}
		}
	}
	return first
}

// uintString returns the NUL-terminated decimal form of n, as read from the
// numeric text files.
func uintString(n uint64) []byte {
	return append(strconv.AppendUint(nil, n, 10), 0)
}
