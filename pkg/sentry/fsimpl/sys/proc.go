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

package sys

import (
	"strconv"

	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

var procModule = Module{
	Name: "proc",
	Create: func(t *Tree) error {
		dir, err := t.v.DirCreate(t.sys, "proc", dirMode)
		if err != nil {
			return err
		}
		for _, p := range t.k.Processes() {
			if err := t.createProcDir(dir, p); err != nil {
				log.Warningf("Could not create sysfs directory for %v: %v", p, err)
			}
		}
		t.mu.Lock()
		t.procDir = dir
		t.mu.Unlock()
		return nil
	},
	Remove: func(t *Tree) error {
		t.mu.Lock()
		t.procDir = nil
		t.mu.Unlock()
		return t.v.DirRemove(t.sys, "proc")
	},
}

var _ kernel.ProcessObserver = (*Tree)(nil)

// ProcessRegistered implements kernel.ProcessObserver.ProcessRegistered.
func (t *Tree) ProcessRegistered(p *kernel.Process) {
	t.mu.Lock()
	dir := t.procDir
	t.mu.Unlock()
	if dir == nil {
		return
	}
	if err := t.createProcDir(dir, p); err != nil {
		log.Warningf("Could not create sysfs directory for %v: %v", p, err)
	}
}

// ProcessReaped implements kernel.ProcessObserver.ProcessReaped.
func (t *Tree) ProcessReaped(p *kernel.Process) {
	t.mu.Lock()
	dir := t.procDir
	t.mu.Unlock()
	if dir == nil {
		return
	}
	if err := t.v.DirRemove(dir, pidName(p)); err != nil {
		log.Warningf("Could not remove sysfs directory for %v: %v", p, err)
	}
}

func pidName(p *kernel.Process) string {
	return strconv.Itoa(int(p.PID()))
}

// createProcDir creates proc/<pid>. Files that cannot be created are logged
// and skipped.
func (t *Tree) createProcDir(procDir *vfs.Dentry, p *kernel.Process) error {
	dir, err := t.v.DirCreate(procDir, pidName(p), dirMode)
	if err != nil {
		return err
	}
	v := t.v
	check := func(name string, _ *vfs.Dentry, err error) {
		if err != nil {
			log.Warningf("Failed to create %q sysfs file for pid %d: %v", name, p.PID(), err)
		}
	}
	strFile := func(name string, get func() string) {
		d, err := pseudofs.CreateStringFile(v, dir, name, get)
		check(name, d, err)
	}
	u16File := func(name string, get func() uint16) {
		d, err := pseudofs.CreateUintFile(v, dir, name, get, nil)
		check(name, d, err)
	}
	ticksFile := func(name string, s kernel.Status) {
		d, err := pseudofs.CreateUintFile(v, dir, name, func() uint32 { return uint32(p.TicksIn(s)) }, nil)
		check(name, d, err)
	}

	strFile("name", p.Name)
	u16File("pid", func() uint16 { return uint16(p.PID()) })
	u16File("ppid", func() uint16 { return uint16(p.PPID()) })
	d, err := pseudofs.CreateBoolFile(v, dir, "kernel", p.IsKernel, nil)
	check("kernel", d, err)
	strFile("cmd", p.Cmd)
	strFile("cwd", func() string {
		if cwd := p.CWD(); cwd != nil {
			return v.FullPath(cwd)
		}
		return "/"
	})
	u16File("priority", func() uint16 { return uint16(p.Priority()) })
	strFile("status", func() string { return p.Status().String() })
	ticksFile("running", kernel.StatusRunning)
	ticksFile("ready", kernel.StatusReady)
	ticksFile("blocked", kernel.StatusBlocked)

	scDir, err := v.DirCreate(dir, "syscalls", dirMode)
	check("syscalls", scDir, err)
	if err != nil {
		return nil
	}
	for sc := range kernel.NumSyscalls {
		d, err := pseudofs.CreateUintFile(v, scDir, sc.String(), func() uint32 { return uint32(p.SyscallCount(sc)) }, nil)
		check("syscalls/"+sc.String(), d, err)
	}
	return nil
}
