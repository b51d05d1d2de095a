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

package boot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/devices/console"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Env is what a program runs with.
type Env struct {
	Proc    *kernel.Process
	Kernel  *kernel.Kernel
	VFS     *vfs.VFS
	Console *console.Console

	// Args are the arguments after the program name.
	Args []string
}

// Printf writes to the console.
func (e *Env) Printf(format string, v ...any) {
	fmt.Fprintf(e.Console, format, v...)
}

func (e *Env) fail(err error) int {
	e.Printf("%s: %v\n", e.Proc.Name(), err)
	return 1
}

// Program is the body of a process started by the loader.
type Program func(e *Env) int

// programs are the programs a board can run, by name.
var programs = map[string]Program{
	"banner": banner,
	"cat":    cat,
	"echo":   echo,
	"ls":     ls,
	"mkdir":  mkdir,
	"ps":     ps,
	"rm":     rm,
	"sleep":  sleep,
	"write":  write,
}

// Programs returns the names of the built-in programs.
func Programs() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (l *Loader) runProgram(p *kernel.Process, arg any) int {
	pc := arg.(config.Process)
	return programs[pc.Program](&Env{
		Proc:    p,
		Kernel:  l.k,
		VFS:     l.v,
		Console: l.console,
		Args:    pc.Args,
	})
}

// ReadFile reads the whole file at path.
func (e *Env) ReadFile(path string) ([]byte, error) {
	f, err := e.VFS.OpenFile(e.Proc, path, vfs.MayRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var data []byte
	buf := make([]byte, 512)
	for {
		n, err := f.Read(buf, int64(len(data)))
		data = append(data, buf[:n]...)
		if err != nil {
			return data, err
		}
		if n == 0 {
			return data, nil
		}
	}
}

// readString reads a NUL-terminated text file.
func (e *Env) readString(path string) (string, error) {
	b, err := e.ReadFile(path)
	return strings.TrimRight(string(b), "\x00"), err
}

func banner(e *Env) int {
	kver, err := e.readString("/kver")
	if err != nil {
		return e.fail(err)
	}
	mounts, err := e.ReadFile("/mount")
	if err != nil {
		return e.fail(err)
	}
	e.Printf("Welcome to %s (%s scheduler)\n%s", kver, e.Kernel.Policy(), mounts)
	return 0
}

func echo(e *Env) int {
	e.Printf("%s\n", strings.Join(e.Args, " "))
	return 0
}

func cat(e *Env) int {
	status := 0
	for _, path := range e.Args {
		data, err := e.ReadFile(path)
		e.Printf("%s", data)
		if err != nil {
			status = e.fail(err)
		}
	}
	return status
}

func ls(e *Env) int {
	paths := e.Args
	if len(paths) == 0 {
		paths = []string{"."}
	}
	status := 0
	for _, path := range paths {
		f, err := e.VFS.OpenFile(e.Proc, path, vfs.MayRead)
		if err != nil {
			status = e.fail(err)
			continue
		}
		entries, err := f.ReadDir()
		f.Close()
		if err != nil {
			status = e.fail(err)
			continue
		}
		if len(paths) > 1 {
			e.Printf("%s:\n", path)
		}
		for _, ent := range entries {
			if ent.IsDir {
				e.Printf("%s/\n", ent.Name)
			} else {
				e.Printf("%s\n", ent.Name)
			}
		}
	}
	return status
}

func mkdir(e *Env) int {
	status := 0
	for _, path := range e.Args {
		if _, err := e.VFS.MkdirAt(e.Proc, path, vfs.ModeRW|vfs.MayExec); err != nil {
			status = e.fail(err)
		}
	}
	return status
}

func rm(e *Env) int {
	status := 0
	for _, path := range e.Args {
		if err := e.VFS.RemoveAt(e.Proc, path); err != nil {
			status = e.fail(err)
		}
	}
	return status
}

// write writes its arguments after the first, joined by spaces and ended by
// a newline, at the start of the file named by the first. The file is
// created if missing.
func write(e *Env) int {
	if len(e.Args) == 0 {
		return e.fail(fmt.Errorf("usage: write <path> [text...]: %w", kerr.EINVAL))
	}
	path := e.Args[0]
	if _, err := e.VFS.CreateFileAt(e.Proc, path, vfs.ModeRW); err != nil && !errors.Is(err, kerr.EEXIST) {
		return e.fail(err)
	}
	f, err := e.VFS.OpenFile(e.Proc, path, vfs.MayWrite)
	if err != nil {
		return e.fail(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(strings.Join(e.Args[1:], " ")+"\n"), 0); err != nil {
		return e.fail(err)
	}
	return 0
}

func sleep(e *Env) int {
	for _, arg := range e.Args {
		ms, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return e.fail(fmt.Errorf("invalid duration %q: %w", arg, kerr.EINVAL))
		}
		e.Kernel.Msleep(uint32(ms))
	}
	return 0
}

// ps lists the processes from the sysfs tree.
func ps(e *Env) int {
	dir := SysPath + "/proc"
	f, err := e.VFS.OpenFile(e.Proc, dir, vfs.MayRead)
	if err != nil {
		return e.fail(err)
	}
	entries, err := f.ReadDir()
	f.Close()
	if err != nil {
		return e.fail(err)
	}
	e.Printf("%5s %5s %-16s %-8s %4s\n", "PID", "PPID", "NAME", "STATUS", "PRIO")
	for _, ent := range entries {
		if ent.Name == ".." {
			continue
		}
		base := dir + "/" + ent.Name + "/"
		name, err := e.readString(base + "name")
		if err != nil {
			// Reaped since the listing.
			continue
		}
		status, _ := e.readString(base + "status")
		ppid, _ := e.ReadFile(base + "ppid")
		prio, _ := e.ReadFile(base + "priority")
		e.Printf("%5s %5d %-16s %-8s %4d\n", ent.Name, int16(uint16At(ppid)), name, status, uint16At(prio))
	}
	return 0
}

func uint16At(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}
