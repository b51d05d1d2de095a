// Copyright 2018 The gVisor Authors.
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

// Package boot loads and runs a laritos kernel as described by a board
// configuration.
package boot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/cleanup"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/devices/console"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/fsimpl/sys"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Interrupt lines of the board.
const (
	TimerIRQ   hw.IRQ = 30
	ConsoleIRQ hw.IRQ = 33
)

// Priorities used by the loader. Lower values are more important.
const (
	consolePriority = 64

	// DefaultPriority is the priority of configured processes that do not
	// set one.
	DefaultPriority = 128
)

// SysPath is where the sysfs tree is mounted.
const SysPath = "/sys"

// Args are the arguments for New.
type Args struct {
	// Config describes the board. Defaults to config.Default().
	Config *config.Config

	// Output receives console output. Defaults to discarding it.
	Output io.Writer

	// BuildInfo is reported in the kernel version.
	BuildInfo string
}

// Loader keeps state needed to start the kernel and run the configured
// programs.
type Loader struct {
	conf *config.Config

	// k is the kernel.
	k *kernel.Kernel

	// v is the VFS, whose tree lock is treeLock.
	v        *vfs.VFS
	treeLock kernel.RMutex

	intc  *hw.InterruptController
	timer hw.Timer

	// disks holds the block devices by ID; fileDisks the ones that must be
	// closed.
	disks     map[string]hw.BlockDevice
	fileDisks []*hw.FileDisk

	// mounts lists the mount points made by the loader, in order.
	mounts []string

	sysfs   *sys.Tree
	console *console.Console
}

// New creates the devices, the kernel and the filesystems of a board. The
// kernel does not run until Run is called.
func New(ctx context.Context, args Args) (*Loader, error) {
	conf := args.Config
	if conf == nil {
		conf = config.Default()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	for _, p := range conf.Processes {
		if _, ok := programs[p.Program]; !ok {
			return nil, fmt.Errorf("process %q runs unknown program %q", p.Name, p.Program)
		}
	}

	l := &Loader{
		conf:  conf,
		disks: make(map[string]hw.BlockDevice),
	}
	cu := cleanup.Make(func() {
		if err := l.Destroy(); err != nil {
			log.Warningf("Cleaning up a failed boot: %v", err)
		}
	})
	defer cu.Clean()

	if err := l.createCPU(); err != nil {
		return nil, err
	}

	l.v = vfs.New(vfs.Options{TreeLock: &l.treeLock})
	l.v.MustRegisterFilesystemType(pseudofs.FilesystemType{})
	l.v.MustRegisterFilesystemType(ext2.FilesystemType{})

	opts := conf.Options()
	opts.Timer = l.timer
	opts.Intc = l.intc
	opts.VFS = l.v
	opts.BuildInfo = args.BuildInfo
	k, err := kernel.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating kernel: %w", err)
	}
	l.k = k
	l.treeLock.Init(k)
	for _, c := range []hw.Component{l.intc, l.timer} {
		if err := k.RegisterComponent(c); err != nil {
			return nil, err
		}
	}

	if err := l.createDevices(ctx); err != nil {
		return nil, err
	}
	l.console, err = console.New(k, console.Options{
		Info: hw.ComponentInfo{
			ID:          "uart0",
			Product:     "Virtual UART",
			Vendor:      "laritOS",
			Description: "system console",
			Default:     true,
		},
		Output: args.Output,
		Intc:   l.intc,
		IRQ:    ConsoleIRQ,
	})
	if err != nil {
		return nil, fmt.Errorf("creating console: %w", err)
	}
	if err := k.RegisterComponent(l.console); err != nil {
		return nil, err
	}

	if err := l.mountAll(); err != nil {
		return nil, err
	}
	if _, err := l.console.CreateFile(l.v, l.v.Root(), "console"); err != nil {
		return nil, fmt.Errorf("creating /console: %w", err)
	}
	sysDir, err := l.v.Lookup(nil, SysPath)
	if err != nil {
		return nil, err
	}
	l.sysfs = sys.New(k, l.v, l.v.Root(), sysDir)
	if err := l.sysfs.Install(sys.Modules()); err != nil {
		return nil, err
	}

	cu.Release()
	return l, nil
}

// createCPU creates the interrupt controller and the timer.
func (l *Loader) createCPU() error {
	l.intc = hw.NewInterruptController(hw.ComponentInfo{
		ID:      "intc0",
		Product: "Generic interrupt controller",
		Vendor:  "laritOS",
		Default: true,
	})
	info := hw.ComponentInfo{ID: "timer0", Vendor: "laritOS", Default: true}
	var err error
	switch l.conf.Timer.Kind {
	case config.TimerVirtual:
		info.Product = "Virtual timer"
		l.timer, err = hw.NewVirtualTimer(info, l.conf.Timer.Frequency, l.intc, TimerIRQ)
	default:
		info.Product = "Host timer"
		l.timer, err = hw.NewHostTimer(info, l.conf.Timer.Frequency, l.intc, TimerIRQ)
	}
	if err != nil {
		return fmt.Errorf("creating timer: %w", err)
	}
	log.Infof("Timer: %s at %d Hz", info.Product, l.conf.Timer.Frequency)
	return nil
}

// mountAll mounts pseudofs at "/" and SysPath, then the configured mounts.
func (l *Loader) mountAll() error {
	const rw = vfs.MountRead | vfs.MountWrite
	for _, mnt := range []string{"/", SysPath} {
		if _, err := l.v.Mount(pseudofs.Name, mnt, rw, nil); err != nil {
			return err
		}
		l.mounts = append(l.mounts, mnt)
	}
	for _, m := range l.conf.Mounts {
		flags, err := vfs.ParseMountFlags(m.Flags)
		if err != nil {
			return err
		}
		var params vfs.Params
		if m.Dev != "" {
			params = vfs.Params{ext2.DeviceParam: l.disks[m.Dev]}
		}
		if _, err := l.v.Mount(m.FSType, m.Path, flags, params); err != nil {
			return fmt.Errorf("mounting %s on %s: %w", m.FSType, m.Path, err)
		}
		l.mounts = append(l.mounts, m.Path)
	}
	return nil
}

// Kernel returns the kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// VFS returns the VFS of the kernel.
func (l *Loader) VFS() *vfs.VFS {
	return l.v
}

// Console returns the system console.
func (l *Loader) Console() *console.Console {
	return l.console
}

// Disk returns the block device called id.
func (l *Loader) Disk(id string) (hw.BlockDevice, bool) {
	d, ok := l.disks[id]
	return d, ok
}

// Run boots the kernel and runs the configured processes. It returns once
// they have all exited, with the first non-zero exit status among them.
func (l *Loader) Run() (int, error) {
	log.Infof("Booting %s", l.k.Version())
	return l.k.Run(l.main, nil)
}

// Shutdown stops a running kernel. It is safe to call from any goroutine.
func (l *Loader) Shutdown() {
	l.k.Shutdown()
}

// main is the body of the main kernel process.
func (l *Loader) main(p *kernel.Process, _ any) int {
	if _, err := l.console.Start(consolePriority); err != nil {
		log.Warningf("Console not started: %v", err)
		return 1
	}
	var procs []*kernel.Process
	for _, pc := range l.conf.Processes {
		prio := pc.Priority
		if prio == 0 {
			prio = DefaultPriority
		}
		child, err := l.k.Spawn(kernel.SpawnOptions{
			Name:     pc.Name,
			Cmd:      strings.Join(append([]string{pc.Program}, pc.Args...), " "),
			Main:     l.runProgram,
			Arg:      pc,
			Priority: prio,
			User:     true,
		})
		if err != nil {
			log.Warningf("Could not start %s: %v", pc.Name, err)
			fmt.Fprintf(l.console, "%s: %v\n", pc.Name, err)
			continue
		}
		procs = append(procs, child)
	}

	status := 0
	for _, child := range procs {
		name := child.Name()
		st, err := l.k.WaitFor(child)
		if err != nil {
			log.Warningf("Waiting for %s: %v", name, err)
			continue
		}
		log.Infof("Process %s exited with status %d", name, st)
		if status == 0 {
			status = st
		}
	}
	l.console.Flush()
	return status
}

// Destroy unmounts the filesystems and closes the devices. The kernel must
// not be running.
func (l *Loader) Destroy() error {
	var errs []error
	if l.sysfs != nil {
		if err := l.sysfs.Uninstall(); err != nil {
			errs = append(errs, err)
		}
		l.sysfs = nil
	}
	for i := len(l.mounts) - 1; i >= 0; i-- {
		if err := l.v.Unmount(l.mounts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	l.mounts = nil
	for _, d := range l.fileDisks {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.fileDisks = nil
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs[1:] {
		log.Warningf("Destroy: %v", err)
	}
	return errs[0]
}
