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

// Package config provides basic infrastructure to set configuration settings
// for laritos. A board file is a TOML document, or YAML when its name ends in
// .yaml or .yml; anything it leaves out takes the value from Default.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	yaml "gopkg.in/yaml.v2"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/kernel"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Config holds the configuration of a laritos board.
type Config struct {
	Kernel Kernel `toml:"kernel" yaml:"kernel"`
	Timer  Timer  `toml:"timer" yaml:"timer"`

	Devices   []Device  `toml:"device" yaml:"device"`
	Mounts    []Mount   `toml:"mount" yaml:"mount"`
	Processes []Process `toml:"process" yaml:"process"`
}

// Kernel holds the kernel tunables.
type Kernel struct {
	// Scheduler is the scheduling policy, "preempt-rr" or "coop-fifo".
	Scheduler string `toml:"scheduler" yaml:"scheduler"`

	// Tick is the scheduler tick period.
	Tick Duration `toml:"tick" yaml:"tick"`

	MaxProcesses    int   `toml:"max-processes" yaml:"max-processes"`
	MaxFDs          int   `toml:"max-fds" yaml:"max-fds"`
	MaxUserPriority uint8 `toml:"max-user-priority" yaml:"max-user-priority"`
	LowestPriority  uint8 `toml:"lowest-priority" yaml:"lowest-priority"`

	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log-level" yaml:"log-level"`

	// LogFormat is "text" or "json". Empty picks text on a terminal and
	// json otherwise.
	LogFormat string `toml:"log-format" yaml:"log-format"`
}

// Timer kinds.
const (
	TimerHost    = "host"
	TimerVirtual = "virtual"
)

// Timer selects the hardware timer.
type Timer struct {
	// Kind is TimerHost, which follows wall time, or TimerVirtual, which
	// jumps ahead whenever the kernel idles.
	Kind string `toml:"kind" yaml:"kind"`

	// Frequency is the counter frequency in Hz.
	Frequency uint64 `toml:"frequency" yaml:"frequency"`
}

// Device kinds.
const (
	DeviceRAM  = "ram"
	DeviceFile = "file"
)

// Device describes a block device.
type Device struct {
	ID   string `toml:"id" yaml:"id"`
	Kind string `toml:"kind" yaml:"kind"`

	// Path is the host image of a file device.
	Path string `toml:"path" yaml:"path"`

	// Sectors is the size of a RAM device.
	Sectors    uint64 `toml:"sectors" yaml:"sectors"`
	SectorSize uint32 `toml:"sector-size" yaml:"sector-size"`

	// Format writes an empty ext2 filesystem on the device at boot.
	Format bool `toml:"format" yaml:"format"`

	// ReadOnly opens a file device without write access.
	ReadOnly bool `toml:"read-only" yaml:"read-only"`

	Product     string `toml:"product" yaml:"product"`
	Vendor      string `toml:"vendor" yaml:"vendor"`
	Description string `toml:"description" yaml:"description"`
	Default     bool   `toml:"default" yaml:"default"`
}

// Mount describes a filesystem mounted at boot, after "/" and "/sys".
type Mount struct {
	FSType string `toml:"fstype" yaml:"fstype"`
	Path   string `toml:"path" yaml:"path"`

	// Flags is made of 'r' and 'w'.
	Flags string `toml:"flags" yaml:"flags"`

	// Dev is the ID of the device backing the mount, if any.
	Dev string `toml:"dev" yaml:"dev"`
}

// Process describes a program started at boot.
type Process struct {
	// Name defaults to Program.
	Name     string   `toml:"name" yaml:"name"`
	Program  string   `toml:"program" yaml:"program"`
	Priority uint8    `toml:"priority" yaml:"priority"`
	Args     []string `toml:"args" yaml:"args"`
}

// Duration is a time.Duration written as a string such as "10ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultSectorSize is the sector size of devices that do not set one.
const DefaultSectorSize = 512

var defaultConfig = Config{
	Kernel: Kernel{
		Scheduler:       string(kernel.PolicyPreemptRR),
		Tick:            Duration(kernel.DefaultTick),
		MaxProcesses:    kernel.DefaultMaxProcesses,
		MaxFDs:          kernel.DefaultMaxFDs,
		MaxUserPriority: kernel.DefaultMaxUserPriority,
		LowestPriority:  kernel.DefaultLowestPriority,
		LogLevel:        "info",
	},
	Timer: Timer{
		Kind:      TimerHost,
		Frequency: 1_000_000,
	},
	Devices: []Device{{
		ID:          "ram0",
		Kind:        DeviceRAM,
		Sectors:     2048,
		SectorSize:  DefaultSectorSize,
		Format:      true,
		Product:     "RAM disk",
		Vendor:      "laritOS",
		Description: "scratch disk",
		Default:     true,
	}},
	Mounts: []Mount{{
		FSType: "ext2",
		Path:   "/data",
		Flags:  "rw",
		Dev:    "ram0",
	}},
	Processes: []Process{{
		Program: "banner",
	}},
}

// Default returns a copy of the default configuration.
func Default() *Config {
	return deepcopy.Copy(&defaultConfig).(*Config)
}

// Load reads the board file at path. Sections missing from the file keep
// their defaults; a file that lists devices, mounts or processes replaces
// the default list.
func Load(path string) (*Config, error) {
	c := Default()
	// Decoding into a non-empty slice would merge the file's entries into
	// the defaults.
	c.Devices, c.Mounts, c.Processes = nil, nil, nil
	var (
		defined func(key string) bool
		err     error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		defined, err = decodeYAML(path, c)
	default:
		defined, err = decodeTOML(path, c)
	}
	if err != nil {
		return nil, err
	}
	def := Default()
	if !defined("device") {
		c.Devices = def.Devices
	}
	if !defined("mount") {
		c.Mounts = def.Mounts
	}
	if !defined("process") {
		c.Processes = def.Processes
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

// decodeTOML decodes the TOML file at path into c and returns whether a
// top-level key was present.
func decodeTOML(path string, c *Config) (func(string) bool, error) {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %q: unknown keys %v", path, undecoded)
	}
	return func(key string) bool { return md.IsDefined(key) }, nil
}

// decodeYAML decodes the YAML file at path into c. Unknown keys are errors.
func decodeYAML(path string, c *Config) (func(string) bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.SetStrict(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	lists := map[string]bool{
		"device":  c.Devices != nil,
		"mount":   c.Mounts != nil,
		"process": c.Processes != nil,
	}
	return func(key string) bool { return lists[key] }, nil
}

// Validate fills in per-entry defaults and checks that c is usable.
func (c *Config) Validate() error {
	switch kernel.Policy(c.Kernel.Scheduler) {
	case kernel.PolicyPreemptRR, kernel.PolicyCoopFIFO:
	default:
		return fmt.Errorf("unknown scheduler %q", c.Kernel.Scheduler)
	}
	if _, err := log.ParseLevel(c.Kernel.LogLevel); err != nil {
		return err
	}
	switch c.Kernel.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q, must be 'text' or 'json'", c.Kernel.LogFormat)
	}
	switch c.Timer.Kind {
	case TimerHost, TimerVirtual:
	default:
		return fmt.Errorf("unknown timer kind %q", c.Timer.Kind)
	}
	if c.Timer.Frequency == 0 {
		return fmt.Errorf("timer frequency must be positive")
	}

	devs := make(map[string]bool)
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("device %d has no id", i)
		}
		if devs[d.ID] {
			return fmt.Errorf("device %q defined twice", d.ID)
		}
		devs[d.ID] = true
		if d.SectorSize == 0 {
			d.SectorSize = DefaultSectorSize
		}
		switch d.Kind {
		case DeviceRAM:
			if d.Sectors == 0 {
				return fmt.Errorf("RAM device %q needs a sector count", d.ID)
			}
		case DeviceFile:
			if d.Path == "" {
				return fmt.Errorf("file device %q needs a path", d.ID)
			}
		default:
			return fmt.Errorf("device %q has unknown kind %q", d.ID, d.Kind)
		}
	}

	for i := range c.Mounts {
		m := &c.Mounts[i]
		if m.FSType == "" {
			return fmt.Errorf("mount %q has no filesystem type", m.Path)
		}
		if !path.IsAbs(m.Path) || path.Clean(m.Path) == "/" || path.Clean(m.Path) == "/sys" {
			return fmt.Errorf("invalid mount point %q", m.Path)
		}
		if m.Flags == "" {
			m.Flags = "rw"
		}
		if _, err := vfs.ParseMountFlags(m.Flags); err != nil {
			return fmt.Errorf("mount %q: %w", m.Path, err)
		}
		if m.Dev != "" && !devs[m.Dev] {
			return fmt.Errorf("mount %q uses unknown device %q", m.Path, m.Dev)
		}
	}

	for i := range c.Processes {
		p := &c.Processes[i]
		if p.Program == "" {
			return fmt.Errorf("process %d has no program", i)
		}
		if p.Name == "" {
			p.Name = p.Program
		}
	}
	return nil
}

// Options returns the kernel options c describes. The timer, interrupt
// controller and VFS are left for the caller.
func (c *Config) Options() kernel.Options {
	return kernel.Options{
		Policy:          kernel.Policy(c.Kernel.Scheduler),
		Tick:            time.Duration(c.Kernel.Tick),
		MaxProcesses:    c.Kernel.MaxProcesses,
		MaxFDs:          c.Kernel.MaxFDs,
		MaxUserPriority: c.Kernel.MaxUserPriority,
		LowestPriority:  c.Kernel.LowestPriority,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Kernel: scheduler %s, tick %v, %d processes, %d fds, priorities %d..%d",
		c.Kernel.Scheduler, time.Duration(c.Kernel.Tick), c.Kernel.MaxProcesses, c.Kernel.MaxFDs,
		c.Kernel.MaxUserPriority, c.Kernel.LowestPriority)
	log.Infof("Timer: %s at %d Hz", c.Timer.Kind, c.Timer.Frequency)
	for _, d := range c.Devices {
		switch d.Kind {
		case DeviceRAM:
			log.Infof("Device %s: RAM, %d sectors of %d bytes, format %t, default %t", d.ID, d.Sectors, d.SectorSize, d.Format, d.Default)
		default:
			log.Infof("Device %s: file %q, %d-byte sectors, read-only %t, default %t", d.ID, d.Path, d.SectorSize, d.ReadOnly, d.Default)
		}
	}
	for _, m := range c.Mounts {
		log.Infof("Mount: %s on %s (%s) dev %q", m.FSType, m.Path, m.Flags, m.Dev)
	}
	for _, p := range c.Processes {
		log.Infof("Process %s: %s %v at priority %d", p.Name, p.Program, p.Args, p.Priority)
	}
}
