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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/sentry/kernel"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	return writeConfigAs(t, "board.toml", text)
}

func writeConfigAs(t *testing.T, name, text string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(text), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate(Default()): %v", err)
	}
	c.Devices[0].ID = "changed"
	c.Processes = append(c.Processes, Process{Program: "ls"})
	if d := Default(); d.Devices[0].ID != "ram0" || len(d.Processes) != 1 {
		t.Errorf("Default() aliases a previous copy: %+v", d)
	}
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
[kernel]
scheduler = "coop-fifo"
tick = "5ms"
max-fds = 8

[timer]
kind = "virtual"

[[device]]
id = "disk0"
kind = "file"
path = "/tmp/disk.img"
default = true

[[device]]
id = "ram1"
kind = "ram"
sectors = 64

[[mount]]
fstype = "ext2"
path = "/disk"
dev = "disk0"

[[process]]
program = "ls"
priority = 12
args = ["/sys"]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Kernel.Scheduler = string(kernel.PolicyCoopFIFO)
	want.Kernel.Tick = Duration(5 * time.Millisecond)
	want.Kernel.MaxFDs = 8
	want.Timer.Kind = TimerVirtual
	want.Devices = []Device{
		{ID: "disk0", Kind: DeviceFile, Path: "/tmp/disk.img", SectorSize: DefaultSectorSize, Default: true},
		{ID: "ram1", Kind: DeviceRAM, Sectors: 64, SectorSize: DefaultSectorSize},
	}
	want.Mounts = []Mount{{FSType: "ext2", Path: "/disk", Flags: "rw", Dev: "disk0"}}
	want.Processes = []Process{{Name: "ls", Program: "ls", Priority: 12, Args: []string{"/sys"}}}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	opts := c.Options()
	if opts.Policy != kernel.PolicyCoopFIFO || opts.Tick != 5*time.Millisecond || opts.MaxFDs != 8 {
		t.Errorf("Options() = %+v", opts)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeConfigAs(t, "board.yaml", `
kernel:
  tick: 2ms
  log-level: debug
timer:
  kind: virtual
  frequency: 1000
mount:
  - fstype: pseudofs
    path: /tmp
process:
  - program: echo
    name: hello
    priority: 100
    args: [hi, there]
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Kernel.Tick = Duration(2 * time.Millisecond)
	want.Kernel.LogLevel = "debug"
	want.Timer = Timer{Kind: TimerVirtual, Frequency: 1000}
	want.Mounts = []Mount{{FSType: "pseudofs", Path: "/tmp", Flags: "rw"}}
	want.Processes = []Process{{Name: "hello", Program: "echo", Priority: 100, Args: []string{"hi", "there"}}}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	if _, err := Load(writeConfigAs(t, "bad.yml", "kernel:\n  speed: 3\n")); err == nil {
		t.Errorf("Load with an unknown YAML key succeeded")
	}
}

func TestLoadKeepsDefaultLists(t *testing.T) {
	c, err := Load(writeConfig(t, "[kernel]\nlog-level = \"debug\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Kernel.LogLevel = "debug"
	want.Processes[0].Name = "banner"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
		want string
	}{
		{"syntax", "[kernel", "loading config"},
		{"unknown key", "[kernel]\nspeed = 3\n", "unknown keys"},
		{"scheduler", "[kernel]\nscheduler = \"lottery\"\n", "unknown scheduler"},
		{"tick", "[kernel]\ntick = \"soon\"\n", "loading config"},
		{"log format", "[kernel]\nlog-format = \"xml\"\n", "unknown log format"},
		{"timer", "[timer]\nkind = \"atomic\"\n", "unknown timer kind"},
		{"duplicate device", "[[device]]\nid = \"a\"\nkind = \"ram\"\nsectors = 8\n[[device]]\nid = \"a\"\nkind = \"ram\"\nsectors = 8\n", "defined twice"},
		{"ram size", "[[device]]\nid = \"a\"\nkind = \"ram\"\n", "needs a sector count"},
		{"file path", "[[device]]\nid = \"a\"\nkind = \"file\"\n", "needs a path"},
		{"device kind", "[[device]]\nid = \"a\"\nkind = \"tape\"\n", "unknown kind"},
		{"root mount", "[[mount]]\nfstype = \"ext2\"\npath = \"/\"\n", "invalid mount point"},
		{"mount flags", "[[mount]]\nfstype = \"pseudofs\"\npath = \"/tmp\"\nflags = \"x\"\n", "invalid mount flag"},
		{"mount device", "[[mount]]\nfstype = \"ext2\"\npath = \"/d\"\ndev = \"nope\"\n", "unknown device"},
		{"program", "[[process]]\nname = \"p\"\n", "has no program"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.text))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load: got %v, want an error containing %q", err, tc.want)
			}
		})
	}
}
