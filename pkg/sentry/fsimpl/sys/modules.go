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
	"bytes"
	"fmt"

	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

var coreModule = Module{
	Name: "core",
	Create: func(t *Tree) error {
		kver := append([]byte(t.k.Version().String()), 0)
		_, err := pseudofs.CreateBinFile(t.v, t.root, "kver", vfs.MayRead, kver)
		return err
	},
	Remove: func(t *Tree) error {
		return t.v.FileRemove(t.root, "kver")
	},
}

var mountModule = Module{
	Name: "mount",
	Create: func(t *Tree) error {
		_, err := pseudofs.CreateCustomROFile(t.v, t.root, "mount", func(to []byte, off int64) (int, error) {
			return pseudofs.WriteToBuf(to, MountTable(t.v), off), nil
		})
		return err
	},
	Remove: func(t *Tree) error {
		return t.v.FileRemove(t.root, "mount")
	},
}

// MountTable formats the mounts of v, one per line: mount point, device,
// filesystem type and flags.
func MountTable(v *vfs.VFS) []byte {
	var buf bytes.Buffer
	for _, m := range v.Mounts() {
		dev := "<nodev>"
		if d := m.Superblock().Device(); d != nil {
			dev = d.Info().ID
		}
		var r, w string
		if m.Flags()&vfs.MountRead != 0 {
			r = "r"
		}
		if m.Flags()&vfs.MountWrite != 0 {
			w = "w"
		}
		fmt.Fprintf(&buf, "%-10.10s %-10.10s %-10.10s %s%s\n", m.Path(), dev, m.FilesystemType().Name(), r, w)
	}
	return buf.Bytes()
}

var schedModule = Module{
	Name: "sched",
	Create: func(t *Tree) error {
		stats, err := t.v.DirCreate(t.sys, "stats", dirMode)
		if err != nil {
			return err
		}
		sched, err := t.v.DirCreate(stats, "sched", dirMode)
		if err != nil {
			t.v.DirRemove(t.sys, "stats")
			return err
		}
		files := []struct {
			name string
			get  func() uint64
		}{
			{"ctxswitches", func() uint64 { return t.k.Stats().CtxSwitches }},
			{"osticks", func() uint64 { return t.k.Stats().OSTicks }},
		}
		for _, f := range files {
			get := f.get
			if _, err := pseudofs.CreateCustomROFile(t.v, sched, f.name, func(to []byte, off int64) (int, error) {
				return pseudofs.WriteToBuf(to, uintString(get()), off), nil
			}); err != nil {
				t.v.DirRemove(t.sys, "stats")
				return err
			}
		}
		return nil
	},
	Remove: func(t *Tree) error {
		return t.v.DirRemove(t.sys, "stats")
	},
}
