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
	"fmt"
	"strings"

	"laritos.dev/laritos/pkg/errors/kerr"
)

// AccessMode is a bitmask of inode permissions and, for open files, of the
// accesses requested at open time.
type AccessMode uint8

// Bits in AccessMode.
const (
	MayExec  AccessMode = 1
	MayWrite AccessMode = 2
	MayRead  AccessMode = 4

	// ModeDir marks directory inodes. It is never requested by OpenFile.
	ModeDir AccessMode = 8
)

// ModeRW is shorthand for read and write access.
const ModeRW = MayRead | MayWrite

// IsDir returns true if m describes a directory.
func (m AccessMode) IsDir() bool {
	return m&ModeDir != 0
}

// Allows returns true if every bit of want is set in m.
func (m AccessMode) Allows(want AccessMode) bool {
	return m&want == want
}

// String renders m the way ls(1) does, e.g. "drw-".
func (m AccessMode) String() string {
	b := []byte("----")
	if m&ModeDir != 0 {
		b[0] = 'd'
	}
	if m&MayRead != 0 {
		b[1] = 'r'
	}
	if m&MayWrite != 0 {
		b[2] = 'w'
	}
	if m&MayExec != 0 {
		b[3] = 'x'
	}
	return string(b)
}

// MountFlags control the accesses a mount allows.
type MountFlags uint8

// Bits in MountFlags.
const (
	MountRead  MountFlags = 1
	MountWrite MountFlags = 2
)

// ParseMountFlags parses a flags string made of 'r' and 'w', e.g. "rw".
func ParseMountFlags(s string) (MountFlags, error) {
	var f MountFlags
	for _, c := range s {
		switch c {
		case 'r':
			f |= MountRead
		case 'w':
			f |= MountWrite
		default:
			return 0, fmt.Errorf("invalid mount flag %q in %q: %w", c, s, kerr.EINVAL)
		}
	}
	return f, nil
}

func (f MountFlags) String() string {
	var b strings.Builder
	if f&MountRead != 0 {
		b.WriteByte('r')
	}
	if f&MountWrite != 0 {
		b.WriteByte('w')
	}
	return b.String()
}

// checkCreate checks that a child may be added to or removed from dir.
func checkCreate(dir *Dentry) error {
	if dir.inode == nil {
		return kerr.ENOENT
	}
	mode := dir.inode.Attrs().Mode()
	if !mode.IsDir() {
		return kerr.ENOTDIR
	}
	if !mode.Allows(MayWrite) {
		return kerr.EACCES
	}
	if dir.mount.flags&MountWrite == 0 {
		return kerr.EROFS
	}
	return nil
}

// checkOpen checks that d may be opened with mode.
func checkOpen(d *Dentry, mode AccessMode) error {
	if mode&ModeDir != 0 || mode&ModeRW == 0 && mode&MayExec == 0 {
		return kerr.EINVAL
	}
	if !d.inode.Attrs().Mode().Allows(mode) {
		return kerr.EACCES
	}
	if mode&MayWrite != 0 && d.mount.flags&MountWrite == 0 {
		return kerr.EROFS
	}
	if mode&MayRead != 0 && d.mount.flags&MountRead == 0 {
		return kerr.EACCES
	}
	return nil
}
