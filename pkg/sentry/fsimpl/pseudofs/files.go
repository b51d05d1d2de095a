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

package pseudofs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// WriteToBuf copies from[off:] into to and returns the number of bytes
// copied. It is the usual body of a ReadFunc.
func WriteToBuf(to, from []byte, off int64) int {
	if off < 0 || off >= int64(len(from)) {
		return 0
	}
	return copy(to, from[off:])
}

// ReadFromBuf copies from into to[off:] and returns the number of bytes
// copied. It is the usual body of a WriteFunc.
func ReadFromBuf(to, from []byte, off int64) int {
	if off < 0 || off >= int64(len(to)) {
		return 0
	}
	return copy(to[off:], from)
}

// CreateCustomFile creates the file name in parent whose contents come from
// read and write.
func CreateCustomFile(v *vfs.VFS, parent *vfs.Dentry, name string, mode vfs.AccessMode, read ReadFunc, write WriteFunc) (*vfs.Dentry, error) {
	d, err := v.FileCreate(parent, name, mode)
	if err != nil {
		return nil, err
	}
	inode, ok := d.Inode().(*Inode)
	if !ok {
		v.FileRemove(parent, name)
		return nil, fmt.Errorf("creating %q: parent is not a %s directory: %w", name, Name, kerr.EINVAL)
	}
	inode.SetCallbacks(read, write)
	return d, nil
}

// CreateCustomROFile creates a read-only file backed by read.
func CreateCustomROFile(v *vfs.VFS, parent *vfs.Dentry, name string, read ReadFunc) (*vfs.Dentry, error) {
	return CreateCustomFile(v, parent, name, vfs.MayRead, read, nil)
}

// CreateCustomWOFile creates a write-only file backed by write.
func CreateCustomWOFile(v *vfs.VFS, parent *vfs.Dentry, name string, write WriteFunc) (*vfs.Dentry, error) {
	return CreateCustomFile(v, parent, name, vfs.MayWrite, nil, write)
}

// CreateCustomRWFile creates a file backed by read and write.
func CreateCustomRWFile(v *vfs.VFS, parent *vfs.Dentry, name string, read ReadFunc, write WriteFunc) (*vfs.Dentry, error) {
	return CreateCustomFile(v, parent, name, vfs.ModeRW, read, write)
}

// CreateBinFile creates a file exposing buf as is. Writes, if mode allows
// them, modify buf in place and never grow it.
func CreateBinFile(v *vfs.VFS, parent *vfs.Dentry, name string, mode vfs.AccessMode, buf []byte) (*vfs.Dentry, error) {
	var mu sync.Mutex
	var read ReadFunc
	var write WriteFunc
	if mode&vfs.MayRead != 0 {
		read = func(to []byte, off int64) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return WriteToBuf(to, buf, off), nil
		}
	}
	if mode&vfs.MayWrite != 0 {
		write = func(from []byte, off int64) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return ReadFromBuf(buf, from, off), nil
		}
	}
	return CreateCustomFile(v, parent, name, mode&vfs.ModeRW, read, write)
}

// CreateStringFile creates a read-only file holding the NUL-terminated value
// of get at the time of each read.
func CreateStringFile(v *vfs.VFS, parent *vfs.Dentry, name string, get func() string) (*vfs.Dentry, error) {
	return CreateCustomROFile(v, parent, name, func(to []byte, off int64) (int, error) {
		s := get()
		b := make([]byte, len(s)+1)
		copy(b, s)
		return WriteToBuf(to, b, off), nil
	})
}

// Uint is the set of integer types CreateUintFile exposes.
type Uint interface {
	~uint16 | ~uint32 | ~uint64
}

// CreateUintFile creates a file holding a little-endian integer. Reads call
// get; writes, if set is not nil, decode a full integer written at offset 0
// and pass it to set.
func CreateUintFile[T Uint](v *vfs.VFS, parent *vfs.Dentry, name string, get func() T, set func(T)) (*vfs.Dentry, error) {
	var zero T
	size := binary.Size(zero)
	read := func(to []byte, off int64) (int, error) {
		b := make([]byte, 0, 8)
		switch size {
		case 2:
			b = binary.LittleEndian.AppendUint16(b, uint16(get()))
		case 4:
			b = binary.LittleEndian.AppendUint32(b, uint32(get()))
		default:
			b = binary.LittleEndian.AppendUint64(b, uint64(get()))
		}
		return WriteToBuf(to, b, off), nil
	}
	mode := vfs.MayRead
	var write WriteFunc
	if set != nil {
		mode |= vfs.MayWrite
		write = func(from []byte, off int64) (int, error) {
			if off != 0 || len(from) < size {
				return 0, kerr.EINVAL
			}
			switch size {
			case 2:
				set(T(binary.LittleEndian.Uint16(from)))
			case 4:
				set(T(binary.LittleEndian.Uint32(from)))
			default:
				set(T(binary.LittleEndian.Uint64(from)))
			}
			return size, nil
		}
	}
	return CreateCustomFile(v, parent, name, mode, read, write)
}

// CreateBoolFile creates a file holding a single byte, 1 for true and 0 for
// false.
func CreateBoolFile(v *vfs.VFS, parent *vfs.Dentry, name string, get func() bool, set func(bool)) (*vfs.Dentry, error) {
	read := func(to []byte, off int64) (int, error) {
		b := []byte{0}
		if get() {
			b[0] = 1
		}
		return WriteToBuf(to, b, off), nil
	}
	mode := vfs.MayRead
	var write WriteFunc
	if set != nil {
		mode |= vfs.MayWrite
		write = func(from []byte, off int64) (int, error) {
			if off != 0 || len(from) == 0 {
				return 0, kerr.EINVAL
			}
			set(from[0] != 0)
			return 1, nil
		}
	}
	return CreateCustomFile(v, parent, name, mode, read, write)
}
