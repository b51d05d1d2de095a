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

package hw

import (
	"sync"

	"laritos.dev/laritos/pkg/errors/kerr"
)

// BlockDevice is a sector-addressed storage device. Reads and writes take a
// byte offset and may span sectors.
type BlockDevice interface {
	Component

	// ReadAt reads len(p) bytes at byte offset off. It returns the number of
	// bytes read, which is short only at the end of the device.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes at byte offset off.
	WriteAt(p []byte, off int64) (int, error)

	// SectorSize returns the size of a sector in bytes.
	SectorSize() uint32

	// Sectors returns the number of sectors of the device.
	Sectors() uint64
}

// DeviceSize returns the size in bytes of dev.
func DeviceSize(dev BlockDevice) int64 {
	return int64(dev.SectorSize()) * int64(dev.Sectors())
}

// clampIO validates an access of n bytes at off against a device of size
// bytes and returns the number of bytes that can be transferred.
func clampIO(n int, off, size int64) (int, error) {
	if off < 0 {
		return 0, kerr.EINVAL
	}
	if off >= size {
		if n == 0 {
			return 0, nil
		}
		return 0, kerr.ENOSPC
	}
	if rem := size - off; int64(n) > rem {
		return int(rem), nil
	}
	return n, nil
}

// RAMDisk is a BlockDevice held in memory.
type RAMDisk struct {
	info       ComponentInfo
	sectorSize uint32

	mu   sync.Mutex
	data []byte
}

// NewRAMDisk returns a zeroed disk of sectors sectors of sectorSize bytes.
func NewRAMDisk(info ComponentInfo, sectorSize uint32, sectors uint64) *RAMDisk {
	info.Type = TypeBlockDevice
	return &RAMDisk{
		info:       info,
		sectorSize: sectorSize,
		data:       make([]byte, uint64(sectorSize)*sectors),
	}
}

// Info implements Component.Info.
func (d *RAMDisk) Info() ComponentInfo {
	return d.info
}

// SectorSize implements BlockDevice.SectorSize.
func (d *RAMDisk) SectorSize() uint32 {
	return d.sectorSize
}

// Sectors implements BlockDevice.Sectors.
func (d *RAMDisk) Sectors() uint64 {
	return uint64(len(d.data)) / uint64(d.sectorSize)
}

// ReadAt implements BlockDevice.ReadAt.
func (d *RAMDisk) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := clampIO(len(p), off, int64(len(d.data)))
	if err != nil {
		return 0, err
	}
	return copy(p[:n], d.data[off:]), nil
}

// WriteAt implements BlockDevice.WriteAt.
func (d *RAMDisk) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := clampIO(len(p), off, int64(len(d.data)))
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return 0, kerr.ENOSPC
	}
	return copy(d.data[off:], p), nil
}

// Bytes returns a copy of the disk contents.
func (d *RAMDisk) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}
