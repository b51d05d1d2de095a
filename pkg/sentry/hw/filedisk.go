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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// FileDiskOptions configures OpenFileDisk.
type FileDiskOptions struct {
	// ReadOnly opens the image without write access.
	ReadOnly bool

	// LockTimeout bounds how long to wait for another user of the image to
	// release it. Zero means one attempt.
	LockTimeout time.Duration
}

// FileDisk is a BlockDevice backed by a host file. The image is locked for
// the lifetime of the device so that two kernels never share it.
type FileDisk struct {
	info       ComponentInfo
	sectorSize uint32
	sectors    uint64
	readOnly   bool

	f    *os.File
	lock *flock.Flock
}

// OpenFileDisk opens the image at path as a block device.
func OpenFileDisk(ctx context.Context, path string, info ComponentInfo, sectorSize uint32, opts FileDiskOptions) (*FileDisk, error) {
	if sectorSize == 0 {
		return nil, fmt.Errorf("invalid sector size for %q: %w", path, kerr.EINVAL)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening disk image: %w", err)
	}
	l := flock.NewFlock(path)
	if err := lockImage(ctx, l, opts.LockTimeout); err != nil {
		return nil, fmt.Errorf("locking disk image %q: %w", path, err)
	}

	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("opening disk image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		l.Unlock()
		return nil, fmt.Errorf("stat disk image %q: %w", path, err)
	}
	if st.Size()%int64(sectorSize) != 0 {
		f.Close()
		l.Unlock()
		return nil, fmt.Errorf("disk image %q size %d is not a multiple of the sector size %d: %w", path, st.Size(), sectorSize, kerr.EINVAL)
	}

	info.Type = TypeBlockDevice
	d := &FileDisk{
		info:       info,
		sectorSize: sectorSize,
		sectors:    uint64(st.Size()) / uint64(sectorSize),
		readOnly:   opts.ReadOnly,
		f:          f,
		lock:       l,
	}
	log.Debugf("Opened disk image %q: %d sectors of %d bytes", path, d.sectors, sectorSize)
	return d, nil
}

func lockImage(ctx context.Context, l *flock.Flock, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(50*time.Millisecond), ctx)
	op := func() error {
		ok, err := l.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return kerr.EBUSY
		}
		return nil
	}
	return backoff.Retry(op, b)
}

// CreateImage creates, or truncates, a zero-filled image of size bytes.
func CreateImage(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Info implements Component.Info.
func (d *FileDisk) Info() ComponentInfo {
	return d.info
}

// SectorSize implements BlockDevice.SectorSize.
func (d *FileDisk) SectorSize() uint32 {
	return d.sectorSize
}

// Sectors implements BlockDevice.Sectors.
func (d *FileDisk) Sectors() uint64 {
	return d.sectors
}

// ReadAt implements BlockDevice.ReadAt.
func (d *FileDisk) ReadAt(p []byte, off int64) (int, error) {
	n, err := clampIO(len(p), off, DeviceSize(d))
	if err != nil {
		return 0, err
	}
	done := 0
	for done < n {
		m, err := unix.Pread(int(d.f.Fd()), p[done:n], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if m == 0 {
			break
		}
		done += m
	}
	return done, nil
}

// WriteAt implements BlockDevice.WriteAt.
func (d *FileDisk) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, kerr.EROFS
	}
	n, err := clampIO(len(p), off, DeviceSize(d))
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return 0, kerr.ENOSPC
	}
	done := 0
	for done < n {
		m, err := unix.Pwrite(int(d.f.Fd()), p[done:n], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		done += m
	}
	return done, nil
}

// Sync flushes the image to stable storage.
func (d *FileDisk) Sync() error {
	return unix.Fsync(int(d.f.Fd()))
}

// Close closes the image and releases its lock.
func (d *FileDisk) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
