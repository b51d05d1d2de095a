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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"laritos.dev/laritos/pkg/errors/kerr"
)

func testDevice(t *testing.T, dev BlockDevice) {
	t.Helper()
	size := DeviceSize(dev)
	if size != 4*512 {
		t.Fatalf("DeviceSize() = %d, want %d", size, 4*512)
	}

	data := []byte("sector spanning write")
	if n, err := dev.WriteAt(data, 500); err != nil || n != len(data) {
		t.Fatalf("WriteAt() = %d, %v, want %d", n, err, len(data))
	}
	got := make([]byte, len(data))
	if n, err := dev.ReadAt(got, 500); err != nil || n != len(data) {
		t.Fatalf("ReadAt() = %d, %v, want %d", n, err, len(data))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadAt() = %q, want %q", got, data)
	}

	// Reads are short at the end of the device, writes are not allowed to be.
	tail := make([]byte, 16)
	if n, err := dev.ReadAt(tail, size-4); err != nil || n != 4 {
		t.Errorf("ReadAt(end) = %d, %v, want 4", n, err)
	}
	if _, err := dev.WriteAt(tail, size-4); !errors.Is(err, kerr.ENOSPC) {
		t.Errorf("WriteAt(end) = %v, want ENOSPC", err)
	}
	if _, err := dev.ReadAt(tail, size); !errors.Is(err, kerr.ENOSPC) {
		t.Errorf("ReadAt(size) = %v, want ENOSPC", err)
	}
	if _, err := dev.ReadAt(tail, -1); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("ReadAt(-1) = %v, want EINVAL", err)
	}
}

func TestRAMDisk(t *testing.T) {
	d := NewRAMDisk(ComponentInfo{ID: "ram0"}, 512, 4)
	if got := d.Info().Type; got != TypeBlockDevice {
		t.Errorf("Info().Type = %q, want %q", got, TypeBlockDevice)
	}
	testDevice(t, d)
}

func TestFileDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := CreateImage(path, 4*512); err != nil {
		t.Fatalf("CreateImage() failed: %v", err)
	}
	d, err := OpenFileDisk(context.Background(), path, ComponentInfo{ID: "sd0"}, 512, FileDiskOptions{})
	if err != nil {
		t.Fatalf("OpenFileDisk() failed: %v", err)
	}
	testDevice(t, d)
	if err := d.Sync(); err != nil {
		t.Errorf("Sync() failed: %v", err)
	}

	// The image stays locked while the first device is open.
	if _, err := OpenFileDisk(context.Background(), path, ComponentInfo{ID: "sd1"}, 512, FileDiskOptions{}); !errors.Is(err, kerr.EBUSY) {
		t.Errorf("second OpenFileDisk() = %v, want EBUSY", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ro, err := OpenFileDisk(context.Background(), path, ComponentInfo{ID: "sd1"}, 512, FileDiskOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("OpenFileDisk(read-only) failed: %v", err)
	}
	defer ro.Close()
	if _, err := ro.WriteAt([]byte("x"), 0); !errors.Is(err, kerr.EROFS) {
		t.Errorf("WriteAt() on a read-only disk = %v, want EROFS", err)
	}
	got := make([]byte, 6)
	if _, err := ro.ReadAt(got, 500); err != nil || string(got) != "sector" {
		t.Errorf("ReadAt() = %q, %v, want %q", got, err, "sector")
	}
}

func TestFileDiskBadImage(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenFileDisk(context.Background(), filepath.Join(dir, "missing.img"), ComponentInfo{}, 512, FileDiskOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("OpenFileDisk(missing) = %v, want ErrNotExist", err)
	}
	odd := filepath.Join(dir, "odd.img")
	if err := CreateImage(odd, 700); err != nil {
		t.Fatalf("CreateImage() failed: %v", err)
	}
	if _, err := OpenFileDisk(context.Background(), odd, ComponentInfo{}, 512, FileDiskOptions{}); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("OpenFileDisk(odd size) = %v, want EINVAL", err)
	}
}
