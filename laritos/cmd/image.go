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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"laritos.dev/laritos/laritos/boot"
	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// imageFDs bounds the files a host-side command opens in an image.
const imageFDs = 8

// image is an ext2 image mounted at the root of a VFS that no kernel runs
// on.
type image struct {
	disk *hw.FileDisk
	v    *vfs.VFS
	ctx  *vfs.BasicContext
}

// openImage mounts the ext2 filesystem in the host file path.
func openImage(ctx context.Context, path string, sectorSize uint32, readOnly bool) (*image, error) {
	disk, err := hw.OpenFileDisk(ctx, path, hw.ComponentInfo{ID: "image"}, sectorSize, hw.FileDiskOptions{
		ReadOnly:    readOnly,
		LockTimeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	v := vfs.New(vfs.Options{})
	v.MustRegisterFilesystemType(ext2.FilesystemType{})
	flags := vfs.MountRead
	if !readOnly {
		flags |= vfs.MountWrite
	}
	if _, err := v.Mount(ext2.Name, "/", flags, vfs.Params{ext2.DeviceParam: disk}); err != nil {
		disk.Close()
		return nil, err
	}
	return &image{
		disk: disk,
		v:    v,
		ctx:  vfs.NewBasicContext(v.Root(), imageFDs),
	}, nil
}

// close unmounts the image, writing back what is cached, and releases the
// host file.
func (im *image) close() error {
	err := im.v.Unmount("/")
	if cerr := im.disk.Close(); err == nil {
		err = cerr
	}
	return err
}

// closeImage closes im and reports a failure.
func closeImage(im *image) {
	if err := im.close(); err != nil {
		Errorf("closing image: %v", err)
	}
}

// imageFlags are the flags shared by the commands that work on an image.
type imageFlags struct {
	sectorSize uint
}

func (f *imageFlags) register(fs *flag.FlagSet) {
	fs.UintVar(&f.sectorSize, "sector-size", config.DefaultSectorSize, "sector size of the image, in bytes.")
}

func (f *imageFlags) sector() (uint32, error) {
	if f.sectorSize == 0 || f.sectorSize > 1<<16 {
		return 0, fmt.Errorf("invalid sector size %d", f.sectorSize)
	}
	return uint32(f.sectorSize), nil
}

func joinPrograms() string {
	return strings.Join(boot.Programs(), ", ")
}
