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

	"github.com/google/subcommands"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// Mkfs implements subcommands.Command for the "mkfs" command.
type Mkfs struct {
	imageFlags
	size           int64
	blocksPerGroup uint
	inodesPerGroup uint
	volumeName     string
}

// Name implements subcommands.Command.Name.
func (*Mkfs) Name() string {
	return "mkfs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkfs) Synopsis() string {
	return "write an empty ext2 filesystem to a disk image"
}

// Usage implements subcommands.Command.Usage.
func (*Mkfs) Usage() string {
	return `mkfs [flags] <image> - formats image, creating it if -size is set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkfs) SetFlags(f *flag.FlagSet) {
	m.imageFlags.register(f)
	f.Int64Var(&m.size, "size", 0, "create the image with this many bytes, replacing any existing file.")
	f.UintVar(&m.blocksPerGroup, "blocks-per-group", 0, "blocks per block group, a multiple of 8. 0 picks the largest.")
	f.UintVar(&m.inodesPerGroup, "inodes-per-group", 0, "inodes per block group. 0 picks one per 8 blocks.")
	f.StringVar(&m.volumeName, "name", "", "volume name.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkfs) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	sectorSize, err := m.sector()
	if err != nil {
		return Errorf("%v", err)
	}
	if m.size > 0 {
		if err := hw.CreateImage(path, m.size); err != nil {
			return Errorf("creating image %q: %v", path, err)
		}
	}
	disk, err := hw.OpenFileDisk(ctx, path, hw.ComponentInfo{ID: "image"}, sectorSize, hw.FileDiskOptions{})
	if err != nil {
		return Errorf("%v", err)
	}
	defer disk.Close()
	err = ext2.Format(disk, ext2.FormatOptions{
		BlocksPerGroup: uint32(m.blocksPerGroup),
		InodesPerGroup: uint32(m.inodesPerGroup),
		VolumeName:     m.volumeName,
	})
	if err != nil {
		return Errorf("formatting %q: %v", path, err)
	}
	if err := disk.Sync(); err != nil {
		return Errorf("syncing %q: %v", path, err)
	}
	log.Infof("Formatted %s: %d sectors of %d bytes", path, disk.Sectors(), sectorSize)
	return subcommands.ExitSuccess
}
