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
	"os"

	"github.com/google/subcommands"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	imageFlags
}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "print files of a disk image"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat [flags] <image> <path>...
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	c.imageFlags.register(f)
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sectorSize, err := c.sector()
	if err != nil {
		return Errorf("%v", err)
	}
	im, err := openImage(ctx, f.Arg(0), sectorSize, true)
	if err != nil {
		return Errorf("opening image: %v", err)
	}
	defer closeImage(im)

	status := subcommands.ExitSuccess
	buf := make([]byte, 4096)
	for _, p := range f.Args()[1:] {
		file, err := im.v.OpenFile(im.ctx, p, vfs.MayRead)
		if err != nil {
			status = Errorf("%v", err)
			continue
		}
		for off := int64(0); ; {
			n, err := file.Read(buf, off)
			os.Stdout.Write(buf[:n])
			off += int64(n)
			if err != nil {
				status = Errorf("reading %s: %v", p, err)
				break
			}
			if n == 0 {
				break
			}
		}
		file.Close()
	}
	return status
}
