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
	"os"

	"github.com/google/subcommands"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Ls implements subcommands.Command for the "ls" command.
type Ls struct {
	imageFlags
}

// Name implements subcommands.Command.Name.
func (*Ls) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Ls) Synopsis() string {
	return "list a directory of a disk image"
}

// Usage implements subcommands.Command.Usage.
func (*Ls) Usage() string {
	return `ls [flags] <image> [path...]
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Ls) SetFlags(f *flag.FlagSet) {
	l.imageFlags.register(f)
}

// Execute implements subcommands.Command.Execute.
func (l *Ls) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sectorSize, err := l.sector()
	if err != nil {
		return Errorf("%v", err)
	}
	im, err := openImage(ctx, f.Arg(0), sectorSize, true)
	if err != nil {
		return Errorf("opening image: %v", err)
	}
	defer closeImage(im)

	paths := f.Args()[1:]
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	status := subcommands.ExitSuccess
	for _, p := range paths {
		file, err := im.v.OpenFile(im.ctx, p, vfs.MayRead)
		if err != nil {
			status = Errorf("%v", err)
			continue
		}
		entries, err := file.ReadDir()
		file.Close()
		if err != nil {
			status = Errorf("listing %s: %v", p, err)
			continue
		}
		if len(paths) > 1 {
			fmt.Fprintf(os.Stdout, "%s:\n", p)
		}
		for _, e := range entries {
			if e.IsDir {
				fmt.Fprintf(os.Stdout, "%s/\n", e.Name)
			} else {
				fmt.Fprintf(os.Stdout, "%s\n", e.Name)
			}
		}
	}
	return status
}
