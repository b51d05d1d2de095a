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
	"errors"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Write implements subcommands.Command for the "write" command.
type Write struct {
	imageFlags
	offset int64
	mkdir  bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write standard input to a file of a disk image"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [flags] <image> <path> - writes standard input to path, creating it if missing.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	w.imageFlags.register(f)
	f.Int64Var(&w.offset, "offset", 0, "byte offset in the file to write at.")
	f.BoolVar(&w.mkdir, "mkdir", false, "create a directory at path instead of writing a file.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	sectorSize, err := w.sector()
	if err != nil {
		return Errorf("%v", err)
	}
	im, err := openImage(ctx, f.Arg(0), sectorSize, false)
	if err != nil {
		return Errorf("opening image: %v", err)
	}
	defer closeImage(im)

	path := f.Arg(1)
	if w.mkdir {
		if _, err := im.v.MkdirAt(im.ctx, path, vfs.ModeRW|vfs.MayExec); err != nil {
			return Errorf("%v", err)
		}
		return subcommands.ExitSuccess
	}
	if _, err := im.v.CreateFileAt(im.ctx, path, vfs.ModeRW); err != nil && !errors.Is(err, kerr.EEXIST) {
		return Errorf("%v", err)
	}
	file, err := im.v.OpenFile(im.ctx, path, vfs.MayWrite)
	if err != nil {
		return Errorf("%v", err)
	}
	defer file.Close()

	buf := make([]byte, 4096)
	off := w.offset
	for {
		n, rerr := os.Stdin.Read(buf)
		if n > 0 {
			written, err := file.Write(buf[:n], off)
			off += int64(written)
			if err != nil {
				return Errorf("writing %s at %d: %v", path, off, err)
			}
		}
		if rerr == io.EOF {
			return subcommands.ExitSuccess
		}
		if rerr != nil {
			return Errorf("reading standard input: %v", rerr)
		}
	}
}
