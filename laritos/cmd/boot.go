// Copyright 2018 The gVisor Authors.
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
	"io"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"laritos.dev/laritos/laritos/boot"
	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/log"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// input forwards the standard input to the console.
	input bool

	// virtual selects the virtual timer regardless of the board file.
	virtual bool

	// BuildInfo is reported in the kernel version.
	BuildInfo string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a laritos kernel and run its programs"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] [program [args...]]

Boots the board described by the configuration file. A program given on the
command line replaces the processes listed there. Programs: ` + joinPrograms() + `
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.input, "input", false, "forward standard input to the console.")
	f.BoolVar(&b.virtual, "virtual-time", false, "use the virtual timer, which skips idle time.")
}

// Execute implements subcommands.Command.Execute. It boots the kernel and
// returns once every configured process has exited, or once a signal asked
// the kernel to shut down.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	status := args[1].(*int)
	if f.NArg() > 0 {
		conf.Processes = []config.Process{{
			Program: f.Arg(0),
			Args:    f.Args()[1:],
		}}
	}
	if b.virtual {
		conf.Timer.Kind = config.TimerVirtual
	}
	conf.Log()

	l, err := boot.New(ctx, boot.Args{
		Config:    conf,
		Output:    os.Stdout,
		BuildInfo: b.BuildInfo,
	})
	if err != nil {
		return Errorf("creating loader: %v", err)
	}
	defer func() {
		if err := l.Destroy(); err != nil {
			Errorf("destroying loader: %v", err)
		}
	}()

	if b.input {
		go forwardInput(os.Stdin, l)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	g, gctx := errgroup.WithContext(ctx)
	halted := make(chan struct{})
	g.Go(func() error {
		defer close(halted)
		st, err := l.Run()
		*status = st
		return err
	})
	g.Go(func() error {
		select {
		case sig := <-sigs:
			log.Infof("Received %v, shutting down", sig)
			l.Shutdown()
		case <-gctx.Done():
			l.Shutdown()
		case <-halted:
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Errorf("running kernel: %v", err)
	}
	log.Infof("Kernel halted with status %d", *status)
	return subcommands.ExitSuccess
}

// forwardInput copies r to the console until r is exhausted.
func forwardInput(r io.Reader, l *boot.Loader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			l.Console().Input(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				log.Warningf("Reading console input: %v", err)
			}
			return
		}
	}
}
