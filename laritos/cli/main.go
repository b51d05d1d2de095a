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

// Package cli is the main entrypoint for laritos.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"laritos.dev/laritos/laritos/cmd"
	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/kernel"
)

// version is set at link time.
var version = "VERSION_MISSING"

var (
	configPath  = flag.String("config", "", "board configuration file. Defaults are used if empty.")
	logLevel    = flag.String("log-level", "", "log level: warning, info or debug. Overrides the configuration file.")
	logFormat   = flag.String("log-format", "", "log format: text or json. Overrides the configuration file.")
	logFile     = flag.String("log", "", "file to append logs to instead of standard error.")
	showVersion = flag.Bool("version", false, "show version and exit.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "laritos version %s, kernel %s\n", version, kernel.Release)
		os.Exit(0)
	}

	conf := config.Default()
	if *configPath != "" {
		var err error
		if conf, err = config.Load(*configPath); err != nil {
			cmd.Fatalf("%v", err)
		}
	}
	if *logLevel != "" {
		conf.Kernel.LogLevel = *logLevel
	}
	if *logFormat != "" {
		conf.Kernel.LogFormat = *logFormat
	}
	if err := conf.Validate(); err != nil {
		cmd.Fatalf("%v", err)
	}

	var out io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", *logFile, err)
		}
		out = f
	}
	format := conf.Kernel.LogFormat
	if format == "" {
		format = "json"
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}
	log.SetTarget(newEmitter(format, out))
	level, err := log.ParseLevel(conf.Kernel.LogLevel)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetLevel(level)

	const delimString = `**************** laritOS ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d", version, runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var status int
	subcmdCode := subcommands.Execute(context.Background(), conf, &status)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %d", status)
		os.Exit(status)
	}
	// Return an error that is unlikely to be used by a program.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// laritos.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(&cmd.Boot{BuildInfo: version}, "")

	const imageGroup = "disk images"
	cb(new(cmd.Mkfs), imageGroup)
	cb(new(cmd.Ls), imageGroup)
	cb(new(cmd.Cat), imageGroup)
	cb(new(cmd.Write), imageGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
