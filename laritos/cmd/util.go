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

// Package cmd holds implementations of the laritos commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"laritos.dev/laritos/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the user running laritos, so they are not mixed with the
// debug log.
var ErrorLogger io.Writer = os.Stderr

// Errorf logs error to the debug log and to ErrorLogger. It returns
// subcommands.ExitFailure for convenience with subcommand.Execute() methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	// If the error message does not end with a new line, add one.
	if len(format) == 0 || format[len(format)-1] != '\n' {
		format += "\n"
	}
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, "laritos: "+format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, and then exits the program.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}
