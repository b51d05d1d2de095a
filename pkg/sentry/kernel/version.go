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

package kernel

// Version defines the system version reported to processes.
type Version struct {
	// Operating system name.
	Sysname string

	// Operating system release, e.g. "0.3.0".
	Release string

	// Build description: the scheduling policy plus whatever the loader
	// adds, such as the board name.
	Version string
}

// Release is the laritOS release this kernel implements.
const Release = "0.3.0"

// String returns the name the kernel reports itself as, e.g.
// "laritOS-0.3.0".
func (v Version) String() string {
	return v.Sysname + "-" + v.Release
}

// Version returns the version of k.
func (k *Kernel) Version() Version {
	v := Version{
		Sysname: "laritOS",
		Release: Release,
		Version: string(k.opts.Policy),
	}
	if k.opts.BuildInfo != "" {
		v.Version += " " + k.opts.BuildInfo
	}
	return v
}
