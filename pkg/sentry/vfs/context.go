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

package vfs

// ProcessContext is what path resolution and file opening need from the
// calling process.
type ProcessContext interface {
	// CWD returns the directory relative paths resolve from. A nil CWD
	// resolves from the root.
	CWD() *Dentry

	// FDTable returns the table files are opened into.
	FDTable() *FDTable
}

// BasicContext is a ProcessContext for callers that are not kernel
// processes, such as host tools and tests.
type BasicContext struct {
	Cwd *Dentry
	FDs *FDTable
}

// NewBasicContext returns a context working in cwd with room for maxFDs open
// files.
func NewBasicContext(cwd *Dentry, maxFDs int) *BasicContext {
	return &BasicContext{Cwd: cwd, FDs: NewFDTable(maxFDs)}
}

// CWD implements ProcessContext.CWD.
func (c *BasicContext) CWD() *Dentry {
	return c.Cwd
}

// FDTable implements ProcessContext.FDTable.
func (c *BasicContext) FDTable() *FDTable {
	return c.FDs
}
