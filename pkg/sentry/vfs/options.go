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

import (
	"sync"

	"laritos.dev/laritos/pkg/fspath"
)

// MaxNameLen is the longest file name the VFS accepts.
const MaxNameLen = fspath.MaxNameLen

// Options configures a VFS.
type Options struct {
	// TreeLock serializes changes to the dentry tree and the mount table.
	// Kernels pass a sleeping mutex so that a process blocked on it yields
	// the CPU; defaults to a sync.Mutex. It is never taken recursively by
	// the VFS itself.
	TreeLock sync.Locker
}

// DirEntry is one entry returned by ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
}
