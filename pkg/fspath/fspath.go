// Copyright 2019 The gVisor Authors.
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

// Package fspath parses the pathnames resolved by the VFS and renders them
// back from the dentry tree.
package fspath

import (
	"strings"

	"laritos.dev/laritos/pkg/errors/kerr"
)

// Separator separates path components.
const Separator = '/'

// Limits on pathnames.
const (
	// MaxNameLen is the longest path component.
	MaxNameLen = 255

	// MaxPathLen is the longest pathname, separators included.
	MaxPathLen = 4096
)

// Path is a parsed pathname.
type Path struct {
	// Absolute is set when the pathname starts with a separator, so lookup
	// begins at the root.
	Absolute bool

	// Dir is set when the pathname ends with a separator, so the last
	// component must resolve to a directory.
	Dir bool

	// Components are the non-empty components in order. "." and ".." are
	// kept for the resolver to interpret.
	Components []string
}

// Parse parses pathname. Repeated separators are collapsed. Empty pathnames
// are rejected with ENOENT and overlong ones with ENAMETOOLONG.
func Parse(pathname string) (Path, error) {
	if pathname == "" {
		return Path{}, kerr.ENOENT
	}
	if len(pathname) > MaxPathLen {
		return Path{}, kerr.ENAMETOOLONG
	}
	p := Path{
		Absolute: pathname[0] == Separator,
		Dir:      pathname[len(pathname)-1] == Separator,
	}
	for _, pc := range strings.Split(pathname, string(Separator)) {
		if pc == "" {
			continue
		}
		if len(pc) > MaxNameLen {
			return Path{}, kerr.ENAMETOOLONG
		}
		p.Components = append(p.Components, pc)
	}
	if len(p.Components) == 0 {
		// Only separators.
		p.Dir = true
	}
	return p, nil
}

// HasComponents returns true if p names something below its starting point.
func (p Path) HasComponents() bool {
	return len(p.Components) != 0
}

// Split returns the path of the parent of p's last component and the last
// component itself.
//
// Preconditions: p.HasComponents().
func (p Path) Split() (Path, string) {
	n := len(p.Components)
	parent := Path{
		Absolute:   p.Absolute,
		Dir:        true,
		Components: p.Components[:n-1:n-1],
	}
	return parent, p.Components[n-1]
}

// String returns the pathname p describes without redundant separators.
// A relative path with no components is ".".
func (p Path) String() string {
	var b strings.Builder
	if p.Absolute {
		b.WriteByte(Separator)
	}
	b.WriteString(strings.Join(p.Components, string(Separator)))
	switch {
	case b.Len() == 0:
		return "."
	case p.Dir && p.HasComponents():
		b.WriteByte(Separator)
	}
	return b.String()
}

// CheckName validates name as the name of a new directory entry.
func CheckName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return kerr.EINVAL
	case strings.IndexByte(name, Separator) >= 0:
		return kerr.EINVAL
	case len(name) > MaxNameLen:
		return kerr.ENAMETOOLONG
	}
	return nil
}
