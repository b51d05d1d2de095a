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

package fspath

import "strings"

// Builder renders an absolute pathname from components given leaf first, as
// found by walking parent links up to the root.
type Builder struct {
	names []string
}

// Reset empties b, keeping its storage.
func (b *Builder) Reset() {
	clear(b.names)
	b.names = b.names[:0]
}

// Prepend adds name in front of the components added so far.
func (b *Builder) Prepend(name string) {
	b.names = append(b.names, name)
}

// Len returns the length of the pathname String would return.
func (b *Builder) Len() int {
	n := 0
	for _, name := range b.names {
		n += len(name) + 1
	}
	return max(n, 1)
}

// String returns the pathname. A Builder with no components renders the
// root.
func (b *Builder) String() string {
	var sb strings.Builder
	sb.Grow(b.Len())
	for i := len(b.names) - 1; i >= 0; i-- {
		sb.WriteByte(Separator)
		sb.WriteString(b.names[i])
	}
	if sb.Len() == 0 {
		return string(Separator)
	}
	return sb.String()
}
