// Copyright 2018 Google LLC
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

// Package binary encodes the fixed-size records of on-disk filesystem
// structures.
//
// A record is a struct made of fixed-size integers, byte arrays and nested
// records. Blank (_) fields are padding: they encode as zeros and are skipped
// when decoding. Record sizes are fixed at compile time, so misuse is a
// programming error and panics.
package binary

import (
	"encoding/binary"
	"fmt"
)

// LittleEndian is the byte order of ext2 structures.
var LittleEndian = binary.LittleEndian

// Size returns the encoded size of v, a record, a pointer to one or a slice
// of records.
func Size(v any) uintptr {
	n := binary.Size(v)
	if n < 0 {
		panic(fmt.Sprintf("%T is not a fixed-size record", v))
	}
	return uintptr(n)
}

// Marshal appends the encoding of data to buf.
func Marshal(buf []byte, order binary.ByteOrder, data any) []byte {
	out, err := binary.Append(buf, order, data)
	if err != nil {
		panic(fmt.Sprintf("encoding %T: %v", data, err))
	}
	return out
}

// Unmarshal decodes buf into data, a pointer to a record or a slice of
// records. buf must be exactly Size(data) bytes long.
func Unmarshal(buf []byte, order binary.ByteOrder, data any) {
	if want := Size(data); uintptr(len(buf)) != want {
		panic(fmt.Sprintf("decoding %T: got %d bytes, want %d", data, len(buf), want))
	}
	if _, err := binary.Decode(buf, order, data); err != nil {
		panic(fmt.Sprintf("decoding %T: %v", data, err))
	}
}
