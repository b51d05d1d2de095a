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

package disklayout

// Dirent is the header of struct ext2_dir_entry_2. The name follows it on
// disk. The FileName can not be more than 255 bytes so we only need 8 bits
// to store the NameLength. The other 8 bits encode the file type if the
// IncompatFileType feature is set.
//
// Entries are variable-sized: RecordLength covers the header, the name and
// any slack up to the next entry, and is a multiple of 4. An entry with
// InodeNumber 0 is unused.
type Dirent struct {
	InodeNumber  uint32
	RecordLength uint16
	NameLength   uint8
	FileTypeRaw  uint8
}

// File types of Dirent.FileTypeRaw.
const (
	FileTypeUnknown   = 0
	FileTypeRegular   = 1
	FileTypeDirectory = 2
)

// Used returns the bytes the entry itself needs, which is 0 for unused
// entries.
func (d *Dirent) Used() uint16 {
	if d.InodeNumber == 0 {
		return 0
	}
	return RecLen(int(d.NameLength))
}
