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

// InodeOld emulates the ext2 inode struct. Inode struct size and record
// size are both OldInodeSize bytes.
//
// All fields representing time are in seconds since the epoch. Which means
// that they will overflow in January 2038.
type InodeOld struct {
	ModeRaw uint16
	UIDLo   uint16
	SizeLo  uint32

	// The time fields are signed integers because they could be negative to
	// represent time before the epoch.
	AccessTimeRaw       int32
	ChangeTimeRaw       int32
	ModificationTimeRaw int32
	DeletionTimeRaw     int32

	GIDLo         uint16
	LinksCountRaw uint16

	// BlocksCountLo counts SectorSize units, not filesystem blocks.
	BlocksCountLo uint32
	FlagsRaw      uint32
	VersionLo     uint32 // This is OS dependent.

	// Block holds NumDirectBlocks direct block pointers followed by the
	// indirect, double indirect and triple indirect ones.
	Block      [15]uint32
	Generation uint32
	FileACLLo  uint32
	SizeHi     uint32
	ObsoFaddr  uint32

	// OS dependent fields have been inlined here.
	BlocksCountHi uint16
	FileACLHi     uint16
	UIDHi         uint16
	GIDHi         uint16
	ChecksumLo    uint16
	_             uint16
}

// File type and permission bits of ModeRaw.
const (
	ModeTypeMask  = 0xF000
	ModeDirectory = 0x4000
	ModeRegular   = 0x8000

	ModeUserRead  = 0400
	ModeUserWrite = 0200
	ModeUserExec  = 0100
)

// IsDir returns true for directories.
func (in *InodeOld) IsDir() bool {
	return in.ModeRaw&ModeTypeMask == ModeDirectory
}

// IsRegular returns true for regular files.
func (in *InodeOld) IsRegular() bool {
	return in.ModeRaw&ModeTypeMask == ModeRegular
}

// Size returns the file size in bytes. In ext2, SizeHi was named DirACL and
// only holds the high bits for regular files.
func (in *InodeOld) Size() uint64 {
	if in.IsRegular() {
		return uint64(in.SizeHi)<<32 | uint64(in.SizeLo)
	}
	return uint64(in.SizeLo)
}

// SetSize sets the file size in bytes.
func (in *InodeOld) SetSize(size uint64) {
	in.SizeLo = uint32(size)
	if in.IsRegular() {
		in.SizeHi = uint32(size >> 32)
	}
}

// LinksCount returns the number of hard links.
func (in *InodeOld) LinksCount() uint16 { return in.LinksCountRaw }

// Sectors returns the number of SectorSize units the inode uses.
func (in *InodeOld) Sectors() uint64 {
	return uint64(in.BlocksCountHi)<<32 | uint64(in.BlocksCountLo)
}

// SetSectors sets the number of SectorSize units the inode uses.
func (in *InodeOld) SetSectors(n uint64) {
	in.BlocksCountLo = uint32(n)
	in.BlocksCountHi = uint16(n >> 32)
}
