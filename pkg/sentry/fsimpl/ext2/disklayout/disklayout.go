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

// Package disklayout provides the on-disk structures of the ext2
// filesystem, encoded little-endian with pkg/binary.
//
// Layout of a filesystem with 1 KiB blocks:
//
//	block 0           boot block, unused
//	block 1           superblock (SbOffset)
//	block 2...        block group descriptor table
//	per group         block bitmap, inode bitmap, inode table, data blocks
//
// Group 0 also holds the superblock and the descriptor table before its
// bitmaps. Other groups start directly with their block bitmap.
package disklayout

const (
	// SbOffset is the byte offset of the superblock on the device.
	SbOffset = 1024

	// SbSize is the size of the superblock record.
	SbSize = 1024

	// SbMagic identifies ext2 filesystems.
	SbMagic = 0xEF53

	// MinBlockSize is the smallest block size, used for LogBlockSize 0.
	MinBlockSize = 1024

	// RootDirInode is the inode number of the root directory.
	RootDirInode = 2

	// OldFirstInode is the first non-reserved inode of revision 0
	// filesystems.
	OldFirstInode = 11

	// OldInodeSize is the size of an inode in revision 0 filesystems, and
	// the size of InodeOld.
	OldInodeSize = 128

	// BgdSize is the size of a block group descriptor.
	BgdSize = 32

	// DirentHeaderSize is the size of a directory entry without its name.
	DirentHeaderSize = 8

	// MaxFileName is the longest name a directory entry can hold.
	MaxFileName = 255

	// NumDirectBlocks is the number of direct block pointers in an inode.
	NumDirectBlocks = 12

	// IndirectBlock, DoubleIndirectBlock and TripleIndirectBlock are the
	// indices of the indirect block pointers in InodeOld.Block.
	IndirectBlock       = 12
	DoubleIndirectBlock = 13
	TripleIndirectBlock = 14

	// SectorSize is the unit of InodeOld.BlocksCount.
	SectorSize = 512
)

// RecLen returns the space taken by a directory entry whose name is nameLen
// bytes long: the header and the name, rounded up to 4 bytes.
func RecLen(nameLen int) uint16 {
	return uint16((DirentHeaderSize + nameLen + 3) &^ 3)
}
