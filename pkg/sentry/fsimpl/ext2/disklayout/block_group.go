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

// BlockGroup is an ext2 block group descriptor. An ext file system is split
// into a series of block groups, each with its own bitmaps and inode table.
//
// See https://www.kernel.org/doc/html/latest/filesystems/ext4/globals.html#block-group-descriptors.
type BlockGroup struct {
	// BlockBitmap is the block holding the block bitmap, which tracks the
	// usage of the group's blocks.
	BlockBitmap uint32

	// InodeBitmap is the block holding the inode bitmap, which tracks the
	// usage of the group's inode table entries.
	InodeBitmap uint32

	// InodeTable is the first block of the inode table. Inode tables are
	// statically allocated at mkfs time.
	InodeTable uint32

	FreeBlocksCount uint16
	FreeInodesCount uint16

	// DirectoryCount is the number of directories in the group.
	DirectoryCount uint16

	_ uint16
	_ [12]byte
}
