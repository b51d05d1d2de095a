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

// SuperBlock is the ext2 superblock, the revision 1 part of struct
// ext4_super_block padded to SbSize bytes. Counts that ext4 splits into
// Lo/Hi halves only have their low 32 bits here.
type SuperBlock struct {
	InodesCount          uint32
	BlocksCount          uint32
	ReservedBlocksCount  uint32
	FreeBlocksCount      uint32
	FreeInodesCount      uint32
	FirstDataBlock       uint32
	LogBlockSize         uint32
	LogClusterSize       uint32
	BlocksPerGroup       uint32
	ClustersPerGroup     uint32
	InodesPerGroup       uint32
	Mtime                uint32
	Wtime                uint32
	MountCount           uint16
	MaxMountCount        uint16
	Magic                uint16
	State                uint16
	Errors               uint16
	MinorRevLevel        uint16
	LastCheck            uint32
	CheckInterval        uint32
	CreatorOS            uint32
	RevLevel             uint32
	DefResUID            uint16
	DefResGID            uint16
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNumber     uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureRoCompat      uint32
	UUID                 [16]byte
	VolumeName           [16]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	PreallocBlocks       uint8
	PreallocDirBlocks    uint8
	ReservedGdtBlocks    uint16
	JournalUUID          [16]byte
	JournalInode         uint32
	JournalDev           uint32
	LastOrphan           uint32
	HashSeed             [4]uint32
	DefHashVersion       uint8
	JnlBackupType        uint8
	DescSize             uint16
	DefaultMountOpts     uint32
	FirstMetaBg          uint32
	MkfsTime             uint32
	JnlBlocks            [17]uint32
	_                    [688]byte
}

// Superblock states.
const (
	StateClean  = 1
	StateErrors = 2
)

// Incompatible features.
const (
	// IncompatFileType means directory entries record the file type.
	IncompatFileType = 0x2
)

// Revision levels.
const (
	OldRev     = 0
	DynamicRev = 1
)

// BlockSize returns the size of a block in bytes.
func (sb *SuperBlock) BlockSize() uint64 {
	return MinBlockSize << sb.LogBlockSize
}

// BlockGroupsCount returns the number of block groups.
func (sb *SuperBlock) BlockGroupsCount() uint32 {
	if sb.BlocksPerGroup == 0 {
		return 0
	}
	return (sb.BlocksCount - sb.FirstDataBlock + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// FirstIno returns the first inode that is not reserved.
func (sb *SuperBlock) FirstIno() uint32 {
	if sb.RevLevel == OldRev {
		return OldFirstInode
	}
	return sb.FirstInode
}

// InodeRecordSize returns the size of an inode record in the inode table.
func (sb *SuperBlock) InodeRecordSize() uint16 {
	if sb.RevLevel == OldRev {
		return OldInodeSize
	}
	return sb.InodeSize
}

// HasFileType returns true if directory entries record the file type.
func (sb *SuperBlock) HasFileType() bool {
	return sb.FeatureIncompat&IncompatFileType != 0
}
