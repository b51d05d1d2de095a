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

// Package ext2 implements a read/write ext2 filesystem on a block device.
//
// The driver keeps no write-back cache. Each structural change is written
// through: allocating or freeing a block or an inode flushes the bitmap word,
// the group descriptor and the superblock right away, in that order. There is
// no journal, so a crash between two of those writes leaves the filesystem
// inconsistent.
//
// File writes only use the direct block pointers of an inode. Reads also
// follow indirect blocks, so images made by other tools can be read. Removing
// directories is not supported.
package ext2

import (
	"fmt"
	"sync"
	"time"

	"laritos.dev/laritos/pkg/binary"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2/disklayout"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Name is the name of the filesystem type.
const Name = "ext2"

// DeviceParam is the mount parameter holding the hw.BlockDevice to mount.
const DeviceParam = "dev"

// FilesystemType implements vfs.FilesystemType.
type FilesystemType struct{}

// Compiles only if FilesystemType implements vfs.FilesystemType.
var _ vfs.FilesystemType = FilesystemType{}

// Name implements vfs.FilesystemType.Name.
func (FilesystemType) Name() string {
	return Name
}

// Mount implements vfs.FilesystemType.Mount. params must hold the block
// device under DeviceParam.
func (FilesystemType) Mount(flags vfs.MountFlags, params vfs.Params) (vfs.Superblock, error) {
	dev, ok := params[DeviceParam].(hw.BlockDevice)
	if !ok || dev == nil {
		return nil, fmt.Errorf("ext2 needs a block device in parameter %q: %w", DeviceParam, kerr.EINVAL)
	}
	fs := &filesystem{
		dev:      dev,
		writable: flags&vfs.MountWrite != 0,
	}
	if err := fs.readSuperBlock(); err != nil {
		return nil, err
	}
	if err := fs.readBlockGroups(); err != nil {
		return nil, err
	}
	root, err := fs.loadInode(disklayout.RootDirInode)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	if !root.disk.IsDir() {
		return nil, fmt.Errorf("root inode is not a directory: %w", kerr.EUCLEAN)
	}
	fs.root = root

	if fs.writable {
		fs.mu.Lock()
		fs.sb.MountCount++
		fs.sb.State &^= disklayout.StateClean
		fs.sb.Mtime = uint32(time.Now().Unix())
		err := fs.flushSuperBlockLocked()
		fs.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	log.Infof("Mounted ext2 on %s: %d blocks of %d bytes, %d groups, %d/%d inodes free",
		dev.Info().ID, fs.sb.BlocksCount, fs.blockSize, len(fs.bgs), fs.sb.FreeInodesCount, fs.sb.InodesCount)
	return fs, nil
}

// filesystem implements vfs.Superblock.
type filesystem struct {
	// dev is the backing device. It serializes its own accesses.
	dev hw.BlockDevice

	// writable is immutable after Mount.
	writable bool

	// blockSize and root are immutable after Mount.
	blockSize uint64
	root      *Inode

	// mu protects sb, bgs and the bitmaps below.
	mu  sync.Mutex
	sb  disklayout.SuperBlock
	bgs []disklayout.BlockGroup

	// blockBitmaps and inodeBitmaps cache the bitmaps of each group. They
	// are loaded on first use.
	blockBitmaps []*groupBitmap
	inodeBitmaps []*groupBitmap
}

// Compiles only if filesystem implements vfs.Superblock.
var _ vfs.Superblock = (*filesystem)(nil)

func (fs *filesystem) readSuperBlock() error {
	buf := make([]byte, disklayout.SbSize)
	if err := fs.readAt(buf, disklayout.SbOffset); err != nil {
		return fmt.Errorf("reading superblock: %w", err)
	}
	binary.Unmarshal(buf, binary.LittleEndian, &fs.sb)
	if fs.sb.Magic != disklayout.SbMagic {
		// mount(2) specifies that EINVAL should be returned if the superblock
		// is invalid.
		return fmt.Errorf("bad superblock magic %#x: %w", fs.sb.Magic, kerr.EINVAL)
	}
	fs.blockSize = fs.sb.BlockSize()
	switch {
	case fs.sb.LogBlockSize > 6:
		return fmt.Errorf("unsupported block size 1024<<%d: %w", fs.sb.LogBlockSize, kerr.EINVAL)
	case fs.sb.BlocksPerGroup == 0 || uint64(fs.sb.BlocksPerGroup) > fs.blockSize*8:
		return fmt.Errorf("bad blocks per group %d: %w", fs.sb.BlocksPerGroup, kerr.EUCLEAN)
	case fs.sb.InodesPerGroup == 0 || uint64(fs.sb.InodesPerGroup) > fs.blockSize*8:
		return fmt.Errorf("bad inodes per group %d: %w", fs.sb.InodesPerGroup, kerr.EUCLEAN)
	case fs.sb.InodeRecordSize() < disklayout.OldInodeSize:
		return fmt.Errorf("bad inode size %d: %w", fs.sb.InodeRecordSize(), kerr.EUCLEAN)
	}
	if fs.writable && fs.sb.FeatureIncompat&^disklayout.IncompatFileType != 0 {
		return fmt.Errorf("unsupported incompatible features %#x: %w", fs.sb.FeatureIncompat, kerr.EINVAL)
	}
	if size := fs.blockSize * uint64(fs.sb.BlocksCount); size > uint64(hw.DeviceSize(fs.dev)) {
		return fmt.Errorf("filesystem of %d bytes does not fit the device: %w", size, kerr.EUCLEAN)
	}
	return nil
}

// bgdOffset returns the device offset of the descriptor of group g.
func (fs *filesystem) bgdOffset(g uint32) int64 {
	return int64(uint64(fs.sb.FirstDataBlock+1)*fs.blockSize) + int64(g)*disklayout.BgdSize
}

func (fs *filesystem) readBlockGroups() error {
	n := fs.sb.BlockGroupsCount()
	buf := make([]byte, int(n)*disklayout.BgdSize)
	if err := fs.readAt(buf, fs.bgdOffset(0)); err != nil {
		return fmt.Errorf("reading block group descriptors: %w", err)
	}
	fs.bgs = make([]disklayout.BlockGroup, n)
	binary.Unmarshal(buf, binary.LittleEndian, fs.bgs)
	fs.blockBitmaps = make([]*groupBitmap, n)
	fs.inodeBitmaps = make([]*groupBitmap, n)
	return nil
}

// Preconditions: fs.mu is held.
func (fs *filesystem) flushSuperBlockLocked() error {
	fs.sb.Wtime = uint32(time.Now().Unix())
	buf := binary.Marshal(make([]byte, 0, disklayout.SbSize), binary.LittleEndian, &fs.sb)
	if err := fs.writeAt(buf, disklayout.SbOffset); err != nil {
		return fmt.Errorf("writing superblock: %w", err)
	}
	return nil
}

// Preconditions: fs.mu is held.
func (fs *filesystem) flushBlockGroupLocked(g uint32) error {
	buf := binary.Marshal(make([]byte, 0, disklayout.BgdSize), binary.LittleEndian, &fs.bgs[g])
	if err := fs.writeAt(buf, fs.bgdOffset(g)); err != nil {
		return fmt.Errorf("writing descriptor of group %d: %w", g, err)
	}
	return nil
}

// readAt fills buf from the device, failing on short reads.
func (fs *filesystem) readAt(buf []byte, off int64) error {
	n, err := fs.dev.ReadAt(buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read of %d/%d bytes at %d: %w", n, len(buf), off, kerr.EIO)
	}
	return nil
}

// writeAt writes buf to the device, failing on short writes.
func (fs *filesystem) writeAt(buf []byte, off int64) error {
	if !fs.writable {
		return kerr.EROFS
	}
	n, err := fs.dev.WriteAt(buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write of %d/%d bytes at %d: %w", n, len(buf), off, kerr.EIO)
	}
	return nil
}

func (fs *filesystem) blockOffset(blk uint32) int64 {
	return int64(uint64(blk) * fs.blockSize)
}

func (fs *filesystem) readBlock(blk uint32) ([]byte, error) {
	if blk == 0 || blk >= fs.sb.BlocksCount {
		return nil, fmt.Errorf("block %d out of range: %w", blk, kerr.EUCLEAN)
	}
	buf := make([]byte, fs.blockSize)
	if err := fs.readAt(buf, fs.blockOffset(blk)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (fs *filesystem) writeBlock(blk uint32, buf []byte) error {
	if blk == 0 || blk >= fs.sb.BlocksCount {
		return fmt.Errorf("block %d out of range: %w", blk, kerr.EUCLEAN)
	}
	return fs.writeAt(buf, fs.blockOffset(blk))
}

// Root implements vfs.Superblock.Root.
func (fs *filesystem) Root() vfs.Inode {
	return fs.root
}

// Device implements vfs.Superblock.Device.
func (fs *filesystem) Device() hw.BlockDevice {
	return fs.dev
}

// AllocInode implements vfs.Superblock.AllocInode. The inode gets its number
// and its on-disk record when the parent directory creates it.
func (fs *filesystem) AllocInode() (vfs.Inode, error) {
	i := &Inode{fs: fs}
	i.Init(fs, 0, 0)
	return i, nil
}

// FreeInode implements vfs.Superblock.FreeInode.
func (fs *filesystem) FreeInode(vfs.Inode) {}

// Release implements vfs.Superblock.Release. It marks the filesystem clean.
func (fs *filesystem) Release() error {
	if !fs.writable {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sb.State = disklayout.StateClean
	return fs.flushSuperBlockLocked()
}

// Stats are the allocation counters of a mounted ext2 filesystem.
type Stats struct {
	BlockSize   uint64
	Blocks      uint32
	FreeBlocks  uint32
	Inodes      uint32
	FreeInodes  uint32
	BlockGroups int
}

// StatFS returns the counters of sb, which must be an ext2 superblock.
func StatFS(sb vfs.Superblock) (Stats, error) {
	fs, ok := sb.(*filesystem)
	if !ok {
		return Stats{}, fmt.Errorf("%T is not an ext2 superblock: %w", sb, kerr.EINVAL)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return Stats{
		BlockSize:   fs.blockSize,
		Blocks:      fs.sb.BlocksCount,
		FreeBlocks:  fs.sb.FreeBlocksCount,
		Inodes:      fs.sb.InodesCount,
		FreeInodes:  fs.sb.FreeInodesCount,
		BlockGroups: len(fs.bgs),
	}, nil
}
