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

package ext2

import (
	"fmt"

	"laritos.dev/laritos/pkg/bitmap"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
)

// groupBitmap is the cached block or inode bitmap of one group.
type groupBitmap struct {
	// blk is the block the bitmap is stored in.
	blk  uint32
	bits bitmap.Bitmap
}

// groupBlocks returns the number of blocks in group g. Only the last group
// may be short.
func (fs *filesystem) groupBlocks(g uint32) uint32 {
	start := g * fs.sb.BlocksPerGroup
	if left := fs.sb.BlocksCount - fs.sb.FirstDataBlock - start; left < fs.sb.BlocksPerGroup {
		return left
	}
	return fs.sb.BlocksPerGroup
}

// Preconditions: fs.mu is held.
func (fs *filesystem) loadBitmapLocked(cache []*groupBitmap, g, blk, size uint32) (*groupBitmap, error) {
	if gb := cache[g]; gb != nil {
		return gb, nil
	}
	buf, err := fs.readBlock(blk)
	if err != nil {
		return nil, fmt.Errorf("reading bitmap of group %d: %w", g, err)
	}
	bits, err := bitmap.FromBytes(buf, size)
	if err != nil {
		return nil, fmt.Errorf("bitmap of group %d: %v: %w", g, err, kerr.EUCLEAN)
	}
	gb := &groupBitmap{blk: blk, bits: bits}
	cache[g] = gb
	return gb, nil
}

// Preconditions: fs.mu is held.
func (fs *filesystem) blockBitmapLocked(g uint32) (*groupBitmap, error) {
	return fs.loadBitmapLocked(fs.blockBitmaps, g, fs.bgs[g].BlockBitmap, fs.groupBlocks(g))
}

// Preconditions: fs.mu is held.
func (fs *filesystem) inodeBitmapLocked(g uint32) (*groupBitmap, error) {
	return fs.loadBitmapLocked(fs.inodeBitmaps, g, fs.bgs[g].InodeBitmap, fs.sb.InodesPerGroup)
}

// flushBitmapWord writes back the bitmap word holding bit.
func (fs *filesystem) flushBitmapWord(gb *groupBitmap, bit uint32) error {
	off, data := gb.bits.Word(bit)
	if err := fs.writeAt(data, fs.blockOffset(gb.blk)+int64(off)); err != nil {
		return fmt.Errorf("writing bitmap block %d: %w", gb.blk, err)
	}
	return nil
}

// updateLocked flushes the bitmap word holding bit, the descriptor of group
// g and the superblock, in that order.
//
// Preconditions: fs.mu is held.
func (fs *filesystem) updateLocked(gb *groupBitmap, g, bit uint32) error {
	if err := fs.flushBitmapWord(gb, bit); err != nil {
		return err
	}
	if err := fs.flushBlockGroupLocked(g); err != nil {
		return err
	}
	return fs.flushSuperBlockLocked()
}

// allocBlock allocates the first free block, scanning groups from goal on.
func (fs *filesystem) allocBlock(goal uint32) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := uint32(len(fs.bgs))
	for k := uint32(0); k < n; k++ {
		g := (goal + k) % n
		if fs.bgs[g].FreeBlocksCount == 0 {
			continue
		}
		gb, err := fs.blockBitmapLocked(g)
		if err != nil {
			return 0, err
		}
		bit, err := gb.bits.FirstZero(0)
		if err != nil {
			log.Warningf("ext2: group %d claims %d free blocks but its bitmap is full", g, fs.bgs[g].FreeBlocksCount)
			continue
		}
		gb.bits.Add(bit)
		fs.bgs[g].FreeBlocksCount--
		fs.sb.FreeBlocksCount--
		if err := fs.updateLocked(gb, g, bit); err != nil {
			return 0, err
		}
		return fs.sb.FirstDataBlock + g*fs.sb.BlocksPerGroup + bit, nil
	}
	return 0, fmt.Errorf("no free blocks: %w", kerr.ENOSPC)
}

// freeBlock returns blk to its group.
func (fs *filesystem) freeBlock(blk uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if blk < fs.sb.FirstDataBlock || blk >= fs.sb.BlocksCount {
		return fmt.Errorf("freeing block %d out of range: %w", blk, kerr.EUCLEAN)
	}
	rel := blk - fs.sb.FirstDataBlock
	g, bit := rel/fs.sb.BlocksPerGroup, rel%fs.sb.BlocksPerGroup
	gb, err := fs.blockBitmapLocked(g)
	if err != nil {
		return err
	}
	if !gb.bits.Contains(bit) {
		return fmt.Errorf("freeing free block %d: %w", blk, kerr.EUCLEAN)
	}
	gb.bits.Remove(bit)
	fs.bgs[g].FreeBlocksCount++
	fs.sb.FreeBlocksCount++
	return fs.updateLocked(gb, g, bit)
}

// allocInode allocates the first free inode number.
func (fs *filesystem) allocInode(dir bool) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for g := range uint32(len(fs.bgs)) {
		if fs.bgs[g].FreeInodesCount == 0 {
			continue
		}
		gb, err := fs.inodeBitmapLocked(g)
		if err != nil {
			return 0, err
		}
		// Reserved inodes are marked in the bitmap by mkfs, but old tools
		// did not always do so.
		start := uint32(0)
		if g == 0 {
			start = fs.sb.FirstIno() - 1
		}
		bit, err := gb.bits.FirstZero(start)
		if err != nil {
			log.Warningf("ext2: group %d claims %d free inodes but its bitmap is full", g, fs.bgs[g].FreeInodesCount)
			continue
		}
		gb.bits.Add(bit)
		fs.bgs[g].FreeInodesCount--
		if dir {
			fs.bgs[g].DirectoryCount++
		}
		fs.sb.FreeInodesCount--
		if err := fs.updateLocked(gb, g, bit); err != nil {
			return 0, err
		}
		return g*fs.sb.InodesPerGroup + bit + 1, nil
	}
	return 0, fmt.Errorf("no free inodes: %w", kerr.ENOSPC)
}

// freeInode returns ino to its group.
func (fs *filesystem) freeInode(ino uint32, dir bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if ino < fs.sb.FirstIno() || ino > fs.sb.InodesCount {
		return fmt.Errorf("freeing inode %d out of range: %w", ino, kerr.EUCLEAN)
	}
	g, bit := (ino-1)/fs.sb.InodesPerGroup, (ino-1)%fs.sb.InodesPerGroup
	gb, err := fs.inodeBitmapLocked(g)
	if err != nil {
		return err
	}
	if !gb.bits.Contains(bit) {
		return fmt.Errorf("freeing free inode %d: %w", ino, kerr.EUCLEAN)
	}
	gb.bits.Remove(bit)
	fs.bgs[g].FreeInodesCount++
	if dir && fs.bgs[g].DirectoryCount > 0 {
		fs.bgs[g].DirectoryCount--
	}
	fs.sb.FreeInodesCount++
	return fs.updateLocked(gb, g, bit)
}

// inodeGroup returns the group of ino, used as the allocation goal for its
// data blocks.
func (fs *filesystem) inodeGroup(ino uint32) uint32 {
	return (ino - 1) / fs.sb.InodesPerGroup
}
