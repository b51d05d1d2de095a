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
	"time"

	"github.com/google/uuid"
	"laritos.dev/laritos/pkg/binary"
	"laritos.dev/laritos/pkg/bitmap"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2/disklayout"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// FormatOptions configure Format.
type FormatOptions struct {
	// BlocksPerGroup defaults to the most one bitmap block can track, 8192.
	// It must be a multiple of 8.
	BlocksPerGroup uint32

	// InodesPerGroup defaults to one inode per 8 blocks of a group, at least
	// 16. It is rounded up to fill whole inode table blocks.
	InodesPerGroup uint32

	// VolumeName is stored in the superblock, truncated to 16 bytes.
	VolumeName string
}

// groupLayout is where the metadata of one group lives.
type groupLayout struct {
	start       uint32
	blocks      uint32
	blockBitmap uint32
	inodeBitmap uint32
	inodeTable  uint32

	// firstData is the first block after the inode table.
	firstData uint32
}

const (
	formatBlockSize  = disklayout.MinBlockSize
	inodesPerBlock   = formatBlockSize / disklayout.OldInodeSize
	minFormatBlocks  = 16
	formatFirstInode = disklayout.OldFirstInode
)

// Format writes an empty ext2 filesystem with 1 KiB blocks over the whole of
// dev. The root directory holds only "." and "..".
func Format(dev hw.BlockDevice, opts FormatOptions) error {
	bpg := opts.BlocksPerGroup
	if bpg == 0 {
		bpg = formatBlockSize * 8
	}
	if bpg%8 != 0 || bpg > formatBlockSize*8 || bpg < minFormatBlocks {
		return fmt.Errorf("bad blocks per group %d: %w", bpg, kerr.EINVAL)
	}
	size := uint64(hw.DeviceSize(dev)) / formatBlockSize
	if size < minFormatBlocks {
		return fmt.Errorf("device of %d blocks is too small: %w", size, kerr.ENOSPC)
	}
	blocks := uint32(min(size, 1<<32-1))
	groups := (blocks - 1 + bpg - 1) / bpg
	gdtBlocks := (groups*disklayout.BgdSize + formatBlockSize - 1) / formatBlockSize

	ipg := opts.InodesPerGroup
	if ipg == 0 {
		ipg = max(min(bpg, blocks-1)/8, 16)
	}
	ipg = (ipg + inodesPerBlock - 1) / inodesPerBlock * inodesPerBlock
	if ipg > formatBlockSize*8 {
		return fmt.Errorf("bad inodes per group %d: %w", ipg, kerr.EINVAL)
	}
	itableBlocks := ipg / inodesPerBlock

	layouts := make([]groupLayout, 0, groups)
	for g := range groups {
		l := groupLayout{start: 1 + g*bpg}
		l.blocks = min(bpg, blocks-l.start)
		meta := l.start
		if g == 0 {
			// Superblock and descriptor table.
			meta += 1 + gdtBlocks
		}
		l.blockBitmap = meta
		l.inodeBitmap = meta + 1
		l.inodeTable = meta + 2
		l.firstData = l.inodeTable + itableBlocks
		if l.firstData >= l.start+l.blocks {
			if g == 0 {
				return fmt.Errorf("%d blocks cannot hold the filesystem metadata: %w", blocks, kerr.ENOSPC)
			}
			// Too short for its own metadata: leave the tail unused.
			blocks = l.start
			break
		}
		layouts = append(layouts, l)
	}
	groups = uint32(len(layouts))

	sb := disklayout.SuperBlock{
		InodesCount:      ipg * groups,
		BlocksCount:      blocks,
		FirstDataBlock:   1,
		BlocksPerGroup:   bpg,
		ClustersPerGroup: bpg,
		InodesPerGroup:   ipg,
		MaxMountCount:    0xFFFF,
		Magic:            disklayout.SbMagic,
		State:            disklayout.StateClean,
		Errors:           1,
		RevLevel:         disklayout.DynamicRev,
		FirstInode:       formatFirstInode,
		InodeSize:        disklayout.OldInodeSize,
		FeatureIncompat:  disklayout.IncompatFileType,
		MkfsTime:         uint32(time.Now().Unix()),
	}
	id := uuid.New()
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], opts.VolumeName)
	sb.Wtime = sb.MkfsTime

	bgds := make([]disklayout.BlockGroup, groups)
	w := formatWriter{dev: dev}
	var rootBlock uint32
	for g, l := range layouts {
		blockBits := bitmap.New(formatBlockSize * 8)
		for b := l.start; b < l.firstData; b++ {
			blockBits.Add(b - l.start)
		}
		if g == 0 {
			rootBlock = l.firstData
			blockBits.Add(rootBlock - l.start)
		}
		// Bits past the end of a short last group are marked in use.
		for b := l.blocks; b < formatBlockSize*8; b++ {
			blockBits.Add(b)
		}

		inodeBits := bitmap.New(formatBlockSize * 8)
		if g == 0 {
			for ino := uint32(1); ino < formatFirstInode; ino++ {
				inodeBits.Add(ino - 1)
			}
		}
		for b := ipg; b < formatBlockSize*8; b++ {
			inodeBits.Add(b)
		}

		bgds[g] = disklayout.BlockGroup{
			BlockBitmap:     l.blockBitmap,
			InodeBitmap:     l.inodeBitmap,
			InodeTable:      l.inodeTable,
			FreeBlocksCount: uint16(formatBlockSize*8 - blockBits.GetNumOnes()),
			FreeInodesCount: uint16(formatBlockSize*8 - inodeBits.GetNumOnes()),
		}
		if g == 0 {
			bgds[g].DirectoryCount = 1
		}
		sb.FreeBlocksCount += uint32(bgds[g].FreeBlocksCount)
		sb.FreeInodesCount += uint32(bgds[g].FreeInodesCount)

		w.write(blockBits.Bytes(), l.blockBitmap)
		w.write(inodeBits.Bytes(), l.inodeBitmap)
		w.write(make([]byte, itableBlocks*formatBlockSize), l.inodeTable)
	}

	// Root directory: "." and ".." both name inode 2.
	now := int32(sb.MkfsTime)
	root := disklayout.InodeOld{
		ModeRaw:             disklayout.ModeDirectory | 0755,
		LinksCountRaw:       2,
		SizeLo:              formatBlockSize,
		AccessTimeRaw:       now,
		ChangeTimeRaw:       now,
		ModificationTimeRaw: now,
		BlocksCountLo:       formatBlockSize / disklayout.SectorSize,
	}
	root.Block[0] = rootBlock
	rootOff := int64(layouts[0].inodeTable)*formatBlockSize + (disklayout.RootDirInode-1)*disklayout.OldInodeSize
	w.writeAt(binary.Marshal(nil, binary.LittleEndian, &root), rootOff)

	dirBlock := make([]byte, formatBlockSize)
	dot := dirent{
		Dirent: disklayout.Dirent{InodeNumber: disklayout.RootDirInode, RecordLength: disklayout.RecLen(1), NameLength: 1, FileTypeRaw: disklayout.FileTypeDirectory},
		name:   ".",
		buf:    dirBlock,
	}
	dot.put()
	dotdot := dirent{
		Dirent: disklayout.Dirent{InodeNumber: disklayout.RootDirInode, RecordLength: formatBlockSize - disklayout.RecLen(1), NameLength: 2, FileTypeRaw: disklayout.FileTypeDirectory},
		name:   "..",
		buf:    dirBlock,
		off:    int(disklayout.RecLen(1)),
	}
	dotdot.put()
	w.write(dirBlock, rootBlock)

	w.writeAt(binary.Marshal(nil, binary.LittleEndian, bgds), formatBlockSize*2)
	w.writeAt(binary.Marshal(nil, binary.LittleEndian, &sb), disklayout.SbOffset)
	if w.err != nil {
		return fmt.Errorf("formatting %s: %w", dev.Info().ID, w.err)
	}
	log.Infof("Formatted %s as ext2: %d blocks, %d groups, %d inodes", dev.Info().ID, blocks, groups, sb.InodesCount)
	return nil
}

// formatWriter writes to a device, keeping the first error.
type formatWriter struct {
	dev hw.BlockDevice
	err error
}

func (w *formatWriter) writeAt(buf []byte, off int64) {
	if w.err != nil {
		return
	}
	n, err := w.dev.WriteAt(buf, off)
	if err == nil && n != len(buf) {
		err = fmt.Errorf("short write of %d/%d bytes at %d: %w", n, len(buf), off, kerr.EIO)
	}
	w.err = err
}

func (w *formatWriter) write(buf []byte, blk uint32) {
	w.writeAt(buf, int64(blk)*formatBlockSize)
}
