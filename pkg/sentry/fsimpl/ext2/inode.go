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
	"sync"
	"time"

	"laritos.dev/laritos/pkg/binary"
	"laritos.dev/laritos/pkg/cleanup"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2/disklayout"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// Inode is the in-memory copy of an ext2 inode.
type Inode struct {
	vfs.InodeAttrs
	vfs.InodeNoopOpenClose

	fs *filesystem

	// mu protects the fields below.
	mu sync.Mutex

	// disk is the on-disk record. It is written back after every change.
	disk disklayout.InodeOld

	// unlinked is set once the inode has been freed on disk.
	unlinked bool
}

// Compiles only if Inode implements vfs.Inode.
var _ vfs.Inode = (*Inode)(nil)

// Size returns the file size in bytes.
func (i *Inode) Size() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disk.Size()
}

// Blocks returns the number of filesystem blocks the inode uses, indirect
// blocks included.
func (i *Inode) Blocks() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disk.Sectors() * disklayout.SectorSize / i.fs.blockSize
}

// LinksCount returns the number of names of the inode.
func (i *Inode) LinksCount() uint16 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disk.LinksCount()
}

// accessMode converts the user permission bits of an ext2 mode.
func accessMode(mode uint16) vfs.AccessMode {
	var m vfs.AccessMode
	if mode&disklayout.ModeUserRead != 0 {
		m |= vfs.MayRead
	}
	if mode&disklayout.ModeUserWrite != 0 {
		m |= vfs.MayWrite
	}
	if mode&disklayout.ModeUserExec != 0 {
		m |= vfs.MayExec
	}
	if mode&disklayout.ModeTypeMask == disklayout.ModeDirectory {
		m |= vfs.ModeDir
	}
	return m
}

// diskMode converts m to an ext2 mode. Group and other bits mirror the user
// ones minus write.
func diskMode(m vfs.AccessMode) uint16 {
	var perm uint16
	if m&vfs.MayRead != 0 {
		perm |= disklayout.ModeUserRead | 0044
	}
	if m&vfs.MayWrite != 0 {
		perm |= disklayout.ModeUserWrite
	}
	if m&vfs.MayExec != 0 {
		perm |= disklayout.ModeUserExec | 0011
	}
	if m.IsDir() {
		return disklayout.ModeDirectory | perm
	}
	return disklayout.ModeRegular | perm
}

// inodeOffset returns the device offset of the record of ino.
func (fs *filesystem) inodeOffset(ino uint32) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if ino == 0 || ino > fs.sb.InodesCount {
		return 0, fmt.Errorf("inode %d out of range: %w", ino, kerr.EUCLEAN)
	}
	g, idx := (ino-1)/fs.sb.InodesPerGroup, (ino-1)%fs.sb.InodesPerGroup
	return fs.blockOffset(fs.bgs[g].InodeTable) + int64(idx)*int64(fs.sb.InodeRecordSize()), nil
}

// loadInode reads inode ino from disk.
func (fs *filesystem) loadInode(ino uint32) (*Inode, error) {
	off, err := fs.inodeOffset(ino)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, disklayout.OldInodeSize)
	if err := fs.readAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	i := &Inode{fs: fs}
	binary.Unmarshal(buf, binary.LittleEndian, &i.disk)
	if i.disk.LinksCount() == 0 {
		return nil, fmt.Errorf("inode %d is not in use: %w", ino, kerr.EUCLEAN)
	}
	i.Init(fs, uint64(ino), accessMode(i.disk.ModeRaw))
	return i, nil
}

// Preconditions: i.mu is held.
func (i *Inode) writeLocked() error {
	off, err := i.fs.inodeOffset(uint32(i.Ino()))
	if err != nil {
		return err
	}
	buf := binary.Marshal(make([]byte, 0, disklayout.OldInodeSize), binary.LittleEndian, &i.disk)
	if err := i.fs.writeAt(buf, off); err != nil {
		return fmt.Errorf("writing inode %d: %w", i.Ino(), err)
	}
	return nil
}

// initLocked gives i the number ino and a fresh on-disk record.
//
// Preconditions: i.mu is held.
func (i *Inode) initLocked(ino uint32, mode vfs.AccessMode, links uint16) {
	now := int32(time.Now().Unix())
	i.SetIno(uint64(ino))
	i.SetMode(mode)
	i.disk = disklayout.InodeOld{
		ModeRaw:             diskMode(mode),
		LinksCountRaw:       links,
		AccessTimeRaw:       now,
		ChangeTimeRaw:       now,
		ModificationTimeRaw: now,
	}
}

// blockIndexPath decomposes the logical block n of a file into the path
// through the block map: the index in InodeOld.Block followed by one index
// per level of indirection. ptrs is the number of block pointers an
// indirect block holds.
func blockIndexPath(n, ptrs uint64) ([]uint64, error) {
	if n < disklayout.NumDirectBlocks {
		return []uint64{n}, nil
	}
	n -= disklayout.NumDirectBlocks
	if n < ptrs {
		return []uint64{disklayout.IndirectBlock, n}, nil
	}
	n -= ptrs
	if n < ptrs*ptrs {
		return []uint64{disklayout.DoubleIndirectBlock, n / ptrs, n % ptrs}, nil
	}
	n -= ptrs * ptrs
	if n < ptrs*ptrs*ptrs {
		return []uint64{disklayout.TripleIndirectBlock, n / (ptrs * ptrs), (n / ptrs) % ptrs, n % ptrs}, nil
	}
	return nil, kerr.EFBIG
}

func (fs *filesystem) ptrsPerBlock() uint64 {
	return fs.blockSize / 4
}

// blockAtLocked returns the physical block holding logical block n, or 0
// for a hole.
//
// Preconditions: i.mu is held.
func (i *Inode) blockAtLocked(n uint64) (uint32, error) {
	path, err := blockIndexPath(n, i.fs.ptrsPerBlock())
	if err != nil {
		return 0, err
	}
	blk := i.disk.Block[path[0]]
	for _, idx := range path[1:] {
		if blk == 0 {
			return 0, nil
		}
		buf, err := i.fs.readBlock(blk)
		if err != nil {
			return 0, err
		}
		blk = binary.LittleEndian.Uint32(buf[idx*4:])
	}
	return blk, nil
}

// Read implements vfs.FileOperations.Read.
func (i *Inode) Read(f *vfs.File, buf []byte, off int64) (int, error) {
	if i.Mode().IsDir() {
		return 0, kerr.EISDIR
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.unlinked {
		return 0, kerr.ENOENT
	}
	size := i.disk.Size()
	if uint64(off) >= size {
		return 0, nil
	}
	end := min(uint64(off)+uint64(len(buf)), size)
	bs := i.fs.blockSize
	done := 0
	for pos := uint64(off); pos < end; {
		within := pos % bs
		chunk := buf[done : done+int(min(bs-within, end-pos))]
		blk, err := i.blockAtLocked(pos / bs)
		if err != nil {
			return done, err
		}
		if blk == 0 {
			clear(chunk)
		} else if err := i.fs.readAt(chunk, i.fs.blockOffset(blk)+int64(within)); err != nil {
			return done, err
		}
		done += len(chunk)
		pos += uint64(len(chunk))
	}
	return done, nil
}

// Write implements vfs.FileOperations.Write. Writes that would need an
// indirect block fail with EOPNOTSUPP and change nothing.
func (i *Inode) Write(f *vfs.File, buf []byte, off int64) (int, error) {
	if i.Mode().IsDir() {
		return 0, kerr.EISDIR
	}
	if len(buf) == 0 {
		return 0, nil
	}
	bs := i.fs.blockSize
	end := uint64(off) + uint64(len(buf))
	if last := (end - 1) / bs; last >= disklayout.NumDirectBlocks {
		return 0, fmt.Errorf("write up to byte %d needs indirect blocks: %w", end, kerr.EOPNOTSUPP)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.unlinked {
		return 0, kerr.ENOENT
	}
	if err := i.allocBlocksLocked((end - 1) / bs); err != nil {
		return 0, err
	}
	done := 0
	for pos := uint64(off); pos < end; {
		within := pos % bs
		chunk := buf[done : done+int(min(bs-within, end-pos))]
		blk := i.disk.Block[pos/bs]
		if err := i.fs.writeAt(chunk, i.fs.blockOffset(blk)+int64(within)); err != nil {
			return done, err
		}
		done += len(chunk)
		pos += uint64(len(chunk))
	}
	if end > i.disk.Size() {
		i.disk.SetSize(end)
	}
	i.disk.ModificationTimeRaw = int32(time.Now().Unix())
	if err := i.writeLocked(); err != nil {
		return done, err
	}
	return done, nil
}

// allocBlocksLocked allocates zeroed blocks for every hole among the direct
// blocks 0 to last. On failure the blocks allocated so far are freed.
//
// Preconditions: i.mu is held; last < NumDirectBlocks.
func (i *Inode) allocBlocksLocked(last uint64) error {
	var allocated []uint64
	cu := cleanup.Make(func() {
		for _, idx := range allocated {
			i.fs.freeBlock(i.disk.Block[idx])
			i.disk.Block[idx] = 0
		}
	})
	defer cu.Clean()

	zero := make([]byte, i.fs.blockSize)
	goal := i.fs.inodeGroup(uint32(i.Ino()))
	for idx := uint64(0); idx <= last; idx++ {
		if i.disk.Block[idx] != 0 {
			continue
		}
		blk, err := i.fs.allocBlock(goal)
		if err != nil {
			return err
		}
		i.disk.Block[idx] = blk
		allocated = append(allocated, idx)
		if err := i.fs.writeBlock(blk, zero); err != nil {
			return err
		}
	}
	if len(allocated) == 0 {
		cu.Release()
		return nil
	}
	i.disk.SetSectors(i.disk.Sectors() + uint64(len(allocated))*i.fs.blockSize/disklayout.SectorSize)
	if err := i.writeLocked(); err != nil {
		i.disk.SetSectors(i.disk.Sectors() - uint64(len(allocated))*i.fs.blockSize/disklayout.SectorSize)
		return err
	}
	cu.Release()
	return nil
}

// freeBlocksLocked frees every block of i, indirect ones included.
//
// Preconditions: i.mu is held.
func (i *Inode) freeBlocksLocked() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for idx, blk := range i.disk.Block {
		if blk == 0 {
			continue
		}
		depth := 0
		if idx >= disklayout.NumDirectBlocks {
			depth = idx - disklayout.NumDirectBlocks + 1
		}
		keep(i.fs.freeBlockTree(blk, depth))
		i.disk.Block[idx] = 0
	}
	i.disk.SetSectors(0)
	return firstErr
}

// freeBlockTree frees blk and, if it is an indirect block of the given
// depth, every block it points to.
func (fs *filesystem) freeBlockTree(blk uint32, depth int) error {
	if depth > 0 {
		buf, err := fs.readBlock(blk)
		if err != nil {
			return err
		}
		for off := 0; off < len(buf); off += 4 {
			if child := binary.LittleEndian.Uint32(buf[off:]); child != 0 {
				if err := fs.freeBlockTree(child, depth-1); err != nil {
					return err
				}
			}
		}
	}
	return fs.freeBlock(blk)
}
