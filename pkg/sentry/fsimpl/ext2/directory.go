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

	"laritos.dev/laritos/pkg/binary"
	"laritos.dev/laritos/pkg/cleanup"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2/disklayout"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

// dirent is a directory entry together with its location.
type dirent struct {
	disklayout.Dirent
	name string

	// blk is the physical block holding the entry, buf its contents and off
	// the offset of the entry in it.
	blk uint32
	buf []byte
	off int
}

func (d *dirent) isDir(fs *filesystem) (bool, error) {
	if fs.sb.HasFileType() && d.FileTypeRaw != disklayout.FileTypeUnknown {
		return d.FileTypeRaw == disklayout.FileTypeDirectory, nil
	}
	child, err := fs.loadInode(d.InodeNumber)
	if err != nil {
		return false, err
	}
	return child.disk.IsDir(), nil
}

func (d *dirent) put() {
	hdr := binary.Marshal(make([]byte, 0, disklayout.DirentHeaderSize), binary.LittleEndian, &d.Dirent)
	copy(d.buf[d.off:], hdr)
	copy(d.buf[d.off+disklayout.DirentHeaderSize:], d.name)
}

// forEachDirentLocked calls fn with every entry of directory i, unused ones
// included, until fn returns false. prev is the previous entry of the same
// block, or nil for the first one.
//
// Preconditions: i.mu is held.
func (i *Inode) forEachDirentLocked(fn func(prev, d *dirent) bool) error {
	bs := i.fs.blockSize
	for n := range i.disk.Size() / bs {
		blk, err := i.blockAtLocked(n)
		if err != nil {
			return err
		}
		if blk == 0 {
			return fmt.Errorf("hole in directory %d: %w", i.Ino(), kerr.EUCLEAN)
		}
		buf, err := i.fs.readBlock(blk)
		if err != nil {
			return err
		}
		var prev *dirent
		for off := 0; off < len(buf); {
			d := &dirent{blk: blk, buf: buf, off: off}
			if off+disklayout.DirentHeaderSize > len(buf) {
				return fmt.Errorf("truncated entry in directory %d block %d: %w", i.Ino(), blk, kerr.EUCLEAN)
			}
			binary.Unmarshal(buf[off:off+disklayout.DirentHeaderSize], binary.LittleEndian, &d.Dirent)
			rec := int(d.RecordLength)
			nameEnd := off + disklayout.DirentHeaderSize + int(d.NameLength)
			if rec < disklayout.DirentHeaderSize || rec%4 != 0 || off+rec > len(buf) || nameEnd > off+rec {
				return fmt.Errorf("bad entry at %d in directory %d block %d: %w", off, i.Ino(), blk, kerr.EUCLEAN)
			}
			d.name = string(buf[off+disklayout.DirentHeaderSize : nameEnd])
			if !fn(prev, d) {
				return nil
			}
			prev = d
			off += rec
		}
	}
	return nil
}

// findDirentLocked returns the entry called name and the one before it in
// its block, or kerr.ENOENT.
//
// Preconditions: i.mu is held.
func (i *Inode) findDirentLocked(name string) (prev, found *dirent, err error) {
	err = i.forEachDirentLocked(func(p, d *dirent) bool {
		if d.InodeNumber != 0 && d.name == name {
			prev, found = p, d
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, kerr.ENOENT
	}
	return prev, found, nil
}

// addDirentLocked links ino into directory i as name. The entry goes into
// the first slot with enough room, splitting the slack of an existing entry;
// if no block has room a new one is added to the directory.
//
// Preconditions: i.mu is held.
func (i *Inode) addDirentLocked(name string, ino uint32, fileType uint8) error {
	if !i.fs.sb.HasFileType() {
		fileType = disklayout.FileTypeUnknown
	}
	need := disklayout.RecLen(len(name))
	var slot *dirent
	err := i.forEachDirentLocked(func(_, d *dirent) bool {
		if d.RecordLength-d.Used() >= need {
			slot = d
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	if slot != nil {
		if used := slot.Used(); used > 0 {
			// Split: the existing entry keeps what it uses, the new one
			// takes the rest.
			rest := slot.RecordLength - used
			slot.RecordLength = used
			slot.put()
			slot = &dirent{blk: slot.blk, buf: slot.buf, off: slot.off + int(used)}
			slot.RecordLength = rest
		}
		slot.InodeNumber = ino
		slot.NameLength = uint8(len(name))
		slot.FileTypeRaw = fileType
		slot.name = name
		slot.put()
		return i.fs.writeBlock(slot.blk, slot.buf)
	}

	n := i.disk.Size() / i.fs.blockSize
	if n >= disklayout.NumDirectBlocks {
		return fmt.Errorf("directory %d needs an indirect block: %w", i.Ino(), kerr.EOPNOTSUPP)
	}
	if err := i.allocBlocksLocked(n); err != nil {
		return err
	}
	d := &dirent{
		Dirent: disklayout.Dirent{
			InodeNumber:  ino,
			RecordLength: uint16(i.fs.blockSize),
			NameLength:   uint8(len(name)),
			FileTypeRaw:  fileType,
		},
		name: name,
		blk:  i.disk.Block[n],
		buf:  make([]byte, i.fs.blockSize),
	}
	d.put()
	if err := i.fs.writeBlock(d.blk, d.buf); err != nil {
		return err
	}
	i.disk.SetSize(i.disk.Size() + i.fs.blockSize)
	return i.writeLocked()
}

// removeDirentLocked unlinks name from directory i. The space of the entry
// is merged into the previous entry of its block; the first entry of a
// block is marked unused instead.
//
// Preconditions: i.mu is held.
func (i *Inode) removeDirentLocked(name string) error {
	prev, d, err := i.findDirentLocked(name)
	if err != nil {
		return err
	}
	if prev != nil {
		prev.RecordLength += d.RecordLength
		prev.put()
	} else {
		d.InodeNumber = 0
		d.put()
	}
	return i.fs.writeBlock(d.blk, d.buf)
}

// Lookup implements vfs.DirectoryOperations.Lookup.
func (i *Inode) Lookup(dir *vfs.Dentry, name string) (vfs.Inode, error) {
	if !i.Mode().IsDir() {
		return nil, kerr.ENOTDIR
	}
	i.mu.Lock()
	_, d, err := i.findDirentLocked(name)
	i.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return i.fs.loadInode(d.InodeNumber)
}

// create gives the new inode child a number and an on-disk record and
// links it into i. Directories also get a block holding "." and "..".
//
// Preconditions: i.mu is held.
func (i *Inode) create(child *vfs.Dentry, mode vfs.AccessMode) error {
	c, ok := child.Inode().(*Inode)
	if !ok || c.fs != i.fs {
		return fmt.Errorf("inode of %q is not from this filesystem: %w", child.Name(), kerr.EINVAL)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	isDir := mode.IsDir()
	ino, err := i.fs.allocInode(isDir)
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() {
		if err := i.fs.freeInode(ino, isDir); err != nil {
			log.Warningf("ext2: leaking inode %d: %v", ino, err)
		}
	})
	defer cu.Clean()

	fileType := uint8(disklayout.FileTypeRegular)
	if isDir {
		fileType = disklayout.FileTypeDirectory
		c.initLocked(ino, mode, 2)
		if err := c.addDirentLocked(".", ino, fileType); err != nil {
			return err
		}
		cu.Add(func() {
			c.freeBlocksLocked()
		})
		if err := c.addDirentLocked("..", uint32(i.Ino()), fileType); err != nil {
			return err
		}
	} else {
		c.initLocked(ino, mode, 1)
		if err := c.writeLocked(); err != nil {
			return err
		}
	}

	if err := i.addDirentLocked(child.Name(), ino, fileType); err != nil {
		return err
	}
	if isDir {
		i.disk.LinksCountRaw++
		i.disk.ModificationTimeRaw = int32(time.Now().Unix())
		if err := i.writeLocked(); err != nil {
			log.Warningf("ext2: link count of directory %d not updated: %v", i.Ino(), err)
		}
	}
	cu.Release()
	return nil
}

// Mkdir implements vfs.DirectoryOperations.Mkdir.
func (i *Inode) Mkdir(dir, child *vfs.Dentry, mode vfs.AccessMode) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.create(child, mode|vfs.ModeDir)
}

// MkRegFile implements vfs.DirectoryOperations.MkRegFile.
func (i *Inode) MkRegFile(dir, child *vfs.Dentry, mode vfs.AccessMode) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.create(child, mode&^vfs.ModeDir)
}

// Rmdir implements vfs.DirectoryOperations.Rmdir. ext2 directories cannot be
// removed.
func (i *Inode) Rmdir(dir, child *vfs.Dentry) error {
	return fmt.Errorf("removing directory %q: %w", child.Name(), kerr.EOPNOTSUPP)
}

// RmRegFile implements vfs.DirectoryOperations.RmRegFile. The directory
// entry is removed first, then the blocks and the inode are freed.
func (i *Inode) RmRegFile(dir, child *vfs.Dentry) error {
	c, ok := child.Inode().(*Inode)
	if !ok || c.fs != i.fs {
		return fmt.Errorf("inode of %q is not from this filesystem: %w", child.Name(), kerr.EINVAL)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.removeDirentLocked(child.Name()); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlinked = true
	err := c.freeBlocksLocked()
	c.disk.LinksCountRaw = 0
	c.disk.SetSize(0)
	c.disk.DeletionTimeRaw = int32(time.Now().Unix())
	if werr := c.writeLocked(); err == nil {
		err = werr
	}
	if ferr := i.fs.freeInode(uint32(c.Ino()), false); err == nil {
		err = ferr
	}
	if err != nil {
		log.Warningf("ext2: inode %d not fully freed: %v", c.Ino(), err)
	}
	return nil
}

// ListDir implements vfs.FileOperations.ListDir. The entry "." is skipped so
// that ".." comes first.
func (i *Inode) ListDir(f *vfs.File, offset int, list []vfs.DirEntry) (int, error) {
	if !i.Mode().IsDir() {
		return 0, kerr.ENOTDIR
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	n, pos := 0, 0
	var ierr error
	err := i.forEachDirentLocked(func(_, d *dirent) bool {
		if d.InodeNumber == 0 || d.name == "." {
			return true
		}
		if pos < offset {
			pos++
			return true
		}
		if n == len(list) {
			return false
		}
		isDir, err := d.isDir(i.fs)
		if err != nil {
			ierr = err
			return false
		}
		list[n] = vfs.DirEntry{Name: d.name, IsDir: isDir}
		n++
		pos++
		return true
	})
	if err == nil {
		err = ierr
	}
	return n, err
}
