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

package sys

import (
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/hw"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

var componentModule = Module{
	Name: "component",
	Create: func(t *Tree) error {
		dir, err := t.v.DirCreate(t.sys, "component", dirMode)
		if err != nil {
			return err
		}
		for _, c := range t.k.Components("") {
			if err := t.addComponent(dir, c); err != nil {
				log.Warningf("Could not create sysfs directory for component %s: %v", c.Info(), err)
			}
		}
		t.mu.Lock()
		t.compDir = dir
		t.mu.Unlock()
		return nil
	},
	Remove: func(t *Tree) error {
		t.mu.Lock()
		t.compDir = nil
		t.mu.Unlock()
		return t.v.DirRemove(t.sys, "component")
	},
}

// AddComponent creates component/<type>/<id> for a component registered
// after Install.
func (t *Tree) AddComponent(c hw.Component) error {
	t.mu.Lock()
	dir := t.compDir
	t.mu.Unlock()
	if dir == nil {
		return nil
	}
	return t.addComponent(dir, c)
}

func (t *Tree) addComponent(compDir *vfs.Dentry, c hw.Component) error {
	info := c.Info()
	typeDir, err := t.v.LookupFrom(compDir, string(info.Type))
	if err != nil {
		if typeDir, err = t.v.DirCreate(compDir, string(info.Type), dirMode); err != nil {
			return err
		}
	}
	dir, err := t.v.DirCreate(typeDir, info.ID, dirMode)
	if err != nil {
		return err
	}

	v := t.v
	files := []struct {
		name  string
		value string
	}{
		{"product", info.Product},
		{"vendor", info.Vendor},
		{"description", info.Description},
	}
	for _, f := range files {
		value := f.value
		if _, err := pseudofs.CreateStringFile(v, dir, f.name, func() string { return value }); err != nil {
			return err
		}
	}
	if _, err := pseudofs.CreateBoolFile(v, dir, "default", func() bool { return info.Default }, nil); err != nil {
		return err
	}
	if dev, ok := c.(hw.BlockDevice); ok {
		return createBlockDeviceFiles(v, dir, dev)
	}
	return nil
}

// createBlockDeviceFiles exposes the contents and the geometry of dev.
func createBlockDeviceFiles(v *vfs.VFS, dir *vfs.Dentry, dev hw.BlockDevice) error {
	size := hw.DeviceSize(dev)
	read := func(to []byte, off int64) (int, error) {
		if off >= size {
			return 0, nil
		}
		return dev.ReadAt(to, off)
	}
	if _, err := pseudofs.CreateCustomRWFile(v, dir, "data", read, dev.WriteAt); err != nil {
		return err
	}
	if _, err := pseudofs.CreateCustomROFile(v, dir, "nsectors", func(to []byte, off int64) (int, error) {
		return pseudofs.WriteToBuf(to, uintString(dev.Sectors()), off), nil
	}); err != nil {
		return err
	}
	_, err := pseudofs.CreateCustomROFile(v, dir, "sectorsize", func(to []byte, off int64) (int, error) {
		return pseudofs.WriteToBuf(to, uintString(uint64(dev.SectorSize())), off), nil
	})
	return err
}
