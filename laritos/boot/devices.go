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

package boot

import (
	"context"
	"fmt"
	"time"

	"laritos.dev/laritos/laritos/config"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/fsimpl/ext2"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// imageLockTimeout bounds the wait for another user of a disk image.
const imageLockTimeout = 5 * time.Second

// createDevices creates and registers the configured block devices,
// formatting the ones that ask for it.
func (l *Loader) createDevices(ctx context.Context) error {
	for _, d := range l.conf.Devices {
		dev, err := l.createDevice(ctx, d)
		if err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
		l.disks[d.ID] = dev
		if err := l.k.RegisterComponent(dev); err != nil {
			return err
		}
		if d.Format {
			log.Infof("Formatting %s as ext2", d.ID)
			if err := ext2.Format(dev, ext2.FormatOptions{VolumeName: d.ID}); err != nil {
				return fmt.Errorf("formatting %s: %w", d.ID, err)
			}
		}
	}
	return nil
}

func (l *Loader) createDevice(ctx context.Context, d config.Device) (hw.BlockDevice, error) {
	info := hw.ComponentInfo{
		ID:          d.ID,
		Product:     d.Product,
		Vendor:      d.Vendor,
		Description: d.Description,
		Default:     d.Default,
	}
	switch d.Kind {
	case config.DeviceRAM:
		return hw.NewRAMDisk(info, d.SectorSize, d.Sectors), nil
	case config.DeviceFile:
		fd, err := hw.OpenFileDisk(ctx, d.Path, info, d.SectorSize, hw.FileDiskOptions{
			ReadOnly:    d.ReadOnly,
			LockTimeout: imageLockTimeout,
		})
		if err != nil {
			return nil, err
		}
		l.fileDisks = append(l.fileDisks, fd)
		return fd, nil
	}
	return nil, fmt.Errorf("unknown device kind %q", d.Kind)
}
