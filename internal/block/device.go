// Copyright 2025 Google LLC
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

// Package block implements the sector-addressable storage contract the
// rest of the kernel treats as external: synchronous fixed-size-sector
// read/write. The file-system device and the swap device are both just
// Devices, distinguished only by which constructor built them.
package block

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed size of a sector. An on-disk inode occupies
// exactly one.
const SectorSize = 512

// Sector is a non-negative sector address.
type Sector uint32

// Device is a synchronous sector-level block device.
type Device interface {
	ReadSector(s Sector, buf []byte) error
	WriteSector(s Sector, buf []byte) error
	NumSectors() Sector
	Close() error
}

// fileDevice backs a Device with a plain file, guarded by a single mutex
// so the device presents as internally synchronized.
type fileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size Sector
}

// OpenFile opens (creating if necessary) a file-backed device with room for
// numSectors sectors.
func OpenFile(path string, numSectors Sector) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}

	want := int64(numSectors) * SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("block: stat %s: %w", path, err)
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("block: truncate %s: %w", path, err)
		}
	}

	return &fileDevice{f: f, size: numSectors}, nil
}

func (d *fileDevice) NumSectors() Sector {
	return d.size
}

func (d *fileDevice) checkBounds(s Sector, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if s >= d.size {
		return fmt.Errorf("block: sector %d out of range (device has %d sectors)", s, d.size)
	}
	return nil
}

func (d *fileDevice) ReadSector(s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(s, buf); err != nil {
		return err
	}
	_, err := d.f.ReadAt(buf, int64(s)*SectorSize)
	return err
}

func (d *fileDevice) WriteSector(s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(s, buf); err != nil {
		return err
	}
	_, err := d.f.WriteAt(buf, int64(s)*SectorSize)
	return err
}

func (d *fileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
