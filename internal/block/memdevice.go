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

package block

import "sync"

// memDevice is an in-memory Device, used by unit tests across the kernel
// packages so they don't need a real file on disk.
type memDevice struct {
	mu   sync.Mutex
	data [][SectorSize]byte
}

// NewMemDevice returns a Device backed entirely by memory.
func NewMemDevice(numSectors Sector) Device {
	return &memDevice{data: make([][SectorSize]byte, numSectors)}
}

func (d *memDevice) NumSectors() Sector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Sector(len(d.data))
}

func (d *memDevice) ReadSector(s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(buf) != SectorSize {
		return errBufSize
	}
	if int(s) >= len(d.data) {
		return errOutOfRange
	}
	copy(buf, d.data[s][:])
	return nil
}

func (d *memDevice) WriteSector(s Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(buf) != SectorSize {
		return errBufSize
	}
	if int(s) >= len(d.data) {
		return errOutOfRange
	}
	copy(d.data[s][:], buf)
	return nil
}

func (d *memDevice) Close() error {
	return nil
}
