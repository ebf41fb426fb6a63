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

// Package swap implements the fixed-size on-disk backing store for evicted
// user pages: a bitmap of page-sized slots on a
// dedicated block device. Grounded structurally on internal/freemap's own
// bitmap-plus-lock idiom, applied here to a second block.Device and a
// page-sized (rather than sector-sized) allocation unit.
package swap

import (
	"fmt"
	"sync"

	"github.com/cs439kernel/pintos-go/internal/block"
)

// PageSize is the VM subsystem's page size.
const PageSize = 4096

// SectorsPerPage is the number of device sectors one page occupies.
const SectorsPerPage = PageSize / block.SectorSize

// Slot indexes a page-sized region of the swap device. SlotNone is the
// sentinel for "absent".
type Slot int32

const SlotNone Slot = -1

// Table is the swap bitmap. A single lock serializes bitmap mutations;
// the backing device is assumed internally synchronized.
type Table struct {
	dev  block.Device
	mu   sync.Mutex
	bits []bool
	used int
}

// New creates a swap table over dev, whose capacity in sectors must be a
// multiple of SectorsPerPage.
func New(dev block.Device) *Table {
	n := dev.NumSectors() / SectorsPerPage
	return &Table{dev: dev, bits: make([]bool, n)}
}

// NumSlots returns the total slot count.
func (t *Table) NumSlots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bits)
}

// UsedSlots returns the number of slots currently marked in-use.
func (t *Table) UsedSlots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *Table) allocate() (Slot, bool) {
	for i, used := range t.bits {
		if !used {
			t.bits[i] = true
			t.used++
			return Slot(i), true
		}
	}
	return SlotNone, false
}

// Write allocates a slot (if *slot is SlotNone) and writes a page's worth
// of bytes across the slot's sector run; on bitmap exhaustion it leaves
// *slot as SlotNone and returns an error.
func (t *Table) Write(buf []byte, slot *Slot) error {
	if len(buf) != PageSize {
		return fmt.Errorf("swap: buffer must be exactly one page (%d bytes)", PageSize)
	}

	t.mu.Lock()
	if *slot == SlotNone {
		s, ok := t.allocate()
		if !ok {
			t.mu.Unlock()
			return fmt.Errorf("swap: out of swap slots")
		}
		*slot = s
	}
	base := block.Sector(int(*slot) * SectorsPerPage)
	t.mu.Unlock()

	for i := 0; i < SectorsPerPage; i++ {
		chunk := buf[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := t.dev.WriteSector(base+block.Sector(i), chunk); err != nil {
			return err
		}
	}
	return nil
}

// Read reads the page at slot into buf.
func (t *Table) Read(slot Slot, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("swap: buffer must be exactly one page (%d bytes)", PageSize)
	}
	if slot == SlotNone {
		return fmt.Errorf("swap: read of empty slot")
	}

	base := block.Sector(int(slot) * SectorsPerPage)
	for i := 0; i < SectorsPerPage; i++ {
		chunk := buf[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := t.dev.ReadSector(base+block.Sector(i), chunk); err != nil {
			return err
		}
	}
	return nil
}

// Delete releases slot in the bitmap.
func (t *Table) Delete(slot Slot) {
	if slot == SlotNone {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bits[slot] {
		t.bits[slot] = false
		t.used--
	}
}
