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

// Package freemap implements the persistent bitmap of free sectors. It is
// the single allocator every other on-disk object — inodes, index sectors,
// data sectors, directory contents — goes through.
package freemap

import (
	"fmt"
	"sync"

	"github.com/cs439kernel/pintos-go/internal/block"
)

// Map is a bitmap of free/allocated sectors. All mutation happens under its
// internal lock.
type Map struct {
	mu   sync.Mutex
	bits []bool // true == allocated
}

// New creates a free-map over numSectors sectors, all initially free except
// the reserved sectors the caller marks with Reserve.
func New(numSectors block.Sector) *Map {
	return &Map{bits: make([]bool, numSectors)}
}

// BytesLen returns the serialized size of a free-map over numSectors
// sectors: one bit per sector, rounded up to whole bytes.
func BytesLen(numSectors block.Sector) int {
	return (int(numSectors) + 7) / 8
}

// Bytes returns the packed bitmap, suitable for storing as the free-map
// file's content.
func (m *Map) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, (len(m.bits)+7)/8)
	for i, used := range m.bits {
		if used {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// LoadBytes overwrites the bitmap from a packed serialization previously
// produced by Bytes. Trailing bits beyond the map's sector count are
// ignored.
func (m *Map) LoadBytes(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(data) < (len(m.bits)+7)/8 {
		return fmt.Errorf("freemap: serialized bitmap too short: %d bytes for %d sectors", len(data), len(m.bits))
	}
	for i := range m.bits {
		m.bits[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return nil
}

// Reserve marks a sector permanently allocated, used at format time to
// claim the free-map's own inode sector and the root directory's sector.
func (m *Map) Reserve(s block.Sector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(s) >= len(m.bits) {
		return fmt.Errorf("freemap: sector %d out of range", s)
	}
	m.bits[s] = true
	return nil
}

// Allocate finds and marks allocated the first free sector, or returns
// false if the map is exhausted.
func (m *Map) Allocate() (block.Sector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, used := range m.bits {
		if !used {
			m.bits[i] = true
			return block.Sector(i), true
		}
	}
	return 0, false
}

// Release marks a sector free again. Releasing an already-free sector is a
// caller bug, not a recoverable error, since the free-map discipline
// guarantees every release corresponds to a prior allocation.
func (m *Map) Release(s block.Sector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(s) >= len(m.bits) {
		panic(fmt.Sprintf("freemap: release of out-of-range sector %d", s))
	}
	m.bits[s] = false
}

// IsAllocated reports whether a sector is currently allocated.
func (m *Map) IsAllocated(s block.Sector) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bits[s]
}

// FreeCount returns the number of free sectors remaining.
func (m *Map) FreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, used := range m.bits {
		if !used {
			n++
		}
	}
	return n
}
