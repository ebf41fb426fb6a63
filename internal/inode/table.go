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

package inode

import (
	"fmt"
	"sync"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
)

// Table is the process-wide open-inode list: at most one in-memory inode
// exists per disk sector, and all concurrent openers share it. Traversal
// happens under a single mutex; traversals are short, so nothing finer
// grained is warranted.
type Table struct {
	dev block.Device
	fm  *freemap.Map

	mu    sync.Mutex
	inodes map[block.Sector]*Inode
}

// NewTable creates an open-inode table backed by dev and fm.
func NewTable(dev block.Device, fm *freemap.Map) *Table {
	return &Table{
		dev:    dev,
		fm:     fm,
		inodes: make(map[block.Sector]*Inode),
	}
}

// Open returns the unique in-memory inode for sector, incrementing its
// open count. If none exists, one is read from disk and installed.
func (t *Table) Open(sector block.Sector) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.inodes[sector]; ok {
		n.refs.inc()
		return n, nil
	}

	n, err := load(t.dev, t.fm, sector)
	if err != nil {
		return nil, err
	}
	n.tbl = t
	n.refs.count = 1
	t.inodes[sector] = n
	return n, nil
}

// Close decrements n's open count; at zero, writes back (or releases, if
// removed) and removes n from the table.
func (t *Table) Close(n *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n.refs.dec() {
		delete(t.inodes, n.Sector)
	}
}

// Remove marks n removed; actual deallocation is deferred to the final
// Close.
func (t *Table) Remove(n *Inode) {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	n.removed = true
}

// Create formats a brand new inode through this table's device/free-map,
// without opening it.
func (t *Table) Create(sector block.Sector, length uint32, isDir bool, parent block.Sector) error {
	return Create(t.dev, t.fm, sector, length, isDir, parent)
}

// Allocate reserves a free sector from the free-map for a new inode,
// returning an error if the map is exhausted.
func (t *Table) Allocate() (block.Sector, error) {
	s, ok := t.fm.Allocate()
	if !ok {
		return 0, fmt.Errorf("inode: free-map exhausted")
	}
	return s, nil
}

// OpenCount reports the current table size. Tests use this to assert
// single-instance sharing across concurrent Opens.
func (t *Table) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inodes)
}
