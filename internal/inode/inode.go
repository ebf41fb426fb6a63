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

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/jacobsa/syncutil"
)

// Inode is the in-memory inode: a disk-sector identity, refcounting, a
// cached on-disk record, and two locks — one guarding the record and all
// allocation, one guarding directory-entry mutation, which proceeds
// independently of extension.
type Inode struct {
	dev block.Device
	fm  *freemap.Map
	ix  *indexer
	tbl *Table

	Sector block.Sector

	// InodeLock guards Record and all allocation, checking
	// 0 <= Record.Length <= Record.AllocatedSize <= MaxFileSize on every
	// release.
	InodeLock syncutil.InvariantMutex

	// DirLock guards directory-entry mutation. Only meaningful when
	// Record.IsDir.
	DirLock syncutil.InvariantMutex

	// GUARDED_BY(InodeLock)
	Record DiskRecord

	refs           refcount
	removed        bool
	denyWriteCount int
}

func (n *Inode) checkInodeInvariants() {
	if err := n.Record.checkInvariants(); err != nil {
		panic(err)
	}
}

func (n *Inode) checkDirInvariants() {}

// Create writes a fresh inode at sector and allocates enough data sectors
// to cover length bytes. On free-map exhaustion, every sector partially
// allocated so far is released.
func Create(dev block.Device, fm *freemap.Map, sector block.Sector, length uint32, isDir bool, parent block.Sector) error {
	ix := newIndexer(dev, fm)

	rec := DiskRecord{
		IndexSector:  sentinelSector,
		IsDir:        isDir,
		ParentSector: parent,
		Magic:        Magic,
	}

	if length > 0 {
		if err := ix.extend(&rec, length); err != nil {
			return fmt.Errorf("inode: create: %w", err)
		}
	}
	rec.Length = length
	if isDir {
		rec.EntryCount = 0
	}

	buf := rec.encode()
	if err := dev.WriteSector(sector, buf[:]); err != nil {
		ix.releaseAll(&rec)
		return fmt.Errorf("inode: create: write record: %w", err)
	}
	return nil
}

// load reads sector's on-disk record, without installing it in any table.
func load(dev block.Device, fm *freemap.Map, sector block.Sector) (*Inode, error) {
	var buf [block.SectorSize]byte
	if err := dev.ReadSector(sector, buf[:]); err != nil {
		return nil, err
	}
	rec, err := decodeDiskRecord(buf[:])
	if err != nil {
		return nil, fmt.Errorf("inode: open sector %d: %w", sector, err)
	}

	n := &Inode{
		dev:    dev,
		fm:     fm,
		ix:     newIndexer(dev, fm),
		Sector: sector,
		Record: rec,
	}
	n.InodeLock = syncutil.NewInvariantMutex(n.checkInodeInvariants)
	n.DirLock = syncutil.NewInvariantMutex(n.checkDirInvariants)
	n.refs.destroy = n.destroy
	return n, nil
}

// writeBack persists the cached record to disk. REQUIRES InodeLock held.
func (n *Inode) writeBack() error {
	buf := n.Record.encode()
	return n.dev.WriteSector(n.Sector, buf[:])
}

// destroy is called by refs when the open count hits zero: write back the
// record, or if removed, release the inode's own sector and every sector
// its index owns.
func (n *Inode) destroy() error {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()

	if n.removed {
		n.ix.releaseAll(&n.Record)
		n.fm.Release(n.Sector)
		return nil
	}
	return n.writeBack()
}

// IsDir reports whether this inode's directory flag is set.
func (n *Inode) IsDir() bool {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	return n.Record.IsDir
}

// Length returns the inode's written length in bytes.
func (n *Inode) Length() uint32 {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	return n.Record.Length
}

// Parent returns the parent-directory inode sector recorded at creation.
func (n *Inode) Parent() block.Sector {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	return n.Record.ParentSector
}

// IncWorkingDir/DecWorkingDir track the count of processes whose working
// directory is this inode, consulted to refuse removing a directory that
// is still somebody's cwd.
func (n *Inode) IncWorkingDir() {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	n.Record.CWDCount++
}

func (n *Inode) DecWorkingDir() {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	if n.Record.CWDCount > 0 {
		n.Record.CWDCount--
	}
}

// BumpEntryCount adjusts the directory entry count, tracked alongside
// length for directories.
func (n *Inode) BumpEntryCount(delta int32) {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	if delta < 0 {
		if uint32(-delta) > n.Record.EntryCount {
			n.Record.EntryCount = 0
			return
		}
		n.Record.EntryCount -= uint32(-delta)
		return
	}
	n.Record.EntryCount += uint32(delta)
}

func (n *Inode) WorkingDirCount() uint32 {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	return n.Record.CWDCount
}

// DenyWrite/AllowWrite adjust the per-inode deny-write counter; while
// non-zero, all writes through any handle to this inode return 0.
func (n *Inode) DenyWrite() {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	n.denyWriteCount++
}

func (n *Inode) AllowWrite() {
	n.InodeLock.Lock()
	defer n.InodeLock.Unlock()
	if n.denyWriteCount > 0 {
		n.denyWriteCount--
	}
}
