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

// Package inode owns the on-disk file layout, block allocation for file
// contents, extension-on-write, and the in-memory open-inode cache with
// per-inode synchronization.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/block"
)

// Magic identifies a valid on-disk inode record, catching a read of an
// uninitialized or corrupt sector early.
const Magic = 0x494e4f44 // "INOD"

// entriesPerIndexSector is sector-size / sector-number-size. A sector
// number is stored as a uint32, so 512/4 = 128.
const entriesPerIndexSector = block.SectorSize / 4

// MaxFileSize is the largest file the two-level index can address: 128
// index sectors of 128 data sectors each.
const MaxFileSize = entriesPerIndexSector * entriesPerIndexSector * block.SectorSize

// sentinelSector marks an unused slot in the two-level index.
const sentinelSector block.Sector = 0xffffffff

// DiskRecord is the fixed-size on-disk inode, exactly one sector.
type DiskRecord struct {
	Pos           uint32      // allocation cursor: exact byte size last requested from extend, before sector round-up
	AllocatedSize uint32      // bytes, multiple of block.SectorSize
	Length        uint32      // bytes written, Length <= AllocatedSize
	IndexSector   block.Sector // pointer sector for the two-level index
	IsDir         bool
	ParentSector  block.Sector
	EntryCount    uint32 // directory entry count, meaningful only if IsDir
	CWDCount      uint32 // processes whose working directory is this inode
	Magic         uint32
}

// checkInvariants enforces the disk-inode invariants: allocated size is a
// multiple of the sector size, and neither the length nor the allocation
// cursor exceeds it.
func (d *DiskRecord) checkInvariants() error {
	if d.AllocatedSize%block.SectorSize != 0 {
		return fmt.Errorf("inode: allocated size %d not a multiple of sector size", d.AllocatedSize)
	}
	if d.Length > d.AllocatedSize {
		return fmt.Errorf("inode: length %d exceeds allocated size %d", d.Length, d.AllocatedSize)
	}
	if d.Pos > d.AllocatedSize {
		return fmt.Errorf("inode: allocation cursor %d beyond allocated size %d", d.Pos, d.AllocatedSize)
	}
	if d.AllocatedSize > MaxFileSize {
		return fmt.Errorf("inode: allocated size %d exceeds max file size %d", d.AllocatedSize, MaxFileSize)
	}
	return nil
}

// encode serializes the record into exactly one sector.
func (d *DiskRecord) encode() [block.SectorSize]byte {
	var buf [block.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], d.Pos)
	binary.LittleEndian.PutUint32(buf[4:8], d.AllocatedSize)
	binary.LittleEndian.PutUint32(buf[8:12], d.Length)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.IndexSector))
	if d.IsDir {
		buf[16] = 1
	}
	binary.LittleEndian.PutUint32(buf[20:24], uint32(d.ParentSector))
	binary.LittleEndian.PutUint32(buf[24:28], d.EntryCount)
	binary.LittleEndian.PutUint32(buf[28:32], d.CWDCount)
	binary.LittleEndian.PutUint32(buf[32:36], d.Magic)
	return buf
}

func decodeDiskRecord(buf []byte) (DiskRecord, error) {
	if len(buf) != block.SectorSize {
		return DiskRecord{}, fmt.Errorf("inode: decode buffer must be one sector")
	}
	d := DiskRecord{
		Pos:           binary.LittleEndian.Uint32(buf[0:4]),
		AllocatedSize: binary.LittleEndian.Uint32(buf[4:8]),
		Length:        binary.LittleEndian.Uint32(buf[8:12]),
		IndexSector:   block.Sector(binary.LittleEndian.Uint32(buf[12:16])),
		IsDir:         buf[16] != 0,
		ParentSector:  block.Sector(binary.LittleEndian.Uint32(buf[20:24])),
		EntryCount:    binary.LittleEndian.Uint32(buf[24:28]),
		CWDCount:      binary.LittleEndian.Uint32(buf[28:32]),
		Magic:         binary.LittleEndian.Uint32(buf[32:36]),
	}
	if d.Magic != Magic {
		return DiskRecord{}, fmt.Errorf("inode: bad magic %#x", d.Magic)
	}
	return d, nil
}
