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
	"encoding/binary"
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
)

// indexer reads and mutates a disk inode's two-level block index. It is
// kept separate from DiskRecord so the index reads as an abstract function
// from sector index to data sector, with allocate/release helpers that are
// all-or-nothing via explicit rollback.
type indexer struct {
	dev block.Device
	fm  *freemap.Map
}

func newIndexer(dev block.Device, fm *freemap.Map) *indexer {
	return &indexer{dev: dev, fm: fm}
}

func sentinelSectorBuf() [block.SectorSize]byte {
	var buf [block.SectorSize]byte
	for i := range buf {
		buf[i] = 0xff
	}
	return buf
}

func readSlot(buf []byte, i uint32) block.Sector {
	off := i * 4
	return block.Sector(binary.LittleEndian.Uint32(buf[off : off+4]))
}

func writeSlot(buf []byte, i uint32, s block.Sector) {
	off := i * 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(s))
}

// linearSector splits a byte offset into (outer, inner) indices into the
// two-level index.
func linearSector(offset uint32) (sectorIdx, outer, inner uint32) {
	sectorIdx = offset / block.SectorSize
	outer = sectorIdx / entriesPerIndexSector
	inner = sectorIdx % entriesPerIndexSector
	return
}

// translate returns the data sector backing byte offset, or ok=false if
// the offset is past written length or otherwise unmapped.
func (ix *indexer) translate(d *DiskRecord, offset uint32) (sector block.Sector, ok bool, err error) {
	if offset >= d.Length {
		return 0, false, nil
	}
	if d.IndexSector == sentinelSector {
		return 0, false, nil
	}

	_, outer, inner := linearSector(offset)

	var ptrBuf [block.SectorSize]byte
	if err = ix.dev.ReadSector(d.IndexSector, ptrBuf[:]); err != nil {
		return 0, false, err
	}
	idxSector := readSlot(ptrBuf[:], outer)
	if idxSector == sentinelSector {
		return 0, false, nil
	}

	var idxBuf [block.SectorSize]byte
	if err = ix.dev.ReadSector(idxSector, idxBuf[:]); err != nil {
		return 0, false, err
	}
	dataSector := readSlot(idxBuf[:], inner)
	if dataSector == sentinelSector {
		return 0, false, nil
	}

	return dataSector, true, nil
}

// sectorForAllocated translates offset to a data sector assuming the
// offset lies within d.AllocatedSize, regardless of d.Length. WriteAt uses
// this for the just-extended region between the old Length and the new
// write, where translate (keyed off Length) would report a miss.
func (ix *indexer) sectorForAllocated(d *DiskRecord, offset uint32) (block.Sector, error) {
	if offset >= d.AllocatedSize {
		return 0, fmt.Errorf("inode: offset %d beyond allocated size %d", offset, d.AllocatedSize)
	}
	if d.IndexSector == sentinelSector {
		return 0, fmt.Errorf("inode: no index sector allocated")
	}

	_, outer, inner := linearSector(offset)

	var ptrBuf [block.SectorSize]byte
	if err := ix.dev.ReadSector(d.IndexSector, ptrBuf[:]); err != nil {
		return 0, err
	}
	idxSector := readSlot(ptrBuf[:], outer)
	if idxSector == sentinelSector {
		return 0, fmt.Errorf("inode: index sector %d unallocated", outer)
	}

	var idxBuf [block.SectorSize]byte
	if err := ix.dev.ReadSector(idxSector, idxBuf[:]); err != nil {
		return 0, err
	}
	dataSector := readSlot(idxBuf[:], inner)
	if dataSector == sentinelSector {
		return 0, fmt.Errorf("inode: data sector for offset %d unallocated", offset)
	}
	return dataSector, nil
}

// extend grows d's allocated region by delta bytes, zero-filling every
// newly allocated data sector, allocating index sectors and the pointer
// sector as needed. On any free-map failure, every sector allocated during
// this call is released before returning an error and d is left
// unmodified.
func (ix *indexer) extend(d *DiskRecord, delta uint32) error {
	if delta == 0 {
		return nil
	}

	newSize := d.AllocatedSize + delta
	if newSize > MaxFileSize {
		return fmt.Errorf("inode: extend would exceed max file size")
	}

	// AllocatedSize is always a whole number of sectors; Pos remembers the
	// exact byte size requested.
	currentSectors := d.AllocatedSize / block.SectorSize
	wantSectors := (newSize + block.SectorSize - 1) / block.SectorSize
	if wantSectors == currentSectors {
		d.Pos = newSize
		return nil
	}

	var allocatedData []block.Sector
	var allocatedIndex []block.Sector
	allocatedPointer := false

	rollback := func() {
		for _, s := range allocatedData {
			ix.fm.Release(s)
		}
		for _, s := range allocatedIndex {
			ix.fm.Release(s)
		}
		if allocatedPointer {
			ix.fm.Release(d.IndexSector)
			d.IndexSector = sentinelSector
		}
	}

	if d.IndexSector == sentinelSector {
		s, ok := ix.fm.Allocate()
		if !ok {
			return fmt.Errorf("inode: free-map exhausted allocating pointer sector")
		}
		sentinel := sentinelSectorBuf()
		if err := ix.dev.WriteSector(s, sentinel[:]); err != nil {
			ix.fm.Release(s)
			return err
		}
		d.IndexSector = s
		allocatedPointer = true
	}

	var ptrBuf [block.SectorSize]byte
	if err := ix.dev.ReadSector(d.IndexSector, ptrBuf[:]); err != nil {
		rollback()
		return err
	}

	dirtyIndexSectors := map[block.Sector][block.SectorSize]byte{}
	ptrDirty := false

	zero := [block.SectorSize]byte{}

	for sectorIdx := currentSectors; sectorIdx < wantSectors; sectorIdx++ {
		outer := sectorIdx / entriesPerIndexSector
		inner := sectorIdx % entriesPerIndexSector

		idxSector := readSlot(ptrBuf[:], outer)
		var idxBuf [block.SectorSize]byte
		if idxSector == sentinelSector {
			s, ok := ix.fm.Allocate()
			if !ok {
				rollback()
				return fmt.Errorf("inode: free-map exhausted allocating index sector")
			}
			idxBuf = sentinelSectorBuf()
			idxSector = s
			allocatedIndex = append(allocatedIndex, s)
			writeSlot(ptrBuf[:], outer, idxSector)
			ptrDirty = true
		} else if cached, ok := dirtyIndexSectors[idxSector]; ok {
			idxBuf = cached
		} else {
			if err := ix.dev.ReadSector(idxSector, idxBuf[:]); err != nil {
				rollback()
				return err
			}
		}

		dataSector, ok := ix.fm.Allocate()
		if !ok {
			rollback()
			return fmt.Errorf("inode: free-map exhausted allocating data sector")
		}
		if err := ix.dev.WriteSector(dataSector, zero[:]); err != nil {
			ix.fm.Release(dataSector)
			rollback()
			return err
		}
		allocatedData = append(allocatedData, dataSector)

		writeSlot(idxBuf[:], inner, dataSector)
		dirtyIndexSectors[idxSector] = idxBuf
	}

	for s, buf := range dirtyIndexSectors {
		b := buf
		if err := ix.dev.WriteSector(s, b[:]); err != nil {
			rollback()
			return err
		}
	}
	if ptrDirty {
		if err := ix.dev.WriteSector(d.IndexSector, ptrBuf[:]); err != nil {
			rollback()
			return err
		}
	}

	d.AllocatedSize = wantSectors * block.SectorSize
	d.Pos = newSize
	return nil
}

// releaseAll releases the inode's index and data sectors (not its own
// record sector, which the caller releases separately), used when a
// removed inode is destroyed.
func (ix *indexer) releaseAll(d *DiskRecord) {
	if d.IndexSector == sentinelSector {
		return
	}

	var ptrBuf [block.SectorSize]byte
	if err := ix.dev.ReadSector(d.IndexSector, ptrBuf[:]); err != nil {
		return
	}

	sectors := d.AllocatedSize / block.SectorSize
	seenIndex := map[block.Sector]bool{}
	for outer := uint32(0); outer*entriesPerIndexSector < sectors; outer++ {
		idxSector := readSlot(ptrBuf[:], outer)
		if idxSector == sentinelSector || seenIndex[idxSector] {
			continue
		}
		seenIndex[idxSector] = true

		var idxBuf [block.SectorSize]byte
		if err := ix.dev.ReadSector(idxSector, idxBuf[:]); err != nil {
			continue
		}
		for inner := uint32(0); inner < entriesPerIndexSector; inner++ {
			dataSector := readSlot(idxBuf[:], inner)
			if dataSector != sentinelSector {
				ix.fm.Release(dataSector)
			}
		}
		ix.fm.Release(idxSector)
	}

	ix.fm.Release(d.IndexSector)
	d.IndexSector = sentinelSector
}
