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

// Package elf loads an ELF executable's loadable segments into a
// process's supplemental page table and builds the initial user stack.
package elf

import (
	"encoding/binary"
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
)

// pageSize matches the VM subsystem's page size throughout.
const pageSize = 4096

// PhysBase is the fixed top of the user address space, the conventional
// 0xC0000000 split between user and kernel space.
const PhysBase uint64 = 0xC0000000

const ehdrSize = 52
const phdrSize = 32

const (
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptShlib   = 5
)

const (
	pfX = 1
	pfW = 2
)

type header struct {
	entry     uint32
	phoff     uint32
	phentsize uint16
	phnum     uint16
}

type progHeader struct {
	pType  uint32
	offset uint32
	vaddr  uint32
	filesz uint32
	memsz  uint32
	flags  uint32
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < ehdrSize {
		return header{}, fmt.Errorf("elf: header truncated")
	}
	magic := buf[0:4]
	if string(magic) != "\x7fELF" {
		return header{}, fmt.Errorf("elf: bad magic")
	}
	if buf[4] != 1 { // ELFCLASS32
		return header{}, fmt.Errorf("elf: not 32-bit")
	}
	if buf[5] != 1 { // little-endian
		return header{}, fmt.Errorf("elf: not little-endian")
	}

	etype := binary.LittleEndian.Uint16(buf[16:18])
	machine := binary.LittleEndian.Uint16(buf[18:20])
	version := binary.LittleEndian.Uint32(buf[20:24])
	if etype != 2 { // ET_EXEC
		return header{}, fmt.Errorf("elf: not an executable")
	}
	if machine != 3 { // EM_386
		return header{}, fmt.Errorf("elf: unexpected machine type")
	}
	if version != 1 {
		return header{}, fmt.Errorf("elf: unexpected version")
	}

	h := header{
		entry:     binary.LittleEndian.Uint32(buf[24:28]),
		phoff:     binary.LittleEndian.Uint32(buf[28:32]),
		phentsize: binary.LittleEndian.Uint16(buf[42:44]),
		phnum:     binary.LittleEndian.Uint16(buf[44:46]),
	}
	if h.phentsize != phdrSize {
		return header{}, fmt.Errorf("elf: unexpected program header size")
	}
	if h.phnum > 1024 {
		return header{}, fmt.Errorf("elf: too many program headers")
	}
	return h, nil
}

func decodeProgHeader(buf []byte) progHeader {
	return progHeader{
		pType:  binary.LittleEndian.Uint32(buf[0:4]),
		offset: binary.LittleEndian.Uint32(buf[4:8]),
		vaddr:  binary.LittleEndian.Uint32(buf[8:12]),
		filesz: binary.LittleEndian.Uint32(buf[16:20]),
		memsz:  binary.LittleEndian.Uint32(buf[20:24]),
		flags:  binary.LittleEndian.Uint32(buf[24:28]),
	}
}

func validateSegment(p progHeader, fileLen uint32) error {
	if p.offset&(pageSize-1) != p.vaddr&(pageSize-1) {
		return fmt.Errorf("elf: segment offset/vaddr page-offset mismatch")
	}
	if p.offset > fileLen {
		return fmt.Errorf("elf: segment offset past end of file")
	}
	if p.memsz < p.filesz {
		return fmt.Errorf("elf: memsz smaller than filesz")
	}
	if p.memsz == 0 {
		return fmt.Errorf("elf: empty segment")
	}
	if p.vaddr+p.memsz < p.vaddr {
		return fmt.Errorf("elf: segment wraps address space")
	}
	if uint64(p.vaddr) < pageSize {
		return fmt.Errorf("elf: segment maps page zero")
	}
	if uint64(p.vaddr)+uint64(p.memsz) >= PhysBase {
		return fmt.Errorf("elf: segment extends into kernel space")
	}
	return nil
}

// Load reads exe's ELF header and program headers, registers a
// supplemental page entry per page of every PT_LOAD segment — initial
// bytes sourced from the file, trailing bytes zero-fill — and returns the
// entry point.
func Load(exe *inode.Inode, sp *spage.Table) (entry uint64, err error) {
	var hdrBuf [ehdrSize]byte
	if _, err := exe.ReadAt(hdrBuf[:], 0); err != nil {
		return 0, fmt.Errorf("elf: read header: %w", err)
	}
	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return 0, err
	}

	fileLen := exe.Length()
	for i := 0; i < int(hdr.phnum); i++ {
		off := hdr.phoff + uint32(i)*phdrSize
		if off > fileLen {
			return 0, fmt.Errorf("elf: program header past end of file")
		}

		var phBuf [phdrSize]byte
		if _, err := exe.ReadAt(phBuf[:], off); err != nil {
			return 0, fmt.Errorf("elf: read program header %d: %w", i, err)
		}
		ph := decodeProgHeader(phBuf[:])

		switch ph.pType {
		case ptDynamic, ptInterp, ptShlib:
			return 0, fmt.Errorf("elf: unsupported segment type %d", ph.pType)
		case ptLoad:
			if err := validateSegment(ph, fileLen); err != nil {
				return 0, err
			}
			writable := ph.flags&pfW != 0
			if err := loadSegment(sp, exe, ph, writable); err != nil {
				return 0, err
			}
		default:
			// PT_NULL, PT_NOTE, PT_PHDR, PT_STACK, and anything else: ignored.
		}
	}

	return uint64(hdr.entry), nil
}

func loadSegment(sp *spage.Table, exe *inode.Inode, ph progHeader, writable bool) error {
	filePage := ph.offset &^ (pageSize - 1)
	memPage := ph.vaddr &^ (pageSize - 1)
	pageOffset := ph.vaddr & (pageSize - 1)

	var readBytes, zeroBytes uint32
	if ph.filesz > 0 {
		readBytes = pageOffset + ph.filesz
		zeroBytes = roundUp(pageOffset+ph.memsz, pageSize) - readBytes
	} else {
		readBytes = 0
		zeroBytes = roundUp(pageOffset+ph.memsz, pageSize)
	}

	ofs := filePage
	upage := memPage
	for readBytes > 0 || zeroBytes > 0 {
		pageReadBytes := readBytes
		if pageReadBytes > pageSize {
			pageReadBytes = pageSize
		}
		pageZeroBytes := uint32(pageSize) - pageReadBytes

		switch {
		case pageReadBytes == pageSize:
			sp.AddFile(uint64(upage), exe, ofs, pageReadBytes, 0, writable)
		case pageZeroBytes == pageSize:
			sp.AddZero(uint64(upage), writable)
		default:
			sp.AddFile(uint64(upage), exe, ofs, pageReadBytes, pageZeroBytes, writable)
		}

		readBytes -= pageReadBytes
		zeroBytes -= pageZeroBytes
		upage += pageSize
		ofs += pageSize
	}
	return nil
}

func roundUp(n, multiple uint32) uint32 {
	return (n + multiple - 1) &^ (multiple - 1)
}

// StackTop is the user-virtual page address of the single page backing
// the initial stack.
const StackTop = PhysBase - pageSize

// SetupStack installs a zero-fill page at the top of the user address
// space, faults it resident, and writes the argument vector: strings top
// down, a NULL sentinel, the argv pointers right to left, argv, argc, and
// a NULL return address — whose slot address becomes the initial stack
// pointer.
func SetupStack(sp *spage.Table, argv []string) (esp uint64, err error) {
	sp.AddZero(StackTop, true)
	if err := sp.Fault(StackTop); err != nil {
		return 0, fmt.Errorf("elf: install initial stack page: %w", err)
	}

	mem, ok := sp.FrameBytes(StackTop)
	if !ok {
		return 0, fmt.Errorf("elf: stack page not resident after fault")
	}

	pos := pageSize
	argvOffsets := make([]int, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		pos -= len(s) + 1
		if pos < 0 {
			return 0, fmt.Errorf("elf: argument vector exceeds one page")
		}
		copy(mem[pos:], s)
		mem[pos+len(s)] = 0
		argvOffsets[i] = pos
	}

	pos &^= 3 // align down to 4 bytes

	pos -= 4 // NULL sentinel terminating argv
	if pos < 0 {
		return 0, fmt.Errorf("elf: argument vector exceeds one page")
	}
	binary.LittleEndian.PutUint32(mem[pos:], 0)

	for i := len(argv) - 1; i >= 0; i-- {
		pos -= 4
		if pos < 0 {
			return 0, fmt.Errorf("elf: argument vector exceeds one page")
		}
		binary.LittleEndian.PutUint32(mem[pos:], uint32(StackTop)+uint32(argvOffsets[i]))
	}
	argvBase := pos

	pos -= 4 // argv (pointer to argv[0])
	if pos < 0 {
		return 0, fmt.Errorf("elf: argument vector exceeds one page")
	}
	binary.LittleEndian.PutUint32(mem[pos:], uint32(StackTop)+uint32(argvBase))

	pos -= 4 // argc
	if pos < 0 {
		return 0, fmt.Errorf("elf: argument vector exceeds one page")
	}
	binary.LittleEndian.PutUint32(mem[pos:], uint32(len(argv)))

	pos -= 4 // NULL return address
	if pos < 0 {
		return 0, fmt.Errorf("elf: argument vector exceeds one page")
	}
	binary.LittleEndian.PutUint32(mem[pos:], 0)

	// The argument vector was stored through the frame directly; mark the
	// page dirty so eviction writes it to swap instead of dropping it.
	sp.MarkAccessed(StackTop)
	sp.MarkDirty(StackTop)

	return StackTop + uint64(pos), nil
}
