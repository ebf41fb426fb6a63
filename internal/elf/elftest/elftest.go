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

// Package elftest builds minimal 32-bit little-endian executable images
// for tests that need something loadable on the simulated file system.
package elftest

import "encoding/binary"

const (
	ehdrSize = 52
	phdrSize = 32
	pageSize = 4096
)

// Segment describes one loadable segment of a test image.
type Segment struct {
	Vaddr    uint32
	Data     []byte // bytes present in the file
	MemSize  uint32 // total size in memory; >= len(Data), remainder zero-fill
	Writable bool
}

// Image assembles an executable with the given entry point and segments.
// Segment file offsets are placed so that offset and vaddr agree modulo
// the page size, as the loader requires.
func Image(entry uint32, segs []Segment) []byte {
	phoff := uint32(ehdrSize)
	cursor := phoff + uint32(len(segs))*phdrSize

	offsets := make([]uint32, len(segs))
	for i, s := range segs {
		page := (cursor + pageSize - 1) &^ (pageSize - 1)
		offsets[i] = page + s.Vaddr%pageSize
		cursor = offsets[i] + uint32(len(s.Data))
	}

	img := make([]byte, cursor)

	copy(img[0:4], "\x7fELF")
	img[4] = 1 // 32-bit
	img[5] = 1 // little-endian
	img[6] = 1
	binary.LittleEndian.PutUint16(img[16:18], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(img[18:20], 3) // EM_386
	binary.LittleEndian.PutUint32(img[20:24], 1)
	binary.LittleEndian.PutUint32(img[24:28], entry)
	binary.LittleEndian.PutUint32(img[28:32], phoff)
	binary.LittleEndian.PutUint16(img[42:44], phdrSize)
	binary.LittleEndian.PutUint16(img[44:46], uint16(len(segs)))

	for i, s := range segs {
		ph := img[phoff+uint32(i)*phdrSize:]
		binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
		binary.LittleEndian.PutUint32(ph[4:8], offsets[i])
		binary.LittleEndian.PutUint32(ph[8:12], s.Vaddr)
		binary.LittleEndian.PutUint32(ph[16:20], uint32(len(s.Data)))
		memsz := s.MemSize
		if memsz < uint32(len(s.Data)) {
			memsz = uint32(len(s.Data))
		}
		binary.LittleEndian.PutUint32(ph[20:24], memsz)
		flags := uint32(1) // PF_X
		if s.Writable {
			flags |= 2
		}
		binary.LittleEndian.PutUint32(ph[24:28], flags)

		copy(img[offsets[i]:], s.Data)
	}

	return img
}
