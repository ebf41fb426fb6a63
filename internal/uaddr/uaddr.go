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

// Package uaddr validates and transfers user-process memory for the
// system-call layer. The user stack pointer is validated (non-null, in
// user range, mapped) before anything is read through it; string and
// buffer arguments are validated byte by byte across their length.
package uaddr

import (
	"encoding/binary"
	"errors"

	"github.com/cs439kernel/pintos-go/internal/elf"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
)

// ErrBadPointer is returned for any pointer that fails validation; the
// caller terminates the offending process with status -1.
var ErrBadPointer = errors.New("uaddr: invalid user pointer")

const pageSize = 4096

// maxStringLen bounds ReadCString against a process that never writes a
// NUL.
const maxStringLen = 4096

// Space validates and transfers bytes between kernel code and one
// process's user address space.
type Space struct {
	sp *spage.Table
}

// New wraps sp, one process's supplemental page table, which doubles as
// the fault-in path: a byte is "mapped" if it either already has a
// hardware mapping or has a supplemental entry that can be faulted in on
// demand — the same thing a real page-fault handler would do for a
// legitimately-backed user address.
func New(sp *spage.Table) *Space {
	return &Space{sp: sp}
}

// checkByte validates a single address: non-null, below the kernel/user
// split, and resolvable to a resident frame.
func (s *Space) checkByte(addr uint64) error {
	if addr == 0 {
		return ErrBadPointer
	}
	if addr >= elf.PhysBase {
		return ErrBadPointer
	}

	page := addr &^ (pageSize - 1)
	if _, ok := s.sp.FrameBytes(page); ok {
		return nil
	}
	if _, ok := s.sp.Lookup(page); !ok {
		return ErrBadPointer
	}
	if err := s.sp.Fault(page); err != nil {
		return ErrBadPointer
	}
	return nil
}

// CheckPointer validates a single pointer-sized address without
// transferring any data — the check the syscall handler runs on the user
// stack pointer itself before fetching the call number.
func (s *Space) CheckPointer(addr uint64) error {
	return s.checkByte(addr)
}

// ReadBytes validates every byte in [addr, addr+n) and returns a copy of
// the underlying user memory.
func (s *Space) ReadBytes(addr uint64, n uint32) ([]byte, error) {
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		cur := addr + uint64(i)
		if err := s.checkByte(cur); err != nil {
			return nil, err
		}
		page := cur &^ (pageSize - 1)
		off := cur & (pageSize - 1)
		mem, _ := s.sp.FrameBytes(page)
		s.sp.MarkAccessed(page)
		out[i] = mem[off]
	}
	return out, nil
}

// WriteBytes validates and copies data into user memory one byte at a time
// (used by read(fd, buf, n): the kernel fills a user-owned buffer). A
// destination page mapped read-only fails validation the same way an
// unmapped one does; bytes before the first failing one have already been
// written when the error is returned.
func (s *Space) WriteBytes(addr uint64, data []byte) error {
	for i, b := range data {
		cur := addr + uint64(i)
		if err := s.checkByte(cur); err != nil {
			return err
		}
		page := cur &^ (pageSize - 1)
		off := cur & (pageSize - 1)
		if !s.sp.Writable(page) {
			return ErrBadPointer
		}
		mem, _ := s.sp.FrameBytes(page)
		s.sp.MarkAccessed(page)
		s.sp.MarkDirty(page)
		mem[off] = b
	}
	return nil
}

// ReadCString validates and reads a NUL-terminated string starting at
// addr, byte by byte, failing closed if no NUL is found within
// maxStringLen bytes.
func (s *Space) ReadCString(addr uint64) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxStringLen; i++ {
		cur := addr + uint64(i)
		if err := s.checkByte(cur); err != nil {
			return "", err
		}
		page := cur &^ (pageSize - 1)
		off := cur & (pageSize - 1)
		mem, _ := s.sp.FrameBytes(page)
		s.sp.MarkAccessed(page)
		b := mem[off]
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", ErrBadPointer
}

// GetWord reads the 4-byte little-endian word at *sp and advances *sp by
// 4 — one popped stack word.
func (s *Space) GetWord(sp *uint64) (uint32, error) {
	buf, err := s.ReadBytes(*sp, 4)
	if err != nil {
		return 0, err
	}
	*sp += 4
	return binary.LittleEndian.Uint32(buf), nil
}
