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

package uaddr_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/elf"
	"github.com/cs439kernel/pintos-go/internal/uaddr"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/pagetable"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

const (
	pageSize = 4096
	base     = uint64(0x0804_8000)
)

func newSpace(t *testing.T) (*uaddr.Space, *spage.Table) {
	t.Helper()

	pool, err := frame.NewPool("user", 8, true)
	require.NoError(t, err)
	sw := swap.New(block.NewMemDevice(8 * swap.SectorsPerPage))
	sp := spage.New(pagetable.New(), pool, sw)
	return uaddr.New(sp), sp
}

func TestCheckPointer(t *testing.T) {
	s, sp := newSpace(t)

	assert.ErrorIs(t, s.CheckPointer(0), uaddr.ErrBadPointer)
	assert.ErrorIs(t, s.CheckPointer(elf.PhysBase), uaddr.ErrBadPointer)
	assert.ErrorIs(t, s.CheckPointer(elf.PhysBase+100), uaddr.ErrBadPointer)
	assert.ErrorIs(t, s.CheckPointer(base), uaddr.ErrBadPointer, "unregistered page")

	sp.AddZero(base, true)
	assert.NoError(t, s.CheckPointer(base), "a registered page faults in on demand")
	assert.NoError(t, s.CheckPointer(base+pageSize-1))
}

func TestReadWriteBytes(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, true)
	sp.AddZero(base+pageSize, true)

	// A write spanning the page boundary round-trips.
	data := []byte("crosses the page boundary")
	addr := base + pageSize - 10
	require.NoError(t, s.WriteBytes(addr, data))

	out, err := s.ReadBytes(addr, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// Reads and writes past the mapped region fail.
	_, err = s.ReadBytes(base+2*pageSize-1, 4)
	assert.ErrorIs(t, err, uaddr.ErrBadPointer)
	assert.ErrorIs(t, s.WriteBytes(base+2*pageSize, []byte("x")), uaddr.ErrBadPointer)
}

func TestWriteBytesRejectsReadOnlyPage(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, false)

	assert.ErrorIs(t, s.WriteBytes(base, []byte("x")), uaddr.ErrBadPointer)

	// Reading the same page is fine.
	_, err := s.ReadBytes(base, 4)
	assert.NoError(t, err)
}

func TestReadCString(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, true)

	require.NoError(t, s.WriteBytes(base+100, []byte("hello\x00garbage")))

	got, err := s.ReadCString(base + 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// An empty string is just a NUL.
	require.NoError(t, s.WriteBytes(base+200, []byte{0}))
	got, err = s.ReadCString(base + 200)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestReadCStringUnterminatedFails(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, true)

	// Fill the whole page with non-NUL bytes; no NUL turns up within the
	// 4096-byte string bound, so the read fails closed.
	fill := make([]byte, pageSize)
	for i := range fill {
		fill[i] = 'a'
	}
	require.NoError(t, s.WriteBytes(base, fill))

	_, err := s.ReadCString(base)
	assert.ErrorIs(t, err, uaddr.ErrBadPointer)
}

func TestGetWord(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, true)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 13)
	binary.LittleEndian.PutUint32(buf[4:8], 0xdeadbeef)
	require.NoError(t, s.WriteBytes(base, buf))

	sp64 := base
	w, err := s.GetWord(&sp64)
	require.NoError(t, err)
	assert.EqualValues(t, 13, w)
	assert.Equal(t, base+4, sp64)

	w, err = s.GetWord(&sp64)
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, w)
	assert.Equal(t, base+8, sp64)
}

func TestAccessMarksBits(t *testing.T) {
	s, sp := newSpace(t)
	sp.AddZero(base, true)

	require.NoError(t, s.CheckPointer(base))
	require.NoError(t, s.WriteBytes(base, []byte("x")))

	// A store must leave the page dirty for the eviction sweep to see.
	accessed, dirty := sp.Bits(base)
	assert.True(t, accessed)
	assert.True(t, dirty)
}
