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

package spage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/pagetable"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

const userBase = uint64(0x0804_8000)

func pageAddr(i int) uint64 {
	return userBase + uint64(i)*swap.PageSize
}

type fixture struct {
	pool *frame.Pool
	sw   *swap.Table
	pt   *pagetable.Table
	tbl  *spage.Table
}

func newFixture(t *testing.T, userFrames, swapSlots int) *fixture {
	t.Helper()

	pool, err := frame.NewPool("user", userFrames, true)
	require.NoError(t, err)

	sw := swap.New(block.NewMemDevice(block.Sector(swapSlots * swap.SectorsPerPage)))
	pt := pagetable.New()
	return &fixture{pool: pool, sw: sw, pt: pt, tbl: spage.New(pt, pool, sw)}
}

func TestZeroFillFault(t *testing.T) {
	fx := newFixture(t, 4, 4)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	mem, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok)
	for i, b := range mem {
		require.Zero(t, b, "byte %d", i)
	}
	assert.True(t, fx.tbl.Writable(pageAddr(0)))
	assert.Equal(t, 1, fx.pool.UsedCount())
}

func TestFileBackedFault(t *testing.T) {
	fx := newFixture(t, 4, 4)

	dev := block.NewMemDevice(64)
	fm := freemap.New(64)
	require.NoError(t, fm.Reserve(0))
	itbl := inode.NewTable(dev, fm)
	require.NoError(t, itbl.Create(0, 0, false, 0))
	src, err := itbl.Open(0)
	require.NoError(t, err)
	defer itbl.Close(src)

	content := make([]byte, swap.PageSize)
	for i := range content {
		content[i] = byte(i % 7)
	}
	_, err = src.WriteAt(content, 0)
	require.NoError(t, err)

	fx.tbl.AddFile(pageAddr(0), src, 0, swap.PageSize, 0, false)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	mem, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok)
	assert.Equal(t, content, append([]byte(nil), mem...))
	assert.False(t, fx.tbl.Writable(pageAddr(0)))
}

func TestMixedFault(t *testing.T) {
	fx := newFixture(t, 4, 4)

	dev := block.NewMemDevice(64)
	fm := freemap.New(64)
	require.NoError(t, fm.Reserve(0))
	itbl := inode.NewTable(dev, fm)
	require.NoError(t, itbl.Create(0, 0, false, 0))
	src, err := itbl.Open(0)
	require.NoError(t, err)
	defer itbl.Close(src)

	_, err = src.WriteAt([]byte("segment-tail"), 0)
	require.NoError(t, err)

	fx.tbl.AddFile(pageAddr(0), src, 0, 12, swap.PageSize-12, true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	mem, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok)
	assert.Equal(t, []byte("segment-tail"), append([]byte(nil), mem[:12]...))
	for i := 12; i < swap.PageSize; i++ {
		require.Zero(t, mem[i], "byte %d should be zero-filled", i)
	}
}

func TestFaultUnregisteredFails(t *testing.T) {
	fx := newFixture(t, 2, 2)
	assert.Error(t, fx.tbl.Fault(pageAddr(0)))
}

func TestRepeatFaultIsNoOp(t *testing.T) {
	fx := newFixture(t, 2, 2)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	assert.Equal(t, 1, fx.pool.UsedCount())
}

func TestGrowStack(t *testing.T) {
	fx := newFixture(t, 2, 2)

	require.NoError(t, fx.tbl.GrowStack(pageAddr(3)))
	mem, ok := fx.tbl.FrameBytes(pageAddr(3))
	require.True(t, ok)
	assert.Len(t, mem, swap.PageSize)
	assert.True(t, fx.tbl.Writable(pageAddr(3)))
}

// Memory pressure: with F frames and F+K dirty pages, eviction pushes the
// overflow to swap and every page reads back its own pattern afterwards.
func TestEvictionRoundTrip(t *testing.T) {
	const frames = 4
	const pages = 8
	fx := newFixture(t, frames, pages)

	// Fault in the first `frames` pages and stamp each with a pattern.
	for i := 0; i < frames; i++ {
		fx.tbl.AddZero(pageAddr(i), true)
		require.NoError(t, fx.tbl.Fault(pageAddr(i)))

		mem, ok := fx.tbl.FrameBytes(pageAddr(i))
		require.True(t, ok)
		for j := range mem {
			mem[j] = byte(0x10 + i)
		}
		fx.tbl.MarkDirty(pageAddr(i))
	}

	// Faulting the rest forces the dirty pages out to swap.
	for i := frames; i < pages; i++ {
		fx.tbl.AddZero(pageAddr(i), true)
		require.NoError(t, fx.tbl.Fault(pageAddr(i)))
	}
	assert.Equal(t, frames, fx.sw.UsedSlots(),
		"every dirty page must have been written to a swap slot")
	assert.Equal(t, frames, fx.tbl.SwapResidentCount())

	// Touching the originals again faults them back in from swap with
	// their patterns intact. The slots stay allocated: swap keeps the
	// clean backing copy so a later clean eviction can simply drop the
	// frame and re-read it.
	for i := 0; i < frames; i++ {
		require.NoError(t, fx.tbl.Fault(pageAddr(i)))
		mem, ok := fx.tbl.FrameBytes(pageAddr(i))
		require.True(t, ok)
		for j, b := range mem {
			require.Equal(t, byte(0x10+i), b, "page %d byte %d", i, j)
		}
	}
	assert.Equal(t, frames, fx.sw.UsedSlots(), "swapped-in pages keep their backing slots")
	assert.Equal(t, frames, fx.tbl.SwapResidentCount())
}

// A page swapped out, read back by a load-only access (dirty bit stays
// clear), and evicted again must keep its bytes: the retained slot backs
// the clean re-eviction.
func TestCleanReEvictionOfSwappedInPage(t *testing.T) {
	fx := newFixture(t, 1, 2)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	mem, _ := fx.tbl.FrameBytes(pageAddr(0))
	for j := range mem {
		mem[j] = 0x77
	}
	fx.tbl.MarkDirty(pageAddr(0))

	// Push it out to swap, then fault it back in without dirtying it.
	fx.tbl.AddZero(pageAddr(1), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))
	require.Equal(t, 1, fx.sw.UsedSlots())
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	// Evict it again while clean, then touch it once more.
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	mem, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok)
	for j, b := range mem {
		require.Equal(t, byte(0x77), b, "byte %d lost across clean re-eviction", j)
	}
}

// A dirty write-out steals no frame: the page stays resident and mapped,
// so a touch between the write-out and the eventual steal cannot allocate
// a second frame for the same address.
func TestDirtyWriteOutKeepsPageResident(t *testing.T) {
	fx := newFixture(t, 2, 4)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	mem, _ := fx.tbl.FrameBytes(pageAddr(0))
	mem[0] = 0x13
	fx.tbl.MarkDirty(pageAddr(0))

	fx.tbl.AddZero(pageAddr(1), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))

	// The next fault's sweep writes page 0 out but must leave it mapped;
	// the stolen frame is page 1's.
	fx.tbl.AddZero(pageAddr(2), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(2)))
	require.Equal(t, 1, fx.sw.UsedSlots())

	got, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok, "the written-out page must still be resident")
	assert.Equal(t, byte(0x13), got[0])
	assert.Equal(t, 2, fx.pool.UsedCount())
}

// A clean evicted page is simply dropped and refetched from its source.
func TestCleanEvictionRefetches(t *testing.T) {
	fx := newFixture(t, 1, 2)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))

	// Never dirtied; the next fault steals its frame without swap I/O.
	fx.tbl.AddZero(pageAddr(1), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))
	assert.Equal(t, 0, fx.sw.UsedSlots())

	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	mem, ok := fx.tbl.FrameBytes(pageAddr(0))
	require.True(t, ok)
	for _, b := range mem {
		require.Zero(t, b)
	}
}

func TestRemoveReleasesSwapSlot(t *testing.T) {
	fx := newFixture(t, 1, 2)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	mem, _ := fx.tbl.FrameBytes(pageAddr(0))
	mem[0] = 1
	fx.tbl.MarkDirty(pageAddr(0))

	fx.tbl.AddZero(pageAddr(1), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))
	require.Equal(t, 1, fx.sw.UsedSlots())

	fx.tbl.Remove(pageAddr(0))
	assert.Equal(t, 0, fx.sw.UsedSlots())
}

func TestTeardownAll(t *testing.T) {
	fx := newFixture(t, 2, 4)

	fx.tbl.AddZero(pageAddr(0), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(0)))
	mem, _ := fx.tbl.FrameBytes(pageAddr(0))
	mem[0] = 1
	fx.tbl.MarkDirty(pageAddr(0))

	fx.tbl.AddZero(pageAddr(1), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(1)))
	fx.tbl.AddZero(pageAddr(2), true)
	require.NoError(t, fx.tbl.Fault(pageAddr(2)))

	fx.tbl.TeardownAll(fx.pool)
	assert.Equal(t, 0, fx.pool.UsedCount())
	assert.Equal(t, 0, fx.sw.UsedSlots())
	assert.Equal(t, 0, fx.tbl.SwapResidentCount())

	_, ok := fx.tbl.FrameBytes(pageAddr(1))
	assert.False(t, ok)
}
