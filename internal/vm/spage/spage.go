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

// Package spage implements the per-process supplemental page table and
// page-fault resolution: a map from user-virtual page address to the
// page's logical source — zero-fill, disk-backed, swap-resident, or mixed
// (partial file read, rest zero). The per-entry lock is a plain sync.Mutex
// rather than a syncutil.InvariantMutex because eviction must probe it
// without blocking via TryLock, which InvariantMutex does not expose.
package spage

import (
	"fmt"
	"sync"

	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/pagetable"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

// State is a supplemental entry's source tag.
type State int

const (
	Zero State = iota
	Disk
	Swap
	Mixed
)

func (s State) String() string {
	switch s {
	case Zero:
		return "zero-fill"
	case Disk:
		return "disk-backed"
	case Swap:
		return "swap-resident"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Entry is one supplemental page-table entry.
type Entry struct {
	mu sync.Mutex // GUARDED_BY: everything below; probed non-blockingly by eviction

	addr     uint64
	state    State
	readOnly bool

	slot swap.Slot // valid when state == Swap

	src       *inode.Inode // disk source, valid when state is Disk or Mixed
	ofs       uint32
	readBytes uint32
	zeroBytes uint32

	resident bool // has a live hardware mapping right now
}

// Table is one process's supplemental page table.
type Table struct {
	pt     *pagetable.Table
	frames *frame.Pool
	swap   *swap.Table

	mu      sync.Mutex
	entries map[uint64]*Entry
}

// New creates an empty supplemental page table backed by pt for hardware
// installs, frames for physical-page allocation, and sw for swap I/O.
func New(pt *pagetable.Table, frames *frame.Pool, sw *swap.Table) *Table {
	return &Table{
		pt:      pt,
		frames:  frames,
		swap:    sw,
		entries: make(map[uint64]*Entry),
	}
}

// AddZero registers addr as a zero-fill page. Stack growth and the
// loader's BSS tail both come in through here.
func (t *Table) AddZero(addr uint64, writable bool) {
	t.register(&Entry{addr: addr, state: Zero, readOnly: !writable, slot: swap.SlotNone})
}

// AddFile registers addr as disk-backed (readBytes == PageSize, zeroBytes
// == 0) or mixed: the first readBytes come from src at ofs, the remaining
// zeroBytes are zero-filled.
func (t *Table) AddFile(addr uint64, src *inode.Inode, ofs, readBytes, zeroBytes uint32, writable bool) {
	state := Disk
	if zeroBytes > 0 {
		state = Mixed
	}
	t.register(&Entry{
		addr: addr, state: state, readOnly: !writable, slot: swap.SlotNone,
		src: src, ofs: ofs, readBytes: readBytes, zeroBytes: zeroBytes,
	})
}

func (t *Table) register(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.addr] = e
}

// Lookup returns the entry for addr, if registered.
func (t *Table) Lookup(addr uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	return e, ok
}

// Remove drops addr's entry entirely, releasing its swap slot if it holds
// one. A resident page's hardware mapping and frame are left in place;
// process exit tears the whole address space down through TeardownAll.
func (t *Table) Remove(addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[addr]; ok {
		delete(t.entries, addr)
		if e.state == Swap {
			t.swap.Delete(e.slot)
		}
	}
}

// Fault resolves a page fault at addr: look up the supplemental entry,
// allocate a frame, fetch content according to the entry's state, and
// install the hardware mapping. The per-entry lock is held across both
// fetch and install so a concurrent eviction sweep cannot steal the frame
// mid-install.
func (t *Table) Fault(addr uint64) error {
	e, ok := t.Lookup(addr)
	if !ok {
		return fmt.Errorf("spage: no supplemental entry for %#x", addr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resident {
		// Lost a race with another fault on the same page; nothing to do.
		return nil
	}

	f, err := t.frames.Allocate(t, addr)
	if err != nil {
		return fmt.Errorf("spage: allocate frame for %#x: %w", addr, err)
	}

	if err := t.fill(e, f); err != nil {
		t.frames.Free(f)
		return err
	}

	if err := t.pt.Install(addr, f, !e.readOnly); err != nil {
		t.frames.Free(f)
		return err
	}
	e.resident = true
	return nil
}

func (t *Table) fill(e *Entry, f *frame.Frame) error {
	switch e.state {
	case Zero:
		zeroFill(f.Mem)

	case Disk, Mixed:
		n, err := e.src.ReadAt(f.Mem[:e.readBytes], e.ofs)
		if err != nil {
			return fmt.Errorf("spage: read backing file for %#x: %w", e.addr, err)
		}
		zeroFill(f.Mem[n:])

	case Swap:
		if err := t.swap.Read(e.slot, f.Mem); err != nil {
			return fmt.Errorf("spage: read swap slot for %#x: %w", e.addr, err)
		}
		// The slot is kept: swap still holds a valid copy while the page
		// stays clean, so a later clean eviction can drop the frame and
		// re-read it. A dirty eviction rewrites the same slot. The slot is
		// released only by Remove/TeardownAll.
	}
	return nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SwapResidentCount returns the number of entries currently in the
// swap-resident state, compared by consistency checks against the swap
// table's own used-slot accounting.
func (t *Table) SwapResidentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.state == Swap {
			n++
		}
	}
	return n
}

// TeardownAll unmaps and frees every resident page and releases every
// swap slot still held by this table, then empties it — the address-space
// half of process exit. The hardware page table itself is discarded by the
// caller along with the rest of the thread.
func (t *Table) TeardownAll(pool *frame.Pool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for addr, e := range t.entries {
		if e.resident {
			if f, ok := t.pt.Lookup(addr); ok {
				pool.Free(f)
			}
			t.pt.Remove(addr)
		}
		if e.state == Swap {
			t.swap.Delete(e.slot)
		}
	}
	t.entries = make(map[uint64]*Entry)
}

// FrameBytes returns the raw backing memory for an already-resident page,
// used by internal/elf to write the initial argument stack and by
// internal/uaddr to copy user buffers to/from kernel space.
func (t *Table) FrameBytes(addr uint64) ([]byte, bool) {
	f, ok := t.pt.Lookup(addr)
	if !ok {
		return nil, false
	}
	return f.Mem, true
}

// Writable reports whether addr's page is currently mapped writable.
func (t *Table) Writable(addr uint64) bool {
	return t.pt.Writable(addr)
}

// MarkAccessed and MarkDirty record a simulated load or store through
// addr, feeding the bits the eviction sweep reads.
func (t *Table) MarkAccessed(addr uint64) { t.pt.MarkAccessed(addr) }

func (t *Table) MarkDirty(addr uint64) { t.pt.MarkDirty(addr) }

// GrowStack installs a fresh zero-fill entry covering addr, used when a
// fault lands within the bounded region below the user stack pointer.
func (t *Table) GrowStack(addr uint64) error {
	t.AddZero(addr, true)
	return t.Fault(addr)
}

// The following methods satisfy frame.Owner so that this table can be
// passed directly as the owner argument to frame.Pool.Allocate, letting
// the eviction sweep operate on supplemental entries without this package
// and internal/vm/frame importing each other.

// TryLockEntry implements frame.Owner.
func (t *Table) TryLockEntry(addr uint64) (unlock func(), ok bool) {
	e, found := t.Lookup(addr)
	if !found {
		return nil, false
	}
	if !e.mu.TryLock() {
		return nil, false
	}
	return e.mu.Unlock, true
}

// Bits implements frame.Owner by delegating to the hardware page table.
func (t *Table) Bits(addr uint64) (accessed, dirty bool) {
	return t.pt.Bits(addr)
}

// ClearAccessed implements frame.Owner.
func (t *Table) ClearAccessed(addr uint64) { t.pt.ClearAccessed(addr) }

// ClearDirty implements frame.Owner.
func (t *Table) ClearDirty(addr uint64) { t.pt.ClearDirty(addr) }

// Unmap implements frame.Owner: clears the hardware mapping and marks the
// entry non-resident so a later fault refetches it from its recorded
// source.
func (t *Table) Unmap(addr uint64) {
	t.pt.Remove(addr)
	if e, ok := t.Lookup(addr); ok {
		e.resident = false
	}
}

// SwapOut implements frame.Owner: write the page to its swap slot
// (allocating one if it has none yet) and mark the entry swap-resident
// with that slot. The page stays resident in its frame; the evictor only
// clears the dirty bit, leaving the frame re-stealable on a later pass.
// The entry lock is already held by the evictor via TryLockEntry.
func (t *Table) SwapOut(addr uint64, mem []byte) error {
	e, ok := t.Lookup(addr)
	if !ok {
		return fmt.Errorf("spage: swap-out of unregistered page %#x", addr)
	}

	slot := e.slot
	if err := t.swap.Write(mem, &slot); err != nil {
		return err
	}

	e.state = Swap
	e.slot = slot
	e.src = nil
	return nil
}
