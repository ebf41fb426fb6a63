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

// Package pagetable simulates the hardware page-table mapper: a
// per-process map from user-virtual page number to physical frame, with a
// writable bit enforced by a real golang.org/x/sys/unix.Mprotect
// protection. Hardware accessed/dirty bits are not observable from user
// space, so they are tracked as explicit software flags set on every
// simulated load/store and cleared by the eviction sweep.
package pagetable

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cs439kernel/pintos-go/internal/vm/frame"
)

// entry is one page-table entry: the backing frame plus the software
// accessed/dirty/writable bits.
type entry struct {
	f        *frame.Frame
	writable bool
	accessed bool
	dirty    bool
}

// Table is one process's page table: user-virtual page number (VA, a
// page-aligned address the caller chooses and owns the meaning of) to
// entry.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// New returns an empty page table.
func New() *Table {
	return &Table{entries: make(map[uint64]*entry)}
}

// Install maps va to f with the given writable bit. Mprotect is applied
// to the frame's backing mmap region so that a write to a read-only
// mapping actually faults at the OS level, mirroring a real read-only
// PTE.
func (t *Table) Install(va uint64, f *frame.Frame, writable bool) error {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	if err := unix.Mprotect(f.Mem, prot); err != nil {
		return fmt.Errorf("pagetable: mprotect va %#x: %w", va, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[va] = &entry{f: f, writable: writable}
	return nil
}

// Remove clears va's mapping.
func (t *Table) Remove(va uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, va)
}

// Lookup returns the frame mapped at va, if any.
func (t *Table) Lookup(va uint64) (*frame.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[va]
	if !ok {
		return nil, false
	}
	return e.f, true
}

// MarkAccessed records a read or write through va (called by internal/uaddr
// on every simulated user memory access, and by internal/elf for the
// initial stack page).
func (t *Table) MarkAccessed(va uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[va]; ok {
		e.accessed = true
	}
}

// MarkDirty records a write through va.
func (t *Table) MarkDirty(va uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[va]; ok {
		e.dirty = true
	}
}

// Bits returns va's current accessed/dirty bits. A page with no mapping
// reads as clean (both false) rather than erroring, since the eviction
// sweep calls this opportunistically against frame records that may have
// already been unmapped by a racing fault.
func (t *Table) Bits(va uint64) (accessed, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[va]
	if !ok {
		return false, false
	}
	return e.accessed, e.dirty
}

// ClearAccessed and ClearDirty reset one bit without disturbing the
// mapping; the clock algorithm clears accessed on its first pass over a
// page.
func (t *Table) ClearAccessed(va uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[va]; ok {
		e.accessed = false
	}
}

func (t *Table) ClearDirty(va uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[va]; ok {
		e.dirty = false
	}
}

// Writable reports va's writable bit.
func (t *Table) Writable(va uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[va]
	return ok && e.writable
}
