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

// Package frame implements the physical frame allocator: a page pool split
// into kernel and user halves, picking free frames via a bitmap and
// invoking second-chance clock eviction on the user pool on exhaustion.
// Frames are backed by real anonymous mmap pages via golang.org/x/sys/unix,
// so zeroing a frame and installing a read-only mapping are real memory
// operations instead of bookkeeping over a pretend byte slice.
package frame

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

// PageSize matches swap.PageSize; both halves of physical memory are
// managed in page-sized units.
const PageSize = swap.PageSize

// Owner is the narrow interface the eviction sweep needs from whatever
// process owns a frame's user-virtual page: probing the per-entry lock
// without blocking, reading/clearing the accessed/dirty bits, and writing
// the page out to swap. It is satisfied by internal/vm/spage.Table so that
// this package never has to import process state directly.
type Owner interface {
	// TryLockEntry attempts to acquire the named page's supplemental-entry
	// lock without blocking. ok is false if some other goroutine — e.g. a
	// concurrent fault installer — already holds it, in which case the
	// sweep skips the frame.
	TryLockEntry(va uint64) (unlock func(), ok bool)

	// Bits returns the accessed/dirty bits for va.
	Bits(va uint64) (accessed, dirty bool)
	ClearAccessed(va uint64)
	ClearDirty(va uint64)

	// Unmap clears the hardware mapping for va.
	Unmap(va uint64)

	// SwapOut writes mem to va's swap slot (allocating one if the entry
	// has none) and marks the supplemental entry swap-resident with that
	// slot. The page stays resident and mapped; the sweep only clears the
	// dirty bit afterwards. Running out of swap while evicting a dirty
	// page is fatal.
	SwapOut(va uint64, mem []byte) error
}

// Frame is the per-physical-frame record: the owner of the user-virtual
// page it backs, and the frame's memory.
type Frame struct {
	Owner Owner
	VA    uint64
	Mem   []byte
}

// Pool is one half (kernel or user) of the physical frame pool.
type Pool struct {
	name   string
	evicts bool // only the user pool runs the eviction policy

	mu     sync.Mutex // guards the used-bitmap and frame records
	frames []Frame
	used   []bool
	sweep  int

	evictMu sync.Mutex // global eviction lock, serializes the clock sweep
}

// NewPool mmaps numFrames*PageSize bytes of anonymous memory and splits it
// into numFrames physical frames. evicts must be true for exactly the user
// pool; the kernel pool fails hard on exhaustion instead.
func NewPool(name string, numFrames int, evicts bool) (*Pool, error) {
	if numFrames <= 0 {
		return nil, fmt.Errorf("frame: pool %q needs a positive frame count", name)
	}

	mem, err := unix.Mmap(-1, 0, numFrames*PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap pool %q: %w", name, err)
	}

	p := &Pool{
		name:   name,
		evicts: evicts,
		frames: make([]Frame, numFrames),
		used:   make([]bool, numFrames),
	}
	for i := range p.frames {
		p.frames[i].Mem = mem[i*PageSize : (i+1)*PageSize]
	}
	return p, nil
}

// Len returns the pool's total frame count.
func (p *Pool) Len() int {
	return len(p.frames)
}

// UsedCount returns the number of frames currently marked in-use.
func (p *Pool) UsedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, u := range p.used {
		if u {
			n++
		}
	}
	return n
}

func (p *Pool) findFree() (int, bool) {
	for i, u := range p.used {
		if !u {
			return i, true
		}
	}
	return -1, false
}

// Allocate returns a free frame, recording owner and va in its frame
// record. On exhaustion of the user pool, eviction runs under the global
// eviction lock until a frame is yielded.
func (p *Pool) Allocate(owner Owner, va uint64) (*Frame, error) {
	p.mu.Lock()
	if idx, ok := p.findFree(); ok {
		p.used[idx] = true
		f := p.handOut(idx, owner, va)
		p.mu.Unlock()
		return f, nil
	}
	p.mu.Unlock()

	if !p.evicts {
		return nil, fmt.Errorf("frame: pool %q exhausted", p.name)
	}

	for {
		p.evictMu.Lock()
		idx, freed := p.evictOnce()
		p.evictMu.Unlock()

		if freed {
			p.mu.Lock()
			f := p.handOut(idx, owner, va)
			p.mu.Unlock()
			return f, nil
		}
		// A sweep can come up empty when every candidate's entry lock was
		// held; retry until one yields.
	}
}

// handOut retargets frame idx to its next owner. The previous mapping may
// have left the memory read-only; restore write access so the new owner
// can fill it. REQUIRES p.mu held.
func (p *Pool) handOut(idx int, owner Owner, va uint64) *Frame {
	p.frames[idx].Owner = owner
	p.frames[idx].VA = va
	_ = unix.Mprotect(p.frames[idx].Mem, unix.PROT_READ|unix.PROT_WRITE)
	return &p.frames[idx]
}

// evictOnce runs one full clock sweep over the user pool, returning the
// index of a freed victim frame, or ok=false if the sweep completed
// without producing one. REQUIRES p.evictMu held; it is dropped around
// the swap write-out of a dirty page so other evictors can progress, and
// re-acquired before the sweep resumes.
func (p *Pool) evictOnce() (victim int, ok bool) {
	n := len(p.frames)
	for i := 0; i < n; i++ {
		idx := p.sweep
		p.sweep = (p.sweep + 1) % n

		fr := &p.frames[idx]
		if fr.Owner == nil {
			continue
		}

		unlock, locked := fr.Owner.TryLockEntry(fr.VA)
		if !locked {
			continue
		}

		accessed, dirty := fr.Owner.Bits(fr.VA)
		switch {
		case accessed:
			// Recently used, dirty or not: clear accessed and advance.
			fr.Owner.ClearAccessed(fr.VA)
			unlock()

		case !accessed && dirty:
			// The entry lock keeps installers away; the eviction lock is
			// not needed for the I/O itself.
			p.evictMu.Unlock()
			err := fr.Owner.SwapOut(fr.VA, fr.Mem)
			p.evictMu.Lock()
			if err != nil {
				unlock()
				panic(fmt.Sprintf("frame: out of swap evicting dirty page: %v", err))
			}
			// No frame is stolen this pass. The page stays resident and
			// mapped in this frame; with swap now holding a clean copy it
			// is re-stealable as clean on a later pass. Unmapping here
			// would let a fresh fault allocate a second frame for the
			// same page while this record still claims it.
			fr.Owner.ClearDirty(fr.VA)
			unlock()

		default: // clean & clean: victim.
			fr.Owner.Unmap(fr.VA)
			unlock()
			return idx, true
		}
	}
	return -1, false
}

// Free clears a frame's record. Releasing any swap slot associated with
// the page is the caller's job; the slot lives in internal/vm/spage, which
// knows it.
func (p *Pool) Free(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.frames {
		if &p.frames[i] == f {
			p.used[i] = false
			p.frames[i].Owner = nil
			p.frames[i].VA = 0
			_ = unix.Mprotect(p.frames[i].Mem, unix.PROT_READ|unix.PROT_WRITE)
			zero(p.frames[i].Mem)
			return
		}
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
