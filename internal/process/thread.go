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

package process

import (
	"sync"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/openfile"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/pagetable"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

// Thread is the process record: a parent id, the children it created, the
// address space and descriptor table it owns, and the ELF image it was
// loaded from, held deny-write for its whole lifetime.
type Thread struct {
	ID       uint64
	Name     string // first whitespace-delimited token of the command line
	ParentID uint64
	HasParent bool

	FD *openfile.FDTable
	PT *pagetable.Table
	SP *spage.Table
	CWD block.Sector

	ExeFile *inode.Inode
	Entry   uint64
	StackPointer uint64

	mu       sync.Mutex
	children []uint64
}

func newThread(id uint64, name string, cwd block.Sector, fdCapacity int) *Thread {
	return &Thread{
		ID:   id,
		Name: name,
		FD:   openfile.NewFDTable(fdCapacity),
		PT:   pagetable.New(),
		CWD:  cwd,
	}
}

// NewKernelThread builds a thread with an empty address space and no
// executable image, for callers that drive file-system operations directly
// rather than loading a program.
func NewKernelThread(id uint64, name string, cwd block.Sector, fdCapacity int, frames *frame.Pool, sw *swap.Table) *Thread {
	t := newThread(id, name, cwd, fdCapacity)
	t.SP = spage.New(t.PT, frames, sw)
	return t
}

func (t *Thread) addChild(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = append(t.children, id)
}

// IsChild reports whether id was created by t.
func (t *Thread) IsChild(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.children {
		if c == id {
			return true
		}
	}
	return false
}

// Children returns a snapshot of t's child ids, used by Exit to abandon
// any that are still alive.
func (t *Thread) Children() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, len(t.children))
	copy(out, t.children)
	return out
}
