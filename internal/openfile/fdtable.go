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

package openfile

import (
	"fmt"
	"sync"
)

// StdinFD and StdoutFD are the two descriptors reserved for terminal
// input/output.
const (
	StdinFD  = 0
	StdoutFD = 1

	firstUserFD = 2
)

// FDTable is the per-process fixed-capacity descriptor table.
type FDTable struct {
	mu      sync.Mutex
	handles map[int]*Handle
	next    int
	cap     int
}

// NewFDTable creates an empty table with the given capacity on user
// descriptors (not counting the two reserved ones).
func NewFDTable(capacity int) *FDTable {
	return &FDTable{
		handles: make(map[int]*Handle),
		next:    firstUserFD,
		cap:     capacity,
	}
}

// Install assigns h a fresh descriptor, or returns ok=false if the table
// is at capacity.
func (t *FDTable) Install(h *Handle) (fd int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.handles) >= t.cap {
		return -1, false
	}

	fd = t.next
	t.next++
	t.handles[fd] = h
	return fd, true
}

// Get returns the handle for fd, or ok=false if fd is invalid (including
// the reserved descriptors, which have no Handle).
func (t *FDTable) Get(fd int) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[fd]
	return h, ok
}

// Close removes fd from the table, returning the handle that was there
// (for the caller to actually close against the inode table) or an error
// if fd was never valid — including the reserved descriptors 0 and 1.
func (t *FDTable) Close(fd int) (*Handle, error) {
	if fd == StdinFD || fd == StdoutFD {
		return nil, fmt.Errorf("openfile: cannot close reserved descriptor %d", fd)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[fd]
	if !ok {
		return nil, fmt.Errorf("openfile: descriptor %d not open", fd)
	}
	delete(t.handles, fd)
	return h, nil
}

// CloseAll returns every remaining handle (for the caller to close
// against the inode table) and empties the table, used at process exit.
func (t *FDTable) CloseAll() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	t.handles = make(map[int]*Handle)
	return out
}
