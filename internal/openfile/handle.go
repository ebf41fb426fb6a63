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

// Package openfile implements the open-file handle: a thin wrapper around
// an in-memory inode with a byte cursor and a deny-write flag, plus the
// per-process descriptor table that hands handles out.
package openfile

import (
	"sync"

	"github.com/cs439kernel/pintos-go/internal/directory"
	"github.com/cs439kernel/pintos-go/internal/inode"
)

// Handle wraps an inode with a position cursor (which may exceed length),
// deny-write tracking, and, for directories, iteration state.
type Handle struct {
	Node *inode.Inode

	mu        sync.Mutex
	cursor    uint32
	denied    bool
	dirIter   *directory.Iterator
}

// New wraps an already-open inode in a fresh handle at cursor 0.
func New(n *inode.Inode) *Handle {
	return &Handle{Node: n}
}

// Read advances the cursor by the count actually transferred.
func (h *Handle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	cursor := h.cursor
	h.mu.Unlock()

	n, err := h.Node.ReadAt(buf, cursor)
	if err != nil {
		return n, err
	}

	h.mu.Lock()
	h.cursor = cursor + uint32(n)
	h.mu.Unlock()
	return n, nil
}

// Write advances the cursor by the count actually transferred.
func (h *Handle) Write(buf []byte) (int, error) {
	h.mu.Lock()
	cursor := h.cursor
	h.mu.Unlock()

	n, err := h.Node.WriteAt(buf, cursor)
	if err != nil {
		return n, err
	}

	h.mu.Lock()
	h.cursor = cursor + uint32(n)
	h.mu.Unlock()
	return n, nil
}

// ReadAt/WriteAt do not advance the cursor.
func (h *Handle) ReadAt(buf []byte, offset uint32) (int, error) {
	return h.Node.ReadAt(buf, offset)
}

func (h *Handle) WriteAt(buf []byte, offset uint32) (int, error) {
	return h.Node.WriteAt(buf, offset)
}

// Seek sets the cursor unchecked; it may exceed length.
func (h *Handle) Seek(pos uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cursor = pos
}

// Tell returns the current cursor.
func (h *Handle) Tell() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Filesize returns the inode's written length.
func (h *Handle) Filesize() uint32 {
	return h.Node.Length()
}

// DenyWrite/AllowWrite increment/decrement the counter on the underlying
// inode; while non-zero, all writes through any handle to that inode
// return 0. denied tracks whether *this* handle currently holds a deny so
// AllowWrite is idempotent per handle.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denied {
		return
	}
	h.denied = true
	h.Node.DenyWrite()
}

func (h *Handle) AllowWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.denied {
		return
	}
	h.denied = false
	h.Node.AllowWrite()
}

// DirIterator lazily creates (or returns) this handle's directory iteration
// state, valid only when the underlying inode is a directory.
func (h *Handle) DirIterator() (*directory.Iterator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dirIter != nil {
		return h.dirIter, nil
	}
	d, err := directory.Open(h.Node)
	if err != nil {
		return nil, err
	}
	h.dirIter = d.NewIterator()
	return h.dirIter, nil
}
