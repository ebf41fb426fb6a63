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

// Package directory interprets certain inodes as directories: ordered
// sequences of fixed-size entries providing name to inode-sector lookup,
// add, remove, and iteration. Lookup, Add, and the entry update in Remove
// run under the directory inode's own entry lock; IsEmpty and Iterator
// read entries without it.
package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/inode"
)

// MaxNameLength bounds an entry's name field, including the terminating
// NUL.
const MaxNameLength = 14

// entrySize is the fixed-width directory entry record: in-use bool (1),
// target inode sector (4), name (MaxNameLength).
const entrySize = 1 + 4 + MaxNameLength

// Entry is one directory entry.
type Entry struct {
	InUse  bool
	Sector block.Sector
	Name   string
}

func encodeEntry(e Entry) [entrySize]byte {
	var buf [entrySize]byte
	if e.InUse {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(e.Sector))
	copy(buf[5:], []byte(e.Name))
	return buf
}

func decodeEntry(buf []byte) Entry {
	nameBytes := buf[5:entrySize]
	nul := len(nameBytes)
	for i, b := range nameBytes {
		if b == 0 {
			nul = i
			break
		}
	}
	return Entry{
		InUse:  buf[0] != 0,
		Sector: block.Sector(binary.LittleEndian.Uint32(buf[1:5])),
		Name:   string(nameBytes[:nul]),
	}
}

// Dir wraps a directory inode, providing the entry-level operations.
type Dir struct {
	Node *inode.Inode
}

// Open wraps an already-open directory inode.
func Open(n *inode.Inode) (*Dir, error) {
	if !n.IsDir() {
		return nil, fmt.Errorf("directory: inode %d is not a directory", n.Sector)
	}
	return &Dir{Node: n}, nil
}

// isReserved reports whether name is one of the two names the resolver
// interprets itself and that are never stored as entries.
func isReserved(name string) bool {
	return name == "." || name == ".."
}

// Lookup linearly scans entries under the directory inode's entry lock,
// returning the named entry if present.
func (d *Dir) Lookup(name string) (Entry, bool, error) {
	if isReserved(name) || name == "" {
		return Entry{}, false, nil
	}

	d.Node.DirLock.Lock()
	defer d.Node.DirLock.Unlock()

	return d.lookupLocked(name)
}

func (d *Dir) lookupLocked(name string) (Entry, bool, error) {
	length := d.Node.Length()
	var buf [entrySize]byte
	for off := uint32(0); off+entrySize <= length; off += entrySize {
		n, err := d.Node.ReadAt(buf[:], off)
		if err != nil {
			return Entry{}, false, err
		}
		if n != entrySize {
			break
		}
		e := decodeEntry(buf[:])
		if e.InUse && e.Name == name {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Add fails if the name already exists; otherwise it writes the first
// free entry (or appends) and increments the entry count. Names exceeding
// the maximum length are rejected.
func (d *Dir) Add(name string, sector block.Sector) error {
	if isReserved(name) || name == "" {
		return fmt.Errorf("directory: illegal name %q", name)
	}
	if len(name) >= MaxNameLength {
		return fmt.Errorf("directory: name %q exceeds maximum length %d", name, MaxNameLength-1)
	}

	d.Node.DirLock.Lock()
	defer d.Node.DirLock.Unlock()

	if _, ok, err := d.lookupLocked(name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("directory: name %q already exists", name)
	}

	length := d.Node.Length()
	var buf [entrySize]byte
	freeOffset := length
	for off := uint32(0); off+entrySize <= length; off += entrySize {
		n, err := d.Node.ReadAt(buf[:], off)
		if err != nil {
			return err
		}
		if n != entrySize {
			break
		}
		if !decodeEntry(buf[:]).InUse {
			freeOffset = off
			break
		}
	}

	enc := encodeEntry(Entry{InUse: true, Sector: sector, Name: name})
	if _, err := d.Node.WriteAt(enc[:], freeOffset); err != nil {
		return err
	}
	d.Node.BumpEntryCount(1)
	return nil
}

// Remove refuses to remove a directory that is still another process's
// working directory, a non-empty directory, or "." / "..". On success it
// marks the entry free, decrements the entry count, and marks the target
// inode removed; actual destruction happens when the last opener closes
// it.
func (d *Dir) Remove(name string, target *inode.Inode, tbl *inode.Table) error {
	if isReserved(name) || name == "" {
		return fmt.Errorf("directory: cannot remove %q", name)
	}

	if target.IsDir() {
		if target.WorkingDirCount() > 0 {
			return fmt.Errorf("directory: %q is some process's working directory", name)
		}
		empty, err := IsEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("directory: %q is not empty", name)
		}
	}

	d.Node.DirLock.Lock()
	defer d.Node.DirLock.Unlock()

	length := d.Node.Length()
	var buf [entrySize]byte
	for off := uint32(0); off+entrySize <= length; off += entrySize {
		n, err := d.Node.ReadAt(buf[:], off)
		if err != nil {
			return err
		}
		if n != entrySize {
			break
		}
		e := decodeEntry(buf[:])
		if e.InUse && e.Name == name {
			e.InUse = false
			enc := encodeEntry(e)
			if _, err := d.Node.WriteAt(enc[:], off); err != nil {
				return err
			}
			d.Node.BumpEntryCount(-1)
			tbl.Remove(target)
			return nil
		}
	}
	return fmt.Errorf("directory: name %q not found", name)
}

// IsEmpty reports whether a directory inode currently has zero in-use
// entries.
func IsEmpty(n *inode.Inode) (bool, error) {
	d := &Dir{Node: n}
	length := n.Length()
	var buf [entrySize]byte
	for off := uint32(0); off+entrySize <= length; off += entrySize {
		read, err := d.Node.ReadAt(buf[:], off)
		if err != nil {
			return false, err
		}
		if read != entrySize {
			break
		}
		if decodeEntry(buf[:]).InUse {
			return false, nil
		}
	}
	return true, nil
}

// Iterator is readdir-style traversal state, owned by an open-file handle
// when the underlying inode is a directory.
type Iterator struct {
	dir    *Dir
	offset uint32
}

func (d *Dir) NewIterator() *Iterator {
	return &Iterator{dir: d}
}

// Next returns the next in-use entry, advancing the iterator, or ok=false
// at end of directory.
func (it *Iterator) Next() (Entry, bool, error) {
	length := it.dir.Node.Length()
	var buf [entrySize]byte
	for it.offset+entrySize <= length {
		off := it.offset
		it.offset += entrySize

		n, err := it.dir.Node.ReadAt(buf[:], off)
		if err != nil {
			return Entry{}, false, err
		}
		if n != entrySize {
			break
		}
		e := decodeEntry(buf[:])
		if e.InUse {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
