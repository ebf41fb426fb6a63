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

package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/directory"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/openfile"
)

// attrCacheTTL bounds how long the FUSE layer may cache attributes and
// entries before asking again.
const attrCacheTTL = time.Minute

// fuseServer translates FUSE ops onto the kernel's inode and directory
// layers. Inode sectors double as FUSE inode IDs: the root directory lives
// at sector 1, which is also fuseops.RootInodeID, so no translation table
// is needed.
type fuseServer struct {
	fuseutil.NotImplementedFileSystem

	k     *kernel.Kernel
	clock timeutil.Clock

	mu          sync.Mutex
	nextHandle  fuseops.HandleID
	fileHandles map[fuseops.HandleID]*openfile.Handle
	dirHandles  map[fuseops.HandleID][]fuseutil.Dirent
}

func newFuseServer(k *kernel.Kernel, clock timeutil.Clock) *fuseServer {
	return &fuseServer{
		k:           k,
		clock:       clock,
		fileHandles: make(map[fuseops.HandleID]*openfile.Handle),
		dirHandles:  make(map[fuseops.HandleID][]fuseutil.Dirent),
	}
}

func (s *fuseServer) attributes(n *inode.Inode) fuseops.InodeAttributes {
	now := s.clock.Now()
	mode := os.FileMode(0644)
	if n.IsDir() {
		mode = os.ModeDir | 0755
	}
	return fuseops.InodeAttributes{
		Size:  uint64(n.Length()),
		Nlink: 1,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (s *fuseServer) fillEntry(entry *fuseops.ChildInodeEntry, sector block.Sector, n *inode.Inode) {
	entry.Child = fuseops.InodeID(sector)
	entry.Attributes = s.attributes(n)
	entry.AttributesExpiration = s.clock.Now().Add(attrCacheTTL)
	entry.EntryExpiration = entry.AttributesExpiration
}

// openDir opens the directory inode behind a FUSE parent ID. The returned
// closer must be called once the caller is done with the Dir.
func (s *fuseServer) openDir(id fuseops.InodeID) (*directory.Dir, func(), error) {
	n, err := s.k.Inodes.Open(block.Sector(id))
	if err != nil {
		return nil, nil, fuse.ENOENT
	}
	d, err := directory.Open(n)
	if err != nil {
		s.k.Inodes.Close(n)
		return nil, nil, fuse.ENOTDIR
	}
	return d, func() { s.k.Inodes.Close(n) }, nil
}

func (s *fuseServer) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	total := uint64(s.k.FSDev.NumSectors())
	free := uint64(s.k.FreeMap.FreeCount())

	op.BlockSize = block.SectorSize
	op.Blocks = total
	op.BlocksFree = free
	op.BlocksAvailable = free
	op.IoSize = block.SectorSize
	return nil
}

func (s *fuseServer) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	d, closeDir, err := s.openDir(op.Parent)
	if err != nil {
		return err
	}
	defer closeDir()

	entry, ok, err := d.Lookup(op.Name)
	if err != nil {
		return fuse.EIO
	}
	if !ok {
		return fuse.ENOENT
	}

	child, err := s.k.Inodes.Open(entry.Sector)
	if err != nil {
		return fuse.EIO
	}
	defer s.k.Inodes.Close(child)

	s.fillEntry(&op.Entry, entry.Sector, child)
	return nil
}

func (s *fuseServer) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	n, err := s.k.Inodes.Open(block.Sector(op.Inode))
	if err != nil {
		return fuse.ENOENT
	}
	defer s.k.Inodes.Close(n)

	op.Attributes = s.attributes(n)
	op.AttributesExpiration = s.clock.Now().Add(attrCacheTTL)
	return nil
}

func (s *fuseServer) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	n, err := s.k.Inodes.Open(block.Sector(op.Inode))
	if err != nil {
		return fuse.ENOENT
	}
	defer s.k.Inodes.Close(n)

	// The inode layer can grow a file but never shrinks one; everything
	// else (mode, times) is fixed by construction.
	if op.Size != nil {
		current := uint64(n.Length())
		switch {
		case *op.Size < current:
			return fuse.ENOSYS
		case *op.Size > current:
			if _, err := n.WriteAt([]byte{0}, uint32(*op.Size-1)); err != nil {
				return fuse.EIO
			}
		}
	}

	op.Attributes = s.attributes(n)
	op.AttributesExpiration = s.clock.Now().Add(attrCacheTTL)
	return nil
}

func (s *fuseServer) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (s *fuseServer) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return s.createChild(op.Parent, op.Name, true, &op.Entry)
}

func (s *fuseServer) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	if err := s.createChild(op.Parent, op.Name, false, &op.Entry); err != nil {
		return err
	}

	n, err := s.k.Inodes.Open(block.Sector(op.Entry.Child))
	if err != nil {
		return fuse.EIO
	}
	op.Handle = s.installFileHandle(openfile.New(n))
	return nil
}

func (s *fuseServer) createChild(parent fuseops.InodeID, name string, isDir bool, entry *fuseops.ChildInodeEntry) error {
	d, closeDir, err := s.openDir(parent)
	if err != nil {
		return err
	}
	defer closeDir()

	if _, ok, _ := d.Lookup(name); ok {
		return fuse.EEXIST
	}

	sector, err := s.k.Inodes.Allocate()
	if err != nil {
		return fuse.EIO
	}
	if err := s.k.Inodes.Create(sector, 0, isDir, block.Sector(parent)); err != nil {
		s.k.FreeMap.Release(sector)
		return fuse.EIO
	}
	if err := d.Add(name, sector); err != nil {
		if n, openErr := s.k.Inodes.Open(sector); openErr == nil {
			s.k.Inodes.Remove(n)
			s.k.Inodes.Close(n)
		}
		return fuse.EEXIST
	}

	child, err := s.k.Inodes.Open(sector)
	if err != nil {
		return fuse.EIO
	}
	defer s.k.Inodes.Close(child)

	s.fillEntry(entry, sector, child)
	return nil
}

func (s *fuseServer) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return s.removeChild(op.Parent, op.Name, true)
}

func (s *fuseServer) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return s.removeChild(op.Parent, op.Name, false)
}

func (s *fuseServer) removeChild(parent fuseops.InodeID, name string, wantDir bool) error {
	d, closeDir, err := s.openDir(parent)
	if err != nil {
		return err
	}
	defer closeDir()

	entry, ok, err := d.Lookup(name)
	if err != nil {
		return fuse.EIO
	}
	if !ok {
		return fuse.ENOENT
	}

	target, err := s.k.Inodes.Open(entry.Sector)
	if err != nil {
		return fuse.EIO
	}
	defer s.k.Inodes.Close(target)

	if target.IsDir() != wantDir {
		if wantDir {
			return fuse.ENOTDIR
		}
		return fuse.EINVAL
	}

	if err := d.Remove(name, target, s.k.Inodes); err != nil {
		if wantDir {
			return fuse.ENOTEMPTY
		}
		return fuse.EIO
	}
	return nil
}

func (s *fuseServer) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	d, closeDir, err := s.openDir(op.Inode)
	if err != nil {
		return err
	}
	defer closeDir()

	// Snapshot the entries now; ReadDir serves offsets out of the
	// snapshot so a concurrent add/remove can't skew the iteration.
	var dirents []fuseutil.Dirent
	it := d.NewIterator()
	for {
		e, ok, err := it.Next()
		if err != nil {
			return fuse.EIO
		}
		if !ok {
			break
		}

		entryType := fuseutil.DT_File
		if child, err := s.k.Inodes.Open(e.Sector); err == nil {
			if child.IsDir() {
				entryType = fuseutil.DT_Directory
			}
			s.k.Inodes.Close(child)
		}

		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(dirents) + 1),
			Inode:  fuseops.InodeID(e.Sector),
			Name:   e.Name,
			Type:   entryType,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	op.Handle = s.nextHandle
	s.dirHandles[op.Handle] = dirents
	return nil
}

func (s *fuseServer) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	s.mu.Lock()
	dirents, ok := s.dirHandles[op.Handle]
	s.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	if op.Offset > fuseops.DirOffset(len(dirents)) {
		return fuse.EINVAL
	}

	for _, e := range dirents[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (s *fuseServer) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirHandles, op.Handle)
	return nil
}

func (s *fuseServer) installFileHandle(h *openfile.Handle) fuseops.HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	s.fileHandles[s.nextHandle] = h
	return s.nextHandle
}

func (s *fuseServer) fileHandle(id fuseops.HandleID) (*openfile.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.fileHandles[id]
	if !ok {
		return nil, fuse.EINVAL
	}
	return h, nil
}

func (s *fuseServer) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	n, err := s.k.Inodes.Open(block.Sector(op.Inode))
	if err != nil {
		return fuse.ENOENT
	}
	if n.IsDir() {
		s.k.Inodes.Close(n)
		return fuse.EINVAL
	}
	op.Handle = s.installFileHandle(openfile.New(n))
	return nil
}

func (s *fuseServer) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	h, err := s.fileHandle(op.Handle)
	if err != nil {
		return err
	}

	n, err := h.ReadAt(op.Dst, uint32(op.Offset))
	if err != nil {
		return fuse.EIO
	}
	op.BytesRead = n
	return nil
}

func (s *fuseServer) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	h, err := s.fileHandle(op.Handle)
	if err != nil {
		return err
	}

	n, err := h.WriteAt(op.Data, uint32(op.Offset))
	if err != nil || n < len(op.Data) {
		return fuse.EIO
	}
	return nil
}

func (s *fuseServer) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (s *fuseServer) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (s *fuseServer) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	s.mu.Lock()
	h, ok := s.fileHandles[op.Handle]
	delete(s.fileHandles, op.Handle)
	s.mu.Unlock()

	if ok {
		s.k.Inodes.Close(h.Node)
	}
	return nil
}
