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

package pathfs

import (
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/directory"
	"github.com/cs439kernel/pintos-go/internal/inode"
)

// Create creates a new, non-directory file named by path with initialSize
// bytes already allocated, returning false on any failure.
func (fs *FileSystem) Create(path string, cwd block.Sector, initialSize uint32) bool {
	parentSector, name, err := fs.ResolveParent(path, cwd)
	if err != nil {
		return false
	}

	sector, err := fs.Table.Allocate()
	if err != nil {
		return false
	}

	if err := fs.Table.Create(sector, initialSize, false, parentSector); err != nil {
		return false
	}

	parentNode, err := fs.Table.Open(parentSector)
	if err != nil {
		return false
	}
	defer fs.Table.Close(parentNode)

	d, err := directory.Open(parentNode)
	if err != nil {
		return false
	}

	if err := d.Add(name, sector); err != nil {
		// Roll back the freshly created inode: open it, mark removed, close.
		n, openErr := fs.Table.Open(sector)
		if openErr == nil {
			fs.Table.Remove(n)
			fs.Table.Close(n)
		}
		return false
	}

	return true
}

// Mkdir creates a directory inode at the terminal component of path. The
// new directory is seeded with no entries; "." and ".." are interpreted by
// the resolver, never stored.
func (fs *FileSystem) Mkdir(path string, cwd block.Sector) bool {
	parentSector, name, err := fs.ResolveParent(path, cwd)
	if err != nil {
		return false
	}

	sector, err := fs.Table.Allocate()
	if err != nil {
		return false
	}

	if err := fs.Table.Create(sector, 0, true, parentSector); err != nil {
		return false
	}

	parentNode, err := fs.Table.Open(parentSector)
	if err != nil {
		return false
	}
	defer fs.Table.Close(parentNode)

	d, err := directory.Open(parentNode)
	if err != nil {
		return false
	}

	if err := d.Add(name, sector); err != nil {
		n, openErr := fs.Table.Open(sector)
		if openErr == nil {
			fs.Table.Remove(n)
			fs.Table.Close(n)
		}
		return false
	}

	return true
}

// Open resolves path and opens the named inode, returning it with its
// open count incremented.
func (fs *FileSystem) Open(path string, cwd block.Sector) (*inode.Inode, error) {
	sector, err := fs.Resolve(path, cwd)
	if err != nil {
		return nil, err
	}
	return fs.Table.Open(sector)
}

// Remove resolves path to its containing directory and removes the
// trailing name. Removing the root is refused.
func (fs *FileSystem) Remove(path string, cwd block.Sector) bool {
	_, components := split(path)
	if len(components) == 0 {
		return false
	}

	parentSector, name, err := fs.ResolveParent(path, cwd)
	if err != nil {
		return false
	}

	parentNode, err := fs.Table.Open(parentSector)
	if err != nil {
		return false
	}
	defer fs.Table.Close(parentNode)

	d, err := directory.Open(parentNode)
	if err != nil {
		return false
	}

	entry, ok, err := d.Lookup(name)
	if err != nil || !ok {
		return false
	}

	target, err := fs.Table.Open(entry.Sector)
	if err != nil {
		return false
	}
	defer fs.Table.Close(target)

	if err := d.Remove(name, target, fs.Table); err != nil {
		return false
	}
	return true
}

// Chdir resolves path to a directory inode sector, bumping its
// working-directory count and releasing the caller's previous one, or
// returns an error if path does not name a directory.
func (fs *FileSystem) Chdir(path string, cwd block.Sector) (block.Sector, error) {
	sector, err := fs.Resolve(path, cwd)
	if err != nil {
		return 0, err
	}

	n, err := fs.Table.Open(sector)
	if err != nil {
		return 0, err
	}
	defer fs.Table.Close(n)

	if !n.IsDir() {
		return 0, fmt.Errorf("pathfs: %q is not a directory", path)
	}

	n.IncWorkingDir()

	if old, err := fs.Table.Open(cwd); err == nil {
		old.DecWorkingDir()
		fs.Table.Close(old)
	}

	return sector, nil
}
