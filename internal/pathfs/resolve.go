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

// Package pathfs is the path resolver and file-system facade: it parses
// slash-separated paths, traverses directories honoring absolute roots and
// the calling process's working directory, and exposes
// create/open/remove/chdir/mkdir over the inode and directory layers.
package pathfs

import (
	"strings"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/directory"
	"github.com/cs439kernel/pintos-go/internal/inode"
)

// FileSystem is the facade over the inode/directory layers.
type FileSystem struct {
	Table      *inode.Table
	RootSector block.Sector
}

// New creates a facade rooted at rootSector.
func New(table *inode.Table, rootSector block.Sector) *FileSystem {
	return &FileSystem{Table: table, RootSector: rootSector}
}

// split parses a path: split on '/'; a leading '/' resolves from root,
// otherwise resolution starts at cwd.
func split(path string) (absolute bool, components []string) {
	absolute = strings.HasPrefix(path, "/")
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			components = append(components, c)
		}
	}
	return
}

// resolveDir walks every component of path except (per caller's choice)
// the trailing one, returning the inode sector it lands on. cwd is the
// calling process's working-directory sector.
func (fs *FileSystem) resolveDir(path string, cwd block.Sector, components []string) (block.Sector, error) {
	absolute, _ := split(path)
	cur := cwd
	if absolute {
		cur = fs.RootSector
	}

	for _, name := range components {
		switch name {
		case ".":
			continue
		case "..":
			n, err := fs.Table.Open(cur)
			if err != nil {
				return 0, err
			}
			parent := n.Parent()
			fs.Table.Close(n)
			if cur != fs.RootSector {
				cur = parent
			}
			// root's ".." is root.
		default:
			dirNode, err := fs.Table.Open(cur)
			if err != nil {
				return 0, err
			}
			d, err := directory.Open(dirNode)
			if err != nil {
				fs.Table.Close(dirNode)
				return 0, err
			}
			entry, ok, err := d.Lookup(name)
			fs.Table.Close(dirNode)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, errNotFound(name)
			}
			cur = entry.Sector
		}
	}

	return cur, nil
}

// Resolve walks the full path and returns the inode sector it names. An
// empty path is not-found.
func (fs *FileSystem) Resolve(path string, cwd block.Sector) (block.Sector, error) {
	if path == "" {
		return 0, errNotFound(path)
	}
	absolute, components := split(path)
	if !absolute && len(components) == 0 {
		return cwd, nil
	}
	if absolute && len(components) == 0 {
		return fs.RootSector, nil
	}
	return fs.resolveDir(path, cwd, components)
}

// ResolveParent consumes all but the last component, returning the
// containing directory's sector plus the trailing name, which
// create/mkdir/remove interpret themselves.
func (fs *FileSystem) ResolveParent(path string, cwd block.Sector) (parent block.Sector, name string, err error) {
	if path == "" {
		return 0, "", errNotFound(path)
	}
	_, components := split(path)
	if len(components) == 0 {
		return 0, "", errNotFound(path)
	}

	name = components[len(components)-1]
	parent, err = fs.resolveDir(path, cwd, components[:len(components)-1])
	return
}
