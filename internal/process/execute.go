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
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/elf"
	"github.com/cs439kernel/pintos-go/internal/pathfs"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/spage"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

// Deps bundles the kernel-wide collaborators Execute and Exit need: the
// file system for opening the executable, the frame/swap subsystems a new
// address space draws from, the child-rendezvous registry, the fd table
// capacity new processes get, and an id generator.
type Deps struct {
	FS         *pathfs.FileSystem
	Frames     *frame.Pool
	Swap       *swap.Table
	Registry   *Registry
	Threads    *Table
	FDCapacity int
	NextID     func() uint64
}

func firstToken(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Execute creates a new thread whose entry point loads the ELF named by
// cmdline's first token. The caller blocks on a load-status semaphore the
// child goroutine posts to exactly once. On success the new thread is
// returned and registered as parent's child (parent may be nil for the
// first process booted by the kernel).
func Execute(parent *Thread, cmdline string, d Deps) (*Thread, error) {
	name := firstToken(cmdline)
	if name == "" {
		return nil, fmt.Errorf("process: empty command line")
	}
	argv := strings.Fields(cmdline)

	var cwd block.Sector
	if parent != nil {
		cwd = parent.CWD
	} else {
		cwd = d.FS.RootSector
	}

	id := d.NextID()
	child := newThread(id, name, cwd, d.FDCapacity)
	child.SP = spage.New(child.PT, d.Frames, d.Swap)
	if parent != nil {
		child.ParentID = parent.ID
		child.HasParent = true
	}

	d.Registry.Register(id)
	d.Threads.Add(child)
	if parent != nil {
		parent.addChild(id)
	}

	sem := semaphore.NewWeighted(1)
	ctx := context.Background()
	_ = sem.Acquire(ctx, 1) // consume the initial unit so the semaphore starts at zero

	var loadErr error
	go func() {
		loadErr = runLoad(child, d.FS, argv)
		if loadErr != nil {
			d.Registry.Post(id, -1)
		}
		sem.Release(1) // wakes the blocked parent below
	}()

	_ = sem.Acquire(ctx, 1) // blocks until the goroutine above posts
	if loadErr != nil {
		child.SP.TeardownAll(d.Frames)
		d.Threads.Remove(id)
		d.Registry.Abandon(id)
		return nil, fmt.Errorf("process: exec %q: %w", name, loadErr)
	}
	return child, nil
}

// runLoad opens the executable, denies write on it for the process's
// lifetime, loads its segments, and sets up the initial stack. On a
// non-nil return the caller posts status -1 and the exec call fails.
func runLoad(t *Thread, fs *pathfs.FileSystem, argv []string) error {
	n, err := fs.Open(argv[0], t.CWD)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}

	n.DenyWrite()
	t.ExeFile = n

	entry, err := elf.Load(n, t.SP)
	if err != nil {
		n.AllowWrite()
		fs.Table.Close(n)
		t.ExeFile = nil
		return err
	}
	t.Entry = entry

	sp, err := elf.SetupStack(t.SP, argv)
	if err != nil {
		n.AllowWrite()
		fs.Table.Close(n)
		t.ExeFile = nil
		return err
	}
	t.StackPointer = sp

	return nil
}
