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

// Package syscalltab is the system-call layer: it reads the call number
// and arguments off the user stack through internal/uaddr's validated
// accessors, dispatches by number, and routes to the file-system and
// process operations.
package syscalltab

import (
	"context"
	"io"
	"time"

	"github.com/cs439kernel/pintos-go/internal/kmetrics"
	"github.com/cs439kernel/pintos-go/internal/openfile"
	"github.com/cs439kernel/pintos-go/internal/process"
	"github.com/cs439kernel/pintos-go/internal/uaddr"
)

// Call numbers as they arrive on the user stack.
const (
	SysHalt = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	_ // mmap: unsupported
	_ // munmap: unsupported
	SysChdir
	SysMkdir
	SysReaddir
	SysIsdir
	SysInumber
)

const consoleWriteChunk = 256

// Deps bundles everything dispatch needs beyond the calling thread
// itself: the kernel-wide collaborators process.Execute/Wait/Exit need, a
// console reader/writer standing in for descriptors 0 and 1, and a Halt
// callback.
type Deps struct {
	Process process.Deps
	Stdin   io.Reader
	Stdout  io.Writer
	ExitOut io.Writer
	Metrics kmetrics.Handle
	Halt    func()
}

// exitBad terminates t with status -1, the uniform response to a
// bad-user-pointer failure at any point during argument fetch or
// transfer.
func exitBad(t *process.Thread, d Deps) {
	process.Exit(t, -1, d.Process.Registry, d.Process.Frames, d.Process.FS.Table, d.Process.Threads, d.ExitOut)
}

// Dispatch handles one trap: userSP is the user stack pointer at trap
// entry, holding the call number and up to three word-sized arguments.
// eax is the syscall's return value; terminated reports whether t exited
// during this call (either an exit call or a validation failure), in
// which case exitStatus is its final status.
func Dispatch(ctx context.Context, t *process.Thread, userSP uint64, d Deps) (eax int32, terminated bool, exitStatus int32) {
	start := time.Now()
	name := "unknown"
	defer func() {
		if d.Metrics != nil {
			d.Metrics.Syscall(ctx, name, time.Since(start))
		}
	}()

	sp := uaddr.New(t.SP)

	if err := sp.CheckPointer(userSP); err != nil {
		exitBad(t, d)
		return -1, true, -1
	}
	num, err := sp.GetWord(&userSP)
	if err != nil {
		exitBad(t, d)
		return -1, true, -1
	}

	arg := func() (uint32, bool) {
		w, err := sp.GetWord(&userSP)
		if err != nil {
			exitBad(t, d)
			return 0, false
		}
		return w, true
	}
	str := func(addr uint32) (string, bool) {
		s, err := sp.ReadCString(uint64(addr))
		if err != nil {
			exitBad(t, d)
			return "", false
		}
		return s, true
	}

	switch int(num) {
	case SysHalt:
		name = "halt"
		if d.Halt != nil {
			d.Halt()
		}
		return 0, false, 0

	case SysExit:
		name = "exit"
		status, ok := arg()
		if !ok {
			return -1, true, -1
		}
		st := int32(status)
		process.Exit(t, st, d.Process.Registry, d.Process.Frames, d.Process.FS.Table, d.Process.Threads, d.ExitOut)
		return st, true, st

	case SysExec:
		name = "exec"
		cmdAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		cmdline, ok := str(cmdAddr)
		if !ok {
			return -1, true, -1
		}
		child, err := process.Execute(t, cmdline, d.Process)
		if err != nil {
			return -1, false, 0
		}
		return int32(child.ID), false, 0

	case SysWait:
		name = "wait"
		id, ok := arg()
		if !ok {
			return -1, true, -1
		}
		return process.Wait(t, uint64(id), d.Process.Registry), false, 0

	case SysCreate:
		name = "create"
		nameAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		size, ok := arg()
		if !ok {
			return -1, true, -1
		}
		fname, ok := str(nameAddr)
		if !ok {
			return -1, true, -1
		}
		if d.Process.FS.Create(fname, t.CWD, size) {
			return 1, false, 0
		}
		return 0, false, 0

	case SysRemove:
		name = "remove"
		nameAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		fname, ok := str(nameAddr)
		if !ok {
			return -1, true, -1
		}
		if d.Process.FS.Remove(fname, t.CWD) {
			return 1, false, 0
		}
		return 0, false, 0

	case SysOpen:
		name = "open"
		nameAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		fname, ok := str(nameAddr)
		if !ok {
			return -1, true, -1
		}
		n, err := d.Process.FS.Open(fname, t.CWD)
		if err != nil {
			return -1, false, 0
		}
		h := openfile.New(n)
		fd, ok2 := t.FD.Install(h)
		if !ok2 {
			d.Process.FS.Table.Close(n)
			return -1, false, 0
		}
		return int32(fd), false, 0

	case SysFilesize:
		name = "filesize"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, found := t.FD.Get(int(fd))
		if !found {
			return 0, false, 0
		}
		return int32(h.Filesize()), false, 0

	case SysRead:
		name = "read"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		bufAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		count, ok := arg()
		if !ok {
			return -1, true, -1
		}

		if int(fd) == openfile.StdinFD {
			buf := make([]byte, count)
			n, _ := d.Stdin.Read(buf)
			if n < 0 {
				n = 0
			}
			if err := sp.WriteBytes(uint64(bufAddr), buf[:n]); err != nil {
				exitBad(t, d)
				return -1, true, -1
			}
			return int32(n), false, 0
		}

		h, found := t.FD.Get(int(fd))
		if !found {
			return -1, false, 0
		}
		buf := make([]byte, count)
		n, err := h.Read(buf)
		if err != nil {
			return -1, false, 0
		}
		if err := sp.WriteBytes(uint64(bufAddr), buf[:n]); err != nil {
			exitBad(t, d)
			return -1, true, -1
		}
		return int32(n), false, 0

	case SysWrite:
		name = "write"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		bufAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		count, ok := arg()
		if !ok {
			return -1, true, -1
		}
		data, err := sp.ReadBytes(uint64(bufAddr), count)
		if err != nil {
			exitBad(t, d)
			return -1, true, -1
		}

		if int(fd) == openfile.StdoutFD {
			written := 0
			for written < len(data) {
				end := written + consoleWriteChunk
				if end > len(data) {
					end = len(data)
				}
				n, _ := d.Stdout.Write(data[written:end])
				written += n
				if n == 0 {
					break
				}
			}
			return int32(written), false, 0
		}

		h, found := t.FD.Get(int(fd))
		if !found {
			return 0, false, 0
		}
		n, err := h.Write(data)
		if err != nil {
			return 0, false, 0
		}
		return int32(n), false, 0

	case SysSeek:
		name = "seek"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		pos, ok := arg()
		if !ok {
			return -1, true, -1
		}
		if h, found := t.FD.Get(int(fd)); found {
			h.Seek(pos)
		}
		return 0, false, 0

	case SysTell:
		name = "tell"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, found := t.FD.Get(int(fd))
		if !found {
			return -1, false, 0
		}
		return int32(h.Tell()), false, 0

	case SysClose:
		name = "close"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, err := t.FD.Close(int(fd))
		if err != nil {
			// Closing a reserved or unknown descriptor is
			// process-terminating.
			exitBad(t, d)
			return -1, true, -1
		}
		d.Process.FS.Table.Close(h.Node)
		return 0, false, 0

	case SysChdir:
		name = "chdir"
		pathAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		path, ok := str(pathAddr)
		if !ok {
			return -1, true, -1
		}
		newCWD, err := d.Process.FS.Chdir(path, t.CWD)
		if err != nil {
			return 0, false, 0
		}
		t.CWD = newCWD
		return 1, false, 0

	case SysMkdir:
		name = "mkdir"
		pathAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		path, ok := str(pathAddr)
		if !ok {
			return -1, true, -1
		}
		if d.Process.FS.Mkdir(path, t.CWD) {
			return 1, false, 0
		}
		return 0, false, 0

	case SysReaddir:
		name = "readdir"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		nameAddr, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, found := t.FD.Get(int(fd))
		if !found || !h.Node.IsDir() {
			return 0, false, 0
		}
		it, err := h.DirIterator()
		if err != nil {
			return 0, false, 0
		}
		entry, found2, err := it.Next()
		if err != nil || !found2 {
			return 0, false, 0
		}
		buf := append([]byte(entry.Name), 0)
		if err := sp.WriteBytes(uint64(nameAddr), buf); err != nil {
			exitBad(t, d)
			return -1, true, -1
		}
		return 1, false, 0

	case SysIsdir:
		name = "isdir"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, found := t.FD.Get(int(fd))
		if !found {
			return 0, false, 0
		}
		if h.Node.IsDir() {
			return 1, false, 0
		}
		return 0, false, 0

	case SysInumber:
		name = "inumber"
		fd, ok := arg()
		if !ok {
			return -1, true, -1
		}
		h, found := t.FD.Get(int(fd))
		if !found {
			return -1, false, 0
		}
		return int32(h.Node.Sector), false, 0

	default:
		exitBad(t, d)
		return -1, true, -1
	}
}
