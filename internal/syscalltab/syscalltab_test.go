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

package syscalltab_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/elf/elftest"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/kmetrics"
	"github.com/cs439kernel/pintos-go/internal/pathfs"
	"github.com/cs439kernel/pintos-go/internal/process"
	"github.com/cs439kernel/pintos-go/internal/syscalltab"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

const (
	rootSector block.Sector = 0

	// One writable page of "user memory" holding the syscall stack and any
	// string or buffer arguments the tests stage.
	stackBase = uint64(0x0900_0000)

	// Argument area within the stack page, clear of the stack words.
	argArea = stackBase + 1024
)

type SyscallTest struct {
	suite.Suite

	fs     *pathfs.FileSystem
	thread *process.Thread
	deps   syscalltab.Deps

	stdout  bytes.Buffer
	exitOut bytes.Buffer
	halted  bool
}

func TestSyscallSuite(t *testing.T) {
	suite.Run(t, new(SyscallTest))
}

func (t *SyscallTest) SetupTest() {
	dev := block.NewMemDevice(2048)
	fm := freemap.New(2048)
	t.Require().NoError(fm.Reserve(rootSector))
	t.Require().NoError(inode.Create(dev, fm, rootSector, 0, true, rootSector))

	tbl := inode.NewTable(dev, fm)
	t.fs = pathfs.New(tbl, rootSector)

	pool, err := frame.NewPool("user", 16, true)
	t.Require().NoError(err)
	sw := swap.New(block.NewMemDevice(16 * swap.SectorsPerPage))

	threads := process.NewTable()
	procDeps := process.Deps{
		FS:         t.fs,
		Frames:     pool,
		Swap:       sw,
		Registry:   process.NewRegistry(),
		Threads:    threads,
		FDCapacity: 8,
		NextID:     threads.NextID,
	}

	t.thread = process.NewKernelThread(threads.NextID(), "shell", rootSector, 8, pool, sw)
	threads.Add(t.thread)
	t.thread.SP.AddZero(stackBase, true)
	t.Require().NoError(t.thread.SP.Fault(stackBase))

	t.stdout.Reset()
	t.exitOut.Reset()
	t.halted = false
	t.deps = syscalltab.Deps{
		Process: procDeps,
		Stdin:   strings.NewReader("console input bytes"),
		Stdout:  &t.stdout,
		ExitOut: &t.exitOut,
		Metrics: kmetrics.NewNoop(),
		Halt:    func() { t.halted = true },
	}
}

// stackMem returns the raw bytes of the staged user page.
func (t *SyscallTest) stackMem() []byte {
	mem, ok := t.thread.SP.FrameBytes(stackBase)
	t.Require().True(ok)
	return mem
}

// push stages a syscall frame — number plus arguments — at the base of the
// user page and returns the user stack pointer for Dispatch.
func (t *SyscallTest) push(words ...uint32) uint64 {
	mem := t.stackMem()
	for i, w := range words {
		binary.LittleEndian.PutUint32(mem[i*4:], w)
	}
	return stackBase
}

// putString stages s NUL-terminated in the argument area, returning its
// user address. off keeps multiple strings in one frame apart.
func (t *SyscallTest) putString(off uint32, s string) uint32 {
	mem := t.stackMem()
	base := argArea - stackBase + uint64(off)
	copy(mem[base:], s)
	mem[base+uint64(len(s))] = 0
	return uint32(argArea) + off
}

func (t *SyscallTest) dispatch(userSP uint64) (eax int32, terminated bool, status int32) {
	return syscalltab.Dispatch(context.Background(), t.thread, userSP, t.deps)
}

// The create / open / write / read / seek / tell / filesize / close cycle.
func (t *SyscallTest) TestFileSyscallCycle() {
	nameAddr := t.putString(0, "f")

	eax, terminated, _ := t.dispatch(t.push(syscalltab.SysCreate, nameAddr, 0))
	t.Require().False(terminated)
	t.Require().EqualValues(1, eax, "create")

	eax, terminated, _ = t.dispatch(t.push(syscalltab.SysOpen, nameAddr))
	t.Require().False(terminated)
	fd := uint32(eax)
	t.Require().GreaterOrEqual(fd, uint32(2), "open hands out a non-reserved fd")

	bufAddr := t.putString(64, "hello")
	eax, terminated, _ = t.dispatch(t.push(syscalltab.SysWrite, fd, bufAddr, 5))
	t.Require().False(terminated)
	t.Require().EqualValues(5, eax, "write")

	eax, _, _ = t.dispatch(t.push(syscalltab.SysFilesize, fd))
	t.Assert().EqualValues(5, eax, "filesize")

	t.dispatch(t.push(syscalltab.SysSeek, fd, 0))

	dstAddr := uint32(argArea) + 256
	eax, terminated, _ = t.dispatch(t.push(syscalltab.SysRead, fd, dstAddr, 5))
	t.Require().False(terminated)
	t.Require().EqualValues(5, eax, "read")

	mem := t.stackMem()
	got := mem[dstAddr-uint32(stackBase) : dstAddr-uint32(stackBase)+5]
	t.Assert().Equal([]byte("hello"), append([]byte(nil), got...))

	eax, _, _ = t.dispatch(t.push(syscalltab.SysTell, fd))
	t.Assert().EqualValues(5, eax, "tell")

	eax, terminated, _ = t.dispatch(t.push(syscalltab.SysClose, fd))
	t.Require().False(terminated)
	t.Assert().EqualValues(0, eax, "close")
}

func (t *SyscallTest) TestConsoleReadWrite() {
	dstAddr := uint32(argArea)
	eax, terminated, _ := t.dispatch(t.push(syscalltab.SysRead, 0, dstAddr, 7))
	t.Require().False(terminated)
	t.Require().EqualValues(7, eax)

	mem := t.stackMem()
	got := mem[dstAddr-uint32(stackBase) : dstAddr-uint32(stackBase)+7]
	t.Assert().Equal([]byte("console"), append([]byte(nil), got...))

	bufAddr := t.putString(64, "to the console")
	eax, terminated, _ = t.dispatch(t.push(syscalltab.SysWrite, 1, bufAddr, 14))
	t.Require().False(terminated)
	t.Assert().EqualValues(14, eax)
	t.Assert().Equal("to the console", t.stdout.String())
}

func (t *SyscallTest) TestExitWritesTerminationMessage() {
	eax, terminated, status := t.dispatch(t.push(syscalltab.SysExit, 3))
	t.Assert().True(terminated)
	t.Assert().EqualValues(3, eax)
	t.Assert().EqualValues(3, status)
	t.Assert().Equal("shell: exit(3)\n", t.exitOut.String())
}

func (t *SyscallTest) TestBadStackPointerKillsProcess() {
	_, terminated, status := t.dispatch(0)
	t.Assert().True(terminated)
	t.Assert().EqualValues(-1, status)
	t.Assert().Equal("shell: exit(-1)\n", t.exitOut.String())
}

func (t *SyscallTest) TestBadStringPointerKillsProcess() {
	_, terminated, status := t.dispatch(t.push(syscalltab.SysCreate, 0xb000_0000, 0))
	t.Assert().True(terminated)
	t.Assert().EqualValues(-1, status)
}

func (t *SyscallTest) TestUnknownSyscallKillsProcess() {
	_, terminated, status := t.dispatch(t.push(999))
	t.Assert().True(terminated)
	t.Assert().EqualValues(-1, status)
}

func (t *SyscallTest) TestCloseReservedDescriptorKillsProcess() {
	_, terminated, status := t.dispatch(t.push(syscalltab.SysClose, 0))
	t.Assert().True(terminated)
	t.Assert().EqualValues(-1, status)
}

func (t *SyscallTest) TestHalt() {
	_, terminated, _ := t.dispatch(t.push(syscalltab.SysHalt))
	t.Assert().False(terminated)
	t.Assert().True(t.halted)
}

func (t *SyscallTest) TestDirectorySyscalls() {
	dirAddr := t.putString(0, "d")

	eax, _, _ := t.dispatch(t.push(syscalltab.SysMkdir, dirAddr))
	t.Require().EqualValues(1, eax, "mkdir")

	fileAddr := t.putString(16, "d/f")
	eax, _, _ = t.dispatch(t.push(syscalltab.SysCreate, fileAddr, 0))
	t.Require().EqualValues(1, eax, "create inside d")

	eax, _, _ = t.dispatch(t.push(syscalltab.SysOpen, dirAddr))
	fd := uint32(eax)
	t.Require().GreaterOrEqual(fd, uint32(2))

	eax, _, _ = t.dispatch(t.push(syscalltab.SysIsdir, fd))
	t.Assert().EqualValues(1, eax, "isdir")

	eax, _, _ = t.dispatch(t.push(syscalltab.SysInumber, fd))
	t.Assert().Greater(eax, int32(0), "inumber is the inode sector")

	nameAddr := uint32(argArea) + 128
	eax, _, _ = t.dispatch(t.push(syscalltab.SysReaddir, fd, nameAddr))
	t.Require().EqualValues(1, eax, "readdir finds the entry")

	mem := t.stackMem()
	base := nameAddr - uint32(stackBase)
	t.Assert().Equal(byte('f'), mem[base])
	t.Assert().Equal(byte(0), mem[base+1])

	eax, _, _ = t.dispatch(t.push(syscalltab.SysReaddir, fd, nameAddr))
	t.Assert().EqualValues(0, eax, "iteration is exhausted")

	// chdir into d, then create a file relatively and find it absolutely.
	eax, _, _ = t.dispatch(t.push(syscalltab.SysChdir, dirAddr))
	t.Require().EqualValues(1, eax, "chdir")

	relAddr := t.putString(32, "g")
	eax, _, _ = t.dispatch(t.push(syscalltab.SysCreate, relAddr, 0))
	t.Require().EqualValues(1, eax)

	absAddr := t.putString(48, "/d/g")
	eax, _, _ = t.dispatch(t.push(syscalltab.SysOpen, absAddr))
	t.Assert().GreaterOrEqual(eax, int32(2))
}

func (t *SyscallTest) TestExecAndWait() {
	img := elftest.Image(0x0804_8000, []elftest.Segment{
		{Vaddr: 0x0804_8000, Data: []byte("text"), MemSize: 4096},
	})
	t.Require().True(t.fs.Create("/prog", rootSector, 0))
	n, err := t.fs.Open("/prog", rootSector)
	t.Require().NoError(err)
	written, err := n.WriteAt(img, 0)
	t.Require().NoError(err)
	t.Require().Equal(len(img), written)
	t.fs.Table.Close(n)

	cmdAddr := t.putString(0, "prog")
	eax, terminated, _ := t.dispatch(t.push(syscalltab.SysExec, cmdAddr))
	t.Require().False(terminated)
	t.Require().Greater(eax, int32(0), "exec returns the child id")
	childID := uint64(eax)

	// No CPU runs the image; retire the child so wait has something to
	// observe.
	child, ok := t.deps.Process.Threads.Get(childID)
	t.Require().True(ok)
	process.Exit(child, 42, t.deps.Process.Registry, t.deps.Process.Frames, t.fs.Table, t.deps.Process.Threads, nil)

	eax, _, _ = t.dispatch(t.push(syscalltab.SysWait, uint32(childID)))
	t.Assert().EqualValues(42, eax)

	eax, _, _ = t.dispatch(t.push(syscalltab.SysWait, uint32(childID)))
	t.Assert().EqualValues(-1, eax, "second wait on the same child")
}

func (t *SyscallTest) TestExecMissingProgramReturnsError() {
	cmdAddr := t.putString(0, "ghost")
	eax, terminated, _ := t.dispatch(t.push(syscalltab.SysExec, cmdAddr))
	t.Assert().False(terminated)
	t.Assert().EqualValues(-1, eax)
}
