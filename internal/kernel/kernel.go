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

// Package kernel wires the file-system, virtual-memory, and process
// subsystems into one bootable instance. Construction follows the same
// dependency-injected shape as a server config: the caller hands in the two
// block devices (or paths to open them from), and Boot assembles the rest.
package kernel

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
	"github.com/cs439kernel/pintos-go/internal/klog"
	"github.com/cs439kernel/pintos-go/internal/kmetrics"
	"github.com/cs439kernel/pintos-go/internal/openfile"
	"github.com/cs439kernel/pintos-go/internal/pathfs"
	"github.com/cs439kernel/pintos-go/internal/process"
	"github.com/cs439kernel/pintos-go/internal/syscalltab"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
	"github.com/cs439kernel/pintos-go/internal/vm/swap"
)

const (
	// FreeMapSector is the reserved sector holding the free-map's own inode.
	FreeMapSector block.Sector = 0

	// RootSector is the reserved sector holding the root directory's inode.
	RootSector block.Sector = 1
)

// BootConfig carries everything Boot needs. Devices left nil are opened
// from the paths in Cfg; Logger, Metrics, Clock, and the console streams
// default sensibly when unset.
type BootConfig struct {
	Cfg kernelcfg.Config

	FSDev   block.Device
	SwapDev block.Device

	ConsoleIn  io.Reader
	ConsoleOut io.Writer

	Logger  *slog.Logger
	Metrics kmetrics.Handle
	Clock   timeutil.Clock
}

// Kernel is one booted instance.
type Kernel struct {
	Cfg    kernelcfg.Config
	Logger *slog.Logger
	Metrics kmetrics.Handle
	Clock  timeutil.Clock

	// BootID uniquely names this boot in log lines.
	BootID string

	FSDev   block.Device
	SwapDev block.Device

	FreeMap *freemap.Map
	Inodes  *inode.Table
	FS      *pathfs.FileSystem

	KernelPool *frame.Pool
	UserPool   *frame.Pool
	Swap       *swap.Table

	Registry *process.Registry
	Threads  *process.Table

	ConsoleIn  io.Reader
	ConsoleOut io.Writer

	haltOnce sync.Once
	halted   chan struct{}
}

// Boot assembles a kernel: devices, free-map (read back from its on-disk
// file), inode table, path facade, frame pools, swap table, and the process
// registry. The file-system device must already be formatted (see Format).
func Boot(bc BootConfig) (*Kernel, error) {
	cfg := bc.Cfg
	if err := kernelcfg.Validate(cfg); err != nil {
		return nil, err
	}

	logger := bc.Logger
	if logger == nil {
		var err error
		logger, err = klog.New(cfg.Log.Format, cfg.Log.Level, cfg.Log.Path)
		if err != nil {
			return nil, err
		}
	}

	metrics := bc.Metrics
	if metrics == nil {
		metrics = kmetrics.NewNoop()
	}

	clock := bc.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	fsDev := bc.FSDev
	if fsDev == nil {
		var err error
		fsDev, err = block.OpenFile(cfg.Disk.FSImagePath, block.Sector(cfg.Disk.FSSectors))
		if err != nil {
			return nil, fmt.Errorf("kernel: open file-system device: %w", err)
		}
	}

	swapDev := bc.SwapDev
	if swapDev == nil {
		var err error
		swapDev, err = block.OpenFile(cfg.Disk.SwapImagePath, block.Sector(cfg.Disk.SwapSectors))
		if err != nil {
			fsDev.Close()
			return nil, fmt.Errorf("kernel: open swap device: %w", err)
		}
	}

	fm, tbl, err := loadFreeMap(fsDev)
	if err != nil {
		fsDev.Close()
		swapDev.Close()
		return nil, err
	}

	kernelPool, err := frame.NewPool("kernel", cfg.Memory.KernelFrames, false)
	if err != nil {
		fsDev.Close()
		swapDev.Close()
		return nil, err
	}
	userPool, err := frame.NewPool("user", cfg.Memory.UserFrames, true)
	if err != nil {
		fsDev.Close()
		swapDev.Close()
		return nil, err
	}

	k := &Kernel{
		Cfg:     cfg,
		Logger:  logger,
		Metrics: metrics,
		Clock:   clock,
		BootID:  uuid.New().String(),

		FSDev:   fsDev,
		SwapDev: swapDev,

		FreeMap: fm,
		Inodes:  tbl,
		FS:      pathfs.New(tbl, RootSector),

		KernelPool: kernelPool,
		UserPool:   userPool,
		Swap:       swap.New(swapDev),

		Registry: process.NewRegistry(),
		Threads:  process.NewTable(),

		ConsoleIn:  bc.ConsoleIn,
		ConsoleOut: bc.ConsoleOut,

		halted: make(chan struct{}),
	}
	if k.ConsoleIn == nil {
		k.ConsoleIn = os.Stdin
	}
	if k.ConsoleOut == nil {
		k.ConsoleOut = os.Stdout
	}

	logger.Info("kernel booted",
		"boot_id", k.BootID,
		"fs_sectors", fsDev.NumSectors(),
		"swap_slots", k.Swap.NumSlots(),
		"user_frames", userPool.Len(),
		"kernel_frames", kernelPool.Len())
	return k, nil
}

// loadFreeMap reads the free-map file's content back into a bitmap. The
// inode table used for the read starts against an empty map; reads never
// consult it, so the real bitmap can be loaded in place afterwards and the
// same table kept.
func loadFreeMap(dev block.Device) (*freemap.Map, *inode.Table, error) {
	fm := freemap.New(dev.NumSectors())
	tbl := inode.NewTable(dev, fm)

	n, err := tbl.Open(FreeMapSector)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: open free-map inode (is the device formatted?): %w", err)
	}
	defer tbl.Close(n)

	buf := make([]byte, n.Length())
	if _, err := n.ReadAt(buf, 0); err != nil {
		return nil, nil, fmt.Errorf("kernel: read free-map: %w", err)
	}
	if err := fm.LoadBytes(buf); err != nil {
		return nil, nil, err
	}
	return fm, tbl, nil
}

// syncFreeMap writes the current bitmap back into the free-map file.
func (k *Kernel) syncFreeMap() error {
	n, err := k.Inodes.Open(FreeMapSector)
	if err != nil {
		return fmt.Errorf("kernel: open free-map inode: %w", err)
	}
	defer k.Inodes.Close(n)

	if _, err := n.WriteAt(k.FreeMap.Bytes(), 0); err != nil {
		return fmt.Errorf("kernel: write free-map: %w", err)
	}
	return nil
}

// ProcessDeps bundles the collaborators process.Execute and friends need.
func (k *Kernel) ProcessDeps() process.Deps {
	return process.Deps{
		FS:         k.FS,
		Frames:     k.UserPool,
		Swap:       k.Swap,
		Registry:   k.Registry,
		Threads:    k.Threads,
		FDCapacity: k.Cfg.Process.FDCapacity,
		NextID:     k.Threads.NextID,
	}
}

// SyscallDeps bundles the collaborators syscall dispatch needs, with the
// console streams standing in for descriptors 0 and 1.
func (k *Kernel) SyscallDeps() syscalltab.Deps {
	return syscalltab.Deps{
		Process: k.ProcessDeps(),
		Stdin:   k.ConsoleIn,
		Stdout:  k.ConsoleOut,
		ExitOut: k.ConsoleOut,
		Metrics: k.Metrics,
		Halt:    k.Halt,
	}
}

// Exec loads cmdline as a new process with no parent — the way the first
// user program is started at boot. Children of that process come in through
// the exec syscall instead.
func (k *Kernel) Exec(cmdline string) (*process.Thread, error) {
	return process.Execute(nil, cmdline, k.ProcessDeps())
}

// NewShellThread creates a kernel-owned thread with an empty address space,
// used by the CLI front door to drive file-system calls without loading an
// executable image.
func (k *Kernel) NewShellThread(name string) *process.Thread {
	t := process.NewKernelThread(k.Threads.NextID(), name, RootSector, k.Cfg.Process.FDCapacity, k.UserPool, k.Swap)
	k.Threads.Add(t)
	return t
}

// ExitThread tears down t and posts its status.
func (k *Kernel) ExitThread(t *process.Thread, status int32) {
	process.Exit(t, status, k.Registry, k.UserPool, k.Inodes, k.Threads, k.ConsoleOut)
}

// Halt requests machine shutdown. The first call wins; Halted unblocks.
func (k *Kernel) Halt() {
	k.haltOnce.Do(func() { close(k.halted) })
}

// Halted is closed once Halt has been called.
func (k *Kernel) Halted() <-chan struct{} {
	return k.halted
}

// OpenHandle opens path relative to cwd and wraps it in a fresh handle.
func (k *Kernel) OpenHandle(path string, cwd block.Sector) (*openfile.Handle, error) {
	n, err := k.FS.Open(path, cwd)
	if err != nil {
		return nil, err
	}
	return openfile.New(n), nil
}

// Shutdown persists the free-map and closes both devices. The kernel is
// unusable afterwards.
func (k *Kernel) Shutdown() error {
	err := k.syncFreeMap()
	if cerr := k.FSDev.Close(); err == nil {
		err = cerr
	}
	if cerr := k.SwapDev.Close(); err == nil {
		err = cerr
	}
	k.Logger.Info("kernel shut down", "boot_id", k.BootID)
	return err
}
