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

// Package kernelcfg is the kernel's boot configuration: how many user and
// kernel frames to carve out of physical memory, where the file-system and
// swap devices live on disk, the file-descriptor table capacity handed to
// new processes, and logging toggles.
package kernelcfg

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of boot parameters.
type Config struct {
	Disk   DiskConfig   `yaml:"disk"`
	Memory MemoryConfig `yaml:"memory"`
	Process ProcessConfig `yaml:"process"`
	Log    LogConfig    `yaml:"log"`
}

// DiskConfig locates the two block devices the kernel consumes: the
// file-system device and the swap device.
type DiskConfig struct {
	FSImagePath   string `yaml:"fs-image-path"`
	FSSectors     uint32 `yaml:"fs-sectors"`
	SwapImagePath string `yaml:"swap-image-path"`
	SwapSectors   uint32 `yaml:"swap-sectors"`
}

// MemoryConfig sizes the kernel and user frame pools.
type MemoryConfig struct {
	KernelFrames int `yaml:"kernel-frames"`
	UserFrames   int `yaml:"user-frames"`
}

// ProcessConfig bounds per-process resources.
type ProcessConfig struct {
	FDCapacity int `yaml:"fd-capacity"`
}

// LogConfig selects the logger's format and verbosity.
type LogConfig struct {
	Format string `yaml:"format"` // "text" or "json"
	Level  string `yaml:"level"`  // OFF/ERROR/WARNING/INFO/DEBUG/TRACE
	Path   string `yaml:"path"`   // empty means stderr
}

// Default returns a Config with sizes small enough for quick boots but
// large enough to exercise eviction under modest memory pressure.
func Default() Config {
	return Config{
		Disk: DiskConfig{
			FSImagePath:   "pintos.fs.img",
			FSSectors:     8192,
			SwapImagePath: "pintos.swap.img",
			SwapSectors:   2048,
		},
		Memory: MemoryConfig{
			KernelFrames: 32,
			UserFrames:   64,
		},
		Process: ProcessConfig{
			FDCapacity: 128,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "INFO",
		},
	}
}

// BindFlags registers the boot flags on flagSet and binds them into
// viper's global instance.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string, bindErr *error) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(key, flagSet.Lookup(key))
	}

	var err error

	flagSet.String("fs-image", "pintos.fs.img", "Path to the file-system disk image.")
	bind("disk.fs-image-path", &err)

	flagSet.Uint32("fs-sectors", 8192, "Sector count of the file-system disk image.")
	bind("disk.fs-sectors", &err)

	flagSet.String("swap-image", "pintos.swap.img", "Path to the swap disk image.")
	bind("disk.swap-image-path", &err)

	flagSet.Uint32("swap-sectors", 2048, "Sector count of the swap disk image.")
	bind("disk.swap-sectors", &err)

	flagSet.Int("kernel-frames", 32, "Number of physical frames reserved for the kernel pool.")
	bind("memory.kernel-frames", &err)

	flagSet.Int("user-frames", 64, "Number of physical frames available to user processes.")
	bind("memory.user-frames", &err)

	flagSet.Int("fd-capacity", 128, "Per-process file-descriptor table capacity.")
	bind("process.fd-capacity", &err)

	flagSet.String("log-format", "text", "Log format: text or json.")
	bind("log.format", &err)

	flagSet.String("log-level", "INFO", "Log level: OFF, ERROR, WARNING, INFO, DEBUG, or TRACE.")
	bind("log.level", &err)

	flagSet.String("log-path", "", "Log file path, or empty for stderr.")
	bind("log.path", &err)

	if err != nil {
		return fmt.Errorf("kernelcfg: bind flags: %w", err)
	}
	return nil
}

// Validate checks c for internally-consistent values, run as a separate
// pass after BindFlags/Unmarshal: frame counts must be positive, and the
// swap device must hold a whole number of pages.
func Validate(c Config) error {
	if c.Memory.UserFrames <= 0 {
		return fmt.Errorf("kernelcfg: memory.user-frames must be positive, got %d", c.Memory.UserFrames)
	}
	if c.Memory.KernelFrames <= 0 {
		return fmt.Errorf("kernelcfg: memory.kernel-frames must be positive, got %d", c.Memory.KernelFrames)
	}
	if c.Disk.FSSectors == 0 {
		return fmt.Errorf("kernelcfg: disk.fs-sectors must be positive")
	}
	const sectorsPerPage = 4096 / 512
	if c.Disk.SwapSectors%sectorsPerPage != 0 {
		return fmt.Errorf("kernelcfg: disk.swap-sectors (%d) must be a multiple of %d sectors per page", c.Disk.SwapSectors, sectorsPerPage)
	}
	if c.Process.FDCapacity <= 0 {
		return fmt.Errorf("kernelcfg: process.fd-capacity must be positive, got %d", c.Process.FDCapacity)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("kernelcfg: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
