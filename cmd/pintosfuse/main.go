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

// pintosfuse exposes a formatted file-system image through a real FUSE
// mount, so ordinary userspace tools can exercise the path resolver,
// directory layer, and inode layer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/kardianos/osext"
	"github.com/spf13/pflag"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
	"github.com/cs439kernel/pintos-go/internal/klog"
)

var (
	fForeground = pflag.Bool("foreground", false, "Stay in the foreground after mounting.")
	fFormat     = pflag.Bool("format", false, "Format the image before mounting.")
)

func main() {
	if err := kernelcfg.BindFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "pintosfuse: %v\n", err)
		os.Exit(1)
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: pintosfuse [flags] <mountpoint>\n")
		os.Exit(1)
	}
	mountPoint := pflag.Arg(0)

	if err := run(mountPoint); err != nil {
		fmt.Fprintf(os.Stderr, "pintosfuse: %v\n", err)
		os.Exit(1)
	}
}

func run(mountPoint string) error {
	// Without --foreground, re-run ourselves as a daemon with the flag set
	// and wait for the child to report mount success or failure.
	if !*fForeground {
		path, err := osext.Executable()
		if err != nil {
			return fmt.Errorf("osext.Executable: %w", err)
		}

		args := append([]string{"--foreground"}, os.Args[1:]...)

		// PATH so the daemon can find fusermount; HOME is not passed along
		// implicitly.
		env := []string{
			fmt.Sprintf("PATH=%s", os.Getenv("PATH")),
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			env = append(env, fmt.Sprintf("HOME=%s", homeDir))
		}

		if err := daemonize.Run(path, args, env, os.Stdout, os.Stderr); err != nil {
			return fmt.Errorf("daemonize.Run: %w", err)
		}
		fmt.Fprintf(os.Stdout, "pintosfuse: mounted %s\n", mountPoint)
		return nil
	}

	mfs, err := mount(mountPoint)

	// Tell the parent (if any) how the mount went.
	if signalErr := daemonize.SignalOutcome(err); signalErr != nil {
		log.Printf("daemonize.SignalOutcome: %v", signalErr)
	}
	if err != nil {
		return err
	}

	return mfs.Join(context.Background())
}

func mount(mountPoint string) (*fuse.MountedFileSystem, error) {
	cfg := kernelcfg.Default()
	cfg.Disk.FSImagePath = mustString("fs-image")
	cfg.Disk.FSSectors = mustUint32("fs-sectors")
	cfg.Disk.SwapImagePath = mustString("swap-image")
	cfg.Disk.SwapSectors = mustUint32("swap-sectors")
	cfg.Log.Format = mustString("log-format")
	cfg.Log.Level = mustString("log-level")
	cfg.Log.Path = mustString("log-path")

	logger, err := klog.New(cfg.Log.Format, cfg.Log.Level, cfg.Log.Path)
	if err != nil {
		return nil, err
	}

	if *fFormat {
		dev, err := block.OpenFile(cfg.Disk.FSImagePath, block.Sector(cfg.Disk.FSSectors))
		if err != nil {
			return nil, err
		}
		if err := kernel.Format(dev); err != nil {
			dev.Close()
			return nil, err
		}
		if err := dev.Close(); err != nil {
			return nil, err
		}
	}

	k, err := kernel.Boot(kernel.BootConfig{Cfg: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}

	server := fuseutil.NewFileSystemServer(newFuseServer(k, timeutil.RealClock()))
	mountCfg := &fuse.MountConfig{
		FSName:      "pintosfuse",
		Subtype:     "pintosfuse",
		ErrorLogger: log.New(os.Stderr, "fuse: ", log.LstdFlags),
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		k.Shutdown()
		return nil, fmt.Errorf("fuse.Mount: %w", err)
	}
	return mfs, nil
}

func mustString(name string) string {
	v, err := pflag.CommandLine.GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func mustUint32(name string) uint32 {
	v, err := pflag.CommandLine.GetUint32(name)
	if err != nil {
		panic(err)
	}
	return v
}
