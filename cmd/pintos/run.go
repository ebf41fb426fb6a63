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
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cs439kernel/pintos-go/internal/directory"
	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
	"github.com/cs439kernel/pintos-go/internal/kmetrics"
	"github.com/cs439kernel/pintos-go/internal/openfile"
	"github.com/cs439kernel/pintos-go/internal/process"
)

func newRunCmd(cfg *kernelcfg.Config, metrics func() kmetrics.Handle) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script>",
		Short: "Boot the kernel and execute a scripted workload, one command per line.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			k, err := bootFromConfig(*cfg, metrics())
			if err != nil {
				return err
			}
			defer k.Shutdown()

			return runScript(k, f, cmd.OutOrStdout())
		},
	}
}

// runScript interprets a workload script against a kernel-owned shell
// thread. Each line is one command; blank lines and #-comments are skipped.
func runScript(k *kernel.Kernel, r io.Reader, out io.Writer) error {
	sh := shell{k: k, t: k.NewShellThread("shell"), out: out}
	defer k.ExitThread(sh.t, 0)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := sh.eval(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		select {
		case <-k.Halted():
			return nil
		default:
		}
	}
	return scanner.Err()
}

type shell struct {
	k   *kernel.Kernel
	t   *process.Thread
	out io.Writer
}

func (sh *shell) eval(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: want %d argument(s), got %d", cmd, n, len(args))
		}
		return nil
	}
	num := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: bad number %q", cmd, s)
		}
		return n, nil
	}
	handle := func(fd int) (*openfile.Handle, error) {
		h, ok := sh.t.FD.Get(fd)
		if !ok {
			return nil, fmt.Errorf("%s: descriptor %d not open", cmd, fd)
		}
		return h, nil
	}

	switch cmd {
	case "echo":
		fmt.Fprintln(sh.out, strings.Join(args, " "))

	case "create":
		if err := need(2); err != nil {
			return err
		}
		size, err := num(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "create %s: %v\n", args[0], sh.k.FS.Create(args[0], sh.t.CWD, uint32(size)))

	case "mkdir":
		if err := need(1); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "mkdir %s: %v\n", args[0], sh.k.FS.Mkdir(args[0], sh.t.CWD))

	case "remove":
		if err := need(1); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "remove %s: %v\n", args[0], sh.k.FS.Remove(args[0], sh.t.CWD))

	case "chdir":
		if err := need(1); err != nil {
			return err
		}
		cwd, err := sh.k.FS.Chdir(args[0], sh.t.CWD)
		if err != nil {
			fmt.Fprintf(sh.out, "chdir %s: false\n", args[0])
			return nil
		}
		sh.t.CWD = cwd
		fmt.Fprintf(sh.out, "chdir %s: true\n", args[0])

	case "open":
		if err := need(1); err != nil {
			return err
		}
		h, err := sh.k.OpenHandle(args[0], sh.t.CWD)
		if err != nil {
			fmt.Fprintf(sh.out, "open %s: -1\n", args[0])
			return nil
		}
		fd, ok := sh.t.FD.Install(h)
		if !ok {
			sh.k.Inodes.Close(h.Node)
			fmt.Fprintf(sh.out, "open %s: -1\n", args[0])
			return nil
		}
		fmt.Fprintf(sh.out, "open %s: %d\n", args[0], fd)

	case "close":
		if err := need(1); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		h, err := sh.t.FD.Close(fd)
		if err != nil {
			fmt.Fprintf(sh.out, "close %d: error\n", fd)
			return nil
		}
		sh.k.Inodes.Close(h.Node)
		fmt.Fprintf(sh.out, "close %d: ok\n", fd)

	case "write":
		if err := need(2); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		h, err := handle(fd)
		if err != nil {
			return err
		}
		data := strings.Join(args[1:], " ")
		n, err := h.Write([]byte(data))
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "write %d: %d\n", fd, n)

	case "read":
		if err := need(2); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		count, err := num(args[1])
		if err != nil {
			return err
		}
		h, err := handle(fd)
		if err != nil {
			return err
		}
		buf := make([]byte, count)
		n, err := h.Read(buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "read %d: %d %q\n", fd, n, buf[:n])

	case "seek":
		if err := need(2); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		pos, err := num(args[1])
		if err != nil {
			return err
		}
		h, err := handle(fd)
		if err != nil {
			return err
		}
		h.Seek(uint32(pos))

	case "tell":
		if err := need(1); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		h, err := handle(fd)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "tell %d: %d\n", fd, h.Tell())

	case "filesize":
		if err := need(1); err != nil {
			return err
		}
		fd, err := num(args[0])
		if err != nil {
			return err
		}
		h, err := handle(fd)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "filesize %d: %d\n", fd, h.Filesize())

	case "ls":
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		n, err := sh.k.FS.Open(path, sh.t.CWD)
		if err != nil {
			return fmt.Errorf("ls %s: %w", path, err)
		}
		defer sh.k.Inodes.Close(n)

		d, err := directory.Open(n)
		if err != nil {
			return fmt.Errorf("ls %s: not a directory", path)
		}
		it := d.NewIterator()
		for {
			e, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Fprintf(sh.out, "%s\t%d\n", e.Name, e.Sector)
		}

	case "exec":
		if err := need(1); err != nil {
			return err
		}
		child, err := process.Execute(sh.t, strings.Join(args, " "), sh.k.ProcessDeps())
		if err != nil {
			fmt.Fprintf(sh.out, "exec: -1\n")
			return nil
		}
		fmt.Fprintf(sh.out, "exec: %d\n", child.ID)
		// No CPU runs the loaded image in this simulation; retire it
		// immediately so a later "wait" observes a clean exit.
		sh.k.ExitThread(child, 0)

	case "wait":
		if err := need(1); err != nil {
			return err
		}
		id, err := num(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "wait %d: %d\n", id, process.Wait(sh.t, uint64(id), sh.k.Registry))

	case "halt":
		sh.k.Halt()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
