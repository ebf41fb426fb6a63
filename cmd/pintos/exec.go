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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
	"github.com/cs439kernel/pintos-go/internal/kmetrics"
)

func newExecCmd(cfg *kernelcfg.Config, metrics func() kmetrics.Handle) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <cmdline>",
		Short: "Boot the kernel and load a single program image from the file system.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := bootFromConfig(*cfg, metrics())
			if err != nil {
				return err
			}
			defer k.Shutdown()

			cmdline := strings.Join(args, " ")
			t, err := k.Exec(cmdline)
			if err != nil {
				return fmt.Errorf("exec %q: %w", cmdline, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "loaded %q: entry %#x, stack %#x\n",
				cmdline, t.Entry, t.StackPointer)

			// There is no CPU to run the image; tear the process down so the
			// exit path (descriptor table, deny-write release, address space)
			// is exercised end to end.
			k.ExitThread(t, 0)
			return nil
		},
	}
}
