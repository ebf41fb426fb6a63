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

	"github.com/spf13/cobra"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
)

func newMkfsCmd(cfg *kernelcfg.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mkfs",
		Short: "Format a fresh file-system image (free-map plus empty root directory).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := block.OpenFile(cfg.Disk.FSImagePath, block.Sector(cfg.Disk.FSSectors))
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := kernel.Format(dev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: %d sectors\n",
				cfg.Disk.FSImagePath, cfg.Disk.FSSectors)
			return nil
		},
	}
}
