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

package kernel

import (
	"fmt"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/freemap"
	"github.com/cs439kernel/pintos-go/internal/inode"
)

// Format lays down a fresh file system on dev: a free-map file at
// FreeMapSector, an empty root directory at RootSector, and nothing else.
// The root directory's parent is itself, which is what makes ".." at the
// root resolve back to the root.
func Format(dev block.Device) error {
	fm := freemap.New(dev.NumSectors())
	if err := fm.Reserve(FreeMapSector); err != nil {
		return err
	}
	if err := fm.Reserve(RootSector); err != nil {
		return err
	}

	if err := inode.Create(dev, fm, RootSector, 0, true, RootSector); err != nil {
		return fmt.Errorf("kernel: format root directory: %w", err)
	}

	// The free-map is itself a file. Creating it allocates its data sectors,
	// so the bitmap is serialized only afterwards, when those allocations
	// are already reflected in it.
	bitmapLen := uint32(freemap.BytesLen(dev.NumSectors()))
	if err := inode.Create(dev, fm, FreeMapSector, bitmapLen, false, RootSector); err != nil {
		return fmt.Errorf("kernel: format free-map file: %w", err)
	}

	tbl := inode.NewTable(dev, fm)
	n, err := tbl.Open(FreeMapSector)
	if err != nil {
		return fmt.Errorf("kernel: reopen free-map file: %w", err)
	}
	defer tbl.Close(n)

	if _, err := n.WriteAt(fm.Bytes(), 0); err != nil {
		return fmt.Errorf("kernel: write free-map content: %w", err)
	}
	return nil
}
