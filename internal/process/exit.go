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
	"fmt"
	"io"

	"github.com/cs439kernel/pintos-go/internal/inode"
	"github.com/cs439kernel/pintos-go/internal/vm/frame"
)

// Exit releases t's resources — file-descriptor table, ELF image, address
// space — posts status to the registry, abandons any still-alive children,
// and writes the termination message to out (if non-nil). tbl is the
// shared inode open-table every handle and the ELF image were opened
// against.
func Exit(t *Thread, status int32, reg *Registry, frames *frame.Pool, tbl *inode.Table, threads *Table, out io.Writer) {
	for _, h := range t.FD.CloseAll() {
		tbl.Close(h.Node)
	}

	if t.ExeFile != nil {
		t.ExeFile.AllowWrite()
		tbl.Close(t.ExeFile)
	}

	t.SP.TeardownAll(frames)

	for _, childID := range t.Children() {
		reg.Abandon(childID)
	}

	if t.HasParent {
		reg.Post(t.ID, status)
	}
	threads.Remove(t.ID)

	if out != nil {
		fmt.Fprintf(out, "%s: exit(%d)\n", t.Name, status)
	}
}

// Wait blocks until childID (which must belong to t) exits, reaping its
// slot. Wait-on-non-child and double-wait both return -1 immediately.
func Wait(t *Thread, childID uint64, reg *Registry) int32 {
	if !t.IsChild(childID) {
		return -1
	}
	status, ok := reg.Wait(childID)
	if !ok {
		return -1
	}
	return status
}
