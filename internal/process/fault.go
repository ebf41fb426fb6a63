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

	"github.com/cs439kernel/pintos-go/internal/elf"
)

const faultPageSize = 4096

// stackSlack is how far below the stack pointer a faulting address may
// lie and still count as stack growth; a PUSHA pushes 32 bytes below ESP
// before the fault is raised.
const stackSlack = 32

// maxStackBytes bounds how far the stack may grow down from the top of
// user space.
const maxStackBytes = 8 << 20

// HandleFault resolves a user page fault at addr for t. A page with a
// supplemental entry is fetched from its recorded source; an unregistered
// address within the stack-growth window below userSP gets a fresh zero
// page instead. Anything else is a genuine bad access.
func (t *Thread) HandleFault(addr, userSP uint64) error {
	if addr >= elf.PhysBase {
		return fmt.Errorf("process: fault at kernel address %#x", addr)
	}

	page := addr &^ (faultPageSize - 1)
	if _, ok := t.SP.Lookup(page); ok {
		return t.SP.Fault(page)
	}

	if addr+stackSlack >= userSP && addr >= elf.PhysBase-maxStackBytes {
		return t.SP.GrowStack(page)
	}

	return fmt.Errorf("process: unhandled fault at %#x (sp %#x)", addr, userSP)
}
