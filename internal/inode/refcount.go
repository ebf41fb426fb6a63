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

package inode

import "log"

// refcount is an inc/dec-to-zero-then-destroy open count. External
// synchronization is required; here that synchronization is the Table's
// own mutex.
type refcount struct {
	count   uint64
	destroy func() error
}

func (r *refcount) inc() {
	r.count++
}

// dec decrements by one and destroys if the count hits zero, returning
// whether it did.
func (r *refcount) dec() (destroyed bool) {
	if r.count == 0 {
		panic("inode: refcount underflow")
	}
	r.count--

	if r.count == 0 {
		if err := r.destroy(); err != nil {
			log.Printf("inode: error destroying: %v", err)
		}
		destroyed = true
	}
	return
}
