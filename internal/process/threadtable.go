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

import "sync"

// Table tracks every live thread by id so the system-call layer can look
// up the Thread a given call number/args pair is dispatched against.
type Table struct {
	mu      sync.Mutex
	threads map[uint64]*Thread
	nextID  uint64
}

// NewTable returns an empty thread table.
func NewTable() *Table {
	return &Table{threads: make(map[uint64]*Thread), nextID: 1}
}

// NextID hands out a fresh thread id, suitable for Deps.NextID.
func (tt *Table) NextID() uint64 {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	id := tt.nextID
	tt.nextID++
	return id
}

// Add registers t so Get can find it.
func (tt *Table) Add(t *Thread) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.threads[t.ID] = t
}

// Remove drops t from the table, called once Exit has finished.
func (tt *Table) Remove(id uint64) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	delete(tt.threads, id)
}

// Get returns the thread for id, if still live.
func (tt *Table) Get(id uint64) (*Thread, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t, ok := tt.threads[id]
	return t, ok
}
