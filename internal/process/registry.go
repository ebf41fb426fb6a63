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

// Package process implements the process lifecycle — execute, wait, exit —
// built around a goroutine standing in for a kernel thread. Exit statuses
// travel through a per-child one-shot rendezvous registry rather than
// global waiter/exit/ignore lists.
package process

import "sync"

type slotState int

const (
	slotAlive slotState = iota
	slotExited
	slotReaped
)

// childSlot is the one-shot rendezvous record for a single child: alive,
// then exited with a status, then reaped by exactly one wait call.
type childSlot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	state  slotState
	status int32
}

func newChildSlot() *childSlot {
	s := &childSlot{state: slotAlive}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Registry is one map of still-relevant child slots: a slot exists
// exactly as long as some wait call might still consume it. Abandoning a
// slot (the parent exited first) and reaping it (a successful wait) both
// delete it, so there is never a separate list of children to ignore.
type Registry struct {
	mu    sync.Mutex
	slots map[uint64]*childSlot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[uint64]*childSlot)}
}

// Register creates a slot for a newly executed child, called by Execute
// before the child goroutine starts.
func (r *Registry) Register(childID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[childID] = newChildSlot()
}

// Post records status for childID, called by Exit. If the slot is gone —
// the parent already abandoned it — the status is silently dropped,
// matching the old ignore-list behavior without a separate list.
func (r *Registry) Post(childID uint64, status int32) {
	r.mu.Lock()
	s, ok := r.slots[childID]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.state = slotExited
	s.status = status
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Wait blocks until childID exits, then reaps its slot and returns its
// status. ok is false for a double-wait (the slot was already reaped) or
// an unknown child id; the caller is responsible for rejecting
// wait-on-non-child before calling this.
func (r *Registry) Wait(childID uint64) (status int32, ok bool) {
	r.mu.Lock()
	s, found := r.slots[childID]
	r.mu.Unlock()
	if !found {
		return -1, false
	}

	s.mu.Lock()
	for s.state == slotAlive {
		s.cond.Wait()
	}
	if s.state == slotReaped {
		s.mu.Unlock()
		return -1, false
	}
	s.state = slotReaped
	status = s.status
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.slots, childID)
	r.mu.Unlock()
	return status, true
}

// Abandon drops childID's slot without waiting, used when a parent exits
// while a child is still alive.
func (r *Registry) Abandon(childID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, childID)
}
