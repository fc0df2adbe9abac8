// Copyright 2024 The bootcore Authors. All Rights Reserved.
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

// Package devstate tracks the bootloader lifecycle: the lock state the
// command gates consult, and the crash bookkeeping published as
// variables.
package devstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/looplab/fsm"

	"github.com/openfw/bootcore/api"
)

const (
	stateLocked   = "locked"
	stateUnlocked = "unlocked"

	eventLock   = "lock"
	eventUnlock = "unlock"
)

// Machine is the lock lifecycle. Transitions run registered side
// effects (userdata wipe, variable republish) before reporting success,
// and the unlock transition is guarded by an unlock-ability hook so a
// device policy can refuse it.
type Machine struct {
	mu        sync.Mutex
	fsm       *fsm.FSM
	canUnlock func() bool
	onChange  []func(api.LockState)
}

// New returns a Machine in the given state. Unlock ability defaults to
// allowed.
func New(initial api.LockState) *Machine {
	m := &Machine{
		canUnlock: func() bool { return true },
	}
	start := stateLocked
	if initial == api.Unlocked {
		start = stateUnlocked
	}
	m.fsm = fsm.NewFSM(
		start,
		fsm.Events{
			{Name: eventUnlock, Src: []string{stateLocked}, Dst: stateUnlocked},
			{Name: eventLock, Src: []string{stateUnlocked}, Dst: stateLocked},
		},
		fsm.Callbacks{
			"before_" + eventUnlock: func(_ context.Context, e *fsm.Event) {
				if !m.canUnlock() {
					e.Cancel(fmt.Errorf("%w: unlock is not allowed on this device", api.ErrAccessDenied))
				}
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s := api.Locked
				if e.Dst == stateUnlocked {
					s = api.Unlocked
				}
				glog.Infof("Device state: %v -> %v", e.Src, e.Dst)
				for _, fn := range m.onChange {
					fn(s)
				}
			},
		},
	)
	return m
}

// SetUnlockAbility installs the policy hook consulted before an unlock
// transition.
func (m *Machine) SetUnlockAbility(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canUnlock = fn
}

// UnlockAllowed reports what the unlock-ability hook currently says,
// without attempting a transition.
func (m *Machine) UnlockAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canUnlock()
}

// OnChange registers a side effect fired whenever the lock state
// changes. Effects run in registration order, before the transition is
// reported as complete.
func (m *Machine) OnChange(fn func(api.LockState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Current returns the lock state.
func (m *Machine) Current() api.LockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fsm.Current() == stateUnlocked {
		return api.Unlocked
	}
	return api.Locked
}

// Unlock transitions to the unlocked state. It fails if the device is
// already unlocked or the unlock-ability hook refuses.
func (m *Machine) Unlock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fsm.Event(ctx, eventUnlock); err != nil {
		return fmt.Errorf("unlocking device: %w", err)
	}
	return nil
}

// Lock transitions to the locked state. It fails if the device is
// already locked.
func (m *Machine) Lock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fsm.Event(ctx, eventLock); err != nil {
		return fmt.Errorf("locking device: %w", err)
	}
	return nil
}

// Counters records how many boots ended in a watchdog reset or a crash
// since the counters were last cleared. They are published as
// read-only variables.
type Counters struct {
	mu       sync.Mutex
	watchdog uint32
	crash    uint32
}

func (c *Counters) BumpWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchdog++
}

func (c *Counters) BumpCrash() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crash++
}

func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchdog = 0
	c.crash = 0
}

// Snapshot returns the current watchdog and crash counts.
func (c *Counters) Snapshot() (watchdog, crash uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchdog, c.crash
}
