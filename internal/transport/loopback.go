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

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfw/bootcore/api"
)

// Loopback is an in-memory Transport for exercising a session without
// a network. The host side injects payloads with HostSend and collects
// the session's frames with HostRecv.
type Loopback struct {
	events chan Event
	hostRx chan []byte

	mu       sync.Mutex
	closed   bool
	failNext bool
}

// NewLoopback returns an idle loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		events: make(chan Event, 1024),
		hostRx: make(chan []byte, 1024),
	}
}

// Send hands the frame to the host side and immediately reports the
// transmit as complete.
func (l *Loopback) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: transport closed", api.ErrProtocol)
	}
	if l.failNext {
		l.failNext = false
		return fmt.Errorf("%w: injected transmit failure", api.ErrProtocol)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	l.hostRx <- cp
	l.events <- Event{Kind: KindSent}
	return nil
}

// Poll returns the next queued event.
func (l *Loopback) Poll(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-l.events:
		return ev, nil
	}
}

// Close marks the transport closed and wakes the poller.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.events <- Event{Kind: KindClosed}
	return nil
}

// HostSend queues an inbound payload as if the host had transmitted
// it.
func (l *Loopback) HostSend(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	l.events <- Event{Kind: KindReceived, Data: cp}
}

// HostRecv blocks for the next frame the session transmitted.
func (l *Loopback) HostRecv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-l.hostRx:
		return b, nil
	}
}

// FailNextSend makes the next Send return an error so tests can drive
// the session into its fatal state.
func (l *Loopback) FailNextSend() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = true
}
