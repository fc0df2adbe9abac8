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

// Package transport carries protocol frames between the device session
// and a host. The session is event driven: every inbound payload and
// every completed transmit surfaces as one polled event.
package transport

import "context"

// Kind discriminates polled events.
type Kind int

const (
	// KindReceived carries an inbound payload.
	KindReceived Kind = iota
	// KindSent reports a previously queued Send has gone out.
	KindSent
	// KindClosed reports the peer is gone; no further events follow.
	KindClosed
)

// Event is one transport occurrence.
type Event struct {
	Kind Kind
	Data []byte
}

// Transport is the device-side endpoint. Send queues one outbound
// payload; its completion is reported as a KindSent event from Poll so
// the session can keep its transmit queue strictly ordered.
type Transport interface {
	Send(b []byte) error
	Poll(ctx context.Context) (Event, error)
	Close() error
}
