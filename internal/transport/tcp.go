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
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
)

// handshake opens every connection in both directions, mirroring the
// fastboot-over-TCP convention.
const handshake = "FB01"

// DefaultMaxMessage caps a single length-prefixed message.
const DefaultMaxMessage = 256 << 20

// Listener accepts TCP connections speaking the length-prefixed
// protocol: a 4-byte handshake each way, then 8-byte big-endian length
// prefixes on every message.
type Listener struct {
	ln net.Listener
	// MaxMessage caps inbound message sizes; DefaultMaxMessage when
	// zero.
	MaxMessage int64
}

// Listen binds addr.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept waits for a host, performs the handshake and returns the
// connection ready for polling.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	max := l.MaxMessage
	if max == 0 {
		max = DefaultMaxMessage
	}
	conn, err := newConn(c, max, true)
	if err != nil {
		c.Close()
		return nil, err
	}
	glog.Infof("Host connected from %v", c.RemoteAddr())
	return conn, nil
}

// Dial connects to a device listener as the host side.
func Dial(addr string) (*Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", addr, err)
	}
	conn, err := newConn(c, DefaultMaxMessage, false)
	if err != nil {
		c.Close()
		return nil, err
	}
	return conn, nil
}

// Conn is one handshaken connection. It implements Transport.
type Conn struct {
	c      net.Conn
	max    int64
	events chan Event

	sendMu  sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newConn(c net.Conn, max int64, server bool) (*Conn, error) {
	// The server answers the handshake, the client opens it.
	if server {
		buf := make([]byte, len(handshake))
		if _, err := io.ReadFull(c, buf); err != nil {
			return nil, fmt.Errorf("%w: reading handshake: %v", api.ErrProtocol, err)
		}
		if string(buf) != handshake {
			return nil, fmt.Errorf("%w: bad handshake %q", api.ErrProtocol, buf)
		}
		if _, err := c.Write([]byte(handshake)); err != nil {
			return nil, fmt.Errorf("%w: writing handshake: %v", api.ErrProtocol, err)
		}
	} else {
		if _, err := c.Write([]byte(handshake)); err != nil {
			return nil, fmt.Errorf("%w: writing handshake: %v", api.ErrProtocol, err)
		}
		buf := make([]byte, len(handshake))
		if _, err := io.ReadFull(c, buf); err != nil {
			return nil, fmt.Errorf("%w: reading handshake: %v", api.ErrProtocol, err)
		}
		if string(buf) != handshake {
			return nil, fmt.Errorf("%w: bad handshake %q", api.ErrProtocol, buf)
		}
	}
	conn := &Conn{c: c, max: max, events: make(chan Event, 64)}
	go conn.readLoop()
	return conn, nil
}

func (t *Conn) readLoop() {
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(t.c, hdr[:]); err != nil {
			t.post(Event{Kind: KindClosed})
			return
		}
		n := int64(binary.BigEndian.Uint64(hdr[:]))
		if n <= 0 || n > t.max {
			glog.Errorf("Dropping connection: message of %d bytes", n)
			t.post(Event{Kind: KindClosed})
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(t.c, buf); err != nil {
			t.post(Event{Kind: KindClosed})
			return
		}
		t.post(Event{Kind: KindReceived, Data: buf})
	}
}

func (t *Conn) post(ev Event) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return
	}
	t.events <- ev
}

// Send writes one length-prefixed message and reports completion as a
// KindSent event.
func (t *Conn) Send(b []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(b)))
	if _, err := t.c.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", api.ErrProtocol, err)
	}
	if _, err := t.c.Write(b); err != nil {
		return fmt.Errorf("%w: %v", api.ErrProtocol, err)
	}
	t.post(Event{Kind: KindSent})
	return nil
}

// Receive blocks for the next inbound payload, discarding send
// completions. It is the host-side counterpart to Poll.
func (t *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		ev, err := t.Poll(ctx)
		if err != nil {
			return nil, err
		}
		switch ev.Kind {
		case KindReceived:
			return ev.Data, nil
		case KindClosed:
			return nil, fmt.Errorf("%w: connection closed", api.ErrProtocol)
		}
	}
}

// Poll returns the next event.
func (t *Conn) Poll(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-t.events:
		return ev, nil
	}
}

// Close tears the connection down.
func (t *Conn) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()
	return t.c.Close()
}
