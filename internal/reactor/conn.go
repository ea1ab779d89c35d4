/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reactor

import (
	"net"
	"time"
)

// State is the lifecycle stage of a connection.
type State int

const (
	// StateConnecting is the state between accept and an accepted CONNECT.
	StateConnecting State = iota
	// StateConnected is normal operation.
	StateConnected
	// StateDisconnecting is terminal. The connection has left the registry.
	StateDisconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// socket is the byte stream behind a connection. Read and Write return
// errWouldBlock when the call would block and io.EOF on an orderly close.
type socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// listener accepts non-blocking sockets.
type listener interface {
	fd() int
	addr() *net.TCPAddr
	accept() (sock socket, fd int, remote string, err error)
	close() error
}

// Will is the message published for a client that disconnects without
// sending DISCONNECT.
type Will struct {
	Topic   string
	Message []byte
	QoS     byte
	Retain  bool
}

// Conn is the per-socket state of one client.
//
// A Conn belongs to the reactor goroutine. Its methods must only be called
// from Handler callbacks, which run on that goroutine.
type Conn struct {
	r          *Reactor
	id         uint64
	fd         int
	sock       socket
	remoteAddr string
	state      State

	// buf[:n] holds received bytes not yet consumed as frames.
	buf []byte
	n   int

	identifier *string
	will       *Will
	keepAlive  time.Duration

	queue           outboundQueue
	interest        interest
	closeAfterFlush bool
	closeReason     error
	closingSince    time.Time

	openedAt     time.Time
	lastActivity time.Time
	bytesIn      uint64
	bytesOut     uint64
}

// ID returns the connection number assigned at accept.
func (c *Conn) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the lifecycle state.
func (c *Conn) State() State {
	return c.state
}

// Identifier returns the client identifier set during CONNECT. ok is false
// before that.
func (c *Conn) Identifier() (id string, ok bool) {
	if c.identifier == nil {
		return "", false
	}
	return *c.identifier, true
}

// SetIdentity records the client identifier.
func (c *Conn) SetIdentity(id string) {
	c.identifier = &id
}

// Will returns the registered last will, or nil.
func (c *Conn) Will() *Will {
	return c.will
}

// SetWill registers a last will.
func (c *Conn) SetWill(w Will) {
	c.will = &w
}

// ClearWill drops the last will.
func (c *Conn) ClearWill() {
	c.will = nil
}

// KeepAlive returns the negotiated keepalive interval.
func (c *Conn) KeepAlive() time.Duration {
	return c.keepAlive
}

// SetKeepAlive sets the keepalive interval. Zero disables the check.
func (c *Conn) SetKeepAlive(d time.Duration) {
	c.keepAlive = d
}

// QueuedBytes returns the unsent outbound bytes.
func (c *Conn) QueuedBytes() int {
	return c.queue.bytes
}

// Enqueue appends payload to the outbound queue. The payload must not be
// modified afterwards. Envelopes leave in the order they were enqueued.
func (c *Conn) Enqueue(payload []byte) error {
	if c.state == StateDisconnecting || c.closeAfterFlush {
		return ErrConnClosed
	}
	if len(payload) == 0 {
		return nil
	}
	if c.queue.bytes+len(payload) > c.r.maxQueued {
		c.r.metrics.EnvelopeDropped()
		return ErrQueueFull
	}
	c.queue.push(&Envelope{payload: payload})
	c.r.updateInterest(c)
	return nil
}

// CloseAfterFlush stops reading from the connection and disconnects it with
// reason once everything already enqueued has been written.
func (c *Conn) CloseAfterFlush(reason error) {
	if c.state == StateDisconnecting || c.closeAfterFlush {
		return
	}
	c.closeAfterFlush = true
	c.closeReason = reason
	c.closingSince = c.r.now()
	c.r.updateInterest(c)
}

// wantInterest derives the readiness set from the connection state.
func (c *Conn) wantInterest() interest {
	var in interest
	if !c.closeAfterFlush {
		in |= interestRead
	}
	if c.queue.len() > 0 || c.closeAfterFlush {
		in |= interestWrite
	}
	return in
}

func (c *Conn) release() {
	c.buf = nil
	c.n = 0
	c.queue.reset()
}
