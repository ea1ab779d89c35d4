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
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"flyedge/internal/config"
	"flyedge/internal/protocol"
)

// fakeSocket scripts reads and writes. With no scripted reads left it
// returns readErr, or errWouldBlock when readErr is nil. Each entry of
// writeLimits caps one Write call; a negative entry means would block.
type fakeSocket struct {
	reads       [][]byte
	readErr     error
	writeLimits []int
	writeErr    error
	written     bytes.Buffer
	writeCalls  int
	closed      bool
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if len(s.reads) > 0 {
		n := copy(p, s.reads[0])
		if n < len(s.reads[0]) {
			s.reads[0] = s.reads[0][n:]
		} else {
			s.reads = s.reads[1:]
		}
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return 0, errWouldBlock
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	s.writeCalls++
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if len(s.writeLimits) > 0 {
		limit := s.writeLimits[0]
		s.writeLimits = s.writeLimits[1:]
		if limit < 0 {
			return 0, errWouldBlock
		}
		if limit < n {
			n = limit
		}
	}
	s.written.Write(p[:n])
	return n, nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

type fakePoller struct {
	interests map[int]interest
	removed   []int
	closed    bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{interests: make(map[int]interest)}
}

func (p *fakePoller) add(fd int, in interest) error {
	if _, ok := p.interests[fd]; ok {
		return errors.New("already added")
	}
	p.interests[fd] = in
	return nil
}

func (p *fakePoller) modify(fd int, in interest) error {
	if _, ok := p.interests[fd]; !ok {
		return errors.New("not registered")
	}
	p.interests[fd] = in
	return nil
}

func (p *fakePoller) remove(fd int) error {
	delete(p.interests, fd)
	p.removed = append(p.removed, fd)
	return nil
}

func (p *fakePoller) wait([]event, time.Duration) (int, error) { return 0, nil }
func (p *fakePoller) wake() error                              { return nil }
func (p *fakePoller) close() error {
	p.closed = true
	return nil
}

type acceptResult struct {
	sock *fakeSocket
	fd   int
	err  error
}

// fakeListener hands out pending results in order. With failWith set
// every accept fails with it.
type fakeListener struct {
	pending  []acceptResult
	failWith error
	accepts  int
	closed   bool
}

func (l *fakeListener) fd() int { return 3 }

func (l *fakeListener) addr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1883}
}

func (l *fakeListener) accept() (socket, int, string, error) {
	l.accepts++
	if l.failWith != nil {
		return nil, -1, "", l.failWith
	}
	if len(l.pending) == 0 {
		return nil, -1, "", errWouldBlock
	}
	next := l.pending[0]
	l.pending = l.pending[1:]
	if next.err != nil {
		return nil, -1, "", next.err
	}
	return next.sock, next.fd, "127.0.0.1:50000", nil
}

func (l *fakeListener) close() error {
	l.closed = true
	return nil
}

type dispatched struct {
	typ     protocol.PacketType
	length  int
	payload []byte
}

// recordingHandler records callbacks. Connect accepts unless onConnect
// says otherwise.
type recordingHandler struct {
	connects    []dispatched
	frames      []dispatched
	disconnects []error
	onConnect   func(c *Conn, f protocol.Frame) error
	onDispatch  func(c *Conn, f protocol.Frame) error
}

func record(f protocol.Frame) dispatched {
	return dispatched{
		typ:     f.Type,
		length:  f.RemainingLength,
		payload: append([]byte(nil), f.Payload()...),
	}
}

func (h *recordingHandler) HandleConnect(c *Conn, f protocol.Frame) error {
	h.connects = append(h.connects, record(f))
	if h.onConnect != nil {
		return h.onConnect(c, f)
	}
	return nil
}

func (h *recordingHandler) Dispatch(c *Conn, f protocol.Frame) error {
	h.frames = append(h.frames, record(f))
	if h.onDispatch != nil {
		return h.onDispatch(c, f)
	}
	return nil
}

func (h *recordingHandler) HandleDisconnect(c *Conn, reason error) {
	h.disconnects = append(h.disconnects, reason)
}

// testClock is a manually advanced clock.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	r       *Reactor
	poller  *fakePoller
	handler *recordingHandler
	clock   *testClock
}

func newHarness(mutate func(*config.Config)) *harness {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		poller:  newFakePoller(),
		handler: &recordingHandler{},
		clock:   &testClock{t: time.Unix(1700000000, 0)},
	}
	h.r = New(cfg, h.handler)
	h.r.poller = h.poller
	h.r.now = h.clock.now
	return h
}

// conn registers a fake socket the way the accept path does.
func (h *harness) conn(fd int, sock *fakeSocket) *Conn {
	c, err := h.r.addConn(sock, fd, "127.0.0.1:50000")
	if err != nil {
		panic(err)
	}
	return c
}

// connected registers a socket and completes CONNECT on it.
func (h *harness) connected(fd int, sock *fakeSocket) *Conn {
	c := h.conn(fd, sock)
	sock.reads = append(sock.reads, connectFrame())
	for len(sock.reads) > 0 && c.State() == StateConnecting {
		h.r.handleRead(c)
	}
	if c.State() != StateConnected {
		panic("connect did not complete")
	}
	return c
}

func connectFrame() []byte {
	return protocol.EncodeConnect(&protocol.ConnectPacket{
		ProtocolName:  protocol.ProtocolName,
		ProtocolLevel: protocol.ProtocolLevel311,
		CleanSession:  true,
		KeepAlive:     30,
		ClientID:      "test-client",
	})
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// readyPoller reports the listener readable on every wait while it is
// watched for reads, like a level-triggered poller with a connection
// stuck in the backlog. It cancels the run after maxWaits waits.
type readyPoller struct {
	*fakePoller
	lfd      int
	waits    int
	maxWaits int
	cancel   context.CancelFunc
}

func (p *readyPoller) wait(events []event, _ time.Duration) (int, error) {
	p.waits++
	if p.waits >= p.maxWaits {
		p.cancel()
		return 0, nil
	}
	if p.interests[p.lfd]&interestRead == 0 {
		return 0, nil
	}
	events[0] = event{fd: p.lfd, readable: true}
	return 1, nil
}
