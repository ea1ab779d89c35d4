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

/*
Package reactor implements the single-threaded connection reactor that
serves MQTT clients.

ARCHITECTURE:
=============

	listener ──accept──▶ Conn (Connecting) ──CONNECT──▶ Conn (Connected)
	    │                     │                               │
	    └──── poller (epoll / kqueue, level-triggered) ◀──────┘

One goroutine, locked to its OS thread, owns every socket, buffer and
queue. It blocks only in the poller. All Handler callbacks run on it and
must not block.

READ PATH:
==========
Each read-ready event performs one read into the connection buffer, then
decodes as many complete frames as the buffer holds. Leftover bytes are
compacted to the front. The buffer grows to fit a declared frame up to
max_frame_size and shrinks back once drained.

WRITE PATH:
===========
Each write-ready event performs at most one write of the head envelope.
Partial writes resume at the recorded offset on the next event. Write
interest is dropped while the queue is empty and re-armed by Enqueue.

STATE GATE:
===========
Only CONNECT is accepted in Connecting. Any other packet, an oversized
frame, or a malformed header disconnects the client.
*/
package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"flyedge/internal/config"
	"flyedge/internal/logging"
	"flyedge/internal/metrics"
	"flyedge/internal/protocol"
)

// Handler receives decoded frames. Frame.Bytes aliases the connection's
// read buffer and is only valid for the duration of the call.
type Handler interface {
	// HandleConnect processes the first frame of a connection. Returning
	// nil accepts the client unless it called CloseAfterFlush. Returning
	// an error disconnects immediately.
	HandleConnect(c *Conn, f protocol.Frame) error

	// Dispatch processes every frame after CONNECT. An error disconnects.
	Dispatch(c *Conn, f protocol.Frame) error

	// HandleDisconnect runs once per connection, before its socket closes.
	HandleDisconnect(c *Conn, reason error)
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithMetrics records connection and traffic metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reactor) { r.metrics = m }
}

// WithLogger replaces the default "reactor" logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// acceptBackoff is how long the listener stays unwatched after accept
// runs out of descriptors or memory.
const acceptBackoff = 100 * time.Millisecond

// Reactor multiplexes client sockets on one goroutine.
type Reactor struct {
	bindAddr       string
	readBufSize    int
	maxFrame       int
	maxEvents      int
	maxQueued      int
	pollTimeout    time.Duration
	connectTimeout time.Duration
	keepAliveGrace float64

	handler  Handler
	poller   poller
	listener listener
	registry *registry

	logger  *logging.Logger
	connLog *logging.ConnectionLogger
	metrics *metrics.Metrics
	now     func() time.Time

	nextID    uint64
	lastSweep time.Time

	// Listener read interest is dropped while descriptors are exhausted.
	acceptPaused   bool
	acceptResumeAt time.Time
	acceptFailures int
	clients   atomic.Int64
	accepted  atomic.Uint64
	addr      atomic.Pointer[net.TCPAddr]
}

// New creates a reactor for cfg. Listen or Run opens the socket.
func New(cfg *config.Config, h Handler, opts ...Option) *Reactor {
	rc := cfg.Reactor
	r := &Reactor{
		bindAddr:       cfg.BindAddr,
		readBufSize:    rc.ReadBufferSize,
		maxFrame:       rc.MaxFrameSize,
		maxEvents:      rc.MaxEvents,
		maxQueued:      rc.MaxQueuedBytes,
		pollTimeout:    rc.PollTimeout(),
		connectTimeout: rc.ConnectTimeout(),
		keepAliveGrace: rc.KeepAliveGrace,
		handler:        h,
		registry:       newRegistry(),
		logger:         logging.NewLogger("reactor"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.connLog = logging.NewConnectionLogger(r.logger)
	return r
}

// Listen opens the listening socket and the poller.
func (r *Reactor) Listen() error {
	if r.listener != nil {
		return nil
	}
	if r.poller == nil {
		p, err := newPoller(r.maxEvents)
		if err != nil {
			return err
		}
		r.poller = p
	}

	ln, err := listenTCP(r.bindAddr)
	if err != nil {
		return err
	}
	if err := r.poller.add(ln.fd(), interestRead); err != nil {
		ln.close()
		return err
	}
	r.listener = ln
	r.addr.Store(ln.addr())
	r.logger.Info("Listening for MQTT clients", "addr", ln.addr().String())
	return nil
}

// Addr returns the bound address, or nil when not listening.
func (r *Reactor) Addr() net.Addr {
	if a := r.addr.Load(); a != nil {
		return a
	}
	return nil
}

// Listening returns nil while the listener is open.
func (r *Reactor) Listening() error {
	if r.addr.Load() == nil {
		return ErrListenerClosed
	}
	return nil
}

// Clients returns the number of live connections. Safe from any goroutine.
func (r *Reactor) Clients() int64 {
	return r.clients.Load()
}

// Accepted returns the number of connections accepted since start.
func (r *Reactor) Accepted() uint64 {
	return r.accepted.Load()
}

// Run serves clients until ctx is cancelled or the listener fails. It
// returns ctx.Err() on cancellation. Every connection is closed on return.
func (r *Reactor) Run(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p := r.poller
	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			if err := p.wake(); err != nil {
				r.logger.Error("Failed to wake poller", "error", err)
			}
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcherDone
		r.shutdown()
	}()

	events := make([]event, r.maxEvents)
	r.lastSweep = r.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.poller.wait(events, r.waitTimeout())
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		// The listener is served after the batch so a descriptor closed
		// above cannot be reused by a new client while stale events for
		// it are still pending.
		acceptReady := false
		for _, ev := range events[:n] {
			if ev.fd == r.listener.fd() {
				acceptReady = true
				continue
			}
			r.handleEvent(ev)
		}
		if acceptReady && !r.acceptPaused {
			if err := r.acceptLoop(); err != nil {
				return err
			}
		}
		if err := r.maybeResumeAccept(r.now()); err != nil {
			return err
		}

		if now := r.now(); now.Sub(r.lastSweep) >= r.pollTimeout {
			r.sweep(now)
			r.lastSweep = now
		}
	}
}

func (r *Reactor) handleEvent(ev event) {
	c, ok := r.registry.lookup(ev.fd)
	if !ok {
		return
	}
	if ev.readable && !c.closeAfterFlush {
		r.handleRead(c)
	}
	if ev.writable && c.state != StateDisconnecting {
		r.handleWrite(c)
	}
}

// acceptLoop accepts until the listener would block.
func (r *Reactor) acceptLoop() error {
	for {
		sock, fd, remote, err := r.listener.accept()
		switch {
		case err == nil:
		case errors.Is(err, errWouldBlock):
			return nil
		case errors.Is(err, errAcceptRetry):
			r.logger.Debug("Accept interrupted", "error", err)
			continue
		case errors.Is(err, errAcceptTransient):
			r.metrics.AcceptError()
			return r.pauseAccept(err)
		default:
			return fmt.Errorf("%w: %w", ErrListenerClosed, err)
		}

		if _, err := r.addConn(sock, fd, remote); err != nil {
			r.logger.Error("Failed to register connection", "remote_addr", remote, "error", err)
		}
	}
}

// pauseAccept stops watching the listener after a resource failure. A
// level-triggered listener with a pending connection would otherwise wake
// every poll until a descriptor frees up.
func (r *Reactor) pauseAccept(cause error) error {
	r.acceptFailures++
	if r.acceptPaused {
		return nil
	}
	if err := r.poller.modify(r.listener.fd(), 0); err != nil {
		return fmt.Errorf("%w: %w", ErrListenerClosed, err)
	}
	r.acceptPaused = true
	r.acceptResumeAt = r.now().Add(acceptBackoff)
	r.logger.Warn("Accept paused",
		"error", cause,
		"retry_in", acceptBackoff.String(),
		"failures", r.acceptFailures,
	)
	return nil
}

// maybeResumeAccept re-arms the listener once the backoff has elapsed.
func (r *Reactor) maybeResumeAccept(now time.Time) error {
	if !r.acceptPaused || now.Before(r.acceptResumeAt) || r.listener == nil {
		return nil
	}
	if err := r.poller.modify(r.listener.fd(), interestRead); err != nil {
		return fmt.Errorf("%w: %w", ErrListenerClosed, err)
	}
	r.acceptPaused = false
	r.logger.Info("Accept resumed", "failures", r.acceptFailures)
	r.acceptFailures = 0
	return nil
}

// waitTimeout shortens the poll while the listener waits to be re-armed.
func (r *Reactor) waitTimeout() time.Duration {
	timeout := r.pollTimeout
	if r.acceptPaused {
		if d := r.acceptResumeAt.Sub(r.now()); d < timeout {
			timeout = max(d, time.Millisecond)
		}
	}
	return timeout
}

// addConn registers an accepted socket in Connecting state, watched for
// read and write readiness.
func (r *Reactor) addConn(sock socket, fd int, remote string) (*Conn, error) {
	now := r.now()
	r.nextID++
	c := &Conn{
		r:            r,
		id:           r.nextID,
		fd:           fd,
		sock:         sock,
		remoteAddr:   remote,
		state:        StateConnecting,
		buf:          make([]byte, r.readBufSize),
		openedAt:     now,
		lastActivity: now,
	}
	if err := r.registry.insert(c); err != nil {
		sock.Close()
		return nil, err
	}
	c.interest = interestRead | interestWrite
	if err := r.poller.add(fd, c.interest); err != nil {
		r.registry.remove(fd)
		sock.Close()
		return nil, err
	}

	r.accepted.Add(1)
	active := r.clients.Add(1)
	r.metrics.ConnectionOpened()
	r.connLog.LogNewConnection(c.id, remote, active)
	return c, nil
}

// handleRead performs one read and decodes every complete frame.
func (r *Reactor) handleRead(c *Conn) {
	n, err := c.sock.Read(c.buf[c.n:])
	if n > 0 {
		c.n += n
		c.bytesIn += uint64(n)
		c.lastActivity = r.now()
		r.metrics.BytesReceived(n)
	}
	switch {
	case err == nil:
	case errors.Is(err, errWouldBlock):
		return
	case errors.Is(err, io.EOF):
		r.disconnect(c, ErrPeerClosed)
		return
	default:
		r.disconnect(c, fmt.Errorf("read: %w", err))
		return
	}

	r.processFrames(c)
}

// processFrames dispatches complete frames from the front of the buffer
// until it is exhausted or the connection stops reading.
func (r *Reactor) processFrames(c *Conn) {
	off := 0
	for c.state != StateDisconnecting && !c.closeAfterFlush {
		f, status, err := protocol.Decode(c.buf[off:c.n])
		if err != nil {
			r.violation(c, err)
			return
		}
		if status == protocol.Incomplete {
			break
		}
		if f.Len() > r.maxFrame {
			r.violation(c, ErrFrameTooLarge)
			return
		}
		off += f.Len()
		r.metrics.FrameReceived(f.Type.String())
		r.dispatch(c, f)
	}

	switch {
	case c.state == StateDisconnecting:
		return
	case c.closeAfterFlush:
		// Bytes after the last handled frame are never read.
		c.n = 0
	case off > 0:
		c.n = copy(c.buf, c.buf[off:c.n])
	}
	r.fitBuffer(c)
}

// fitBuffer sizes the read buffer for the pending frame, or disconnects
// when that frame cannot fit in max_frame_size.
func (r *Reactor) fitBuffer(c *Conn) {
	if c.n == 0 {
		if len(c.buf) > r.readBufSize {
			c.buf = make([]byte, r.readBufSize)
		}
		return
	}

	want := len(c.buf)
	size, ok, err := protocol.DeclaredSize(c.buf[:c.n])
	switch {
	case err != nil:
		r.violation(c, err)
		return
	case ok:
		if size > r.maxFrame {
			r.violation(c, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, size, r.maxFrame))
			return
		}
		if size > want {
			want = size
		}
	case c.n == len(c.buf):
		// Header still incomplete with no room left.
		want = min(2*len(c.buf), r.maxFrame)
		if want == len(c.buf) {
			r.violation(c, ErrFrameTooLarge)
			return
		}
	}

	if want > len(c.buf) {
		grown := make([]byte, want)
		copy(grown, c.buf[:c.n])
		c.buf = grown
	}
}

// dispatch applies the state gate and hands f to the handler.
func (r *Reactor) dispatch(c *Conn, f protocol.Frame) {
	switch c.state {
	case StateConnecting:
		if f.Type != protocol.Connect {
			r.violation(c, fmt.Errorf("%w: %s before CONNECT", errUnexpectedPacket, f.Type))
			return
		}
		if err := r.handler.HandleConnect(c, f); err != nil {
			r.fail(c, err)
			return
		}
		if c.closeAfterFlush || c.state == StateDisconnecting {
			return
		}
		c.state = StateConnected
		id, _ := c.Identifier()
		r.logger.Debug("Client connected", "conn_id", c.id, "client_id", id)

	case StateConnected:
		if f.Type == protocol.Connect {
			r.violation(c, fmt.Errorf("%w: second CONNECT", errUnexpectedPacket))
			return
		}
		if err := r.handler.Dispatch(c, f); err != nil {
			r.fail(c, err)
		}
	}
}

// handleWrite makes at most one write attempt for the head envelope.
func (r *Reactor) handleWrite(c *Conn) {
	env := c.queue.front()
	if env == nil {
		if c.closeAfterFlush {
			r.disconnect(c, c.closeReason)
			return
		}
		r.updateInterest(c)
		return
	}

	n, err := c.sock.Write(env.Remaining())
	if n > 0 {
		c.queue.advance(n)
		c.bytesOut += uint64(n)
		r.metrics.BytesSent(n)
	}
	if err != nil && !errors.Is(err, errWouldBlock) {
		r.disconnect(c, fmt.Errorf("write: %w", err))
		return
	}

	if c.queue.len() == 0 {
		if c.closeAfterFlush {
			r.disconnect(c, c.closeReason)
			return
		}
		r.updateInterest(c)
	}
}

// updateInterest re-registers c when its wanted readiness set changed.
func (r *Reactor) updateInterest(c *Conn) {
	if c.state == StateDisconnecting {
		return
	}
	want := c.wantInterest()
	if want == c.interest {
		return
	}
	if err := r.poller.modify(c.fd, want); err != nil {
		r.disconnect(c, fmt.Errorf("poller: %w", err))
		return
	}
	c.interest = want
}

// sweep disconnects clients that missed their CONNECT, keepalive or flush
// deadline.
func (r *Reactor) sweep(now time.Time) {
	for _, c := range r.registry.snapshot() {
		if c.closeAfterFlush {
			// A peer that stops reading cannot hold a closing connection open.
			if r.connectTimeout > 0 && now.Sub(c.closingSince) > r.connectTimeout {
				r.disconnect(c, c.closeReason)
			}
			continue
		}
		switch c.state {
		case StateConnecting:
			if r.connectTimeout > 0 && now.Sub(c.openedAt) > r.connectTimeout {
				r.disconnect(c, ErrConnectTimeout)
			}
		case StateConnected:
			if c.keepAlive <= 0 {
				continue
			}
			limit := time.Duration(float64(c.keepAlive) * r.keepAliveGrace)
			if now.Sub(c.lastActivity) > limit {
				r.disconnect(c, ErrKeepAliveExpired)
			}
		}
	}
}

// fail disconnects c for a handler error.
func (r *Reactor) fail(c *Conn, err error) {
	if isViolation(err) {
		r.violation(c, err)
		return
	}
	r.disconnect(c, err)
}

func (r *Reactor) violation(c *Conn, err error) {
	r.metrics.ProtocolViolation(violationReason(err))
	if !errors.Is(err, ErrProtocolViolation) {
		err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	r.disconnect(c, err)
}

// disconnect tears c down. It is idempotent.
func (r *Reactor) disconnect(c *Conn, reason error) {
	if c.state == StateDisconnecting {
		return
	}
	c.state = StateDisconnecting

	r.handler.HandleDisconnect(c, reason)

	if err := r.poller.remove(c.fd); err != nil {
		r.logger.Debug("Failed to remove descriptor from poller", "conn_id", c.id, "error", err)
	}
	r.registry.remove(c.fd)
	if err := c.sock.Close(); err != nil {
		r.logger.Debug("Failed to close socket", "conn_id", c.id, "error", err)
	}
	c.release()

	r.clients.Add(-1)
	r.metrics.ConnectionClosed()
	if r.acceptPaused {
		// A descriptor just came free.
		r.acceptResumeAt = r.now()
	}

	lifetime := r.now().Sub(c.openedAt)
	switch {
	case isOrderly(reason):
		r.connLog.LogConnectionClosed(c.id, c.remoteAddr, reason, true, lifetime, c.bytesIn, c.bytesOut)
	case errors.Is(reason, ErrProtocolViolation), errors.Is(reason, ErrKeepAliveExpired),
		errors.Is(reason, ErrConnectTimeout), errors.Is(reason, ErrConnectRefused):
		r.connLog.LogConnectionClosed(c.id, c.remoteAddr, reason, false, lifetime, c.bytesIn, c.bytesOut)
	default:
		r.logger.Error("Connection failed",
			"conn_id", c.id,
			"remote_addr", c.remoteAddr,
			"error", reason,
		)
	}
}

// shutdown closes every connection, the listener and the poller.
func (r *Reactor) shutdown() {
	open := r.registry.len()
	for _, c := range r.registry.snapshot() {
		r.disconnect(c, ErrShutdown)
	}
	r.addr.Store(nil)
	if r.listener != nil {
		r.poller.remove(r.listener.fd())
		if err := r.listener.close(); err != nil {
			r.logger.Error("Failed to close listener", "error", err)
		}
		r.listener = nil
	}
	if r.poller != nil {
		r.poller.close()
		r.poller = nil
	}
	r.logger.Info("Reactor stopped", "accepted", r.accepted.Load(), "closed", open)
}
