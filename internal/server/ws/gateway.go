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

// Package ws carries MQTT over WebSocket for browser clients.
//
// Each WebSocket session opens a TCP connection to the broker's own MQTT
// listener and relays bytes in both directions. Binary WebSocket messages
// are written to TCP unchanged; an MQTT packet may span several messages
// and one message may carry several packets. The broker therefore sees a
// plain MQTT byte stream and applies the same framing and state rules as
// for any TCP client.
//
// Clients must offer the "mqtt" subprotocol. Text messages close the
// session. With a certificate configured the gateway serves wss:// and the
// relay to the broker stays on the loopback TCP path.
package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"flyedge/internal/config"
	"flyedge/internal/crypto"
	"flyedge/internal/logging"
)

// Subprotocol is the WebSocket subprotocol MQTT clients negotiate.
const Subprotocol = "mqtt"

// Default configuration values for WebSocket gateway
const (
	// DefaultReadBufferSize is the default size of the read buffer
	DefaultReadBufferSize = 4096
	// DefaultWriteBufferSize is the default size of the write buffer
	DefaultWriteBufferSize = 4096
	// DefaultPingInterval is the interval for sending ping frames
	DefaultPingInterval = 30 * time.Second
	// DefaultPongTimeout is the timeout for receiving pong responses
	DefaultPongTimeout = 10 * time.Second
	// DefaultWriteTimeout is the timeout for write operations
	DefaultWriteTimeout = 10 * time.Second
	// DefaultDialTimeout bounds the connection to the MQTT listener
	DefaultDialTimeout = 5 * time.Second
)

// ErrTextMessage is returned when a client sends a text frame.
var ErrTextMessage = errors.New("websocket: text message on MQTT session")

// createUpgrader creates a WebSocket upgrader with the given configuration.
// The allowedOrigins parameter specifies which origins are allowed to connect.
// If empty or contains "*", all origins are allowed.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// No origin header - likely not a browser request
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed || strings.HasSuffix(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}

// wsConn serializes writes to a websocket.Conn and keeps it alive with
// ping frames.
type wsConn struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	lastPong   time.Time
	pingTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// newWSConn creates a new wsConn wrapper with ping/pong support.
func newWSConn(conn *websocket.Conn, pingInterval time.Duration) *wsConn {
	c := &wsConn{
		conn:     conn,
		lastPong: time.Now(),
		done:     make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.pingTicker = time.NewTicker(pingInterval)
	go c.pingLoop(pingInterval)
	return c
}

// pingLoop sends periodic ping frames and closes connections whose pongs
// stopped arriving.
func (c *wsConn) pingLoop(interval time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-c.pingTicker.C:
			c.mu.Lock()
			if time.Since(c.lastPong) > interval+DefaultPongTimeout {
				c.mu.Unlock()
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// WriteBinary writes one binary message with a timeout.
func (c *wsConn) WriteBinary(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

// Close stops the ping loop and closes the connection. It is safe to call
// more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.pingTicker.Stop()
		err = c.conn.Close()
	})
	return err
}

// Gateway accepts MQTT-over-WebSocket sessions and relays them to the
// broker's TCP listener.
type Gateway struct {
	config       *config.WebSocketConfig
	target       func() net.Addr
	logger       *logging.Logger
	connLog      *logging.ConnectionLogger
	upgrader     websocket.Upgrader
	dialer       net.Dialer
	pingInterval time.Duration

	nextID atomic.Uint64
	active atomic.Int64
	addr   atomic.Pointer[net.Addr]
}

// NewGateway creates a WebSocket gateway. target reports the address of
// the MQTT listener; it is consulted for every session so the listener may
// bind after the gateway is created.
func NewGateway(cfg *config.WebSocketConfig, target func() net.Addr, logger *logging.Logger) *Gateway {
	return &Gateway{
		config:       cfg,
		target:       target,
		logger:       logger,
		connLog:      logging.NewConnectionLogger(logger),
		upgrader:     createUpgrader(cfg.AllowedOrigins),
		dialer:       net.Dialer{Timeout: DefaultDialTimeout},
		pingInterval: DefaultPingInterval,
	}
}

// Active returns the number of open WebSocket sessions.
func (g *Gateway) Active() int64 {
	return g.active.Load()
}

// Addr returns the bound address once Run is listening, or nil.
func (g *Gateway) Addr() net.Addr {
	if a := g.addr.Load(); a != nil {
		return *a
	}
	return nil
}

// Handler returns the HTTP handler serving the configured path.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.config.Path, g.handleWebSocket)
	return mux
}

// Run serves WebSocket sessions on the configured address until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket gateway: %w", err)
	}
	scheme := "ws"
	if g.config.TLS.Enabled() {
		tlsConfig, err := crypto.NewServerTLSConfig(g.config.TLS)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to start WebSocket gateway: %w", err)
		}
		ln = tls.NewListener(ln, tlsConfig)
		scheme = "wss"
	}
	addr := ln.Addr()
	g.addr.Store(&addr)

	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.logger.Info("WebSocket gateway listening",
		"addr", addr.String(),
		"path", g.config.Path,
		"scheme", scheme,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("websocket gateway shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("websocket gateway: %w", err)
	}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !slices.Contains(websocket.Subprotocols(r), Subprotocol) {
		http.Error(w, "mqtt subprotocol required", http.StatusBadRequest)
		return
	}

	addr := g.target()
	if addr == nil {
		http.Error(w, "broker not listening", http.StatusServiceUnavailable)
		return
	}
	upstream, err := g.dialer.DialContext(r.Context(), "tcp", addr.String())
	if err != nil {
		g.logger.Error("Failed to reach MQTT listener", "addr", addr.String(), "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	defer upstream.Close()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	ws := newWSConn(conn, g.pingInterval)
	defer ws.Close()

	id := g.nextID.Add(1)
	remote := conn.RemoteAddr().String()
	g.connLog.LogNewConnection(id, remote, g.active.Add(1))
	defer g.active.Add(-1)

	start := time.Now()
	in, out, err := g.relay(r.Context(), ws, upstream)
	g.connLog.LogConnectionClosed(id, remote, err, err == nil, time.Since(start), in, out)
}

// relay copies bytes between the WebSocket session and the TCP upstream
// until either side closes. It returns the byte counts in each direction
// and the first error that is not a normal close.
func (g *Gateway) relay(ctx context.Context, ws *wsConn, upstream net.Conn) (in, out uint64, err error) {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-gctx.Done()
		ws.Close()
		upstream.Close()
		return nil
	})

	group.Go(func() error {
		for {
			kind, r, err := ws.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return io.EOF
				}
				return err
			}
			if kind != websocket.BinaryMessage {
				ws.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary frames only"),
					time.Now().Add(time.Second))
				return ErrTextMessage
			}
			n, err := io.Copy(upstream, r)
			in += uint64(n)
			if err != nil {
				return err
			}
		}
	})

	group.Go(func() error {
		buf := make([]byte, DefaultReadBufferSize)
		for {
			n, err := upstream.Read(buf)
			if n > 0 {
				if werr := ws.WriteBinary(buf[:n]); werr != nil {
					return werr
				}
				out += uint64(n)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					ws.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
					return io.EOF
				}
				return err
			}
		}
	})

	err = group.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}
	return in, out, err
}
