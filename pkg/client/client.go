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
Package client provides the flyedge Go client library.

QUICK START:
============

	// Connect to flyedge (or "ws://localhost:8083/mqtt" through the gateway)
	c, err := client.NewClient("localhost:1883")
	defer c.Close()

	// Publish a message
	err = c.Publish("sensors/kitchen/temp", []byte("21.5"), 1, false)

	// Receive messages
	codes, err := c.Subscribe(client.Subscription{Filter: "sensors/#", QoS: 1})
	for msg := range c.Messages() {
	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
	}

AUTHENTICATION:
===============

	c, err := client.NewClientWithOptions("localhost:1883", client.ClientOptions{
	    Username: "alice",
	    Password: "secret",
	})

THREAD SAFETY:
==============
The client is safe for concurrent use by multiple goroutines. Incoming
messages are delivered on a single channel that the caller must drain;
an undrained channel stalls acknowledgements for every other call.
*/
package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"flyedge/internal/protocol"
)

// Client errors.
var (
	// ErrClosed is returned by calls made after the connection has ended.
	ErrClosed = errors.New("client closed")

	// ErrTimeout is returned when the broker does not acknowledge a request
	// within RequestTimeout.
	ErrTimeout = errors.New("request timed out")

	// ErrUnexpectedPacket is returned when the broker answers CONNECT with
	// something other than CONNACK.
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

// ConnackError reports a CONNECT the broker refused.
type ConnackError struct {
	Code protocol.ConnackCode
}

func (e *ConnackError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Code)
}

// Will is the message the broker publishes when the client disappears
// without sending DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ClientOptions configures the client connection.
type ClientOptions struct {
	ClientID     string // Empty asks the broker to assign one
	CleanSession *bool  // Defaults to true
	Will         *Will

	// Authentication configuration
	Username string // Username for authentication (optional)
	Password string // Password for authentication (optional)

	// Connection behavior
	KeepAlive      int // Keepalive interval in seconds, 0 disables it (default: 30)
	ConnectTimeout int // Connection timeout in seconds (default: 10)
	RequestTimeout int // Acknowledgement timeout in seconds (default: 10)
	MaxFrameSize   int // Largest frame accepted from the broker (default: 256KB)
	MessageBuffer  int // Capacity of the Messages channel (default: 256)

	// TLSConfig secures wss:// addresses, or plain addresses behind a TLS
	// terminating proxy. Nil dials without TLS.
	TLSConfig *tls.Config
}

// Subscription is one topic filter to subscribe to.
type Subscription = protocol.Subscription

// Message is an application message delivered by the broker.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Client represents one MQTT session with a flyedge broker.
type Client struct {
	conn     net.Conn
	opts     ClientOptions
	clientID string

	writeMu sync.Mutex // Serializes frames onto conn

	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]chan []byte
	err     error

	pingMu   sync.Mutex
	pingResp chan struct{}

	messages chan *Message
	done     chan struct{}
	closed   sync.Once
}

// NewClient creates a new client connected to the specified address.
func NewClient(addr string) (*Client, error) {
	return NewClientWithOptions(addr, ClientOptions{})
}

// NewClientWithOptions dials addr, performs the CONNECT handshake and starts
// the background reader.
func NewClientWithOptions(addr string, opts ClientOptions) (*Client, error) {
	// Set defaults
	if opts.CleanSession == nil {
		clean := true
		opts.CleanSession = &clean
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30
	}
	if opts.KeepAlive < 0 {
		opts.KeepAlive = 0
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10
	}
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = 256 * 1024
	}
	if opts.MessageBuffer == 0 {
		opts.MessageBuffer = 256
	}

	conn, err := dial(addr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		opts:     opts,
		clientID: opts.ClientID,
		pending:  make(map[uint16]chan []byte),
		pingResp: make(chan struct{}, 1),
		messages: make(chan *Message, opts.MessageBuffer),
		done:     make(chan struct{}),
	}

	r := bufio.NewReader(conn)
	if err := c.handshake(r); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop(r)
	if opts.KeepAlive > 0 {
		go c.keepAliveLoop(time.Duration(opts.KeepAlive) * time.Second)
	}
	return c, nil
}

func (c *Client) handshake(r *bufio.Reader) error {
	pkt := &protocol.ConnectPacket{
		CleanSession: *c.opts.CleanSession,
		KeepAlive:    uint16(c.opts.KeepAlive),
		ClientID:     c.opts.ClientID,
	}
	if w := c.opts.Will; w != nil {
		pkt.WillFlag = true
		pkt.WillTopic = w.Topic
		pkt.WillMessage = w.Payload
		pkt.WillQoS = w.QoS
		pkt.WillRetain = w.Retain
	}
	if c.opts.Username != "" {
		pkt.HasUsername = true
		pkt.Username = c.opts.Username
		if c.opts.Password != "" {
			pkt.HasPassword = true
			pkt.Password = []byte(c.opts.Password)
		}
	}

	deadline := time.Now().Add(time.Duration(c.opts.ConnectTimeout) * time.Second)
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write(protocol.EncodeConnect(pkt)); err != nil {
		return fmt.Errorf("failed to send connect: %w", err)
	}

	f, err := readFrame(r, c.opts.MaxFrameSize)
	if err != nil {
		return fmt.Errorf("failed to read connack: %w", err)
	}
	if f.Type != protocol.Connack {
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, f.Type)
	}
	_, code, err := protocol.ParseConnack(f.Payload())
	if err != nil {
		return err
	}
	if code != protocol.ConnAccepted {
		return &ConnackError{Code: code}
	}
	return nil
}

// readFrame reads exactly one frame from r into a fresh buffer.
func readFrame(r *bufio.Reader, maxSize int) (protocol.Frame, error) {
	hdr := make([]byte, 0, 1+protocol.MaxRemainingLengthBytes)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return protocol.Frame{}, err
		}
		hdr = append(hdr, b)

		size, ok, err := protocol.DeclaredSize(hdr)
		if err != nil {
			return protocol.Frame{}, err
		}
		if !ok {
			continue
		}
		if maxSize > 0 && size > maxSize {
			return protocol.Frame{}, fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, size)
		}

		buf := make([]byte, size)
		n := copy(buf, hdr)
		if _, err := io.ReadFull(r, buf[n:]); err != nil {
			return protocol.Frame{}, err
		}
		f, _, err := protocol.Decode(buf)
		return f, err
	}
}

func (c *Client) readLoop(r *bufio.Reader) {
	var err error
	defer func() {
		c.shutdown(err)
		close(c.messages)
	}()

	for {
		var f protocol.Frame
		f, err = readFrame(r, c.opts.MaxFrameSize)
		if err != nil {
			return
		}

		switch f.Type {
		case protocol.Publish:
			var pkt *protocol.PublishPacket
			pkt, err = protocol.ParsePublish(f.Flags, f.Payload())
			if err != nil {
				return
			}
			if pkt.QoS == 1 {
				if err = c.writeFrame(protocol.EncodePuback(pkt.PacketID)); err != nil {
					return
				}
			}
			msg := &Message{Topic: pkt.Topic, Payload: pkt.Payload, QoS: pkt.QoS, Retain: pkt.Retain}
			select {
			case c.messages <- msg:
			case <-c.done:
				return
			}

		case protocol.Puback, protocol.Suback, protocol.Unsuback:
			var id uint16
			id, err = protocol.ParsePacketID(f.Payload())
			if err != nil {
				return
			}
			c.complete(id, f.Payload())

		case protocol.Pingresp:
			select {
			case c.pingResp <- struct{}{}:
			default:
			}

		default:
			err = fmt.Errorf("%w: %s", ErrUnexpectedPacket, f.Type)
			return
		}
	}
}

func (c *Client) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.shutdown(fmt.Errorf("keepalive: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// shutdown records the first terminal error and releases every waiter.
func (c *Client) shutdown(err error) {
	c.closed.Do(func() {
		if err == nil || errors.Is(err, net.ErrClosed) {
			err = ErrClosed
		}
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writeFrame(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// register reserves a packet identifier and the channel its ack lands on.
func (c *Client) register() (uint16, chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, nil, c.err
	}
	for {
		c.nextID++
		if c.nextID == 0 {
			continue
		}
		if _, busy := c.pending[c.nextID]; !busy {
			break
		}
	}
	ch := make(chan []byte, 1)
	c.pending[c.nextID] = ch
	return c.nextID, ch, nil
}

func (c *Client) complete(id uint16, body []byte) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- body
	}
}

func (c *Client) forget(id uint16) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// request writes frame and waits for the ack carrying id.
func (c *Client) request(id uint16, ack chan []byte, frame []byte) ([]byte, error) {
	if err := c.writeFrame(frame); err != nil {
		c.forget(id)
		return nil, err
	}

	timer := time.NewTimer(time.Duration(c.opts.RequestTimeout) * time.Second)
	defer timer.Stop()

	select {
	case body := <-ack:
		return body, nil
	case <-c.done:
		return nil, c.Err()
	case <-timer.C:
		c.forget(id)
		return nil, ErrTimeout
	}
}

// ClientID returns the client identifier sent in CONNECT. It is empty when
// the broker assigned one.
func (c *Client) ClientID() string {
	return c.clientID
}

// Messages returns the channel of incoming application messages. It is
// closed when the connection ends.
func (c *Client) Messages() <-chan *Message {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Publish sends an application message. With qos 1 it blocks until the
// broker acknowledges it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if qos > 1 {
		return fmt.Errorf("qos %d not supported", qos)
	}
	pkt := &protocol.PublishPacket{Topic: topic, QoS: qos, Retain: retain, Payload: payload}
	if qos == 0 {
		if err := c.Err(); err != nil {
			return err
		}
		return c.writeFrame(protocol.EncodePublish(pkt))
	}

	id, ack, err := c.register()
	if err != nil {
		return err
	}
	pkt.PacketID = id
	_, err = c.request(id, ack, protocol.EncodePublish(pkt))
	return err
}

// Subscribe registers topic filters and returns the broker's return code
// for each one, in order. protocol.SubackFailure marks a rejected filter.
func (c *Client) Subscribe(subs ...Subscription) ([]byte, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("no subscriptions")
	}
	id, ack, err := c.register()
	if err != nil {
		return nil, err
	}
	body, err := c.request(id, ack, protocol.EncodeSubscribe(id, subs))
	if err != nil {
		return nil, err
	}
	_, codes, err := protocol.ParseSuback(body)
	if err != nil {
		return nil, err
	}
	if len(codes) != len(subs) {
		return nil, fmt.Errorf("suback carries %d codes for %d filters", len(codes), len(subs))
	}
	return codes, nil
}

// Unsubscribe removes topic filters.
func (c *Client) Unsubscribe(filters ...string) error {
	if len(filters) == 0 {
		return fmt.Errorf("no filters")
	}
	id, ack, err := c.register()
	if err != nil {
		return err
	}
	_, err = c.request(id, ack, protocol.EncodeUnsubscribe(id, filters))
	return err
}

// Ping sends PINGREQ and waits for PINGRESP.
func (c *Client) Ping() error {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()

	if err := c.Err(); err != nil {
		return err
	}
	// Drop a response left over from a timed-out ping.
	select {
	case <-c.pingResp:
	default:
	}
	if err := c.writeFrame(protocol.EncodePingreq()); err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(c.opts.RequestTimeout) * time.Second)
	defer timer.Stop()

	select {
	case <-c.pingResp:
		return nil
	case <-c.done:
		return c.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// Disconnect sends DISCONNECT, which discards the will, and closes the
// connection.
func (c *Client) Disconnect() error {
	if err := c.Err(); err != nil {
		return err
	}
	err := c.writeFrame(protocol.EncodeDisconnect())
	c.shutdown(nil)
	return err
}

// Close closes the connection without DISCONNECT. The broker publishes the
// will, if one was set.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}
