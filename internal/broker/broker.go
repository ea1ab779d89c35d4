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
Package broker is the MQTT 3.1.1 protocol handler that runs on top of the
reactor.

ARCHITECTURE OVERVIEW:
======================
The reactor owns sockets, framing and connection state. The broker owns
everything a frame means: sessions, subscriptions, retained messages and
delivery. Every Handler callback runs on the reactor goroutine, so the
broker holds no locks.

	Reactor
	 └── Broker (reactor.Handler)
	      ├── sessions  (client id -> *session)
	      ├── subs      (topic.Tree[*session])
	      └── retained  (topic name -> PUBLISH frame)

DELIVERY:
=========
- PUBLISH at QoS 0 or 1 is fanned out to every matching subscriber.
- One PUBLISH frame is encoded per incoming message and shared by every
  subscriber queue. Frames are never mutated after encoding.
- Delivery is at QoS 0. A QoS 1 publisher gets its PUBACK once the fan-out
  has been queued.
- QoS 2 is refused as a protocol violation.

SESSIONS:
=========
Sessions live as long as their connection. A second CONNECT with a client
id already in use takes the id over and closes the older connection.
*/
package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flyedge/internal/auth"
	"flyedge/internal/logging"
	"flyedge/internal/metrics"
	"flyedge/internal/protocol"
	"flyedge/internal/reactor"
	"flyedge/internal/topic"
)

// Broker errors.
var (
	// ErrSessionTakenOver is the disconnect reason for a connection whose
	// client id was claimed by a newer connection.
	ErrSessionTakenOver = errors.New("session taken over")

	// ErrQoSNotSupported rejects QoS 2 publishes.
	ErrQoSNotSupported = fmt.Errorf("%w: QoS 2 not supported", reactor.ErrProtocolViolation)
)

// Client is the connection surface the broker needs. *reactor.Conn
// implements it.
type Client interface {
	ID() uint64
	RemoteAddr() string
	Identifier() (string, bool)
	SetIdentity(id string)
	Will() *reactor.Will
	SetWill(w reactor.Will)
	ClearWill()
	SetKeepAlive(d time.Duration)
	Enqueue(payload []byte) error
	CloseAfterFlush(reason error)
}

var _ Client = (*reactor.Conn)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithAuthorizer checks credentials and topic permissions with a.
func WithAuthorizer(a *auth.Authorizer) Option {
	return func(b *Broker) { b.authz = a }
}

// WithMetrics records broker metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// WithLogger replaces the default "broker" logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker implements reactor.Handler.
type Broker struct {
	authz   *auth.Authorizer
	metrics *metrics.Metrics
	logger  *logging.Logger
	secLog  *logging.SecurityLogger

	sessions map[string]*session
	byConn   map[uint64]*session
	subs     *topic.Tree[*session]
	retained *retainedStore

	newClientID func() string
}

var _ reactor.Handler = (*Broker)(nil)

// New creates a broker. Without WithAuthorizer every client is admitted.
func New(opts ...Option) *Broker {
	b := &Broker{
		logger:      logging.NewLogger("broker"),
		sessions:    make(map[string]*session),
		byConn:      make(map[uint64]*session),
		subs:        topic.NewTree[*session](),
		retained:    newRetainedStore(),
		newClientID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.secLog = logging.NewSecurityLogger(b.logger)
	return b
}

// HandleConnect implements reactor.Handler.
func (b *Broker) HandleConnect(c *reactor.Conn, f protocol.Frame) error {
	return b.connect(c, f)
}

// Dispatch implements reactor.Handler.
func (b *Broker) Dispatch(c *reactor.Conn, f protocol.Frame) error {
	return b.dispatch(c, f)
}

// HandleDisconnect implements reactor.Handler.
func (b *Broker) HandleDisconnect(c *reactor.Conn, reason error) {
	b.disconnect(c, reason)
}

func (b *Broker) connect(c Client, f protocol.Frame) error {
	p, err := protocol.ParseConnect(f.Payload())
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedProtocol) {
			return b.refuse(c, protocol.ConnRefusedProtocolVersion)
		}
		return err
	}

	clientID := p.ClientID
	if clientID == "" {
		if !p.CleanSession {
			return b.refuse(c, protocol.ConnRefusedIdentifierRejected)
		}
		clientID = b.newClientID()
	}

	if p.WillFlag {
		if err := topic.ValidateName(p.WillTopic); err != nil {
			return fmt.Errorf("%w: will topic: %w", protocol.ErrMalformedPacket, err)
		}
	}

	// TODO: bcrypt runs on the reactor goroutine; cache verified
	// credentials so reconnect storms do not stall the loop.
	user, err := b.authz.Authenticate(p.Username, p.HasUsername, p.Password)
	if err != nil {
		b.secLog.LogAuthFailure(clientID, p.Username, err.Error(), c.RemoteAddr())
		if errors.Is(err, auth.ErrAuthRequired) {
			return b.refuse(c, protocol.ConnRefusedNotAuthorized)
		}
		return b.refuse(c, protocol.ConnRefusedBadCredentials)
	}
	if user != nil {
		b.secLog.LogAuthSuccess(clientID, user.Username, c.RemoteAddr())
	}

	if old, ok := b.sessions[clientID]; ok {
		b.logger.Info("Client id taken over",
			"client_id", clientID,
			"old_conn_id", old.client.ID(),
			"conn_id", c.ID(),
		)
		b.dropSubscriptions(old)
		old.client.CloseAfterFlush(ErrSessionTakenOver)
	}

	s := newSession(c, clientID, user)
	b.sessions[clientID] = s
	b.byConn[c.ID()] = s

	c.SetIdentity(clientID)
	c.SetKeepAlive(time.Duration(p.KeepAlive) * time.Second)
	if p.WillFlag {
		c.SetWill(reactor.Will{
			Topic:   p.WillTopic,
			Message: p.WillMessage,
			QoS:     p.WillQoS,
			Retain:  p.WillRetain,
		})
	}

	return c.Enqueue(protocol.EncodeConnack(false, protocol.ConnAccepted))
}

// refuse answers CONNECT with a failure code and closes once it is sent.
func (b *Broker) refuse(c Client, code protocol.ConnackCode) error {
	if err := c.Enqueue(protocol.EncodeConnack(false, code)); err != nil {
		return err
	}
	c.CloseAfterFlush(fmt.Errorf("%w: %s", reactor.ErrConnectRefused, code))
	return nil
}

func (b *Broker) dispatch(c Client, f protocol.Frame) error {
	s, ok := b.byConn[c.ID()]
	if !ok {
		return fmt.Errorf("no session for connection %d", c.ID())
	}

	switch f.Type {
	case protocol.Pingreq:
		if f.RemainingLength != 0 {
			return fmt.Errorf("%w: PINGREQ with body", protocol.ErrMalformedPacket)
		}
		return c.Enqueue(protocol.EncodePingresp())

	case protocol.Publish:
		return b.handlePublish(s, f)

	case protocol.Subscribe:
		return b.handleSubscribe(s, f)

	case protocol.Unsubscribe:
		return b.handleUnsubscribe(s, f)

	case protocol.Disconnect:
		if f.RemainingLength != 0 {
			return fmt.Errorf("%w: DISCONNECT with body", protocol.ErrMalformedPacket)
		}
		c.ClearWill()
		return reactor.ErrClientDisconnect

	case protocol.Puback:
		// Deliveries go out at QoS 0, so acknowledgements are unexpected
		// but harmless.
		return nil

	default:
		b.logger.Debug("Dropping unsupported packet",
			"client_id", s.clientID,
			"type", f.Type.String(),
		)
		return nil
	}
}

func (b *Broker) handlePublish(s *session, f protocol.Frame) error {
	p, err := protocol.ParsePublish(f.Flags, f.Payload())
	if err != nil {
		return err
	}
	if p.QoS == 2 {
		return ErrQoSNotSupported
	}
	if err := topic.ValidateName(p.Topic); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrMalformedPacket, err)
	}

	if err := b.authz.CanPublish(s.username, p.Topic); err != nil {
		b.logger.Warn("Publish unauthorized",
			"client_id", s.clientID,
			"topic", p.Topic,
			"user", s.username,
			"payload", logging.SanitizePayload(p.Payload),
			"error", err,
		)
	} else {
		b.publish(p.Topic, p.Payload, p.Retain)
	}

	if p.QoS == 1 {
		return s.client.Enqueue(protocol.EncodePuback(p.PacketID))
	}
	return nil
}

// publish fans a message out to matching subscribers and returns the
// number of queued deliveries.
func (b *Broker) publish(name string, payload []byte, retain bool) int {
	if retain {
		b.retained.set(name, payload)
		b.logger.Debug("Retained message updated",
			"topic", name,
			"payload", logging.SanitizePayload(payload),
			"retained", b.retained.len(),
		)
	}

	matches := b.subs.Match(name)
	if len(matches) == 0 {
		b.metrics.MessagePublished(0)
		return 0
	}

	frame := protocol.EncodePublish(&protocol.PublishPacket{Topic: name, Payload: payload})
	delivered := 0
	for sub := range matches {
		if err := sub.client.Enqueue(frame); err != nil {
			b.logger.Debug("Delivery dropped",
				"client_id", sub.clientID,
				"topic", name,
				"error", err,
			)
			continue
		}
		delivered++
	}
	b.metrics.MessagePublished(delivered)
	return delivered
}

func (b *Broker) handleSubscribe(s *session, f protocol.Frame) error {
	id, subs, err := protocol.ParseSubscribe(f.Flags, f.Payload())
	if err != nil {
		return err
	}

	codes := make([]byte, len(subs))
	var granted []string
	for i, sub := range subs {
		if err := topic.ValidateFilter(sub.Filter); err != nil {
			b.logger.Debug("Invalid topic filter", "client_id", s.clientID, "filter", sub.Filter, "error", err)
			codes[i] = protocol.SubackFailure
			continue
		}
		if err := b.authz.CanSubscribe(s.username, sub.Filter); err != nil {
			b.logger.Warn("Subscribe unauthorized",
				"client_id", s.clientID,
				"filter", sub.Filter,
				"user", s.username,
				"error", err,
			)
			codes[i] = protocol.SubackFailure
			continue
		}

		qos := min(sub.QoS, 1)
		b.subs.Subscribe(sub.Filter, s, qos)
		s.filters[sub.Filter] = qos
		codes[i] = qos
		granted = append(granted, sub.Filter)
	}
	b.metrics.SetSubscriptions(b.subs.Len())

	if err := s.client.Enqueue(protocol.EncodeSuback(id, codes)); err != nil {
		return err
	}

	// Retained messages follow the SUBACK.
	for _, filter := range granted {
		for _, frame := range b.retained.match(filter) {
			if err := s.client.Enqueue(frame); err != nil {
				b.logger.Debug("Retained delivery dropped", "client_id", s.clientID, "error", err)
			}
		}
	}
	return nil
}

func (b *Broker) handleUnsubscribe(s *session, f protocol.Frame) error {
	id, filters, err := protocol.ParseUnsubscribe(f.Flags, f.Payload())
	if err != nil {
		return err
	}
	for _, filter := range filters {
		if _, ok := s.filters[filter]; !ok {
			continue
		}
		b.subs.Unsubscribe(filter, s)
		delete(s.filters, filter)
	}
	b.metrics.SetSubscriptions(b.subs.Len())
	return s.client.Enqueue(protocol.EncodeUnsuback(id))
}

func (b *Broker) disconnect(c Client, reason error) {
	s, ok := b.byConn[c.ID()]
	if !ok {
		return
	}
	delete(b.byConn, c.ID())
	if b.sessions[s.clientID] == s {
		delete(b.sessions, s.clientID)
	}
	b.dropSubscriptions(s)

	if w := c.Will(); w != nil {
		b.publishWill(s, w, reason)
	}
}

func (b *Broker) publishWill(s *session, w *reactor.Will, reason error) {
	if err := b.authz.CanPublish(s.username, w.Topic); err != nil {
		b.logger.Warn("Will publish unauthorized",
			"client_id", s.clientID,
			"topic", w.Topic,
			"error", err,
		)
		return
	}
	n := b.publish(w.Topic, w.Message, w.Retain)
	b.logger.Debug("Published will",
		"client_id", s.clientID,
		"topic", w.Topic,
		"payload", logging.SanitizePayload(w.Message),
		"deliveries", n,
		"reason", reason,
	)
}

func (b *Broker) dropSubscriptions(s *session) {
	if len(s.filters) == 0 {
		return
	}
	for filter := range s.filters {
		b.subs.Unsubscribe(filter, s)
	}
	clear(s.filters)
	b.metrics.SetSubscriptions(b.subs.Len())
}
