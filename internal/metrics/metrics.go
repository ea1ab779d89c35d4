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
Package metrics provides Prometheus metrics for flyedge.

METRIC CATEGORIES:
==================
- Connections: active, total, accept errors
- Traffic: frames received by packet type, bytes in and out
- Failures: protocol violations by reason, dropped envelopes
- Broker: messages published and delivered, active subscriptions

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format. The same
listener serves /healthz and /readyz when health checks are enabled.

EXAMPLE METRICS:
================

	flyedge_connections_active 42
	flyedge_frames_received_total{type="PUBLISH"} 12345
	flyedge_protocol_violations_total{reason="frame_too_large"} 2
	flyedge_envelopes_dropped_total 0

All recording methods are safe on a nil *Metrics, so components can run
without a registry.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flyedge"

// Metrics holds all flyedge collectors.
type Metrics struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	acceptErrors        prometheus.Counter
	framesReceived      *prometheus.CounterVec
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
	protocolViolations  *prometheus.CounterVec
	envelopesDropped    prometheus.Counter
	messagesPublished   prometheus.Counter
	messagesDelivered   prometheus.Counter
	subscriptionsActive prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current active client connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total accepted client connections.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Transient accept failures.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Complete frames decoded, by packet type.",
		}, []string{"type"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from client sockets.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to client sockets.",
		}),
		protocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Connections dropped for protocol violations, by reason.",
		}, []string{"reason"}),
		envelopesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Outbound envelopes dropped because a queue was full.",
		}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "PUBLISH packets accepted from clients.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "PUBLISH packets queued to subscribers.",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Current topic filter subscriptions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectionsActive, m.connectionsTotal, m.acceptErrors,
			m.framesReceived, m.bytesReceived, m.bytesSent,
			m.protocolViolations, m.envelopesDropped,
			m.messagesPublished, m.messagesDelivered, m.subscriptionsActive,
		)
	}
	return m
}

// ConnectionOpened records a new connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// AcceptError records a transient accept failure.
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// FrameReceived records one decoded frame of the named packet type.
func (m *Metrics) FrameReceived(packetType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(packetType).Inc()
}

// BytesReceived records bytes read from a client.
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// BytesSent records bytes written to a client.
func (m *Metrics) BytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesSent.Add(float64(n))
}

// ProtocolViolation records a connection dropped for reason.
func (m *Metrics) ProtocolViolation(reason string) {
	if m == nil {
		return
	}
	m.protocolViolations.WithLabelValues(reason).Inc()
}

// EnvelopeDropped records an envelope rejected by a full queue.
func (m *Metrics) EnvelopeDropped() {
	if m == nil {
		return
	}
	m.envelopesDropped.Inc()
}

// MessagePublished records an inbound PUBLISH and its fan-out count.
func (m *Metrics) MessagePublished(deliveries int) {
	if m == nil {
		return
	}
	m.messagesPublished.Inc()
	if deliveries > 0 {
		m.messagesDelivered.Add(float64(deliveries))
	}
}

// SetSubscriptions sets the active subscription gauge.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Set(float64(n))
}
