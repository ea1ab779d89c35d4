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
	"errors"

	"flyedge/internal/protocol"
)

var (
	// ErrProtocolViolation marks a connection dropped for sending bytes
	// that break framing or state rules.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrFrameTooLarge is returned when a declared frame exceeds the
	// configured maximum frame size.
	ErrFrameTooLarge = protocol.ErrFrameTooLarge

	// ErrPeerClosed is the disconnect reason for an orderly close by the peer.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrClientDisconnect is returned by handlers for a DISCONNECT packet.
	ErrClientDisconnect = errors.New("client disconnected")

	// ErrConnectRefused is the disconnect reason after a refusing CONNACK.
	ErrConnectRefused = errors.New("connection refused")

	// ErrKeepAliveExpired is the disconnect reason for an idle client.
	ErrKeepAliveExpired = errors.New("keepalive expired")

	// ErrConnectTimeout is the disconnect reason for a client that never
	// completed CONNECT.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrShutdown is the disconnect reason used while the reactor stops.
	ErrShutdown = errors.New("reactor shutting down")

	// ErrListenerClosed is returned by Run when the listening socket fails.
	ErrListenerClosed = errors.New("listener closed")

	// ErrUnsupportedPlatform is returned where no readiness API is wired.
	ErrUnsupportedPlatform = errors.New("reactor: unsupported platform")

	// ErrConnClosed is returned by Enqueue on a closing connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrQueueFull is returned by Enqueue when the outbound byte budget is spent.
	ErrQueueFull = errors.New("outbound queue full")

	errWouldBlock      = errors.New("operation would block")
	errAcceptRetry     = errors.New("accept interrupted")
	errAcceptTransient = errors.New("accept resources exhausted")
)

// violationReason maps a protocol error to a metrics label.
func violationReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, protocol.ErrMalformedLength):
		return "malformed_length"
	case errors.Is(err, protocol.ErrMalformedPacket):
		return "malformed_packet"
	case errors.Is(err, protocol.ErrUnsupportedProtocol):
		return "unsupported_protocol"
	case errors.Is(err, errUnexpectedPacket):
		return "unexpected_packet"
	default:
		return "other"
	}
}

var errUnexpectedPacket = errors.New("unexpected packet")

// isViolation reports whether err describes peer misbehavior rather than
// a transport failure.
func isViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, protocol.ErrMalformedPacket) ||
		errors.Is(err, protocol.ErrMalformedLength) ||
		errors.Is(err, protocol.ErrFrameTooLarge) ||
		errors.Is(err, protocol.ErrUnsupportedProtocol)
}

// isOrderly reports whether err is a normal end of a connection.
func isOrderly(err error) bool {
	return errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrClientDisconnect) ||
		errors.Is(err, ErrShutdown)
}
