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
Connection and security logging helpers for flyedge.

CONNECTION LOGGING:
===================
- Connection accepted: connection ID, remote address
- Connection closed: reason, lifetime, bytes transferred in each direction

SECURITY LOGGING:
=================
- CONNECT authentication results with the client identifier and the
  masked peer address

CORRELATION:
============
The reactor numbers connections in accept order; the same conn_id appears
on every log line a connection produces.
*/
package logging

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ConnectionLogger provides detailed logging for connections
type ConnectionLogger struct {
	logger *Logger
}

// NewConnectionLogger creates a new connection logger
func NewConnectionLogger(logger *Logger) *ConnectionLogger {
	return &ConnectionLogger{logger: logger}
}

// LogNewConnection logs a newly accepted client socket.
func (cl *ConnectionLogger) LogNewConnection(connID uint64, remoteAddr string, active int64) {
	cl.logger.Info("New client connection",
		"conn_id", connID,
		"remote_addr", remoteAddr,
		"active", active,
	)
}

// LogConnectionClosed logs the end of a connection. Orderly closes are
// logged at INFO, failures at WARN.
func (cl *ConnectionLogger) LogConnectionClosed(connID uint64, remoteAddr string, reason error, orderly bool,
	lifetime time.Duration, bytesIn, bytesOut uint64) {
	level := INFO
	if !orderly {
		level = WARN
	}
	cl.logger.log(level, "Client connection closed",
		"conn_id", connID,
		"remote_addr", remoteAddr,
		"reason", reason,
		"duration", lifetime.Round(time.Millisecond),
		"bytes_in", bytesIn,
		"bytes_out", bytesOut,
	)
}

// SecurityLogger logs authentication events
type SecurityLogger struct {
	logger *Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// LogAuthSuccess logs a successful CONNECT authentication.
func (sl *SecurityLogger) LogAuthSuccess(clientID, username, remoteAddr string) {
	sl.logger.Info("Authentication successful",
		"client_id", clientID,
		"username", username,
		"remote_addr", MaskIP(remoteAddr),
	)
}

// LogAuthFailure logs a rejected CONNECT authentication.
func (sl *SecurityLogger) LogAuthFailure(clientID, username, reason, remoteAddr string) {
	sl.logger.Warn("Authentication failed",
		"client_id", clientID,
		"username", username,
		"reason", reason,
		"remote_addr", MaskIP(remoteAddr),
	)
}

// SanitizePayload describes a payload for logging without exposing content.
func SanitizePayload(data []byte) string {
	if len(data) == 0 {
		return "[empty]"
	}
	return fmt.Sprintf("[%d bytes]", len(data))
}

// MaskIP partially masks IP addresses for privacy
func MaskIP(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "unknown"
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return addr
	}

	if ip.To4() != nil {
		parts := strings.Split(host, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.*.*:%s", parts[0], parts[1], port)
		}
	} else {
		parts := strings.Split(host, ":")
		if len(parts) > 2 {
			return fmt.Sprintf("%s:%s:*:%s", parts[0], parts[1], port)
		}
	}

	return addr
}
