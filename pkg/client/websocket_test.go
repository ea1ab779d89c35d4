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

package client

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"flyedge/internal/protocol"
)

// mockWSServer serves one MQTT-over-WebSocket session. The handler sees
// the session as a byte stream, like the TCP mock.
func mockWSServer(t *testing.T, secure bool, handler func(conn net.Conn, r *bufio.Reader)) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{"mqtt"}}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		if ws.Subprotocol() != "mqtt" {
			t.Errorf("Expected mqtt subprotocol, got %q", ws.Subprotocol())
		}
		conn := &wsNetConn{ws: ws}
		defer conn.Close()
		handler(conn, bufio.NewReader(conn))
	})
	if secure {
		return httptest.NewTLSServer(h)
	}
	return httptest.NewServer(h)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/mqtt"
}

func TestClientOverWebSocket(t *testing.T) {
	srv := mockWSServer(t, false, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		f, err := readFrame(r, 0)
		if err != nil || f.Type != protocol.Publish {
			t.Errorf("Expected PUBLISH, got %v %v", f.Type, err)
			return
		}
		pkt, err := protocol.ParsePublish(f.Flags, f.Payload())
		if err != nil {
			t.Errorf("Failed to parse publish: %v", err)
			return
		}
		// Split the ack across two messages; the stream must reassemble it.
		ack := protocol.EncodePuback(pkt.PacketID)
		conn.Write(ack[:1])
		conn.Write(ack[1:])
		readFrame(r, 0)
	})
	defer srv.Close()

	c, err := NewClientWithOptions(wsURL(srv), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to connect over websocket: %v", err)
	}
	defer c.Close()

	if err := c.Publish("sensors/temp", []byte("21.5"), 1, false); err != nil {
		t.Errorf("Publish over websocket failed: %v", err)
	}
}

func TestClientOverSecureWebSocket(t *testing.T) {
	srv := mockWSServer(t, true, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		readFrame(r, 0)
	})
	defer srv.Close()

	url := wsURL(srv)
	if !strings.HasPrefix(url, "wss://") {
		t.Fatalf("Expected wss URL, got %s", url)
	}

	if _, err := NewClientWithOptions(url, ClientOptions{KeepAlive: -1, TLSConfig: &tls.Config{}}); err == nil {
		t.Error("Expected certificate verification failure without the server CA")
	}

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	c, err := NewClientWithOptions(url, ClientOptions{
		KeepAlive: -1,
		TLSConfig: &tls.Config{RootCAs: pool},
	})
	if err != nil {
		t.Fatalf("Failed to connect over wss: %v", err)
	}
	c.Close()
}
