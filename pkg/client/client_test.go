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
	"errors"
	"net"
	"testing"
	"time"

	"flyedge/internal/protocol"
)

// mockServer creates a mock broker for testing
func mockServer(t *testing.T, handler func(conn net.Conn, r *bufio.Reader)) net.Listener {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, bufio.NewReader(conn))
	}()

	return listener
}

// acceptConnect reads CONNECT and answers with code.
func acceptConnect(t *testing.T, conn net.Conn, r *bufio.Reader, code protocol.ConnackCode) *protocol.ConnectPacket {
	f, err := readFrame(r, 0)
	if err != nil {
		t.Errorf("Failed to read connect: %v", err)
		return nil
	}
	if f.Type != protocol.Connect {
		t.Errorf("Expected CONNECT, got %s", f.Type)
		return nil
	}
	pkt, err := protocol.ParseConnect(f.Payload())
	if err != nil {
		t.Errorf("Failed to parse connect: %v", err)
		return nil
	}
	conn.Write(protocol.EncodeConnack(false, code))
	return pkt
}

func TestNewClient(t *testing.T) {
	got := make(chan *protocol.ConnectPacket, 1)
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		got <- acceptConnect(t, conn, r, protocol.ConnAccepted)
		readFrame(r, 0)
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{
		ClientID:  "sensor-1",
		Username:  "alice",
		Password:  "secret",
		KeepAlive: -1,
		Will:      &Will{Topic: "status/sensor-1", Payload: []byte("offline"), Retain: true},
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	pkt := <-got
	if pkt == nil {
		t.FailNow()
	}
	if pkt.ClientID != "sensor-1" || !pkt.CleanSession {
		t.Errorf("Unexpected connect: %+v", pkt)
	}
	if pkt.KeepAlive != 0 {
		t.Errorf("Expected keepalive disabled, got %d", pkt.KeepAlive)
	}
	if !pkt.HasUsername || pkt.Username != "alice" || string(pkt.Password) != "secret" {
		t.Errorf("Unexpected credentials: %+v", pkt)
	}
	if !pkt.WillFlag || pkt.WillTopic != "status/sensor-1" || !pkt.WillRetain {
		t.Errorf("Unexpected will: %+v", pkt)
	}
}

func TestNewClientRefused(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnRefusedBadCredentials)
	})
	defer listener.Close()

	_, err := NewClient(listener.Addr().String())
	var connErr *ConnackError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnackError, got %v", err)
	}
	if connErr.Code != protocol.ConnRefusedBadCredentials {
		t.Errorf("Expected bad credentials, got %s", connErr.Code)
	}
}

func TestNewClientUnexpectedPacket(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(r, 0)
		conn.Write(protocol.EncodePingresp())
	})
	defer listener.Close()

	_, err := NewClient(listener.Addr().String())
	if !errors.Is(err, ErrUnexpectedPacket) {
		t.Fatalf("Expected ErrUnexpectedPacket, got %v", err)
	}
}

func TestClientPublish(t *testing.T) {
	published := make(chan *protocol.PublishPacket, 2)
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		for i := 0; i < 2; i++ {
			f, err := readFrame(r, 0)
			if err != nil {
				return
			}
			pkt, err := protocol.ParsePublish(f.Flags, f.Payload())
			if err != nil {
				t.Errorf("Failed to parse publish: %v", err)
				return
			}
			if pkt.QoS == 1 {
				conn.Write(protocol.EncodePuback(pkt.PacketID))
			}
			published <- pkt
		}
		readFrame(r, 0)
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if err := client.Publish("a/b", []byte("zero"), 0, false); err != nil {
		t.Fatalf("QoS 0 publish failed: %v", err)
	}
	if err := client.Publish("a/b", []byte("one"), 1, true); err != nil {
		t.Fatalf("QoS 1 publish failed: %v", err)
	}

	first, second := <-published, <-published
	if first.QoS != 0 || string(first.Payload) != "zero" {
		t.Errorf("Unexpected first publish: %+v", first)
	}
	if second.QoS != 1 || !second.Retain || second.PacketID == 0 {
		t.Errorf("Unexpected second publish: %+v", second)
	}

	if err := client.Publish("a/b", nil, 2, false); err == nil {
		t.Error("Expected QoS 2 publish to fail")
	}
}

func TestClientSubscribeAndReceive(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		f, err := readFrame(r, 0)
		if err != nil {
			return
		}
		id, subs, err := protocol.ParseSubscribe(f.Flags, f.Payload())
		if err != nil || len(subs) != 2 {
			t.Errorf("Unexpected subscribe: %v %v", subs, err)
			return
		}
		conn.Write(protocol.EncodeSuback(id, []byte{1, protocol.SubackFailure}))
		conn.Write(protocol.EncodePublish(&protocol.PublishPacket{
			Topic: "sensors/kitchen", Payload: []byte("21.5"), Retain: true,
		}))
		conn.Write(protocol.EncodePublish(&protocol.PublishPacket{
			Topic: "sensors/hall", PacketID: 9, QoS: 1, Payload: []byte("19.0"),
		}))

		f, err = readFrame(r, 0)
		if err != nil {
			return
		}
		if f.Type != protocol.Puback {
			t.Errorf("Expected PUBACK, got %s", f.Type)
		}

		f, err = readFrame(r, 0)
		if err != nil {
			return
		}
		id, filters, err := protocol.ParseUnsubscribe(f.Flags, f.Payload())
		if err != nil || len(filters) != 1 || filters[0] != "sensors/#" {
			t.Errorf("Unexpected unsubscribe: %v %v", filters, err)
			return
		}
		conn.Write(protocol.EncodeUnsuback(id))
		readFrame(r, 0)
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	codes, err := client.Subscribe(
		Subscription{Filter: "sensors/#", QoS: 1},
		Subscription{Filter: "secret/#", QoS: 0},
	)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(codes) != 2 || codes[0] != 1 || codes[1] != protocol.SubackFailure {
		t.Errorf("Unexpected codes: %v", codes)
	}

	for _, want := range []string{"sensors/kitchen", "sensors/hall"} {
		select {
		case msg := <-client.Messages():
			if msg.Topic != want {
				t.Errorf("Expected %s, got %s", want, msg.Topic)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}

	if err := client.Unsubscribe("sensors/#"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
}

func TestClientPing(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		for {
			f, err := readFrame(r, 0)
			if err != nil {
				return
			}
			if f.Type == protocol.Pingreq {
				conn.Write(protocol.EncodePingresp())
			}
		}
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	for i := 0; i < 3; i++ {
		if err := client.Ping(); err != nil {
			t.Fatalf("Ping %d failed: %v", i, err)
		}
	}
}

func TestClientRequestTimeout(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		for {
			if _, err := readFrame(r, 0); err != nil {
				return
			}
		}
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{
		KeepAlive:      -1,
		RequestTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if err := client.Publish("a", []byte("x"), 1, false); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestClientDisconnect(t *testing.T) {
	got := make(chan protocol.PacketType, 1)
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
		f, err := readFrame(r, 0)
		if err != nil {
			return
		}
		got <- f.Type
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if typ := <-got; typ != protocol.Disconnect {
		t.Errorf("Expected DISCONNECT, got %s", typ)
	}

	<-client.Done()
	if _, ok := <-client.Messages(); ok {
		t.Error("Expected messages channel to be closed")
	}
	if err := client.Publish("a", nil, 0, false); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestClientServerClose(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		acceptConnect(t, conn, r, protocol.ConnAccepted)
	})
	defer listener.Close()

	client, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{KeepAlive: -1})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected client to notice the closed connection")
	}
	if client.Err() == nil {
		t.Error("Expected a terminal error")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	listener := mockServer(t, func(conn net.Conn, r *bufio.Reader) {
		readFrame(r, 0)
		conn.Write(protocol.EncodePublish(&protocol.PublishPacket{Topic: "a", Payload: make([]byte, 64)}))
	})
	defer listener.Close()

	_, err := NewClientWithOptions(listener.Addr().String(), ClientOptions{MaxFrameSize: 16})
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}
