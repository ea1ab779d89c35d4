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

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func decodeOne(t *testing.T, b []byte) Frame {
	t.Helper()
	f, status, err := Decode(b)
	if err != nil || status != Complete {
		t.Fatalf("Decode() = %s, %v", status, err)
	}
	if f.Len() != len(b) {
		t.Fatalf("frame length %d, encoded %d", f.Len(), len(b))
	}
	return f
}

func TestConnectRoundTrip(t *testing.T) {
	in := &ConnectPacket{
		CleanSession: true,
		KeepAlive:    30,
		ClientID:     "sensor-42",
		WillFlag:     true,
		WillQoS:      1,
		WillRetain:   true,
		WillTopic:    "status/sensor-42",
		WillMessage:  []byte("offline"),
		HasUsername:  true,
		Username:     "alice",
		HasPassword:  true,
		Password:     []byte("secret"),
	}

	f := decodeOne(t, EncodeConnect(in))
	if f.Type != Connect {
		t.Fatalf("Type = %s", f.Type)
	}

	out, err := ParseConnect(f.Payload())
	if err != nil {
		t.Fatalf("ParseConnect() error: %v", err)
	}
	if out.ProtocolName != ProtocolName || out.ProtocolLevel != ProtocolLevel311 {
		t.Errorf("protocol = %s/%d", out.ProtocolName, out.ProtocolLevel)
	}
	if out.ClientID != in.ClientID || out.KeepAlive != in.KeepAlive || !out.CleanSession {
		t.Errorf("session fields = %+v", out)
	}
	if !out.WillFlag || out.WillTopic != in.WillTopic || !bytes.Equal(out.WillMessage, in.WillMessage) ||
		out.WillQoS != 1 || !out.WillRetain {
		t.Errorf("will fields = %+v", out)
	}
	if out.Username != "alice" || !bytes.Equal(out.Password, []byte("secret")) {
		t.Errorf("credentials = %q/%q", out.Username, out.Password)
	}
}

func TestParseConnectErrors(t *testing.T) {
	valid := EncodeConnect(&ConnectPacket{ClientID: "c", CleanSession: true})
	body := valid[2:]

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "truncated",
			mutate:  func(b []byte) []byte { return b[:5] },
			wantErr: ErrMalformedPacket,
		},
		{
			name: "wrong protocol name",
			mutate: func(b []byte) []byte {
				b[2] = 'X'
				return b
			},
			wantErr: ErrMalformedPacket,
		},
		{
			name: "unsupported level",
			mutate: func(b []byte) []byte {
				b[6] = 5
				return b
			},
			wantErr: ErrUnsupportedProtocol,
		},
		{
			name: "reserved flag",
			mutate: func(b []byte) []byte {
				b[7] |= 0x01
				return b
			},
			wantErr: ErrMalformedPacket,
		},
		{
			name: "will qos without will",
			mutate: func(b []byte) []byte {
				b[7] |= 0x08
				return b
			},
			wantErr: ErrMalformedPacket,
		},
		{
			name: "password without username",
			mutate: func(b []byte) []byte {
				b[7] |= 0x40
				return append(b, 0x00, 0x00)
			},
			wantErr: ErrMalformedPacket,
		},
		{
			name:    "trailing bytes",
			mutate:  func(b []byte) []byte { return append(b, 0xAA) },
			wantErr: ErrMalformedPacket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte{}, body...))
			_, err := ParseConnect(b)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseConnect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConnectLegacyLevel(t *testing.T) {
	b := EncodeConnect(&ConnectPacket{ProtocolName: LegacyProtocolName, ProtocolLevel: ProtocolLevel31, ClientID: "old"})
	p, err := ParseConnect(decodeOne(t, b).Payload())
	if err != nil {
		t.Fatalf("ParseConnect() error: %v", err)
	}
	if p.ProtocolName != LegacyProtocolName || p.ClientID != "old" {
		t.Errorf("got %+v", p)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	tests := []PublishPacket{
		{Topic: "a", Payload: []byte("zero")},
		{Topic: "a/b/c", QoS: 1, PacketID: 513, Payload: []byte("one"), Retain: true},
		{Topic: "empty", Payload: nil},
	}
	for _, in := range tests {
		f := decodeOne(t, EncodePublish(&in))
		out, err := ParsePublish(f.Flags, f.Payload())
		if err != nil {
			t.Fatalf("ParsePublish(%s) error: %v", in.Topic, err)
		}
		if out.Topic != in.Topic || out.QoS != in.QoS || out.PacketID != in.PacketID ||
			out.Retain != in.Retain || !bytes.Equal(out.Payload, in.Payload) {
			t.Errorf("round trip %+v -> %+v", in, out)
		}
	}
}

func TestParsePublishRejectsQoS3(t *testing.T) {
	if _, err := ParsePublish(0x06, []byte{0x00, 0x01, 'a', 0x00, 0x01}); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("ParsePublish() error = %v", err)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	subs := []Subscription{{Filter: "a/+", QoS: 0}, {Filter: "b/#", QoS: 1}}
	f := decodeOne(t, EncodeSubscribe(10, subs))
	id, got, err := ParseSubscribe(f.Flags, f.Payload())
	if err != nil {
		t.Fatalf("ParseSubscribe() error: %v", err)
	}
	if id != 10 || len(got) != 2 || got[0] != subs[0] || got[1] != subs[1] {
		t.Errorf("ParseSubscribe() = %d %+v", id, got)
	}

	if _, _, err := ParseSubscribe(0x00, f.Payload()); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("bad flags error = %v", err)
	}
	if _, _, err := ParseSubscribe(0x02, []byte{0x00, 0x01}); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("empty subscribe error = %v", err)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	f := decodeOne(t, EncodeUnsubscribe(3, []string{"x/y"}))
	id, filters, err := ParseUnsubscribe(f.Flags, f.Payload())
	if err != nil || id != 3 || len(filters) != 1 || filters[0] != "x/y" {
		t.Errorf("ParseUnsubscribe() = %d %v %v", id, filters, err)
	}
}

func TestAcks(t *testing.T) {
	f := decodeOne(t, EncodeConnack(false, ConnRefusedBadCredentials))
	if !bytes.Equal(f.Bytes, []byte{0x20, 0x02, 0x00, 0x04}) {
		t.Errorf("CONNACK = % x", f.Bytes)
	}
	sp, code, err := ParseConnack(f.Payload())
	if err != nil || sp || code != ConnRefusedBadCredentials {
		t.Errorf("ParseConnack() = %v %s %v", sp, code, err)
	}

	f = decodeOne(t, EncodeSuback(9, []byte{0x00, SubackFailure}))
	id, codes, err := ParseSuback(f.Payload())
	if err != nil || id != 9 || !bytes.Equal(codes, []byte{0x00, 0x80}) {
		t.Errorf("ParseSuback() = %d % x %v", id, codes, err)
	}

	for _, b := range [][]byte{EncodePuback(0x0102), EncodeUnsuback(0x0102)} {
		id, err := ParsePacketID(decodeOne(t, b).Payload())
		if err != nil || id != 0x0102 {
			t.Errorf("ParsePacketID(% x) = %d %v", b, id, err)
		}
	}

	if !bytes.Equal(EncodePingresp(), []byte{0xD0, 0x00}) {
		t.Errorf("PINGRESP = % x", EncodePingresp())
	}
}
