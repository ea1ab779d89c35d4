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
	"encoding/binary"
	"fmt"
)

// Connect flag bits (variable header byte 8).
const (
	connectFlagReserved     byte = 0x01
	connectFlagCleanSession byte = 0x02
	connectFlagWill         byte = 0x04
	connectFlagWillQoS      byte = 0x18
	connectFlagWillRetain   byte = 0x20
	connectFlagPassword     byte = 0x40
	connectFlagUsername     byte = 0x80
)

// ConnectPacket is a decoded CONNECT variable header and payload.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte
	CleanSession  bool
	KeepAlive     uint16 // seconds, 0 disables the keepalive check

	ClientID string

	WillFlag    bool
	WillQoS     byte
	WillRetain  bool
	WillTopic   string
	WillMessage []byte

	HasUsername bool
	Username    string
	HasPassword bool
	Password    []byte
}

// reader walks a packet body decoding MQTT primitives.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedPacket, r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("%w: truncated at offset %d", ErrMalformedPacket, r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// readBinary reads a uint16 length-prefixed field. The result aliases buf.
func (r *reader) readBinary() ([]byte, error) {
	n, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("%w: field of %d bytes exceeds packet", ErrMalformedPacket, n)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) readString() (string, error) {
	b, err := r.readBinary()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseConnect decodes the body of a CONNECT frame (everything after the
// fixed header). All returned strings and slices are copies.
//
// A protocol level other than 3 or 4 yields ErrUnsupportedProtocol with the
// rest of the packet undecoded; callers answer it with a CONNACK 0x01.
// Everything else that is structurally wrong yields ErrMalformedPacket.
func ParseConnect(body []byte) (*ConnectPacket, error) {
	r := &reader{buf: body}
	p := &ConnectPacket{}

	name, err := r.readString()
	if err != nil {
		return nil, err
	}
	if name != ProtocolName && name != LegacyProtocolName {
		return nil, fmt.Errorf("%w: protocol name %q", ErrMalformedPacket, name)
	}
	p.ProtocolName = name

	if p.ProtocolLevel, err = r.readByte(); err != nil {
		return nil, err
	}
	if (name == ProtocolName && p.ProtocolLevel != ProtocolLevel311) ||
		(name == LegacyProtocolName && p.ProtocolLevel != ProtocolLevel31) {
		return p, fmt.Errorf("%w: %s level %d", ErrUnsupportedProtocol, name, p.ProtocolLevel)
	}

	flags, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if flags&connectFlagReserved != 0 {
		return nil, fmt.Errorf("%w: reserved connect flag set", ErrMalformedPacket)
	}
	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWill != 0
	p.WillQoS = (flags & connectFlagWillQoS) >> 3
	p.WillRetain = flags&connectFlagWillRetain != 0
	p.HasUsername = flags&connectFlagUsername != 0
	p.HasPassword = flags&connectFlagPassword != 0

	if !p.WillFlag && (p.WillQoS != 0 || p.WillRetain) {
		return nil, fmt.Errorf("%w: will qos/retain without will flag", ErrMalformedPacket)
	}
	if p.WillQoS > 2 {
		return nil, fmt.Errorf("%w: will qos %d", ErrMalformedPacket, p.WillQoS)
	}
	if p.HasPassword && !p.HasUsername && p.ProtocolLevel == ProtocolLevel311 {
		return nil, fmt.Errorf("%w: password without user name", ErrMalformedPacket)
	}

	if p.KeepAlive, err = r.readUint16(); err != nil {
		return nil, err
	}

	if p.ClientID, err = r.readString(); err != nil {
		return nil, err
	}

	if p.WillFlag {
		if p.WillTopic, err = r.readString(); err != nil {
			return nil, err
		}
		msg, err := r.readBinary()
		if err != nil {
			return nil, err
		}
		p.WillMessage = append([]byte(nil), msg...)
	}

	if p.HasUsername {
		if p.Username, err = r.readString(); err != nil {
			return nil, err
		}
	}
	if p.HasPassword {
		pw, err := r.readBinary()
		if err != nil {
			return nil, err
		}
		p.Password = append([]byte(nil), pw...)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPacket, r.remaining())
	}
	return p, nil
}

// EncodeConnect builds a complete CONNECT frame for p.
func EncodeConnect(p *ConnectPacket) []byte {
	name := p.ProtocolName
	level := p.ProtocolLevel
	if name == "" {
		name, level = ProtocolName, ProtocolLevel311
	}

	var flags byte
	if p.CleanSession {
		flags |= connectFlagCleanSession
	}
	if p.WillFlag {
		flags |= connectFlagWill | (p.WillQoS<<3)&connectFlagWillQoS
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if p.HasUsername {
		flags |= connectFlagUsername
	}
	if p.HasPassword {
		flags |= connectFlagPassword
	}

	body := make([]byte, 0, 64)
	body = appendString(body, name)
	body = append(body, level, flags)
	body = binary.BigEndian.AppendUint16(body, p.KeepAlive)
	body = appendString(body, p.ClientID)
	if p.WillFlag {
		body = appendString(body, p.WillTopic)
		body = appendBinary(body, p.WillMessage)
	}
	if p.HasUsername {
		body = appendString(body, p.Username)
	}
	if p.HasPassword {
		body = appendBinary(body, p.Password)
	}
	return frame(byte(Connect)<<4, body)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendBinary(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}

// frame prepends a fixed header to body.
func frame(first byte, body []byte) []byte {
	out := make([]byte, 0, 1+RemainingLengthSize(len(body))+len(body))
	out = append(out, first)
	out = AppendRemainingLength(out, len(body))
	return append(out, body...)
}
