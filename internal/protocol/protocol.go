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
Package protocol defines the MQTT v3.1.1 wire format spoken by flyedge.

FIXED HEADER:
=============
Every control packet starts with a fixed header of 2 to 5 bytes:

	+-------+-------+-------+-------+-------+-------+-------+-------+
	| Type (4 bits) | Flags (4 bits)| Remaining Length (1-4 bytes)  |
	+-------+-------+-------+-------+-------+-------+-------+-------+
	|        Variable header + payload (Remaining Length bytes)     |
	+---------------------------------------------------------------+

REMAINING LENGTH:
=================
The remaining length is a base-128 varint. Each byte carries 7 bits of
value, least significant group first; bit 7 is the continuation flag.
At most 4 bytes are allowed, so the largest value is 268,435,455:

	0x7F                 -> 127
	0x80 0x01            -> 128
	0xFF 0x7F            -> 16,383
	0xFF 0xFF 0xFF 0x7F  -> 268,435,455

The decoder in frame.go is pure: it never reads from a socket and never
mutates the buffer it inspects. Callers feed it whatever bytes they have
buffered and it reports whether a whole frame is present.

PACKET TYPES:
=============
- 0x1 CONNECT, 0x2 CONNACK
- 0x3 PUBLISH, 0x4 PUBACK, 0x5 PUBREC, 0x6 PUBREL, 0x7 PUBCOMP
- 0x8 SUBSCRIBE, 0x9 SUBACK, 0xA UNSUBSCRIBE, 0xB UNSUBACK
- 0xC PINGREQ, 0xD PINGRESP, 0xE DISCONNECT

See connect.go for the CONNECT parser and packets.go for the encoders and
parsers of the remaining packets the broker handles.
*/
package protocol

import (
	"errors"
	"fmt"
)

// Protocol constants define the wire format parameters.
const (
	// MinHeaderSize is the smallest possible fixed header: type byte plus a
	// single remaining-length byte.
	MinHeaderSize = 2

	// MaxRemainingLengthBytes caps the varint encoding of the remaining length.
	MaxRemainingLengthBytes = 4

	// MaxRemainingLength is the largest value representable in 4 varint bytes.
	MaxRemainingLength = 127 + 127*128 + 127*128*128 + 127*128*128*128

	// MaxFrameSize is the largest frame the fixed header can describe.
	MaxFrameSize = 1 + MaxRemainingLengthBytes + MaxRemainingLength

	// ProtocolName is the protocol name for MQTT 3.1.1 (level 4).
	ProtocolName = "MQTT"

	// LegacyProtocolName is the protocol name used by MQTT 3.1 (level 3).
	LegacyProtocolName = "MQIsdp"

	// ProtocolLevel311 is the protocol level byte for MQTT 3.1.1.
	ProtocolLevel311 byte = 4

	// ProtocolLevel31 is the protocol level byte for MQTT 3.1.
	ProtocolLevel31 byte = 3
)

// PacketType is the high nibble of the first fixed-header byte.
type PacketType byte

// Control packet types.
const (
	Reserved    PacketType = 0x0
	Connect     PacketType = 0x1
	Connack     PacketType = 0x2
	Publish     PacketType = 0x3
	Puback      PacketType = 0x4
	Pubrec      PacketType = 0x5
	Pubrel      PacketType = 0x6
	Pubcomp     PacketType = 0x7
	Subscribe   PacketType = 0x8
	Suback      PacketType = 0x9
	Unsubscribe PacketType = 0xA
	Unsuback    PacketType = 0xB
	Pingreq     PacketType = 0xC
	Pingresp    PacketType = 0xD
	Disconnect  PacketType = 0xE
)

var packetTypeNames = [16]string{
	"RESERVED", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC", "PUBREL",
	"PUBCOMP", "SUBSCRIBE", "SUBACK", "UNSUBSCRIBE", "UNSUBACK", "PINGREQ",
	"PINGRESP", "DISCONNECT", "RESERVED",
}

// String returns the MQTT name of the packet type.
func (t PacketType) String() string {
	if t > 0xF {
		return fmt.Sprintf("UNKNOWN(0x%x)", byte(t))
	}
	return packetTypeNames[t]
}

// TypeOf extracts the packet type from a fixed-header first byte.
func TypeOf(b byte) PacketType {
	return PacketType(b >> 4)
}

// ConnackCode is the CONNACK return code.
type ConnackCode byte

// CONNACK return codes.
const (
	ConnAccepted                  ConnackCode = 0x00
	ConnRefusedProtocolVersion    ConnackCode = 0x01
	ConnRefusedIdentifierRejected ConnackCode = 0x02
	ConnRefusedServerUnavailable  ConnackCode = 0x03
	ConnRefusedBadCredentials     ConnackCode = 0x04
	ConnRefusedNotAuthorized      ConnackCode = 0x05
)

// String returns a short description of the return code.
func (c ConnackCode) String() string {
	switch c {
	case ConnAccepted:
		return "accepted"
	case ConnRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnRefusedIdentifierRejected:
		return "identifier rejected"
	case ConnRefusedServerUnavailable:
		return "server unavailable"
	case ConnRefusedBadCredentials:
		return "bad user name or password"
	case ConnRefusedNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("reserved(0x%02x)", byte(c))
	}
}

// Protocol errors.
var (
	// ErrMalformedLength indicates a remaining length that uses more than
	// MaxRemainingLengthBytes bytes.
	ErrMalformedLength = errors.New("malformed remaining length")

	// ErrFrameTooLarge indicates a frame whose declared size exceeds the
	// configured limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedPacket indicates a variable header or payload that does not
	// match the packet's declared structure.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnsupportedProtocol indicates a CONNECT with an unknown protocol name
	// or level.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)
