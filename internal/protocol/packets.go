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

// Fixed-header flag values MQTT 3.1.1 mandates per packet type.
const (
	flagsSubscribe   byte = 0x02
	flagsUnsubscribe byte = 0x02

	publishFlagRetain byte = 0x01
	publishFlagQoS    byte = 0x06
	publishFlagDup    byte = 0x08
)

// SubackFailure is the SUBACK return code for a rejected subscription.
const SubackFailure byte = 0x80

// PublishPacket is a decoded PUBLISH packet.
type PublishPacket struct {
	Topic    string
	PacketID uint16 // only present when QoS > 0
	QoS      byte
	Retain   bool
	Dup      bool
	Payload  []byte
}

// Subscription is one topic filter entry of a SUBSCRIBE packet.
type Subscription struct {
	Filter string
	QoS    byte
}

// EncodeConnack builds a CONNACK frame.
func EncodeConnack(sessionPresent bool, code ConnackCode) []byte {
	var ack byte
	if sessionPresent {
		ack = 0x01
	}
	return []byte{byte(Connack) << 4, 0x02, ack, byte(code)}
}

// ParseConnack decodes a CONNACK body.
func ParseConnack(body []byte) (sessionPresent bool, code ConnackCode, err error) {
	if len(body) != 2 {
		return false, 0, fmt.Errorf("%w: connack length %d", ErrMalformedPacket, len(body))
	}
	return body[0]&0x01 != 0, ConnackCode(body[1]), nil
}

// EncodePingreq builds a PINGREQ frame.
func EncodePingreq() []byte {
	return []byte{byte(Pingreq) << 4, 0x00}
}

// EncodePingresp builds a PINGRESP frame.
func EncodePingresp() []byte {
	return []byte{byte(Pingresp) << 4, 0x00}
}

// EncodeDisconnect builds a DISCONNECT frame.
func EncodeDisconnect() []byte {
	return []byte{byte(Disconnect) << 4, 0x00}
}

// ParsePublish decodes a PUBLISH frame's flags and body. Topic and payload
// are copied out of body.
func ParsePublish(flags byte, body []byte) (*PublishPacket, error) {
	p := &PublishPacket{
		QoS:    (flags & publishFlagQoS) >> 1,
		Retain: flags&publishFlagRetain != 0,
		Dup:    flags&publishFlagDup != 0,
	}
	if p.QoS > 2 {
		return nil, fmt.Errorf("%w: publish qos 3", ErrMalformedPacket)
	}

	r := &reader{buf: body}
	var err error
	if p.Topic, err = r.readString(); err != nil {
		return nil, err
	}
	if p.Topic == "" {
		return nil, fmt.Errorf("%w: empty topic name", ErrMalformedPacket)
	}
	if p.QoS > 0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return nil, err
		}
	}
	p.Payload = append([]byte(nil), body[r.pos:]...)
	return p, nil
}

// EncodePublish builds a PUBLISH frame.
func EncodePublish(p *PublishPacket) []byte {
	first := byte(Publish)<<4 | (p.QoS<<1)&publishFlagQoS
	if p.Retain {
		first |= publishFlagRetain
	}
	if p.Dup {
		first |= publishFlagDup
	}

	body := make([]byte, 0, 2+len(p.Topic)+2+len(p.Payload))
	body = appendString(body, p.Topic)
	if p.QoS > 0 {
		body = binary.BigEndian.AppendUint16(body, p.PacketID)
	}
	body = append(body, p.Payload...)
	return frame(first, body)
}

// ParseSubscribe decodes a SUBSCRIBE frame.
func ParseSubscribe(flags byte, body []byte) (uint16, []Subscription, error) {
	if flags != flagsSubscribe {
		return 0, nil, fmt.Errorf("%w: subscribe flags 0x%x", ErrMalformedPacket, flags)
	}
	r := &reader{buf: body}
	id, err := r.readUint16()
	if err != nil {
		return 0, nil, err
	}

	var subs []Subscription
	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return 0, nil, err
		}
		qos, err := r.readByte()
		if err != nil {
			return 0, nil, err
		}
		if qos&0xFC != 0 {
			return 0, nil, fmt.Errorf("%w: subscribe options 0x%x", ErrMalformedPacket, qos)
		}
		subs = append(subs, Subscription{Filter: filter, QoS: qos})
	}
	if len(subs) == 0 {
		return 0, nil, fmt.Errorf("%w: subscribe without filters", ErrMalformedPacket)
	}
	return id, subs, nil
}

// EncodeSubscribe builds a SUBSCRIBE frame.
func EncodeSubscribe(id uint16, subs []Subscription) []byte {
	body := binary.BigEndian.AppendUint16(nil, id)
	for _, s := range subs {
		body = appendString(body, s.Filter)
		body = append(body, s.QoS)
	}
	return frame(byte(Subscribe)<<4|flagsSubscribe, body)
}

// EncodeSuback builds a SUBACK frame with one return code per filter.
func EncodeSuback(id uint16, codes []byte) []byte {
	body := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(codes)), id)
	body = append(body, codes...)
	return frame(byte(Suback)<<4, body)
}

// ParseSuback decodes a SUBACK body.
func ParseSuback(body []byte) (uint16, []byte, error) {
	if len(body) < 3 {
		return 0, nil, fmt.Errorf("%w: suback length %d", ErrMalformedPacket, len(body))
	}
	return binary.BigEndian.Uint16(body), append([]byte(nil), body[2:]...), nil
}

// ParseUnsubscribe decodes an UNSUBSCRIBE frame.
func ParseUnsubscribe(flags byte, body []byte) (uint16, []string, error) {
	if flags != flagsUnsubscribe {
		return 0, nil, fmt.Errorf("%w: unsubscribe flags 0x%x", ErrMalformedPacket, flags)
	}
	r := &reader{buf: body}
	id, err := r.readUint16()
	if err != nil {
		return 0, nil, err
	}
	var filters []string
	for r.remaining() > 0 {
		f, err := r.readString()
		if err != nil {
			return 0, nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return 0, nil, fmt.Errorf("%w: unsubscribe without filters", ErrMalformedPacket)
	}
	return id, filters, nil
}

// EncodeUnsubscribe builds an UNSUBSCRIBE frame.
func EncodeUnsubscribe(id uint16, filters []string) []byte {
	body := binary.BigEndian.AppendUint16(nil, id)
	for _, f := range filters {
		body = appendString(body, f)
	}
	return frame(byte(Unsubscribe)<<4|flagsUnsubscribe, body)
}

// EncodeUnsuback builds an UNSUBACK frame.
func EncodeUnsuback(id uint16) []byte {
	return []byte{byte(Unsuback) << 4, 0x02, byte(id >> 8), byte(id)}
}

// EncodePuback builds a PUBACK frame.
func EncodePuback(id uint16) []byte {
	return []byte{byte(Puback) << 4, 0x02, byte(id >> 8), byte(id)}
}

// ParsePacketID decodes the body of PUBACK, UNSUBACK and similar packets
// that carry only a packet identifier.
func ParsePacketID(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, fmt.Errorf("%w: expected 2-byte packet id, got %d bytes", ErrMalformedPacket, len(body))
	}
	return binary.BigEndian.Uint16(body), nil
}
