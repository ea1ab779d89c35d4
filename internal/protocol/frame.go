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

// Status reports the outcome of a decode attempt.
type Status int

const (
	// Incomplete means more bytes are needed before a frame can be extracted.
	Incomplete Status = iota
	// Complete means a whole frame is present at the start of the buffer.
	Complete
)

// String returns the status name.
func (s Status) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

// Frame is one complete control packet located at the start of a buffer.
//
// Bytes aliases the caller's buffer. It is only valid until the caller
// reuses that buffer; handlers that keep any part of a frame must copy it.
type Frame struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
	HeaderLen       int
	Bytes           []byte
}

// Len returns the total number of bytes the frame occupies.
func (f Frame) Len() int {
	return f.HeaderLen + f.RemainingLength
}

// Payload returns the variable header and payload that follow the fixed header.
func (f Frame) Payload() []byte {
	return f.Bytes[f.HeaderLen:f.Len()]
}

// DecodeRemainingLength decodes the varint remaining length that starts at
// buf[0]. It returns the value and the number of bytes consumed. n == 0 with
// a nil error means the encoding is not yet fully buffered.
func DecodeRemainingLength(buf []byte) (value, n int, err error) {
	multiplier := 1
	for i := 0; i < MaxRemainingLengthBytes; i++ {
		if i >= len(buf) {
			return 0, 0, nil
		}
		digit := buf[i]
		value += int(digit&0x7F) * multiplier
		if digit&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, ErrMalformedLength
}

// AppendRemainingLength appends the varint encoding of length to dst.
// length must be in [0, MaxRemainingLength].
func AppendRemainingLength(dst []byte, length int) []byte {
	for {
		digit := byte(length % 128)
		length /= 128
		if length > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if length == 0 {
			return dst
		}
	}
}

// RemainingLengthSize returns how many bytes AppendRemainingLength uses for length.
func RemainingLengthSize(length int) int {
	switch {
	case length < 128:
		return 1
	case length < 128*128:
		return 2
	case length < 128*128*128:
		return 3
	default:
		return 4
	}
}

// Decode inspects buf for a complete frame.
//
// It returns Complete only when the fixed header and all RemainingLength
// bytes after it are present. Bytes past the end of the frame are left for
// the caller to decode on the next call. A buffer shorter than
// MinHeaderSize, or one whose remaining length still has its continuation
// bit set on the last buffered byte, is Incomplete. The only error is
// ErrMalformedLength.
func Decode(buf []byte) (Frame, Status, error) {
	if len(buf) < MinHeaderSize {
		return Frame{}, Incomplete, nil
	}

	remaining, n, err := DecodeRemainingLength(buf[1:])
	if err != nil {
		return Frame{}, Incomplete, err
	}
	if n == 0 {
		return Frame{}, Incomplete, nil
	}

	headerLen := 1 + n
	if len(buf)-headerLen < remaining {
		return Frame{}, Incomplete, nil
	}

	return Frame{
		Type:            TypeOf(buf[0]),
		Flags:           buf[0] & 0x0F,
		RemainingLength: remaining,
		HeaderLen:       headerLen,
		Bytes:           buf[:headerLen+remaining],
	}, Complete, nil
}

// DeclaredSize reports the total frame size announced by a buffered fixed
// header. ok is false while the remaining length is still incomplete.
func DeclaredSize(buf []byte) (size int, ok bool, err error) {
	if len(buf) < MinHeaderSize {
		return 0, false, nil
	}
	remaining, n, err := DecodeRemainingLength(buf[1:])
	if err != nil || n == 0 {
		return 0, false, err
	}
	return 1 + n + remaining, true, nil
}
