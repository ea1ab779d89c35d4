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

// Envelope is one outbound frame and how much of it has been written.
// The payload is never modified after Enqueue, so one payload slice may
// back envelopes on several connections.
type Envelope struct {
	payload []byte
	sent    int
}

// Remaining returns the bytes not yet written.
func (e *Envelope) Remaining() []byte {
	return e.payload[e.sent:]
}

// Done reports whether the whole payload has been written.
func (e *Envelope) Done() bool {
	return e.sent == len(e.payload)
}

// outboundQueue is a FIFO of envelopes. bytes counts unsent payload bytes.
type outboundQueue struct {
	items []*Envelope
	head  int
	bytes int
}

func (q *outboundQueue) len() int {
	return len(q.items) - q.head
}

func (q *outboundQueue) push(e *Envelope) {
	q.items = append(q.items, e)
	q.bytes += len(e.payload) - e.sent
}

func (q *outboundQueue) front() *Envelope {
	if q.head == len(q.items) {
		return nil
	}
	return q.items[q.head]
}

// advance records n bytes of the head envelope as written and pops it
// once complete.
func (q *outboundQueue) advance(n int) {
	e := q.items[q.head]
	e.sent += n
	q.bytes -= n
	if !e.Done() {
		return
	}
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}

func (q *outboundQueue) reset() {
	clear(q.items)
	q.items = nil
	q.head = 0
	q.bytes = 0
}
