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

import "time"

// interest is the set of readiness conditions a descriptor is watched for.
type interest uint8

const (
	interestRead interest = 1 << iota
	interestWrite
)

// event is one readiness notification. Hangups and socket errors are
// reported as ready so the next read or write surfaces them.
type event struct {
	fd       int
	readable bool
	writable bool
}

// poller is a level-triggered readiness multiplexer. Only the reactor
// goroutine calls it, except wake which may be called from anywhere.
type poller interface {
	add(fd int, in interest) error
	modify(fd int, in interest) error
	remove(fd int) error
	// wait blocks up to timeout and fills events, returning how many were
	// set. Wake-ups and interrupted waits return zero events.
	wait(events []event, timeout time.Duration) (int, error)
	wake() error
	close() error
}
