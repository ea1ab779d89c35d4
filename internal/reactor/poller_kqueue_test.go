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

//go:build darwin || freebsd

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestMergeKevent(t *testing.T) {
	tests := []struct {
		name     string
		filter   int16
		flags    uint16
		readable bool
		writable bool
	}{
		{"read", unix.EVFILT_READ, 0, true, false},
		{"read eof", unix.EVFILT_READ, unix.EV_EOF, true, false},
		{"write", unix.EVFILT_WRITE, 0, false, true},
		{"write eof", unix.EVFILT_WRITE, unix.EV_EOF, false, true},
		{"write error", unix.EVFILT_WRITE, unix.EV_ERROR, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev event
			mergeKevent(&ev, tt.filter, tt.flags)
			assert.Equal(t, tt.readable, ev.readable)
			assert.Equal(t, tt.writable, ev.writable)
		})
	}
}

func TestMergeKeventCombinesFilters(t *testing.T) {
	var ev event
	mergeKevent(&ev, unix.EVFILT_WRITE, unix.EV_EOF)
	mergeKevent(&ev, unix.EVFILT_READ, unix.EV_EOF)
	assert.True(t, ev.readable)
	assert.True(t, ev.writable)
}
