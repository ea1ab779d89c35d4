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

package broker

import (
	"sort"

	"flyedge/internal/protocol"
	"flyedge/internal/topic"
)

// retainedStore keeps the last retained message per topic name as a ready
// PUBLISH frame with the retain flag set.
type retainedStore struct {
	frames map[string][]byte
}

func newRetainedStore() *retainedStore {
	return &retainedStore{frames: make(map[string][]byte)}
}

// set stores payload for name. An empty payload clears it.
func (r *retainedStore) set(name string, payload []byte) {
	if len(payload) == 0 {
		delete(r.frames, name)
		return
	}
	r.frames[name] = protocol.EncodePublish(&protocol.PublishPacket{
		Topic:   name,
		Payload: payload,
		Retain:  true,
	})
}

// match returns the retained frames whose topic matches filter, ordered
// by topic name.
func (r *retainedStore) match(filter string) [][]byte {
	var names []string
	for name := range r.frames {
		if topic.MatchPattern(filter, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([][]byte, len(names))
	for i, name := range names {
		out[i] = r.frames[name]
	}
	return out
}

func (r *retainedStore) len() int {
	return len(r.frames)
}
