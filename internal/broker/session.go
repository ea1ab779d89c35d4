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
	"flyedge/internal/auth"
)

// session is the broker state of one connected client.
type session struct {
	client   Client
	clientID string
	username string

	// filters maps each subscribed filter to its granted QoS.
	filters map[string]byte
}

func newSession(c Client, clientID string, user *auth.User) *session {
	s := &session{
		client:   c,
		clientID: clientID,
		filters:  make(map[string]byte),
	}
	if user != nil {
		s.username = user.Username
	}
	return s
}
