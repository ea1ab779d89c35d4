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

import "fmt"

// registry maps live socket descriptors to their connections.
type registry struct {
	conns map[int]*Conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[int]*Conn)}
}

func (r *registry) insert(c *Conn) error {
	if _, exists := r.conns[c.fd]; exists {
		return fmt.Errorf("descriptor %d already registered", c.fd)
	}
	r.conns[c.fd] = c
	return nil
}

func (r *registry) lookup(fd int) (*Conn, bool) {
	c, ok := r.conns[fd]
	return c, ok
}

func (r *registry) remove(fd int) {
	delete(r.conns, fd)
}

func (r *registry) len() int {
	return len(r.conns)
}

// snapshot returns the live connections so callers can disconnect while
// iterating.
func (r *registry) snapshot() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
