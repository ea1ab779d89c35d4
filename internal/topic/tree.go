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

package topic

import (
	"strings"
)

// Tree indexes subscribers by topic filter.
//
// Each level of a filter is one node; '+' and '#' are stored as ordinary
// children and expanded during Match. A subscriber holds at most one QoS per
// filter. Tree is not safe for concurrent use.
type Tree[S comparable] struct {
	root  *node[S]
	count int
}

type node[S comparable] struct {
	children map[string]*node[S]
	subs     map[S]byte
}

func newNode[S comparable]() *node[S] {
	return &node[S]{children: make(map[string]*node[S])}
}

// NewTree creates an empty subscription tree.
func NewTree[S comparable]() *Tree[S] {
	return &Tree[S]{root: newNode[S]()}
}

// Subscribe adds or replaces the subscription of sub to filter. It reports
// whether the subscription is new. The filter must already be valid.
func (t *Tree[S]) Subscribe(filter string, sub S, qos byte) bool {
	current := t.root
	for _, level := range strings.Split(filter, separator) {
		next, ok := current.children[level]
		if !ok {
			next = newNode[S]()
			current.children[level] = next
		}
		current = next
	}
	if current.subs == nil {
		current.subs = make(map[S]byte)
	}
	_, existed := current.subs[sub]
	current.subs[sub] = qos
	if !existed {
		t.count++
	}
	return !existed
}

// Unsubscribe removes the subscription of sub to filter and prunes empty
// nodes. It reports whether a subscription was removed.
func (t *Tree[S]) Unsubscribe(filter string, sub S) bool {
	levels := strings.Split(filter, separator)
	path := make([]*node[S], 0, len(levels)+1)
	current := t.root
	path = append(path, current)
	for _, level := range levels {
		next, ok := current.children[level]
		if !ok {
			return false
		}
		current = next
		path = append(path, current)
	}
	if _, ok := current.subs[sub]; !ok {
		return false
	}
	delete(current.subs, sub)
	t.count--

	for i := len(levels) - 1; i >= 0; i-- {
		n := path[i+1]
		if len(n.subs) > 0 || len(n.children) > 0 {
			break
		}
		delete(path[i].children, levels[i])
	}
	return true
}

// Match returns every subscriber whose filters match name, with the highest
// QoS among its matching filters.
func (t *Tree[S]) Match(name string) map[S]byte {
	out := make(map[S]byte)
	levels := strings.Split(name, separator)
	t.match(t.root, levels, strings.HasPrefix(name, "$"), out)
	return out
}

func (t *Tree[S]) match(n *node[S], levels []string, system bool, out map[S]byte) {
	// '#' also matches the parent level, so "a/#" matches "a".
	if hash, ok := n.children[MultiLevel]; ok && !system {
		collect(hash, out)
	}
	if len(levels) == 0 {
		collect(n, out)
		return
	}
	if next, ok := n.children[levels[0]]; ok {
		t.match(next, levels[1:], false, out)
	}
	if next, ok := n.children[SingleLevel]; ok && !system {
		t.match(next, levels[1:], false, out)
	}
}

func collect[S comparable](n *node[S], out map[S]byte) {
	for sub, qos := range n.subs {
		if cur, ok := out[sub]; !ok || qos > cur {
			out[sub] = qos
		}
	}
}

// Len returns the number of subscriptions.
func (t *Tree[S]) Len() int {
	return t.count
}
