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

package auth

import (
	"fmt"

	"flyedge/internal/topic"
)

// TopicACL grants access to the topics matched by Filter.
type TopicACL struct {
	Filter       string       `json:"filter"`
	Public       bool         `json:"public"`                  // If true, no auth required
	AllowedUsers []string     `json:"allowed_users,omitempty"` // Specific users with access
	AllowedRoles []string     `json:"allowed_roles,omitempty"` // Roles with access
	Permissions  []Permission `json:"permissions,omitempty"`   // Empty means both
}

func (a *TopicACL) validate() error {
	if err := topic.ValidateFilter(a.Filter); err != nil {
		return fmt.Errorf("acl %q: %w", a.Filter, err)
	}
	return nil
}

func (a *TopicACL) grants(perm Permission) bool {
	if len(a.Permissions) == 0 {
		return true
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// SetTopicACL adds an ACL, replacing any existing entry for the same filter.
func (s *UserStore) SetTopicACL(acl *TopicACL) error {
	if err := acl.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.acls {
		if existing.Filter == acl.Filter {
			s.acls[i] = acl
			return nil
		}
	}
	s.acls = append(s.acls, acl)
	return nil
}

// DeleteTopicACL removes the ACL for filter.
func (s *UserStore) DeleteTopicACL(filter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, acl := range s.acls {
		if acl.Filter == filter {
			s.acls = append(s.acls[:i], s.acls[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrACLNotFound, filter)
}

// TopicACLs returns a copy of the configured ACLs in evaluation order.
func (s *UserStore) TopicACLs() []TopicACL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TopicACL, len(s.acls))
	for i, acl := range s.acls {
		out[i] = *acl
	}
	return out
}

// SetDefaultPublic sets whether topics without a matching ACL are public.
func (s *UserStore) SetDefaultPublic(public bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultPublic = public
}

// lookupACL returns the first ACL whose filter matches name. Wildcards in
// name are compared literally, so a subscription to "a/#" only matches an
// ACL that covers the level "#" itself.
func (s *UserStore) lookupACL(name string) (*TopicACL, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acl := range s.acls {
		if topic.MatchPattern(acl.Filter, name) {
			return acl, true
		}
	}
	return nil, false
}

// Authorizer decides whether a client may connect, publish and subscribe.
type Authorizer struct {
	userStore      *UserStore
	enabled        bool
	allowAnonymous bool
}

// NewAuthorizer creates a new authorizer. When enabled is false every
// request is allowed.
func NewAuthorizer(userStore *UserStore, enabled, allowAnonymous bool) *Authorizer {
	return &Authorizer{
		userStore:      userStore,
		enabled:        enabled,
		allowAnonymous: allowAnonymous,
	}
}

// IsEnabled returns whether authentication is enabled.
func (a *Authorizer) IsEnabled() bool {
	return a != nil && a.enabled
}

// AllowAnonymous returns whether clients without a username may connect.
func (a *Authorizer) AllowAnonymous() bool {
	return a.allowAnonymous
}

// Authenticate checks CONNECT credentials. It returns a nil user for an
// anonymous client that was let in.
func (a *Authorizer) Authenticate(username string, hasUsername bool, password []byte) (*User, error) {
	if !a.IsEnabled() {
		return nil, nil
	}
	if !hasUsername {
		if a.allowAnonymous {
			return nil, nil
		}
		return nil, ErrAuthRequired
	}
	return a.userStore.Authenticate(username, password)
}

// Authorize checks whether username may use name with perm. An empty
// username is an anonymous client.
func (a *Authorizer) Authorize(username, name string, perm Permission) error {
	if !a.IsEnabled() {
		return nil
	}

	acl, hasACL := a.userStore.lookupACL(name)
	if hasACL && acl.Public && acl.grants(perm) {
		return nil
	}
	if !hasACL && a.userStore.DefaultPublic() {
		return nil
	}

	if username == "" {
		return ErrAuthRequired
	}
	user, exists := a.userStore.GetUser(username)
	if !exists {
		return ErrUnauthorized
	}
	if !user.Enabled {
		return ErrUserDisabled
	}

	if a.userStore.HasPermission(username, perm) {
		return nil
	}
	if hasACL && acl.grants(perm) {
		for _, allowedUser := range acl.AllowedUsers {
			if allowedUser == username {
				return nil
			}
		}
		for _, allowedRole := range acl.AllowedRoles {
			for _, userRole := range user.Roles {
				if userRole == allowedRole {
					return nil
				}
			}
		}
	}
	return ErrUnauthorized
}

// CanPublish checks if a user can publish to a topic name.
func (a *Authorizer) CanPublish(username, name string) error {
	return a.Authorize(username, name, PermissionPublish)
}

// CanSubscribe checks if a user can subscribe with a topic filter.
func (a *Authorizer) CanSubscribe(username, filter string) error {
	return a.Authorize(username, filter, PermissionSubscribe)
}

// UserStore returns the underlying user store.
func (a *Authorizer) UserStore() *UserStore {
	return a.userStore
}

// DefaultPublic reports whether topics without a matching ACL are public.
func (s *UserStore) DefaultPublic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultPublic
}
