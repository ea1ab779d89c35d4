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

// Package auth checks MQTT client credentials and topic permissions for
// flyedge.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Permission represents an access permission type.
type Permission string

const (
	PermissionPublish   Permission = "publish"
	PermissionSubscribe Permission = "subscribe"
)

// Role represents a user role with associated permissions.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Description string       `json:"description,omitempty"`
}

// DefaultRoles defines the built-in roles.
var DefaultRoles = map[string]*Role{
	"admin": {
		Name:        "admin",
		Permissions: []Permission{PermissionPublish, PermissionSubscribe},
		Description: "Publish and subscribe on every topic",
	},
	"publisher": {
		Name:        "publisher",
		Permissions: []Permission{PermissionPublish},
		Description: "Publish only",
	},
	"subscriber": {
		Name:        "subscriber",
		Permissions: []Permission{PermissionSubscribe},
		Description: "Subscribe only",
	},
	"guest": {
		Name:        "guest",
		Permissions: []Permission{},
		Description: "Access to public topics only",
	},
}

// User represents an MQTT user.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Roles        []string  `json:"roles"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// storeFile is the on-disk layout of the user file.
type storeFile struct {
	Users         map[string]*User `json:"users"`
	Roles         map[string]*Role `json:"roles,omitempty"`
	ACLs          []*TopicACL      `json:"acls,omitempty"`
	DefaultPublic *bool            `json:"default_public,omitempty"`
}

// UserStore manages user credentials, roles and topic ACLs.
type UserStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	roles         map[string]*Role
	acls          []*TopicACL
	defaultPublic bool
	filePath      string
}

// NewUserStore creates a new user store backed by filePath. An empty path
// keeps the store in memory.
func NewUserStore(filePath string) *UserStore {
	store := &UserStore{
		users:         make(map[string]*User),
		roles:         make(map[string]*Role),
		defaultPublic: true,
		filePath:      filePath,
	}
	for name, role := range DefaultRoles {
		store.roles[name] = role
	}
	return store
}

// Load loads users from the configured file path. A missing file leaves the
// store empty.
func (s *UserStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read user store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse user store: %w", err)
	}

	s.users = f.Users
	if s.users == nil {
		s.users = make(map[string]*User)
	}
	for name, role := range f.Roles {
		s.roles[name] = role
	}
	for _, acl := range f.ACLs {
		if err := acl.validate(); err != nil {
			return fmt.Errorf("failed to parse user store: %w", err)
		}
	}
	s.acls = f.ACLs
	if f.DefaultPublic != nil {
		s.defaultPublic = *f.DefaultPublic
	}
	return nil
}

// Save persists the store to the configured file path.
func (s *UserStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filePath == "" {
		return nil
	}

	custom := make(map[string]*Role)
	for name, role := range s.roles {
		if DefaultRoles[name] != role {
			custom[name] = role
		}
	}
	defaultPublic := s.defaultPublic
	data, err := json.MarshalIndent(storeFile{
		Users:         s.users,
		Roles:         custom,
		ACLs:          s.acls,
		DefaultPublic: &defaultPublic,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user store: %w", err)
	}

	return os.WriteFile(s.filePath, data, 0600)
}

// CreateUser creates a new user with the given password.
func (s *UserStore) CreateUser(username, password string, roles []string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return fmt.Errorf("user %q already exists", username)
	}
	now := time.Now()
	s.users[username] = &User{
		Username:     username,
		PasswordHash: hash,
		Roles:        roles,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

// Authenticate verifies username and password, returning the user if valid.
func (s *UserStore) Authenticate(username string, password []byte) (*User, error) {
	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser returns a user by username.
func (s *UserStore) GetUser(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, exists := s.users[username]
	return user, exists
}

// DeleteUser removes a user.
func (s *UserStore) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; !exists {
		return fmt.Errorf("user %q not found", username)
	}
	delete(s.users, username)
	return nil
}

// UpdatePassword updates a user's password.
func (s *UserStore) UpdatePassword(username, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return fmt.Errorf("user %q not found", username)
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	return nil
}

// SetUserEnabled enables or disables a user.
func (s *UserStore) SetUserEnabled(username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return fmt.Errorf("user %q not found", username)
	}
	user.Enabled = enabled
	user.UpdatedAt = time.Now()
	return nil
}

// ListUsers returns all usernames in sorted order.
func (s *UserStore) ListUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for username := range s.users {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// HasPermission checks if a user has a specific permission through one of
// its roles.
func (s *UserStore) HasPermission(username string, perm Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return false
	}
	for _, roleName := range user.Roles {
		role, ok := s.roles[roleName]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Common errors
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAuthRequired       = errors.New("authentication required")
	ErrEmptyUsername      = errors.New("username is empty")
	ErrACLNotFound        = errors.New("acl not found")
)
