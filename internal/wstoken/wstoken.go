// vsmanager is a control-plane daemon for a co-located game server.
// Copyright (C) 2026 vsmanager contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package wstoken issues and validates short-lived opaque tokens that
// authenticate WebSocket connections, which cannot send the X-API-Key
// header a normal request would use.
package wstoken

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"vsmanager/internal/auth"
)

// DefaultTTL is how long a freshly created token remains valid.
const DefaultTTL = 300 * time.Second

// DefaultMaxTokens bounds the number of simultaneously live tokens.
const DefaultMaxTokens = 10000

type entry struct {
	role      auth.Role
	createdAt time.Time
	expiresAt time.Time
}

// Service issues and validates WebSocket tokens, all operations guarded
// by a single mutex covering both the map and its eviction bookkeeping.
type Service struct {
	mu        sync.Mutex
	tokens    map[string]entry
	ttl       time.Duration
	maxTokens int
	now       func() time.Time
}

// New constructs a Service with DefaultTTL and DefaultMaxTokens.
func New() *Service {
	return &Service{
		tokens:    make(map[string]entry),
		ttl:       DefaultTTL,
		maxTokens: DefaultMaxTokens,
		now:       time.Now,
	}
}

// Create generates a new token for role, stores it, and opportunistically
// evicts expired entries and then oldest-by-created_at entries down to
// maxTokens.
func (s *Service) Create(role auth.Role) (token string, createdAt, expiresAt time.Time, err error) {
	token, err = generateToken()
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}

	now := s.now()
	createdAt = now
	expiresAt = now.Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = entry{role: role, createdAt: createdAt, expiresAt: expiresAt}
	s.evictExpiredLocked(now)
	s.evictOldestLocked()

	return token, createdAt, expiresAt, nil
}

// Validate looks up token, deleting and returning ok=false if it has
// expired, or if it was never issued.
func (s *Service) Validate(token string) (role auth.Role, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.tokens[token]
	if !found {
		return "", false
	}
	if s.now().After(e.expiresAt) {
		delete(s.tokens, token)
		return "", false
	}
	return e.role, true
}

// Count returns the current number of stored tokens, for tests and
// introspection.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Service) evictExpiredLocked(now time.Time) {
	for token, e := range s.tokens {
		if now.After(e.expiresAt) {
			delete(s.tokens, token)
		}
	}
}

func (s *Service) evictOldestLocked() {
	for len(s.tokens) > s.maxTokens {
		var oldestToken string
		var oldestAt time.Time
		first := true
		for token, e := range s.tokens {
			if first || e.createdAt.Before(oldestAt) {
				oldestToken, oldestAt, first = token, e.createdAt, false
			}
		}
		delete(s.tokens, oldestToken)
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}
