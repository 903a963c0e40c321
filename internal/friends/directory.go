// Package friends adapts the identity service's friend lists for the room and
// presence components. Friendship is one-directional: B is visible to A when B
// is in A's list.
package friends

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownUser = errors.New("unknown user")

type Directory interface {
	// Friends returns userID's friend ids. A user with no list has no friends.
	Friends(ctx context.Context, userID string) ([]string, error)
	Username(ctx context.Context, userID string) (string, error)
}

type entry struct {
	username string
	friends  []string
}

// Static is an in-memory Directory for development and tests.
type Static struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewStatic() *Static {
	return &Static{entries: make(map[string]entry)}
}

// Set replaces userID's username and friend list.
func (s *Static) Set(userID, username string, friends ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = entry{username: username, friends: slices.Clone(friends)}
}

func (s *Static) Friends(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries[userID].friends), nil
}

func (s *Static) Username(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return e.username, nil
}

// ParseStatic builds a Static from "alice=bob,carol;bob=alice". Usernames
// default to the user id.
func ParseStatic(seed string) (*Static, error) {
	s := NewStatic()
	for _, part := range strings.Split(seed, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		user, list, ok := strings.Cut(part, "=")
		user = strings.TrimSpace(user)
		if !ok || user == "" {
			return nil, fmt.Errorf("friends: malformed entry %q", part)
		}
		var ids []string
		for _, f := range strings.Split(list, ",") {
			if f = strings.TrimSpace(f); f != "" && f != user {
				ids = append(ids, f)
			}
		}
		s.Set(user, user, ids...)
	}
	return s, nil
}
