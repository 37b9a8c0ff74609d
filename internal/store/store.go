// Package store provides the in-memory user table backing authentication.
// It is a stand-in for durable storage: credentials are held as plaintext
// and nothing survives a restart.
package store

import (
	"sync"
	"time"
)

// firstUserID seeds the sequential user id counter.
const firstUserID = 1000

// User is one registered account. The Credential field holds the exact
// secret compared at login time.
type User struct {
	Username   string
	Credential string
	ID         int
	Registered time.Time
	Active     bool
}

// UserStore is the credential and account lookup collaborator used by the
// session layer. The server core only ever reads through it.
type UserStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	nextID int
}

// NewUserStore creates an empty user table.
func NewUserStore() *UserStore {
	return &UserStore{
		users:  make(map[string]*User),
		nextID: firstUserID,
	}
}

// NewDefaultUserStore creates a user table seeded with the demo accounts.
func NewDefaultUserStore() *UserStore {
	s := NewUserStore()
	s.Add("admin", "admin123")
	s.Add("alice", "alice123")
	s.Add("bob", "bob123")
	s.Add("charlie", "charlie123")
	return s
}

// Add registers a new account and returns false when the username is
// already taken or empty.
func (s *UserStore) Add(username, credential string) bool {
	if username == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return false
	}

	s.users[username] = &User{
		Username:   username,
		Credential: credential,
		ID:         s.nextID,
		Registered: time.Now(),
		Active:     true,
	}
	s.nextID++
	return true
}

// FindByUsername returns a copy of the account with the given username, or
// false when absent.
func (s *UserStore) FindByUsername(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// FindByID returns a copy of the account with the given id, or false when
// absent. The scan is linear; the table stays small.
func (s *UserStore) FindByID(id int) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			return *u, true
		}
	}
	return User{}, false
}

// Authenticate reports whether the username exists, the account is active,
// and the credential matches exactly.
func (s *UserStore) Authenticate(username, credential string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok || !u.Active {
		return false
	}
	return u.Credential == credential
}

// Deactivate disables an account without removing it. Returns false when
// the username is unknown.
func (s *UserStore) Deactivate(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return false
	}
	u.Active = false
	return true
}

// Count returns the number of registered accounts.
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
