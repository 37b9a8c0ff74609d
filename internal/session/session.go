// Package session binds authenticated user identities to registered
// connections. Credential checks are delegated to the user store; all
// connection state lives in the registry.
package session

import (
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// CredentialStore is the slice of the user store the authenticator needs.
type CredentialStore interface {
	Authenticate(username, credential string) bool
	FindByUsername(username string) (store.User, bool)
}

// Authenticator promotes connections between the anonymous and
// authenticated states.
type Authenticator struct {
	registry *registry.Registry
	users    CredentialStore
}

// NewAuthenticator creates an authenticator over the given registry and
// credential store.
func NewAuthenticator(reg *registry.Registry, users CredentialStore) *Authenticator {
	return &Authenticator{registry: reg, users: users}
}

// Authenticate checks the supplied credentials and, on success, binds the
// user identity to the connection. A connection that is already
// authenticated succeeds immediately without re-checking credentials;
// callers rely on that idempotence. All failure causes (unknown
// connection, bad credentials, inactive account) collapse into a single
// false result; the caller chooses the outward error code.
func (a *Authenticator) Authenticate(tr registry.Transport, username, credential string) bool {
	conn := a.registry.FindByTransport(tr)
	if conn == nil {
		logger.Warn("Authentication attempt for unknown connection (user=%s)", username)
		return false
	}

	if conn.Status == registry.StatusAuthenticated {
		logger.Debug("Connection %d already authenticated as %s", conn.ID, conn.Username)
		return true
	}

	if !a.users.Authenticate(username, credential) {
		logger.Warn("Authentication failed for user %s (conn=%d)", username, conn.ID)
		return false
	}

	user, ok := a.users.FindByUsername(username)
	if !ok {
		logger.Error("User %s vanished after successful credential check", username)
		return false
	}

	a.registry.SetAuth(tr, user.ID, username)
	logger.Info("User %s authenticated (conn=%d, id=%d)", username, conn.ID, user.ID)
	return true
}

// Logout reverts an authenticated connection to the anonymous connected
// state. It is a no-op for unknown or unauthenticated connections.
func (a *Authenticator) Logout(tr registry.Transport) {
	conn := a.registry.FindByTransport(tr)
	if conn == nil || conn.Status != registry.StatusAuthenticated {
		return
	}

	logger.Info("User %s logged out (conn=%d)", conn.Username, conn.ID)
	a.registry.ClearAuth(tr)
}

// IsAuthenticated reports whether the connection has a bound identity.
func (a *Authenticator) IsAuthenticated(tr registry.Transport) bool {
	conn := a.registry.FindByTransport(tr)
	return conn != nil && conn.Status == registry.StatusAuthenticated
}

// UserID returns the bound user id, or registry.NoUserID when the
// connection is absent or anonymous.
func (a *Authenticator) UserID(tr registry.Transport) int {
	conn := a.registry.FindByTransport(tr)
	if conn == nil || conn.Status != registry.StatusAuthenticated {
		return registry.NoUserID
	}
	return conn.UserID
}

// Username returns the bound username, or the empty string when the
// connection is absent or anonymous.
func (a *Authenticator) Username(tr registry.Transport) string {
	conn := a.registry.FindByTransport(tr)
	if conn == nil || conn.Status != registry.StatusAuthenticated {
		return ""
	}
	return conn.Username
}

// IsUserOnline reports whether some authenticated connection carries the
// username.
func (a *Authenticator) IsUserOnline(username string) bool {
	conn := a.registry.FindByUsername(username)
	return conn != nil && conn.Status == registry.StatusAuthenticated
}

// OnlineUsernames returns the usernames of all authenticated connections.
func (a *Authenticator) OnlineUsernames() []string {
	var names []string
	for _, conn := range a.registry.Snapshot() {
		if conn.Status == registry.StatusAuthenticated {
			names = append(names, conn.Username)
		}
	}
	return names
}
