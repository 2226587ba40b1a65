package jwtauth

import (
	"context"

	"github.com/google/uuid"
)

// AuthProviderName is recorded on sessions created from tokens.
const AuthProviderName = "jwt"

// Session is the authenticated user state carried by an access token.
type Session struct {
	ID              string
	UserAuthID      string
	UserName        string
	Email           string
	FirstName       string
	LastName        string
	DisplayName     string
	ProfileURL      string
	Roles           []string
	Permissions     []string
	AuthProvider    string
	FromToken       bool
	IsAuthenticated bool
}

// HasRole reports whether the session carries role.
func (s *Session) HasRole(role string) bool {
	return s != nil && containsString(s.Roles, role)
}

// SessionResult is what a SessionSource knows about a user right now.
type SessionResult struct {
	Session     Session
	Roles       []string
	Permissions []string
	// Locked accounts cannot exchange refresh tokens.
	Locked bool
}

// SessionSource resolves the current state of a user when a refresh token is
// exchanged. A nil result with nil error means the user is unknown.
type SessionSource interface {
	SessionFor(ctx context.Context, userID string) (*SessionResult, error)
}

// SessionSourceFunc adapts a function to SessionSource.
type SessionSourceFunc func(ctx context.Context, userID string) (*SessionResult, error)

// SessionFor calls f.
func (f SessionSourceFunc) SessionFor(ctx context.Context, userID string) (*SessionResult, error) {
	return f(ctx, userID)
}

// sessionFromPayload maps token claims onto a new session. The session id
// comes from the jid claim, or a fresh UUID.
func sessionFromPayload(p Payload) *Session {
	id := p.String(ClaimSessionID)
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:              id,
		UserAuthID:      p.Subject(),
		UserName:        p.String(ClaimPreferredUsername),
		Email:           p.String(ClaimEmail),
		FirstName:       p.String(ClaimGivenName),
		LastName:        p.String(ClaimFamilyName),
		DisplayName:     p.String(ClaimName),
		ProfileURL:      p.String(ClaimPicture),
		Roles:           p.Roles(),
		Permissions:     p.Permissions(),
		AuthProvider:    AuthProviderName,
		FromToken:       true,
		IsAuthenticated: true,
	}
}
