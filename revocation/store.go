// Package revocation keeps revoked token ids (jti) outside the process
// configuration, so a token can be invalidated without restarting readers.
package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/bionicotaku/lingo-utils-jwtauth"
)

// ErrEmptyID is returned when revoking an empty jti.
var ErrEmptyID = errors.New("revocation: jti is required")

// Store records revoked jti values until the token would have expired anyway.
// A zero until keeps the entry forever.
type Store interface {
	jwtauth.RevocationList
	Revoke(ctx context.Context, jti string, until time.Time) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
