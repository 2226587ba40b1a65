package jwtauth

import (
	"context"
	"fmt"
	"time"
)

// TokenKind selects which validity rules apply.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	if k == RefreshToken {
		return "refresh"
	}
	return "access"
}

// RevocationList reports jti values revoked outside the static configuration.
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PreValidateFunc runs before every other validity rule. A non-empty return
// value rejects the token with that message.
type PreValidateFunc func(payload Payload) string

// Result is the outcome of inspecting a token. A zero Code means the token is
// verified and valid.
type Result struct {
	Header  Header
	Payload Payload
	Code    ErrorCode
	Reason  string
}

// Valid reports whether the token passed every check.
func (r Result) Valid() bool { return r.Code == "" }

// Err returns the rejection as an *Error, or nil when valid.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Reason}
}

func invalid(code ErrorCode, reason string) Result {
	if reason == "" {
		reason = code.Message()
	}
	return Result{Code: code, Reason: reason}
}

type policy struct {
	audiences        []string
	requiresAudience bool
	invalidIDs       map[string]struct{}
	accessCutover    time.Time
	refreshCutover   time.Time
	preValidate      PreValidateFunc
	revocations      RevocationList
}

func newPolicy(cfg Config) policy {
	p := policy{
		audiences:        cfg.Audiences,
		requiresAudience: cfg.RequiresAudience,
		accessCutover:    cfg.InvalidateTokensIssuedBefore,
		refreshCutover:   cfg.InvalidateRefreshTokensIssuedBefore,
	}
	if len(cfg.InvalidateJWTIDs) > 0 {
		p.invalidIDs = make(map[string]struct{}, len(cfg.InvalidateJWTIDs))
		for _, id := range cfg.InvalidateJWTIDs {
			p.invalidIDs[id] = struct{}{}
		}
	}
	return p
}

// check applies the validity rules in order and returns the first failure.
// A returned error means the payload could not be evaluated.
func (p policy) check(ctx context.Context, payload Payload, kind TokenKind, now time.Time) (Result, error) {
	if p.preValidate != nil {
		if msg := p.preValidate(payload); msg != "" {
			return invalid(ErrCodeRejected, msg), nil
		}
	}
	nowSecs := now.Unix()

	exp, ok, err := payload.UnixTime(ClaimExpiresAt)
	if err != nil {
		return Result{}, err
	}
	if ok && nowSecs >= exp {
		return invalid(ErrCodeExpired, ""), nil
	}

	nbf, ok, err := payload.UnixTime(ClaimNotBefore)
	if err != nil {
		return Result{}, err
	}
	if ok && nbf > nowSecs {
		return invalid(ErrCodeNotYetValid, ""), nil
	}

	if jti := payload.JWTID(); jti != "" {
		if _, found := p.invalidIDs[jti]; found {
			return invalid(ErrCodeInvalidated, ""), nil
		}
		if p.revocations != nil {
			revoked, err := p.revocations.IsRevoked(ctx, jti)
			if err != nil {
				return Result{}, newError(ErrCodeInternal, fmt.Errorf("check revocation: %w", err))
			}
			if revoked {
				return invalid(ErrCodeInvalidated, ""), nil
			}
		}
	}

	cutover := p.accessCutover
	if kind == RefreshToken {
		cutover = p.refreshCutover
	}
	if !cutover.IsZero() {
		iat, ok, err := payload.UnixTime(ClaimIssuedAt)
		if err != nil {
			return Result{}, err
		}
		if !ok || iat < cutover.Unix() {
			return invalid(ErrCodeInvalidated, ""), nil
		}
	}

	if p.hasInvalidAudience(payload) {
		return invalid(ErrCodeInvalidAudience, "Invalid Audience: "+payload.String(ClaimAudience)), nil
	}
	return Result{}, nil
}

func (p policy) hasInvalidAudience(payload Payload) bool {
	tokenAudiences := payload.Audiences()
	if len(tokenAudiences) > 0 && len(p.audiences) > 0 {
		for _, aud := range tokenAudiences {
			if containsString(p.audiences, aud) {
				return false
			}
		}
		return true
	}
	return p.requiresAudience
}
