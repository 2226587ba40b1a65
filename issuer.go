package jwtauth

import (
	"context"
	"fmt"
	"time"
)

// Issuer creates access and refresh tokens. It embeds a Reader configured
// with the same keys, so every token it issues can be verified by it.
type Issuer struct {
	*Reader
	sign SignFunc
}

// Tokens is the pair returned after authentication.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// NewIssuer builds an Issuer. Unlike a Reader, an RSA Issuer needs the
// private key.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	r, err := NewReader(cfg, opts...)
	if err != nil {
		return nil, err
	}
	var sign SignFunc
	if r.cfg.Algorithm.IsHMAC() {
		k, _ := r.keys.primarySecret()
		sign, err = HMACSigner(r.cfg.Algorithm, k.Secret)
	} else {
		k, _ := r.keys.primaryPrivate()
		sign, err = RSASigner(r.cfg.Algorithm, k)
	}
	if err != nil {
		return nil, err
	}
	if r.cfg.EncryptPayload && r.cfg.PublicKey == nil {
		return nil, newErrorf(ErrCodeMissingKey, "PublicKey is required to EncryptPayload")
	}
	return &Issuer{Reader: r, sign: sign}, nil
}

// CreateAccessToken issues an access token for session. roles and perms are
// merged after the session's own, without duplicates.
func (i *Issuer) CreateAccessToken(ctx context.Context, session *Session, roles, perms []string) (string, error) {
	if session == nil {
		return "", newErrorf(ErrCodeInvalidConfig, "session is required")
	}
	payload := i.accessPayload(session, roles, perms, i.opts.now())
	if err := i.assignID(ctx, payload, i.opts.accessIDs); err != nil {
		return "", err
	}
	if i.opts.payloadFilter != nil {
		i.opts.payloadFilter(payload, session)
	}

	var (
		token string
		err   error
	)
	if i.cfg.EncryptPayload {
		pub, _ := i.keys.primaryPublic()
		token, err = EncryptJWE(payload, pub)
	} else {
		header := NewHeader(i.cfg.Algorithm, i.KeyID())
		if i.opts.headerFilter != nil {
			i.opts.headerFilter(header, session)
		}
		token, err = CreateJWT(header, payload, i.sign)
	}
	if err != nil {
		return "", err
	}
	i.opts.metrics.observeIssued(AccessToken)
	return token, nil
}

func (i *Issuer) accessPayload(session *Session, roles, perms []string, now time.Time) Payload {
	p := Payload{
		ClaimIssuer:    i.cfg.Issuer,
		ClaimSubject:   session.UserAuthID,
		ClaimIssuedAt:  now.Unix(),
		ClaimExpiresAt: now.Add(i.cfg.ExpireTokensIn).Unix(),
	}
	p.setAudience(i.cfg.Audiences)

	optional := []struct{ key, value string }{
		{ClaimEmail, session.Email},
		{ClaimGivenName, session.FirstName},
		{ClaimFamilyName, session.LastName},
		{ClaimName, session.DisplayName},
		{ClaimPreferredUsername, session.UserName},
	}
	for _, c := range optional {
		if c.value != "" {
			p[c.key] = c.value
		}
	}

	if url := session.ProfileURL; url != "" {
		if len(url) <= i.cfg.MaxProfileURLSize {
			p[ClaimPicture] = url
		} else {
			i.opts.logger.Warn().
				Str("sub", session.UserAuthID).
				Int("size", len(url)).
				Msg("profile url exceeds max token size, omitting picture claim")
		}
	}

	if all := mergeStrings(session.Roles, roles); len(all) > 0 {
		p[ClaimRoles] = all
	}
	if all := mergeStrings(session.Permissions, perms); len(all) > 0 {
		p[ClaimPermissions] = all
	}
	return p
}

func (i *Issuer) assignID(ctx context.Context, payload Payload, src IDSource) error {
	if src == nil {
		return nil
	}
	id, err := src.NextID(ctx)
	if err != nil {
		return newError(ErrCodeInternal, fmt.Errorf("next jti: %w", err))
	}
	if id != "" {
		payload[ClaimJWTID] = id
	}
	return nil
}

// CreateRefreshToken issues a refresh token for userID that expires after
// ExpireRefreshTokensIn.
func (i *Issuer) CreateRefreshToken(ctx context.Context, userID string) (string, error) {
	return i.CreateRefreshTokenWithExpiry(ctx, userID, i.cfg.ExpireRefreshTokensIn)
}

// CreateRefreshTokenWithExpiry issues a refresh token valid for expireIn.
// Refresh tokens are always signed, never encrypted.
func (i *Issuer) CreateRefreshTokenWithExpiry(ctx context.Context, userID string, expireIn time.Duration) (string, error) {
	if userID == "" {
		return "", newErrorf(ErrCodeInvalidConfig, "userID is required")
	}
	header := Header{"typ": tokenTypeRefresh, "alg": string(i.cfg.Algorithm)}
	if kid := i.KeyID(); kid != "" {
		header["kid"] = kid
	}
	now := i.opts.now()
	payload := Payload{
		ClaimSubject:   userID,
		ClaimIssuedAt:  now.Unix(),
		ClaimExpiresAt: now.Add(expireIn).Unix(),
	}
	payload.setAudience(i.cfg.Audiences)
	if err := i.assignID(ctx, payload, i.opts.refreshIDs); err != nil {
		return "", err
	}
	token, err := CreateJWT(header, payload, i.sign)
	if err != nil {
		return "", err
	}
	i.opts.metrics.observeIssued(RefreshToken)
	return token, nil
}

// IssueTokens returns an access token, plus a refresh token when a
// SessionSource is configured to honour it later.
func (i *Issuer) IssueTokens(ctx context.Context, session *Session, roles, perms []string) (Tokens, error) {
	access, err := i.CreateAccessToken(ctx, session, roles, perms)
	if err != nil {
		return Tokens{}, err
	}
	out := Tokens{AccessToken: access}
	if i.opts.sessions == nil || session.UserAuthID == "" {
		return out, nil
	}
	out.RefreshToken, err = i.CreateRefreshToken(ctx, session.UserAuthID)
	if err != nil {
		return Tokens{}, err
	}
	return out, nil
}
