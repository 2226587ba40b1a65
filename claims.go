package jwtauth

import (
	"strings"
	"time"
)

// Claims represents normalized claims of a verified token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string

	Email       string
	UserName    string
	SessionID   string
	Roles       []string
	Permissions []string

	// CustomClaims holds every claim without a dedicated field, e.g. values
	// added by a payload filter.
	CustomClaims map[string]any
}

var knownClaims = map[string]struct{}{
	ClaimIssuer: {}, ClaimSubject: {}, ClaimAudience: {}, ClaimIssuedAt: {},
	ClaimExpiresAt: {}, ClaimNotBefore: {}, ClaimJWTID: {}, ClaimSessionID: {},
	ClaimEmail: {}, ClaimPreferredUsername: {}, ClaimRoles: {}, ClaimPermissions: {},
}

// ClaimsFromPayload extracts normalized claims. Malformed time claims are
// reported as ErrCodeInvalidToken.
func ClaimsFromPayload(p Payload) (*Claims, error) {
	claims := &Claims{
		Subject:     p.Subject(),
		Issuer:      p.String(ClaimIssuer),
		Audience:    p.Audiences(),
		JWTID:       p.JWTID(),
		Email:       strings.ToLower(p.String(ClaimEmail)),
		UserName:    p.String(ClaimPreferredUsername),
		SessionID:   p.String(ClaimSessionID),
		Roles:       p.Roles(),
		Permissions: p.Permissions(),
	}
	for key, dst := range map[string]*time.Time{
		ClaimExpiresAt: &claims.ExpiresAt,
		ClaimNotBefore: &claims.NotBefore,
		ClaimIssuedAt:  &claims.IssuedAt,
	} {
		secs, ok, err := p.UnixTime(key)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = time.Unix(secs, 0).UTC()
		}
	}
	for k, v := range p {
		if _, ok := knownClaims[k]; ok {
			continue
		}
		if claims.CustomClaims == nil {
			claims.CustomClaims = make(map[string]any)
		}
		claims.CustomClaims[k] = v
	}
	return claims, nil
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	return c != nil && containsString(c.Roles, role)
}

// HasPermission reports whether the claims carry perm.
func (c *Claims) HasPermission(perm string) bool {
	return c != nil && containsString(c.Permissions, perm)
}

func normalizeStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return compactStrings(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
		return nil
	default:
		return nil
	}
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// mergeStrings appends the values of extra missing from base.
func mergeStrings(base []string, extra ...[]string) []string {
	out := make([]string, 0, len(base))
	for _, v := range base {
		if v != "" && !containsString(out, v) {
			out = append(out, v)
		}
	}
	for _, list := range extra {
		for _, v := range list {
			if v != "" && !containsString(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}
