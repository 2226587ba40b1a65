package jwtauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Registered and profile claim names.
const (
	ClaimIssuer            = "iss"
	ClaimSubject           = "sub"
	ClaimAudience          = "aud"
	ClaimIssuedAt          = "iat"
	ClaimExpiresAt         = "exp"
	ClaimNotBefore         = "nbf"
	ClaimJWTID             = "jti"
	ClaimSessionID         = "jid"
	ClaimEmail             = "email"
	ClaimGivenName         = "given_name"
	ClaimFamilyName        = "family_name"
	ClaimName              = "name"
	ClaimPreferredUsername = "preferred_username"
	ClaimPicture           = "picture"
	ClaimRoles             = "roles"
	ClaimPermissions       = "perms"
)

const (
	tokenTypeAccess  = "JWT"
	tokenTypeRefresh = "JWTR"
)

// Header is a decoded JOSE header.
type Header map[string]any

// NewHeader returns an access token header for alg with an optional kid.
func NewHeader(alg Algorithm, keyID string) Header {
	h := Header{"typ": tokenTypeAccess, "alg": string(alg)}
	if keyID != "" {
		h["kid"] = keyID
	}
	return h
}

// headerOrder is the field order of issued headers. Other fields follow,
// sorted.
var headerOrder = []string{"typ", "alg", "enc", "kid"}

// MarshalJSON writes the standard fields in issue order so new tokens match
// the existing wire format byte for byte.
func (h Header) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(h))
	for _, k := range headerOrder {
		if _, ok := h[k]; ok {
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(h))
	for k := range h {
		if !slices.Contains(headerOrder, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(h[k])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Algorithm returns the alg header.
func (h Header) Algorithm() string { return stringValue(h["alg"]) }

// KeyID returns the kid header.
func (h Header) KeyID() string { return stringValue(h["kid"]) }

// Type returns the typ header.
func (h Header) Type() string { return stringValue(h["typ"]) }

// IsRefresh reports whether the header marks a refresh token.
func (h Header) IsRefresh() bool { return h.Type() == tokenTypeRefresh }

// Payload is a decoded JWT claims set. Numbers decode as json.Number.
type Payload map[string]any

// String returns a claim as a string. Non-string values are rendered as JSON.
func (p Payload) String(key string) string {
	return stringValue(p[key])
}

// Has reports whether a non-empty claim is present.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// Subject returns the sub claim.
func (p Payload) Subject() string { return p.String(ClaimSubject) }

// JWTID returns the jti claim.
func (p Payload) JWTID() string { return p.String(ClaimJWTID) }

// UnixTime returns a time claim in seconds since the epoch. ok is false when the
// claim is absent. Values that are neither numbers nor numeric strings are a
// malformed token.
func (p Payload) UnixTime(key string) (seconds int64, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		if t == "" {
			return 0, false, nil
		}
		raw = t
	case float64:
		return floatSeconds(key, t)
	case int64:
		return t, true, nil
	case int:
		return int64(t), true, nil
	default:
		return 0, false, newErrorf(ErrCodeInvalidToken, "Claim '%s' must be a Unix Timestamp", key)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, newErrorf(ErrCodeInvalidToken, "Claim '%s' must be a Unix Timestamp", key)
	}
	return floatSeconds(key, f)
}

// floatSeconds truncates f, rejecting values an int64 cannot hold.
func floatSeconds(key string, f float64) (int64, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false, newErrorf(ErrCodeInvalidToken, "Claim '%s' must be a Unix Timestamp", key)
	}
	return int64(f), true, nil
}

// Audiences returns the aud claim as a list. The claim may be a single string,
// an array, or a JSON array encoded as a string.
func (p Payload) Audiences() []string {
	return p.Strings(ClaimAudience)
}

// Roles returns the roles claim.
func (p Payload) Roles() []string { return p.Strings(ClaimRoles) }

// Permissions returns the perms claim.
func (p Payload) Permissions() []string { return p.Strings(ClaimPermissions) }

// Strings returns a list-valued claim.
func (p Payload) Strings(key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	if s, ok := v.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") {
			var list []string
			if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
				return compactStrings(list)
			}
		}
	}
	return normalizeStrings(v)
}

// setAudience writes aud as a string for one audience and an array otherwise.
func (p Payload) setAudience(audiences []string) {
	switch len(audiences) {
	case 0:
	case 1:
		p[ClaimAudience] = audiences[0]
	default:
		p[ClaimAudience] = append([]string(nil), audiences...)
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
