package jwtauth

import (
	"crypto/rsa"
	"errors"
	"time"
)

const (
	defaultIssuer                = "ssjwt"
	defaultExpireTokensIn        = 14 * 24 * time.Hour
	defaultExpireRefreshTokensIn = 365 * 24 * time.Hour
	defaultMaxProfileURLSize     = 2800
)

// Config describes how tokens are signed, encrypted and validated.
type Config struct {
	// Algorithm used to sign tokens. Defaults to HS256.
	Algorithm Algorithm
	// AllowAnyAlgorithm accepts tokens whose alg header differs from Algorithm.
	// When false such tokens fail with ErrCodeUnsupportedAlgorithm.
	AllowAnyAlgorithm bool

	AuthKey          []byte
	FallbackAuthKeys [][]byte

	// PrivateKey signs RS* tokens and decrypts JWE tokens. When PublicKey is
	// nil it is derived from PrivateKey.
	PrivateKey          *rsa.PrivateKey
	PublicKey           *rsa.PublicKey
	FallbackPublicKeys  []*rsa.PublicKey
	FallbackPrivateKeys []*rsa.PrivateKey

	// KeyID overrides the kid header. Defaults to a prefix of the signing key.
	KeyID string

	EncryptPayload bool

	Issuer           string
	Audiences        []string
	RequiresAudience bool

	ExpireTokensIn        time.Duration
	ExpireRefreshTokensIn time.Duration

	InvalidateTokensIssuedBefore        time.Time
	InvalidateRefreshTokensIssuedBefore time.Time
	InvalidateJWTIDs                    []string

	// MaxProfileURLSize caps the picture claim so the token still fits a cookie.
	MaxProfileURLSize int
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	if c.Algorithm == "" {
		c.Algorithm = HS256
	}
	if c.Issuer == "" {
		c.Issuer = defaultIssuer
	}
	if c.ExpireTokensIn <= 0 {
		c.ExpireTokensIn = defaultExpireTokensIn
	}
	if c.ExpireRefreshTokensIn <= 0 {
		c.ExpireRefreshTokensIn = defaultExpireRefreshTokensIn
	}
	if c.MaxProfileURLSize <= 0 {
		c.MaxProfileURLSize = defaultMaxProfileURLSize
	}
	if c.PrivateKey != nil && c.PublicKey == nil {
		c.PublicKey = &c.PrivateKey.PublicKey
	}
	c.Audiences = compactStrings(c.Audiences)
}

// validate ensures the configuration can verify tokens.
func (c Config) validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if c.Algorithm.IsHMAC() && len(c.AuthKey) == 0 {
		return newError(ErrCodeMissingKey, errors.New("an AuthKey is required to use "+string(c.Algorithm)))
	}
	return nil
}

// validateRSAKeys requires local RSA keys unless verification keys are
// resolved from an external source.
func (c Config) validateRSAKeys(external bool) error {
	if c.Algorithm.IsRSA() && c.PublicKey == nil && !external {
		return newError(ErrCodeMissingKey, errors.New("a PrivateKey or PublicKey is required to use "+string(c.Algorithm)))
	}
	return nil
}

// clone returns a copy whose slices can be kept without aliasing the caller's.
func (c Config) clone() Config {
	out := c
	out.Audiences = append([]string(nil), c.Audiences...)
	out.InvalidateJWTIDs = append([]string(nil), c.InvalidateJWTIDs...)
	out.FallbackAuthKeys = append([][]byte(nil), c.FallbackAuthKeys...)
	out.FallbackPublicKeys = append([]*rsa.PublicKey(nil), c.FallbackPublicKeys...)
	out.FallbackPrivateKeys = append([]*rsa.PrivateKey(nil), c.FallbackPrivateKeys...)
	return out
}

func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
