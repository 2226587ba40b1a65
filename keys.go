package jwtauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// SecretKey is an HMAC signing secret.
type SecretKey struct {
	KeyID  string
	Secret []byte
}

// PublicKey is an RSA verification or encryption key.
type PublicKey struct {
	KeyID string
	Key   *rsa.PublicKey
}

// PrivateKey is an RSA signing or decryption key.
type PrivateKey struct {
	KeyID string
	Key   *rsa.PrivateKey
}

// PublicKeySource supplies extra verification keys at verification time,
// e.g. keys published by another issuer through JWKS.
type PublicKeySource interface {
	PublicKeys(ctx context.Context) ([]PublicKey, error)
}

// KeyIDForSecret returns the default kid of an HMAC secret: the first three
// characters of its standard base64 encoding.
func KeyIDForSecret(secret []byte) string {
	return keyIDPrefix(base64.StdEncoding.EncodeToString(secret))
}

// KeyIDForRSA returns the default kid of an RSA key: the first three
// characters of the standard base64 encoding of its modulus.
func KeyIDForRSA(pub *rsa.PublicKey) string {
	if pub == nil || pub.N == nil {
		return ""
	}
	return keyIDPrefix(base64.StdEncoding.EncodeToString(pub.N.Bytes()))
}

func keyIDPrefix(s string) string {
	if len(s) < 3 {
		return s
	}
	return s[:3]
}

// keyRing holds the primary and fallback keys in trial order.
type keyRing struct {
	secrets  []SecretKey
	public   []PublicKey
	private  []PrivateKey
	external PublicKeySource
}

func newKeyRing(cfg Config) keyRing {
	var ring keyRing
	if len(cfg.AuthKey) > 0 {
		ring.secrets = append(ring.secrets, SecretKey{KeyID: KeyIDForSecret(cfg.AuthKey), Secret: cfg.AuthKey})
	}
	for _, k := range cfg.FallbackAuthKeys {
		if len(k) == 0 {
			continue
		}
		ring.secrets = append(ring.secrets, SecretKey{KeyID: KeyIDForSecret(k), Secret: k})
	}
	if cfg.PublicKey != nil {
		ring.public = append(ring.public, PublicKey{KeyID: KeyIDForRSA(cfg.PublicKey), Key: cfg.PublicKey})
	}
	for _, k := range cfg.FallbackPublicKeys {
		if k == nil {
			continue
		}
		ring.public = append(ring.public, PublicKey{KeyID: KeyIDForRSA(k), Key: k})
	}
	if cfg.PrivateKey != nil {
		ring.private = append(ring.private, PrivateKey{KeyID: KeyIDForRSA(&cfg.PrivateKey.PublicKey), Key: cfg.PrivateKey})
	}
	for _, k := range cfg.FallbackPrivateKeys {
		if k == nil {
			continue
		}
		ring.private = append(ring.private, PrivateKey{KeyID: KeyIDForRSA(&k.PublicKey), Key: k})
	}
	if cfg.KeyID != "" {
		if len(ring.secrets) > 0 {
			ring.secrets[0].KeyID = cfg.KeyID
		}
		if cfg.PublicKey != nil {
			ring.public[0].KeyID = cfg.KeyID
		}
		if cfg.PrivateKey != nil {
			ring.private[0].KeyID = cfg.KeyID
		}
	}
	return ring
}

// primarySecret returns the key used to sign, if any.
func (k keyRing) primarySecret() (SecretKey, bool) {
	if len(k.secrets) == 0 {
		return SecretKey{}, false
	}
	return k.secrets[0], true
}

func (k keyRing) primaryPublic() (PublicKey, bool) {
	if len(k.public) == 0 {
		return PublicKey{}, false
	}
	return k.public[0], true
}

func (k keyRing) primaryPrivate() (PrivateKey, bool) {
	if len(k.private) == 0 {
		return PrivateKey{}, false
	}
	return k.private[0], true
}

// orderByKeyID moves candidates whose kid matches the header hint to the
// front. Every candidate is still returned.
func orderByKeyID[T any](items []T, keyID func(T) string, hint string) []T {
	if hint == "" || len(items) < 2 {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keyID(item) == hint {
			out = append(out, item)
		}
	}
	if len(out) == 0 || len(out) == len(items) {
		return items
	}
	for _, item := range items {
		if keyID(item) != hint {
			out = append(out, item)
		}
	}
	return out
}

// LoadPEM reads content from path if s does not look like inline PEM;
// otherwise returns s as bytes.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}

// ParseRSAPrivateKey parses a PKCS#1 or PKCS#8 PEM encoded RSA private key.
// s may be inline PEM or a file path.
func ParseRSAPrivateKey(s string) (*rsa.PrivateKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	key, err := gojwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// ParseRSAPublicKey parses a PKIX, PKCS#1 or certificate PEM encoded RSA
// public key. s may be inline PEM or a file path.
func ParseRSAPublicKey(s string) (*rsa.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	key, err := gojwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// EncodeRSAPrivateKey returns the PKCS#1 PEM encoding of key.
func EncodeRSAPrivateKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// EncodeRSAPublicKey returns the PKIX PEM encoding of key.
func EncodeRSAPublicKey(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
