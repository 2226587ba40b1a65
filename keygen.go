package jwtauth

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

const (
	// AuthKeySize is the size of generated HMAC secrets.
	AuthKeySize = 32
	// DefaultRSAKeyBits is the modulus size of generated RSA keys.
	DefaultRSAKeyBits = 2048
)

// GenerateAuthKey returns a random HMAC secret.
func GenerateAuthKey() ([]byte, error) {
	key := make([]byte, AuthKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate auth key: %w", err)
	}
	return key, nil
}

// GenerateRSAKey returns a new RSA key pair. bits <= 0 uses DefaultRSAKeyBits.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultRSAKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}
