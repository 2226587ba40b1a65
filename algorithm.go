package jwtauth

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Algorithm names a supported JWS signing algorithm.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
)

// IsHMAC reports whether the algorithm signs with a shared secret.
func (a Algorithm) IsHMAC() bool {
	switch a {
	case HS256, HS384, HS512:
		return true
	}
	return false
}

// IsRSA reports whether the algorithm signs with an RSA key pair.
func (a Algorithm) IsRSA() bool {
	switch a {
	case RS256, RS384, RS512:
		return true
	}
	return false
}

// ParseAlgorithm validates an algorithm name taken from configuration or a
// token header.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(name)
	if !alg.IsHMAC() && !alg.IsRSA() {
		return "", newErrorf(ErrCodeUnsupportedAlgorithm, "Invalid algorithm: %s", name)
	}
	return alg, nil
}

func (a Algorithm) signingMethod() (gojwt.SigningMethod, error) {
	switch a {
	case HS256:
		return gojwt.SigningMethodHS256, nil
	case HS384:
		return gojwt.SigningMethodHS384, nil
	case HS512:
		return gojwt.SigningMethodHS512, nil
	case RS256:
		return gojwt.SigningMethodRS256, nil
	case RS384:
		return gojwt.SigningMethodRS384, nil
	case RS512:
		return gojwt.SigningMethodRS512, nil
	default:
		return nil, newErrorf(ErrCodeUnsupportedAlgorithm, "Invalid algorithm: %s", a)
	}
}

// SignFunc signs the bytes of "base64url(header).base64url(payload)".
type SignFunc func(data []byte) ([]byte, error)

// HMACSigner returns a SignFunc for an HS* algorithm.
func HMACSigner(alg Algorithm, secret []byte) (SignFunc, error) {
	if !alg.IsHMAC() {
		return nil, newErrorf(ErrCodeUnsupportedAlgorithm, "%s is not an HMAC algorithm", alg)
	}
	if len(secret) == 0 {
		return nil, newErrorf(ErrCodeMissingKey, "AuthKey required to use: %s", alg)
	}
	method, err := alg.signingMethod()
	if err != nil {
		return nil, err
	}
	return func(data []byte) ([]byte, error) {
		return method.Sign(string(data), secret)
	}, nil
}

// RSASigner returns a SignFunc for an RS* algorithm.
func RSASigner(alg Algorithm, key PrivateKey) (SignFunc, error) {
	if !alg.IsRSA() {
		return nil, newErrorf(ErrCodeUnsupportedAlgorithm, "%s is not an RSA algorithm", alg)
	}
	if key.Key == nil {
		return nil, newErrorf(ErrCodeMissingKey, "PrivateKey required to use: %s", alg)
	}
	method, err := alg.signingMethod()
	if err != nil {
		return nil, err
	}
	return func(data []byte) ([]byte, error) {
		sig, err := method.Sign(string(data), key.Key)
		if err != nil {
			return nil, fmt.Errorf("rsa sign: %w", err)
		}
		return sig, nil
	}, nil
}
