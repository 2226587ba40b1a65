package jwtauth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

const (
	jweAlgorithm  = "RSA-OAEP"
	jweEncryption = "A128CBC-HS256"
	jweKeySize    = 32
	jweHalfKey    = jweKeySize / 2
)

// errJWETag means no configured private key produced a matching tag.
var errJWETag = errors.New("jwe: authentication tag mismatch")

// EncryptJWE seals payload into a five segment token for pub:
// header.wrappedKey.iv.ciphertext.tag.
//
// A random 256 bit key is wrapped with RSA-OAEP (SHA-1). Its first half keys
// HMAC-SHA256 and its second half keys AES-128-CBC with PKCS#7 padding. The tag
// is the full HMAC over ascii(header "." wrappedKey) || iv || ciphertext.
func EncryptJWE(payload Payload, pub PublicKey) (string, error) {
	if pub.Key == nil {
		return "", newErrorf(ErrCodeMissingKey, "PublicKey is required to EncryptPayload")
	}
	keyID := pub.KeyID
	if keyID == "" {
		keyID = KeyIDForRSA(pub.Key)
	}
	header := Header{"alg": jweAlgorithm, "enc": jweEncryption, "kid": keyID}
	headerSeg, err := marshalSegment(header)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	plaintext, err := marshalPayload(payload)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}

	cek := make([]byte, jweKeySize)
	if _, err := io.ReadFull(rand.Reader, cek); err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", newError(ErrCodeInternal, err)
	}

	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub.Key, cek, nil)
	if err != nil {
		return "", newError(ErrCodeInternal, fmt.Errorf("wrap key: %w", err))
	}
	ciphertext, err := aesCBCEncrypt(cek[jweHalfKey:], iv, plaintext)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}

	wrappedSeg := encodeSegment(wrapped)
	tag := jweTag(cek[:jweHalfKey], headerSeg+"."+wrappedSeg, iv, ciphertext)

	return headerSeg + "." + wrappedSeg + "." + encodeSegment(iv) + "." + encodeSegment(ciphertext) + "." + encodeSegment(tag), nil
}

// decryptJWE tries each private key in order. Keys that fail to unwrap the
// content key or produce a different tag are skipped.
//
// The loop stops at the first matching key, so which key matched is
// observable by timing.
func decryptJWE(parts []string, keys []PrivateKey) ([]byte, error) {
	if len(parts) != 5 {
		return nil, newErrorf(ErrCodeInvalidToken, "invalid JWE token: expected 5 segments, got %d", len(parts))
	}
	if len(keys) == 0 {
		return nil, newErrorf(ErrCodeMissingKey, "PrivateKey required to decrypt JWE Token")
	}
	wrapped, err := decodeSegment(parts[1])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	iv, err := decodeSegment(parts[2])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	ciphertext, err := decodeSegment(parts[3])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	sentTag, err := decodeSegment(parts[4])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, newErrorf(ErrCodeInvalidToken, "invalid JWE iv length %d", len(iv))
	}

	aad := parts[0] + "." + parts[1]
	for _, key := range keys {
		if key.Key == nil {
			continue
		}
		cek, err := rsa.DecryptOAEP(sha1.New(), nil, key.Key, wrapped, nil)
		if err != nil || len(cek) != jweKeySize {
			continue
		}
		calc := jweTag(cek[:jweHalfKey], aad, iv, ciphertext)
		if !hmac.Equal(calc, sentTag) {
			continue
		}
		plaintext, err := aesCBCDecrypt(cek[jweHalfKey:], iv, ciphertext)
		if err != nil {
			return nil, newError(ErrCodeInvalidToken, err)
		}
		return plaintext, nil
	}
	return nil, newError(ErrCodeInvalidSignature, errJWETag)
}

func jweTag(authKey []byte, aad string, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write([]byte(aad))
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("jwe: ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("jwe: invalid padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("jwe: invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("jwe: invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
