package jwtauth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func marshalSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return encodeSegment(b), nil
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeJSONSegment(s string, v any) error {
	b, err := decodeSegment(s)
	if err != nil {
		return err
	}
	return decodeJSON(b, v)
}

func splitToken(token string) []string {
	return strings.Split(strings.TrimSpace(token), ".")
}
