package jwtauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CreateJWT encodes header and payload and signs them with sign.
func CreateJWT(header Header, payload Payload, sign SignFunc) (string, error) {
	if sign == nil {
		return "", newError(ErrCodeMissingKey, errors.New("sign func is nil"))
	}
	headerSeg, err := marshalSegment(header)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	signingInput := headerSeg + "." + encodeSegment(body)
	sig, err := sign([]byte(signingInput))
	if err != nil {
		return "", newError(ErrCodeInternal, err)
	}
	return signingInput + "." + encodeSegment(sig), nil
}

func marshalPayload(payload Payload) ([]byte, error) {
	if payload == nil {
		payload = Payload{}
	}
	return json.Marshal(map[string]any(payload))
}

// ExtractHeader decodes the first segment of a JWT or JWE without verifying it.
func ExtractHeader(token string) (Header, error) {
	parts := splitToken(token)
	if len(parts) < 2 {
		return nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	var h Header
	if err := decodeJSONSegment(parts[0], &h); err != nil {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("decode header: %w", err))
	}
	return h, nil
}

// ExtractPayload decodes the second segment of a signed JWT without verifying
// it. JWE payloads cannot be read without the private key.
func ExtractPayload(token string) (Payload, error) {
	parts := splitToken(token)
	if len(parts) != 3 {
		return nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	return decodePayload(parts[1])
}

func decodePayload(seg string) (Payload, error) {
	b, err := decodeSegment(seg)
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("decode payload: %w", err))
	}
	return parsePayload(b)
}

func parsePayload(b []byte) (Payload, error) {
	var p Payload
	if err := decodeJSON(b, &p); err != nil {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("decode payload: %w", err))
	}
	if p == nil {
		return nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	return p, nil
}

// Dump renders the unverified header and payload of token for humans.
// iat, exp and nbf are annotated with their UTC time.
func Dump(token string) (string, error) {
	header, err := ExtractHeader(token)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("[JWT Header]\n\n")
	writeDump(&sb, header)

	parts := splitToken(token)
	if len(parts) == 5 {
		sb.WriteString("\n[JWE Payload]\n\n(encrypted)\n")
		return sb.String(), nil
	}
	payload, err := ExtractPayload(token)
	if err != nil {
		return "", err
	}
	annotated := make(map[string]any, len(payload))
	for k, v := range payload {
		annotated[k] = v
	}
	for _, key := range []string{ClaimIssuedAt, ClaimExpiresAt, ClaimNotBefore} {
		if secs, ok, err := payload.UnixTime(key); err == nil && ok {
			annotated[key] = fmt.Sprintf("%d (%s)", secs, time.Unix(secs, 0).UTC().Format(time.RFC1123))
		}
	}
	sb.WriteString("\n[JWT Payload]\n\n")
	writeDump(&sb, annotated)
	return sb.String(), nil
}

func writeDump(sb *strings.Builder, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "%s: %s\n", k, stringValue(values[k]))
	}
}
