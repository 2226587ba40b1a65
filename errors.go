package jwtauth

import (
	"errors"
	"fmt"
)

// ErrorCode represents token error categories.
type ErrorCode string

const (
	ErrCodeInvalidConfig        ErrorCode = "invalid_config"
	ErrCodeMissingKey           ErrorCode = "missing_key"
	ErrCodeUnsupportedAlgorithm ErrorCode = "unsupported_algorithm"
	ErrCodeInvalidToken         ErrorCode = "invalid_token"
	ErrCodeInvalidSignature     ErrorCode = "invalid_signature"
	ErrCodeExpired              ErrorCode = "token_expired"
	ErrCodeNotYetValid          ErrorCode = "token_not_yet_valid"
	ErrCodeInvalidated          ErrorCode = "token_invalidated"
	ErrCodeInvalidAudience      ErrorCode = "invalid_audience"
	ErrCodeRejected             ErrorCode = "token_rejected"
	ErrCodeRefreshTokenInvalid  ErrorCode = "refresh_token_invalid"
	ErrCodeAccountLocked        ErrorCode = "account_locked"
	ErrCodeNoSessionSource      ErrorCode = "session_source_unavailable"
	ErrCodeJWKSUnavailable      ErrorCode = "jwks_unavailable"
	ErrCodeInternal             ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidConfig:        "Invalid JWT configuration",
	ErrCodeMissingKey:           "Key required",
	ErrCodeUnsupportedAlgorithm: "Invalid algorithm",
	ErrCodeInvalidToken:         "Token is invalid",
	ErrCodeInvalidSignature:     "Token is invalid",
	ErrCodeExpired:              "Token has expired",
	ErrCodeNotYetValid:          "Token not valid yet",
	ErrCodeInvalidated:          "Token has been invalidated",
	ErrCodeInvalidAudience:      "Invalid Audience",
	ErrCodeRejected:             "Token was rejected",
	ErrCodeRefreshTokenInvalid:  "RefreshToken is Invalid",
	ErrCodeAccountLocked:        "This account has been locked",
	ErrCodeNoSessionSource:      "JWT RefreshTokens requires a SessionSource",
	ErrCodeJWKSUnavailable:      "JWKS unavailable",
	ErrCodeInternal:             "Internal error",
}

// Category groups error codes by how callers are expected to react.
type Category string

const (
	// CategoryConfig errors are fatal at startup or first use.
	CategoryConfig Category = "config"
	// CategoryMalformed errors mean the token could not be parsed at all.
	CategoryMalformed Category = "malformed"
	// CategoryValidity errors describe a well-formed token that is not acceptable.
	CategoryValidity Category = "validity"
)

// Category returns the category the code belongs to.
func (c ErrorCode) Category() Category {
	switch c {
	case ErrCodeInvalidConfig, ErrCodeMissingKey, ErrCodeUnsupportedAlgorithm, ErrCodeNoSessionSource, ErrCodeJWKSUnavailable, ErrCodeInternal:
		return CategoryConfig
	case ErrCodeInvalidToken:
		return CategoryMalformed
	default:
		return CategoryValidity
	}
}

// Message returns the default human readable message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return string(c)
}

// Error wraps token errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	return &Error{Code: code, Message: code.Message(), Err: err}
}

func newErrorf(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the ErrorCode carried by err, or an empty code when err is not
// a *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
