package jwtauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reader verifies and validates tokens. It is safe for concurrent use.
type Reader struct {
	cfg    Config
	keys   keyRing
	policy policy
	opts   options
}

// NewReader builds a Reader from cfg. Configuration problems are returned as
// *Error values in the config category.
func NewReader(cfg Config, opts ...Option) (*Reader, error) {
	cfg = cfg.clone()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.validateRSAKeys(o.keySource != nil); err != nil {
		return nil, err
	}
	keys := newKeyRing(cfg)
	keys.external = o.keySource
	pol := newPolicy(cfg)
	pol.preValidate = o.preValidate
	pol.revocations = o.revocations
	return &Reader{cfg: cfg, keys: keys, policy: pol, opts: o}, nil
}

// Config returns the normalized configuration.
func (r *Reader) Config() Config { return r.cfg.clone() }

// KeyID returns the kid written to token headers.
func (r *Reader) KeyID() string {
	if r.cfg.KeyID != "" {
		return r.cfg.KeyID
	}
	if r.cfg.Algorithm.IsHMAC() {
		if k, ok := r.keys.primarySecret(); ok {
			return k.KeyID
		}
		return ""
	}
	if k, ok := r.keys.primaryPublic(); ok {
		return k.KeyID
	}
	return ""
}

// VerifiedPayload checks the signature of a JWT, or decrypts a JWE, and
// returns its header and payload. Validity rules are not applied.
func (r *Reader) VerifiedPayload(ctx context.Context, token string) (Header, Payload, error) {
	parts := splitToken(token)
	switch len(parts) {
	case 3:
		return r.verifyJWS(ctx, parts)
	case 5:
		return r.verifyJWE(parts)
	default:
		return nil, nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
}

func (r *Reader) verifyJWS(ctx context.Context, parts []string) (Header, Payload, error) {
	var header Header
	if err := decodeJSONSegment(parts[0], &header); err != nil || header == nil {
		return nil, nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	name := header.Algorithm()
	if name != string(r.cfg.Algorithm) && !r.cfg.AllowAnyAlgorithm {
		return header, nil, newErrorf(ErrCodeUnsupportedAlgorithm, "Invalid algorithm '%s', expected '%s'", name, r.cfg.Algorithm)
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return header, nil, err
	}
	sig, err := decodeSegment(parts[2])
	if err != nil {
		return header, nil, newError(ErrCodeInvalidToken, err)
	}
	signingInput := parts[0] + "." + parts[1]
	if err := r.verifySignature(ctx, alg, header.KeyID(), signingInput, sig); err != nil {
		return header, nil, err
	}
	payload, err := decodePayload(parts[1])
	if err != nil {
		return header, nil, err
	}
	return header, payload, nil
}

// verifySignature tries every candidate key, kid matches first, and accepts on
// the first match.
func (r *Reader) verifySignature(ctx context.Context, alg Algorithm, kid, signingInput string, sig []byte) error {
	method, err := alg.signingMethod()
	if err != nil {
		return err
	}
	if alg.IsHMAC() {
		if len(r.keys.secrets) == 0 {
			return newErrorf(ErrCodeMissingKey, "AuthKey required to use: %s", alg)
		}
		for _, k := range orderByKeyID(r.keys.secrets, func(k SecretKey) string { return k.KeyID }, kid) {
			if method.Verify(signingInput, sig, k.Secret) == nil {
				return nil
			}
		}
		return newError(ErrCodeInvalidSignature, nil)
	}

	if len(r.keys.public) == 0 && r.keys.external == nil {
		return newErrorf(ErrCodeMissingKey, "PublicKey required to use: %s", alg)
	}
	if r.verifyRSA(method, kid, signingInput, sig, r.keys.public) {
		return nil
	}
	// Remote keys are only consulted once the configured keys miss, so an
	// unreachable JWKS never rejects locally signed tokens.
	if r.keys.external != nil {
		extra, err := r.keys.external.PublicKeys(ctx)
		if err != nil {
			return newError(ErrCodeJWKSUnavailable, err)
		}
		if r.verifyRSA(method, kid, signingInput, sig, extra) {
			return nil
		}
	}
	return newError(ErrCodeInvalidSignature, nil)
}

func (r *Reader) verifyRSA(method gojwt.SigningMethod, kid, signingInput string, sig []byte, keys []PublicKey) bool {
	for _, k := range orderByKeyID(keys, func(k PublicKey) string { return k.KeyID }, kid) {
		if k.Key == nil {
			continue
		}
		err := method.Verify(signingInput, sig, k.Key)
		if err == nil {
			return true
		}
		if !errors.Is(err, rsa.ErrVerification) {
			r.opts.logger.Debug().Err(err).Str("kid", k.KeyID).Msg("rsa verify failed")
		}
	}
	return false
}

func (r *Reader) verifyJWE(parts []string) (Header, Payload, error) {
	var header Header
	if err := decodeJSONSegment(parts[0], &header); err != nil || header == nil {
		return nil, nil, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	if header.Algorithm() != jweAlgorithm {
		return header, nil, newErrorf(ErrCodeUnsupportedAlgorithm, "Invalid algorithm '%s', expected '%s'", header.Algorithm(), jweAlgorithm)
	}
	keys := orderByKeyID(r.keys.private, func(k PrivateKey) string { return k.KeyID }, header.KeyID())
	plaintext, err := decryptJWE(parts, keys)
	if err != nil {
		return header, nil, err
	}
	payload, err := parsePayload(plaintext)
	if err != nil {
		return header, nil, err
	}
	return header, payload, nil
}

// Inspect verifies token and applies the access token validity rules.
// Rejections are reported in Result; the error is reserved for configuration
// problems and malformed tokens.
func (r *Reader) Inspect(ctx context.Context, token string) (Result, error) {
	return r.inspect(ctx, token, AccessToken)
}

func (r *Reader) inspect(ctx context.Context, token string, kind TokenKind) (Result, error) {
	res, err := r.evaluate(ctx, token, kind)
	if err != nil {
		r.opts.logger.Debug().Err(err).Str("kind", kind.String()).Msg("token could not be evaluated")
		return Result{}, err
	}
	r.opts.metrics.observeValidation(kind, res.Code)
	if !res.Valid() {
		r.opts.logger.Debug().
			Str("kind", kind.String()).
			Str("code", string(res.Code)).
			Str("reason", res.Reason).
			Str("sub", res.Payload.Subject()).
			Msg("token rejected")
	}
	return res, nil
}

func (r *Reader) evaluate(ctx context.Context, token string, kind TokenKind) (Result, error) {
	header, payload, err := r.VerifiedPayload(ctx, token)
	if err != nil {
		code := CodeOf(err)
		if code.Category() != CategoryValidity || code == "" {
			return Result{}, err
		}
		res := invalid(code, "")
		res.Header = header
		return res, nil
	}
	reject := func(code ErrorCode, reason string) (Result, error) {
		res := invalid(code, reason)
		res.Header, res.Payload = header, payload
		return res, nil
	}

	validator := r.opts.tokenValidator
	validatorCode := ErrCodeRejected
	if kind == RefreshToken {
		if !header.IsRefresh() {
			return reject(ErrCodeRefreshTokenInvalid, "")
		}
		validator = r.opts.refreshValidator
		validatorCode = ErrCodeRefreshTokenInvalid
	} else if header.IsRefresh() {
		return reject(ErrCodeRejected, "Refresh tokens cannot be used as access tokens")
	}
	if validator != nil && !validator(ctx, payload) {
		return reject(validatorCode, "")
	}

	res, err := r.policy.check(ctx, payload, kind, r.opts.now())
	if err != nil {
		return Result{}, err
	}
	res.Header, res.Payload = header, payload
	return res, nil
}

// CheckPayload applies the validity rules for kind to an already verified
// payload.
func (r *Reader) CheckPayload(ctx context.Context, payload Payload, kind TokenKind) (Result, error) {
	if payload == nil {
		return Result{}, newErrorf(ErrCodeInvalidToken, "Token is invalid")
	}
	res, err := r.policy.check(ctx, payload, kind, r.opts.now())
	if err != nil {
		return Result{}, err
	}
	res.Payload = payload
	return res, nil
}

// ValidPayload returns the payload of a verified and valid access token.
func (r *Reader) ValidPayload(ctx context.Context, token string) (Payload, error) {
	res, err := r.Inspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// IsValid reports whether token is a verified and valid access token.
func (r *Reader) IsValid(ctx context.Context, token string) bool {
	_, err := r.ValidPayload(ctx, token)
	return err == nil
}

// Authenticate converts a valid access token into a session.
func (r *Reader) Authenticate(ctx context.Context, token string) (*Session, error) {
	session, _, err := r.authenticate(ctx, token)
	return session, err
}

func (r *Reader) authenticate(ctx context.Context, token string) (session *Session, payload Payload, err error) {
	ctx, span := r.opts.tracer.Start(ctx, "jwtauth.Authenticate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err = r.ValidPayload(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	session = sessionFromPayload(payload)
	if r.opts.populateSession != nil {
		r.opts.populateSession(ctx, session, payload)
	}
	span.SetAttributes(attribute.String("jwtauth.sub", session.UserAuthID))
	return session, payload, nil
}

func (r *Reader) String() string {
	return fmt.Sprintf("jwtauth.Reader{alg=%s, iss=%s, kid=%s}", r.cfg.Algorithm, r.cfg.Issuer, r.KeyID())
}
