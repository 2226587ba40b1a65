package jwtauth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bionicotaku/lingo-utils-jwtauth"

// TokenValidator is an extra check on a verified payload. Returning false
// rejects the token.
type TokenValidator func(ctx context.Context, payload Payload) bool

// PayloadFilter may add or change claims before an access token is signed.
type PayloadFilter func(payload Payload, session *Session)

// HeaderFilter may add or change header fields before an access token is signed.
type HeaderFilter func(header Header, session *Session)

// PopulateSessionFunc copies extra claims onto a session created from a token.
type PopulateSessionFunc func(ctx context.Context, session *Session, payload Payload)

// Option customizes a Reader or Issuer.
type Option func(*options)

type options struct {
	logger           zerolog.Logger
	now              func() time.Time
	tracer           trace.Tracer
	metrics          *Metrics
	accessIDs        IDSource
	refreshIDs       IDSource
	revocations      RevocationList
	sessions         SessionSource
	keySource        PublicKeySource
	preValidate      PreValidateFunc
	tokenValidator   TokenValidator
	refreshValidator TokenValidator
	populateSession  PopulateSessionFunc
	payloadFilter    PayloadFilter
	headerFilter     HeaderFilter
}

func defaultOptions() options {
	return options{
		logger:     zerolog.Nop(),
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
		accessIDs:  UUIDSource{},
		refreshIDs: UUIDSource{},
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source used for iat, exp and validity checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracer overrides the tracer. Defaults to the global otel provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics records validation and issuance counts.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAccessIDSource sets the jti generator for access tokens.
func WithAccessIDSource(src IDSource) Option {
	return func(o *options) { o.accessIDs = src }
}

// WithRefreshIDSource sets the jti generator for refresh tokens.
func WithRefreshIDSource(src IDSource) Option {
	return func(o *options) { o.refreshIDs = src }
}

// WithRevocationList consults list for every token that carries a jti.
func WithRevocationList(list RevocationList) Option {
	return func(o *options) { o.revocations = list }
}

// WithSessionSource enables refresh tokens.
func WithSessionSource(src SessionSource) Option {
	return func(o *options) { o.sessions = src }
}

// WithPublicKeySource adds verification keys resolved at verification time.
func WithPublicKeySource(src PublicKeySource) Option {
	return func(o *options) { o.keySource = src }
}

// WithPreValidate installs a filter that runs before the validity rules.
func WithPreValidate(fn PreValidateFunc) Option {
	return func(o *options) { o.preValidate = fn }
}

// WithTokenValidator installs an extra check for access tokens.
func WithTokenValidator(fn TokenValidator) Option {
	return func(o *options) { o.tokenValidator = fn }
}

// WithRefreshTokenValidator installs an extra check for refresh tokens.
func WithRefreshTokenValidator(fn TokenValidator) Option {
	return func(o *options) { o.refreshValidator = fn }
}

// WithPopulateSession runs fn on every session created from a token.
func WithPopulateSession(fn PopulateSessionFunc) Option {
	return func(o *options) { o.populateSession = fn }
}

// WithPayloadFilter runs fn on every access token payload before signing.
func WithPayloadFilter(fn PayloadFilter) Option {
	return func(o *options) { o.payloadFilter = fn }
}

// WithHeaderFilter runs fn on every signed access token header.
func WithHeaderFilter(fn HeaderFilter) Option {
	return func(o *options) { o.headerFilter = fn }
}
