// Package ginauth exposes jwtauth through Gin: a middleware that requires a
// valid access token, a refresh token exchange endpoint and a JWKS endpoint.
package ginauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/bionicotaku/lingo-utils-jwtauth"
)

const (
	// QueryTokenParam carries an access token in the query string when
	// WithQueryToken is enabled.
	QueryTokenParam = "ss-tok"
	// CallerKey is the gin.Context key holding jwtauth.CallerClaims.
	CallerKey = "jwtauth.caller"
)

// Authenticator validates an access token. *jwtauth.Reader implements it.
type Authenticator interface {
	AuthenticateCaller(ctx context.Context, token string) (jwtauth.CallerClaims, error)
}

// Publisher serves the public key set. *jwtauth.Reader implements it.
type Publisher interface {
	PublicJWKSJSON() ([]byte, error)
}

type errorBody struct {
	Code    jwtauth.ErrorCode `json:"code"`
	Message string            `json:"message"`
}

type options struct {
	allowQuery bool
	devBypass  *jwtauth.DevBypassClaims
	skipPaths  []string
	logger     zerolog.Logger
}

// Option customizes RequireJWT.
type Option func(*options)

// WithQueryToken also accepts the token from the ss-tok query parameter.
func WithQueryToken() Option {
	return func(o *options) { o.allowQuery = true }
}

// WithDevBypass lets requests without any token through as claims. Never
// enable it in production.
func WithDevBypass(claims jwtauth.DevBypassClaims) Option {
	return func(o *options) { o.devBypass = &claims }
}

// WithSkipPaths bypasses authentication for these path prefixes.
func WithSkipPaths(prefixes ...string) Option {
	return func(o *options) { o.skipPaths = append(o.skipPaths, prefixes...) }
}

// WithLogger logs rejected requests at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// RequireJWT rejects requests without a valid access token with 401 and a
// {code, message} body. Accepted callers are bound to both the gin context and
// the request context.
func RequireJWT(authn Authenticator, opts ...Option) gin.HandlerFunc {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range o.skipPaths {
			if strings.HasPrefix(path, skip) {
				c.Next()
				return
			}
		}

		token, ok := bearerToken(c, o.allowQuery)
		if !ok {
			abort(c, http.StatusUnauthorized, jwtauth.ErrCodeInvalidToken, "Invalid authorization header format")
			return
		}
		if token == "" {
			if o.devBypass != nil {
				bind(c, o.devBypass.ToCallerClaims())
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, jwtauth.ErrCodeInvalidToken, "Authorization header required")
			return
		}

		caller, err := authn.AuthenticateCaller(c.Request.Context(), token)
		if err != nil {
			o.logger.Debug().Err(err).Str("path", path).Msg("request rejected")
			respondError(c, err)
			return
		}
		bind(c, caller)
		c.Next()
	}
}

// Caller returns the claims bound by RequireJWT.
func Caller(c *gin.Context) (jwtauth.CallerClaims, bool) {
	if v, ok := c.Get(CallerKey); ok {
		if caller, ok := v.(jwtauth.CallerClaims); ok {
			return caller, true
		}
	}
	return jwtauth.CallerClaimsFromContext(c.Request.Context())
}

func bind(c *gin.Context, caller jwtauth.CallerClaims) {
	c.Set(CallerKey, caller)
	c.Request = c.Request.WithContext(jwtauth.BindCallerClaims(c.Request.Context(), caller))
}

// bearerToken returns "" when no token was sent and false when the
// Authorization header is malformed.
func bearerToken(c *gin.Context, allowQuery bool) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if allowQuery {
		return strings.TrimSpace(c.Query(QueryTokenParam)), true
	}
	return "", true
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// AccessTokenHandler exchanges {"refreshToken"} for {"accessToken"}.
func AccessTokenHandler(ex jwtauth.Exchanger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			abort(c, http.StatusBadRequest, jwtauth.ErrCodeInvalidToken, "refreshToken is required")
			return
		}
		token, err := ex.CreateAccessTokenFromRefreshToken(c.Request.Context(), req.RefreshToken)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, refreshResponse{AccessToken: token})
	}
}

// JWKSHandler serves the public key set.
func JWKSHandler(p Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := p.PublicJWKSJSON()
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/json", doc)
	}
}

func respondError(c *gin.Context, err error) {
	code := jwtauth.CodeOf(err)
	if code == "" {
		code = jwtauth.ErrCodeInternal
	}
	message := code.Message()
	var e *jwtauth.Error
	if errors.As(err, &e) && e.Message != "" && code.Category() != jwtauth.CategoryConfig {
		message = e.Message
	}
	abort(c, StatusFor(code), code, message)
}

// StatusFor maps an error code to the HTTP status used in responses.
func StatusFor(code jwtauth.ErrorCode) int {
	switch {
	case code == jwtauth.ErrCodeAccountLocked:
		return http.StatusForbidden
	case code == jwtauth.ErrCodeJWKSUnavailable:
		return http.StatusServiceUnavailable
	case code.Category() == jwtauth.CategoryMalformed, code.Category() == jwtauth.CategoryValidity:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, code jwtauth.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, errorBody{Code: code, Message: message})
}
