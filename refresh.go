package jwtauth

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CreateAccessTokenFromRefreshToken exchanges a valid refresh token for a new
// access token. Roles and permissions are resolved again from the
// SessionSource; nothing but the subject is taken from the refresh token.
func (i *Issuer) CreateAccessTokenFromRefreshToken(ctx context.Context, refreshToken string) (token string, err error) {
	ctx, span := i.opts.tracer.Start(ctx, "jwtauth.CreateAccessTokenFromRefreshToken")
	defer func() {
		i.opts.metrics.observeRefresh(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if refreshToken == "" {
		return "", newErrorf(ErrCodeInvalidToken, "refreshToken is required")
	}
	res, err := i.inspect(ctx, refreshToken, RefreshToken)
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	if i.opts.sessions == nil {
		return "", newError(ErrCodeNoSessionSource, nil)
	}

	userID := res.Payload.Subject()
	if userID == "" {
		return "", newError(ErrCodeRefreshTokenInvalid, nil)
	}
	span.SetAttributes(attribute.String("jwtauth.sub", userID))

	result, err := i.opts.sessions.SessionFor(ctx, userID)
	if err != nil {
		if CodeOf(err) != "" {
			return "", err
		}
		return "", newError(ErrCodeInternal, fmt.Errorf("resolve session for %q: %w", userID, err))
	}
	if result == nil {
		return "", newError(ErrCodeRefreshTokenInvalid, nil)
	}
	if result.Locked {
		return "", newError(ErrCodeAccountLocked, nil)
	}

	session := result.Session
	if session.UserAuthID == "" {
		session.UserAuthID = userID
	}
	token, err = i.CreateAccessToken(ctx, &session, result.Roles, result.Permissions)
	if err != nil {
		return "", err
	}
	i.opts.logger.Info().Str("sub", userID).Msg("access token refreshed")
	return token, nil
}
