package jwtauth

import "context"

type callerClaimsKey struct{}

// CallerClaims represents the caller context stored after token validation.
type CallerClaims struct {
	Claims    *Claims
	Session   *Session
	Token     string
	DevBypass bool
}

// BindCallerClaims returns a copy of ctx carrying claims.
func BindCallerClaims(ctx context.Context, claims CallerClaims) context.Context {
	return context.WithValue(ctx, callerClaimsKey{}, claims)
}

// CallerClaimsFromContext returns the claims bound by BindCallerClaims.
func CallerClaimsFromContext(ctx context.Context) (CallerClaims, bool) {
	if ctx == nil {
		return CallerClaims{}, false
	}
	claims, ok := ctx.Value(callerClaimsKey{}).(CallerClaims)
	return claims, ok
}

// AuthenticateCaller validates token and returns both its claims and the
// session built from it.
func (r *Reader) AuthenticateCaller(ctx context.Context, token string) (CallerClaims, error) {
	session, payload, err := r.authenticate(ctx, token)
	if err != nil {
		return CallerClaims{}, err
	}
	claims, err := ClaimsFromPayload(payload)
	if err != nil {
		return CallerClaims{}, err
	}
	return CallerClaims{Claims: claims, Session: session, Token: token}, nil
}
