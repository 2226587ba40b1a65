package jwtauth

// DevBypassClaims describes the caller assumed for tokenless requests when a
// development bypass is enabled.
type DevBypassClaims struct {
	Subject     string
	Issuer      string
	Audience    []string
	Email       string
	Roles       []string
	Permissions []string
}

// ToCallerClaims builds the synthetic caller, including an authenticated
// session carrying the configured grants.
func (d DevBypassClaims) ToCallerClaims() CallerClaims {
	claims := &Claims{
		Subject:     d.Subject,
		Issuer:      d.Issuer,
		Audience:    append([]string(nil), d.Audience...),
		Email:       d.Email,
		Roles:       append([]string(nil), d.Roles...),
		Permissions: append([]string(nil), d.Permissions...),
	}
	session := &Session{
		ID:              "dev-" + d.Subject,
		UserAuthID:      d.Subject,
		Email:           d.Email,
		Roles:           claims.Roles,
		Permissions:     claims.Permissions,
		AuthProvider:    AuthProviderName,
		IsAuthenticated: true,
	}
	return CallerClaims{
		Claims:    claims,
		Session:   session,
		DevBypass: true,
	}
}

// DefaultDevBypassClaims returns the "dev-bypass" caller for audience.
func DefaultDevBypassClaims(audience string) DevBypassClaims {
	aud := audience
	if aud == "" {
		aud = "https://dev.local"
	}
	return DevBypassClaims{
		Subject:  "dev-bypass",
		Issuer:   defaultIssuer,
		Audience: []string{aud},
	}
}
