package jwtauth

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestRemoteJWKSIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	jwksURL := strings.TrimSpace(os.Getenv("JWTAUTH_JWKS_URL"))
	if jwksURL == "" {
		t.Fatal("JWTAUTH_JWKS_URL environment variable required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	source, err := NewJWKSKeySource(ctx, JWKSConfig{
		Endpoints: []JWKSEndpoint{{
			Name:        "remote",
			URL:         jwksURL,
			MinRefresh:  time.Minute,
			HTTPTimeout: 5 * time.Second,
		}},
	})
	if err != nil {
		t.Fatalf("NewJWKSKeySource: %v", err)
	}
	if err := source.Warmup(ctx, "remote"); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	keys, err := source.PublicKeys(ctx)
	if err != nil {
		t.Fatalf("PublicKeys: %v", err)
	}
	if len(keys) == 0 {
		t.Fatal("JWKS has no RSA keys")
	}

	token := strings.TrimSpace(os.Getenv("JWTAUTH_TEST_TOKEN"))
	if token == "" {
		return
	}
	var audiences []string
	if aud := strings.TrimSpace(os.Getenv("JWTAUTH_TEST_AUDIENCE")); aud != "" {
		audiences = []string{aud}
	}
	reader, err := NewReader(Config{Algorithm: RS256, AllowAnyAlgorithm: true, Audiences: audiences}, WithPublicKeySource(source))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	caller, err := reader.AuthenticateCaller(ctx, token)
	if err != nil {
		t.Fatalf("AuthenticateCaller: %v", err)
	}
	if caller.Claims.Subject == "" {
		t.Fatal("claims.Subject empty")
	}
}
