package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type fakeFactory struct {
	count int32
	err   error
}

func (f *fakeFactory) call(_ context.Context, refreshToken string) (oauth2.TokenSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	atomic.AddInt32(&f.count, 1)
	tok := &oauth2.Token{AccessToken: "access:" + refreshToken, Expiry: time.Now().Add(time.Hour)}
	return oauth2.StaticTokenSource(tok), nil
}

func TestProviderTokenCaching(t *testing.T) {
	factory := &fakeFactory{}
	provider, err := NewProvider(ProviderConfig{TokenFactory: factory.call})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	ctx := context.Background()
	token, err := provider.Token(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if token != "access:rt-1" {
		t.Fatalf("unexpected token: %s", token)
	}

	token, err = provider.Token(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Token second call: %v", err)
	}
	if token != "access:rt-1" {
		t.Fatalf("unexpected token second call: %s", token)
	}
	if got := atomic.LoadInt32(&factory.count); got != 1 {
		t.Fatalf("expected factory invoked once, got %d", got)
	}

	// A different refresh token gets its own entry.
	if _, err := provider.Token(ctx, "rt-2"); err != nil {
		t.Fatalf("Token for second refresh token: %v", err)
	}
	if got := atomic.LoadInt32(&factory.count); got != 2 {
		t.Fatalf("expected factory invoked twice, got %d", got)
	}

	provider.Forget("rt-1")
	if _, err := provider.Token(ctx, "rt-1"); err != nil {
		t.Fatalf("Token after Forget: %v", err)
	}
	if got := atomic.LoadInt32(&factory.count); got != 3 {
		t.Fatalf("expected factory invoked again after Forget, got %d", got)
	}
}

func TestProviderFactoryError(t *testing.T) {
	expected := errors.New("no credentials")
	factory := &fakeFactory{err: expected}
	provider, err := NewProvider(ProviderConfig{TokenFactory: factory.call})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	_, err = provider.Token(context.Background(), "rt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, expected) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProviderRequiresExchanger(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{}); CodeOf(err) != ErrCodeInvalidConfig {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestProviderRejectsEmptyRefreshToken(t *testing.T) {
	provider, err := NewProvider(ProviderConfig{TokenFactory: (&fakeFactory{}).call})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, err := provider.Token(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank refresh token")
	}
}

func TestProviderTokenIgnoresCanceledContextForRefresh(t *testing.T) {
	var (
		factoryCalls int32
		tokenCalls   int32
	)

	provider, err := NewProvider(ProviderConfig{
		TokenFactory: func(ctx context.Context, refreshToken string) (oauth2.TokenSource, error) {
			atomic.AddInt32(&factoryCalls, 1)
			return &contextBoundTokenSource{
				ctx:        ctx,
				tokenValue: fmt.Sprintf("%s-token", refreshToken),
				callCount:  &tokenCalls,
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	token, err := provider.Token(ctx, "rt")
	if err != nil {
		t.Fatalf("Token initial call: %v", err)
	}
	if token == "" {
		t.Fatal("expected token value, got empty string")
	}

	cancel()

	token, err = provider.Token(context.Background(), "rt")
	if err != nil {
		t.Fatalf("Token second call after cancel: %v", err)
	}
	if token == "" {
		t.Fatal("expected token value on second call")
	}

	if got := atomic.LoadInt32(&factoryCalls); got != 1 {
		t.Fatalf("expected factory invoked once, got %d", got)
	}
	if got := atomic.LoadInt32(&tokenCalls); got < 2 {
		t.Fatalf("expected underlying token source invoked at least twice, got %d", got)
	}
}

type contextBoundTokenSource struct {
	ctx        context.Context
	tokenValue string
	callCount  *int32
}

func (s *contextBoundTokenSource) Token() (*oauth2.Token, error) {
	if s.callCount != nil {
		atomic.AddInt32(s.callCount, 1)
	}
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	default:
	}
	return &oauth2.Token{
		AccessToken: s.tokenValue,
		Expiry:      time.Now().Add(-time.Minute),
	}, nil
}

type countingExchanger struct {
	Exchanger
	calls int32
}

func (c *countingExchanger) CreateAccessTokenFromRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Exchanger.CreateAccessTokenFromRefreshToken(ctx, refreshToken)
}

func TestProviderExchangesWithIssuer(t *testing.T) {
	issuer := newRefreshIssuer(t, staticSessions{"1": {Session: *testSession(), Roles: []string{"Fresh"}}})
	ctx := context.Background()
	refreshToken, err := issuer.CreateRefreshToken(ctx, "1")
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	ex := &countingExchanger{Exchanger: issuer}
	provider, err := NewProvider(ProviderConfig{Exchanger: ex})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	first, err := provider.Token(ctx, refreshToken)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	session, err := issuer.Authenticate(ctx, first)
	if err != nil {
		t.Fatalf("Authenticate exchanged token: %v", err)
	}
	if !session.HasRole("Fresh") {
		t.Fatalf("expected refreshed roles, got %v", session.Roles)
	}

	second, err := provider.Token(ctx, refreshToken)
	if err != nil {
		t.Fatalf("Token second call: %v", err)
	}
	if second != first {
		t.Fatal("expected cached access token")
	}
	if got := atomic.LoadInt32(&ex.calls); got != 1 {
		t.Fatalf("expected one exchange, got %d", got)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := CreateJWT(NewHeader(HS256, ""), Payload{"exp": exp.Unix()}, mustHMACSigner(t))
	if err != nil {
		t.Fatalf("CreateJWT: %v", err)
	}
	if got := accessTokenExpiry(token, time.Minute); !got.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", got, exp)
	}

	before := time.Now()
	got := accessTokenExpiry("a.b.c.d.e", time.Minute)
	if got.Before(before.Add(time.Minute)) || got.After(time.Now().Add(time.Minute)) {
		t.Fatalf("expected TTL fallback, got %v", got)
	}
}

func TestHTTPExchanger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if body.RefreshToken != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    string(ErrCodeRefreshTokenInvalid),
				"message": ErrCodeRefreshTokenInvalid.Message(),
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": "fresh-access"})
	}))
	t.Cleanup(server.Close)

	ex := HTTPExchanger{URL: server.URL, Client: server.Client()}

	token, err := ex.CreateAccessTokenFromRefreshToken(context.Background(), "good")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token != "fresh-access" {
		t.Fatalf("unexpected token %q", token)
	}

	_, err = ex.CreateAccessTokenFromRefreshToken(context.Background(), "bad")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if e.Code != ErrCodeRefreshTokenInvalid || e.Message != "RefreshToken is Invalid" {
		t.Fatalf("unexpected error: %+v", e)
	}
}

func TestHTTPExchanger_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	t.Cleanup(server.Close)

	ex := HTTPExchanger{URL: server.URL, Client: server.Client()}
	_, err := ex.CreateAccessTokenFromRefreshToken(context.Background(), "rt")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unexpected status 502") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func mustHMACSigner(t *testing.T) SignFunc {
	t.Helper()
	sign, err := HMACSigner(HS256, testAuthKey)
	if err != nil {
		t.Fatalf("HMACSigner: %v", err)
	}
	return sign
}
