package jwtauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const defaultProviderTTL = 5 * time.Minute

// Exchanger turns a refresh token into a fresh access token. *Issuer
// implements it in process; HTTPExchanger calls a remote token endpoint.
type Exchanger interface {
	CreateAccessTokenFromRefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// TokenFactory allows callers to override how access tokens are obtained.
type TokenFactory func(ctx context.Context, refreshToken string) (oauth2.TokenSource, error)

// ProviderConfig defines how access tokens are obtained and cached.
type ProviderConfig struct {
	Exchanger Exchanger
	// DefaultTTL is used when the access token expiry cannot be read, e.g. JWE.
	DefaultTTL   time.Duration
	TokenFactory TokenFactory
}

// Provider caches access tokens per refresh token and exchanges the refresh
// token again once the cached access token is about to expire.
type Provider struct {
	mu      sync.RWMutex
	factory TokenFactory
	entries map[string]*tokenSourceEntry
}

type tokenSourceEntry struct {
	source oauth2.TokenSource
}

// NewProvider constructs a Provider. Either Exchanger or TokenFactory is
// required.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	factory := cfg.TokenFactory
	if factory == nil {
		if cfg.Exchanger == nil {
			return nil, newError(ErrCodeInvalidConfig, errors.New("provider requires an Exchanger or TokenFactory"))
		}
		ttl := cfg.DefaultTTL
		if ttl <= 0 {
			ttl = defaultProviderTTL
		}
		factory = exchangeFactory(cfg.Exchanger, ttl)
	}
	return &Provider{
		factory: factory,
		entries: make(map[string]*tokenSourceEntry),
	}, nil
}

// Token returns a valid access token for refreshToken.
func (p *Provider) Token(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", errors.New("refresh token is required")
	}
	entry, err := p.getOrCreate(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	tok, err := entry.source.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access token returned")
	}
	return tok.AccessToken, nil
}

// Forget drops the cached source for refreshToken, e.g. after logout.
func (p *Provider) Forget(refreshToken string) {
	p.mu.Lock()
	delete(p.entries, refreshToken)
	p.mu.Unlock()
}

func (p *Provider) getOrCreate(ctx context.Context, refreshToken string) (*tokenSourceEntry, error) {
	p.mu.RLock()
	entry, ok := p.entries[refreshToken]
	p.mu.RUnlock()
	if ok {
		return entry, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[refreshToken]; ok {
		return entry, nil
	}

	ts, err := p.factory(persistentContext(ctx), refreshToken)
	if err != nil {
		return nil, err
	}
	entry = &tokenSourceEntry{source: oauth2.ReuseTokenSource(nil, ts)}
	p.entries[refreshToken] = entry
	return entry, nil
}

func exchangeFactory(ex Exchanger, ttl time.Duration) TokenFactory {
	return func(ctx context.Context, refreshToken string) (oauth2.TokenSource, error) {
		return &exchangeSource{ctx: ctx, exchanger: ex, refreshToken: refreshToken, ttl: ttl}, nil
	}
}

type exchangeSource struct {
	ctx          context.Context
	exchanger    Exchanger
	refreshToken string
	ttl          time.Duration
}

func (s *exchangeSource) Token() (*oauth2.Token, error) {
	access, err := s.exchanger.CreateAccessTokenFromRefreshToken(s.ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      accessTokenExpiry(access, s.ttl),
	}, nil
}

// accessTokenExpiry reads exp without verifying the token. The caller only
// uses it to decide when to ask for a new one.
func accessTokenExpiry(token string, ttl time.Duration) time.Time {
	payload, err := ExtractPayload(token)
	if err == nil {
		if exp, ok, err := payload.UnixTime(ClaimExpiresAt); err == nil && ok {
			return time.Unix(exp, 0)
		}
	}
	return time.Now().Add(ttl)
}

// HTTPExchanger posts {"refreshToken": ...} to URL and reads
// {"accessToken": ...} back.
type HTTPExchanger struct {
	URL    string
	Client *http.Client
}

// CreateAccessTokenFromRefreshToken implements Exchanger.
func (h HTTPExchanger) CreateAccessTokenFromRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange refresh token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Code    ErrorCode `json:"code"`
			Message string    `json:"message"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Code != "" {
			return "", &Error{Code: failure.Code, Message: failure.Message}
		}
		return "", fmt.Errorf("exchange refresh token: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode exchange response: %w", err)
	}
	return out.AccessToken, nil
}

func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if _, ok := ctx.(*detachedContext); ok {
		return ctx
	}
	return &detachedContext{parent: ctx}
}

// detachedContext keeps the parent's values but never expires, so a cached
// token source outlives the request that created it.
type detachedContext struct {
	parent context.Context
}

func (d *detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (d *detachedContext) Done() <-chan struct{} {
	return nil
}

func (d *detachedContext) Err() error {
	return nil
}

func (d *detachedContext) Value(key any) any {
	if d.parent == nil {
		return nil
	}
	return d.parent.Value(key)
}
