package jwtauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	defaultMinRefresh  = 5 * time.Minute
	defaultHTTPTimeout = 5 * time.Second
)

// PublicJWKS returns the primary and fallback RSA public keys as a JWK set.
// HMAC configurations publish an empty set.
func (r *Reader) PublicJWKS() (jwk.Set, error) {
	set := jwk.NewSet()
	alg := jwa.SignatureAlgorithm(r.cfg.Algorithm)
	if !r.cfg.Algorithm.IsRSA() {
		alg = jwa.RS256
	}
	for idx, pub := range r.keys.public {
		key, err := jwk.FromRaw(pub.Key)
		if err != nil {
			return nil, newError(ErrCodeInternal, fmt.Errorf("jwk from key %d: %w", idx, err))
		}
		if err := key.Set(jwk.KeyIDKey, pub.KeyID); err != nil {
			return nil, newError(ErrCodeInternal, err)
		}
		if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
			return nil, newError(ErrCodeInternal, err)
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, newError(ErrCodeInternal, err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, newError(ErrCodeInternal, err)
		}
	}
	return set, nil
}

// PublicJWKSJSON returns PublicJWKS encoded as a JWKS document.
func (r *Reader) PublicJWKSJSON() ([]byte, error) {
	set, err := r.PublicJWKS()
	if err != nil {
		return nil, err
	}
	return json.Marshal(set)
}

// JWKSEndpoint describes a remote JWKS document to trust.
type JWKSEndpoint struct {
	Name        string
	URL         string
	MinRefresh  time.Duration
	HTTPTimeout time.Duration
}

// normalize sets default values for optional fields.
func (e *JWKSEndpoint) normalize() {
	if e.Name == "" {
		e.Name = e.URL
	}
	if e.MinRefresh <= 0 {
		e.MinRefresh = defaultMinRefresh
	}
	if e.HTTPTimeout <= 0 {
		e.HTTPTimeout = defaultHTTPTimeout
	}
}

// JWKSConfig lists the endpoints a JWKSKeySource reads.
type JWKSConfig struct {
	Endpoints []JWKSEndpoint
}

func (c JWKSConfig) endpointIndex() (map[string]JWKSEndpoint, []string, error) {
	if len(c.Endpoints) == 0 {
		return nil, nil, errors.New("at least one jwks endpoint must be configured")
	}
	index := make(map[string]JWKSEndpoint, len(c.Endpoints))
	order := make([]string, 0, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if ep.URL == "" {
			return nil, nil, fmt.Errorf("jwks endpoint %q: url is required", ep.Name)
		}
		clone := ep
		clone.normalize()
		if _, exists := index[clone.Name]; exists {
			return nil, nil, fmt.Errorf("duplicate jwks endpoint name %q", clone.Name)
		}
		index[clone.Name] = clone
		order = append(order, clone.Name)
	}
	return index, order, nil
}

// JWKSKeySource is a PublicKeySource backed by cached remote JWKS documents.
type JWKSKeySource struct {
	endpoints map[string]JWKSEndpoint
	order     []string
	cache     *jwk.Cache
}

// NewJWKSKeySource registers every endpoint with a jwk cache. ctx bounds the
// lifetime of the background refresh.
func NewJWKSKeySource(ctx context.Context, cfg JWKSConfig) (*JWKSKeySource, error) {
	index, order, err := cfg.endpointIndex()
	if err != nil {
		return nil, newError(ErrCodeInvalidConfig, err)
	}
	cache := jwk.NewCache(ctx)
	for _, name := range order {
		ep := index[name]
		httpClient := &http.Client{
			Timeout: ep.HTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
		if err := cache.Register(
			ep.URL,
			jwk.WithMinRefreshInterval(ep.MinRefresh),
			jwk.WithHTTPClient(httpClient),
		); err != nil {
			return nil, newError(ErrCodeInvalidConfig, fmt.Errorf("register jwks for %q: %w", name, err))
		}
	}
	return &JWKSKeySource{endpoints: index, order: order, cache: cache}, nil
}

// Warmup refreshes the JWKS of the named endpoint.
func (s *JWKSKeySource) Warmup(ctx context.Context, name string) error {
	ep, ok := s.endpoints[name]
	if !ok {
		return newError(ErrCodeInvalidConfig, fmt.Errorf("jwks endpoint %q not found", name))
	}
	refreshCtx, cancel := context.WithTimeout(ctx, ep.HTTPTimeout)
	defer cancel()
	if _, err := s.cache.Refresh(refreshCtx, ep.URL); err != nil {
		return newError(ErrCodeJWKSUnavailable, err)
	}
	return nil
}

// PublicKeys implements PublicKeySource. Non-RSA keys are skipped. Keys from
// reachable endpoints are returned even if another endpoint fails; an error
// is returned only when no endpoint could be read.
func (s *JWKSKeySource) PublicKeys(ctx context.Context) ([]PublicKey, error) {
	var (
		out  []PublicKey
		errs []error
	)
	for _, name := range s.order {
		ep := s.endpoints[name]
		set, err := s.cache.Get(ctx, ep.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, rsaKeysFromSet(set)...)
	}
	if len(errs) == len(s.order) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func rsaKeysFromSet(set jwk.Set) []PublicKey {
	out := make([]PublicKey, 0, set.Len())
	for idx := 0; idx < set.Len(); idx++ {
		key, ok := set.Key(idx)
		if !ok {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		pub, ok := raw.(*rsa.PublicKey)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			kid = KeyIDForRSA(pub)
		}
		out = append(out, PublicKey{KeyID: kid, Key: pub})
	}
	return out
}
