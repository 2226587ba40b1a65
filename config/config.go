// Package config loads jwtauth settings from a YAML file, a .env file and
// JWTAUTH_ prefixed environment variables using Viper.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/bionicotaku/lingo-utils-jwtauth"
	"github.com/bionicotaku/lingo-utils-jwtauth/sqlsession"
)

// EnvPrefix prefixes every environment override, e.g. JWTAUTH_JWT_ISSUER.
const EnvPrefix = "JWTAUTH"

// File is the full configuration document.
type File struct {
	JWT      JWT      `mapstructure:"jwt"`
	JWKS     JWKS     `mapstructure:"jwks"`
	Logging  Logging  `mapstructure:"logging"`
	Redis    Redis    `mapstructure:"redis"`
	Sessions Sessions `mapstructure:"sessions"`
	Server   Server   `mapstructure:"server"`
}

// JWT mirrors jwtauth.Config. Secrets are base64; RSA keys are inline PEM or
// file paths.
type JWT struct {
	Algorithm           string        `mapstructure:"algorithm"`
	AllowAnyAlgorithm   bool          `mapstructure:"allow_any_algorithm"`
	AuthKey             string        `mapstructure:"auth_key"`
	FallbackAuthKeys    []string      `mapstructure:"fallback_auth_keys"`
	PrivateKey          string        `mapstructure:"private_key"`
	PublicKey           string        `mapstructure:"public_key"`
	FallbackPublicKeys  []string      `mapstructure:"fallback_public_keys"`
	FallbackPrivateKeys []string      `mapstructure:"fallback_private_keys"`
	KeyID               string        `mapstructure:"key_id"`
	EncryptPayload      bool          `mapstructure:"encrypt_payload"`
	Issuer              string        `mapstructure:"issuer"`
	Audiences           []string      `mapstructure:"audiences"`
	RequiresAudience    bool          `mapstructure:"requires_audience"`
	ExpireTokensIn      time.Duration `mapstructure:"expire_tokens_in"`
	ExpireRefreshIn     time.Duration `mapstructure:"expire_refresh_tokens_in"`
	// RFC 3339 timestamps.
	InvalidateTokensIssuedBefore        string   `mapstructure:"invalidate_tokens_issued_before"`
	InvalidateRefreshTokensIssuedBefore string   `mapstructure:"invalidate_refresh_tokens_issued_before"`
	InvalidateJWTIDs                    []string `mapstructure:"invalidate_jwt_ids"`
	MaxProfileURLSize                   int      `mapstructure:"max_profile_url_size"`
}

// JWKS lists remote key sets trusted for verification.
type JWKS struct {
	Endpoints []JWKSEndpoint `mapstructure:"endpoints"`
}

// JWKSEndpoint is one remote key set.
type JWKSEndpoint struct {
	Name        string        `mapstructure:"name"`
	URL         string        `mapstructure:"url"`
	MinRefresh  time.Duration `mapstructure:"min_refresh"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Logging configures the zerolog logger.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Redis configures the revocation store. An empty Addr disables it.
type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Sessions configures the SQL session source. An empty DSN disables refresh
// token exchanges.
type Sessions struct {
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// Server configures jwtctl serve.
type Server struct {
	Addr            string `mapstructure:"addr"`
	AllowQueryToken bool   `mapstructure:"allow_query_token"`
	MetricsPath     string `mapstructure:"metrics_path"`
	DevBypass       bool   `mapstructure:"dev_bypass"`
}

// LoaderOption customizes Load.
type LoaderOption func(*loader)

type loader struct {
	configFile string
	envFile    string
}

// WithConfigFile reads path as the base configuration.
func WithConfigFile(path string) LoaderOption {
	return func(l *loader) { l.configFile = path }
}

// WithEnvFile loads path into the environment before reading overrides.
// Without it ./.env is loaded when present.
func WithEnvFile(path string) LoaderOption {
	return func(l *loader) { l.envFile = path }
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jwt.algorithm", string(jwtauth.HS256))
	v.SetDefault("jwt.allow_any_algorithm", false)
	v.SetDefault("jwt.auth_key", "")
	v.SetDefault("jwt.fallback_auth_keys", []string{})
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.fallback_public_keys", []string{})
	v.SetDefault("jwt.fallback_private_keys", []string{})
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.encrypt_payload", false)
	v.SetDefault("jwt.issuer", "ssjwt")
	v.SetDefault("jwt.audiences", []string{})
	v.SetDefault("jwt.requires_audience", false)
	v.SetDefault("jwt.expire_tokens_in", "336h")
	v.SetDefault("jwt.expire_refresh_tokens_in", "8760h")
	v.SetDefault("jwt.invalidate_tokens_issued_before", "")
	v.SetDefault("jwt.invalidate_refresh_tokens_issued_before", "")
	v.SetDefault("jwt.invalidate_jwt_ids", []string{})
	v.SetDefault("jwt.max_profile_url_size", 2800)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "jwtauth:revoked:")

	v.SetDefault("sessions.dialect", string(sqlsession.SQLite))
	v.SetDefault("sessions.dsn", "")
	v.SetDefault("sessions.migrate", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allow_query_token", false)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.dev_bypass", false)
}

// Load builds a File from defaults, the optional config file, the .env file
// and the environment, in increasing precedence.
func Load(opts ...LoaderOption) (*File, error) {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.configFile, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	f.JWT.Audiences = splitList(f.JWT.Audiences)
	f.JWT.FallbackAuthKeys = splitList(f.JWT.FallbackAuthKeys)
	f.JWT.InvalidateJWTIDs = splitList(f.JWT.InvalidateJWTIDs)
	return &f, nil
}

// splitList flattens comma separated entries, which is how lists arrive from
// environment variables.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Config converts the JWT section into a jwtauth.Config.
func (j JWT) Config() (jwtauth.Config, error) {
	alg, err := jwtauth.ParseAlgorithm(strings.ToUpper(strings.TrimSpace(j.Algorithm)))
	if err != nil {
		return jwtauth.Config{}, err
	}
	cfg := jwtauth.Config{
		Algorithm:             alg,
		AllowAnyAlgorithm:     j.AllowAnyAlgorithm,
		KeyID:                 j.KeyID,
		EncryptPayload:        j.EncryptPayload,
		Issuer:                j.Issuer,
		Audiences:             j.Audiences,
		RequiresAudience:      j.RequiresAudience,
		ExpireTokensIn:        j.ExpireTokensIn,
		ExpireRefreshTokensIn: j.ExpireRefreshIn,
		InvalidateJWTIDs:      j.InvalidateJWTIDs,
		MaxProfileURLSize:     j.MaxProfileURLSize,
	}

	if j.AuthKey != "" {
		if cfg.AuthKey, err = decodeKey(j.AuthKey); err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.auth_key: %w", err)
		}
	}
	for i, s := range j.FallbackAuthKeys {
		key, err := decodeKey(s)
		if err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.fallback_auth_keys[%d]: %w", i, err)
		}
		cfg.FallbackAuthKeys = append(cfg.FallbackAuthKeys, key)
	}

	if j.PrivateKey != "" {
		if cfg.PrivateKey, err = jwtauth.ParseRSAPrivateKey(j.PrivateKey); err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.private_key: %w", err)
		}
	}
	if j.PublicKey != "" {
		if cfg.PublicKey, err = jwtauth.ParseRSAPublicKey(j.PublicKey); err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.public_key: %w", err)
		}
	}
	for i, s := range j.FallbackPublicKeys {
		key, err := jwtauth.ParseRSAPublicKey(s)
		if err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.fallback_public_keys[%d]: %w", i, err)
		}
		cfg.FallbackPublicKeys = append(cfg.FallbackPublicKeys, key)
	}
	for i, s := range j.FallbackPrivateKeys {
		key, err := jwtauth.ParseRSAPrivateKey(s)
		if err != nil {
			return jwtauth.Config{}, fmt.Errorf("jwt.fallback_private_keys[%d]: %w", i, err)
		}
		cfg.FallbackPrivateKeys = append(cfg.FallbackPrivateKeys, key)
	}

	if cfg.InvalidateTokensIssuedBefore, err = parseTime(j.InvalidateTokensIssuedBefore); err != nil {
		return jwtauth.Config{}, fmt.Errorf("jwt.invalidate_tokens_issued_before: %w", err)
	}
	if cfg.InvalidateRefreshTokensIssuedBefore, err = parseTime(j.InvalidateRefreshTokensIssuedBefore); err != nil {
		return jwtauth.Config{}, fmt.Errorf("jwt.invalidate_refresh_tokens_issued_before: %w", err)
	}
	return cfg, nil
}

// decodeKey accepts standard or URL-safe base64, padded or not.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// KeySource returns the remote JWKS configuration, or false when none is set.
func (j JWKS) KeySource() (jwtauth.JWKSConfig, bool) {
	if len(j.Endpoints) == 0 {
		return jwtauth.JWKSConfig{}, false
	}
	out := jwtauth.JWKSConfig{}
	for _, e := range j.Endpoints {
		out.Endpoints = append(out.Endpoints, jwtauth.JWKSEndpoint{
			Name:        e.Name,
			URL:         e.URL,
			MinRefresh:  e.MinRefresh,
			HTTPTimeout: e.HTTPTimeout,
		})
	}
	return out, true
}

// Logger builds a zerolog logger writing to w.
func (l Logging) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(l.Level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("logging.level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	switch strings.ToLower(l.Format) {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("logging.format: unknown format %q", l.Format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Options returns go-redis options, or nil when Redis is not configured.
func (r Redis) Options() *goredis.Options {
	if r.Addr == "" {
		return nil
	}
	return &goredis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// SQLDialect returns the configured sqlsession dialect.
func (s Sessions) SQLDialect() sqlsession.Dialect {
	return sqlsession.Dialect(strings.ToLower(strings.TrimSpace(s.Dialect)))
}
