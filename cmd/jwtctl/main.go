// Command jwtctl issues, inspects and serves jwtauth tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-jwtauth"
	"github.com/bionicotaku/lingo-utils-jwtauth/config"
	"github.com/bionicotaku/lingo-utils-jwtauth/revocation"
	"github.com/bionicotaku/lingo-utils-jwtauth/sqlsession"
)

type app struct {
	configFile string
	envFile    string

	file   *config.File
	logger zerolog.Logger
}

func main() {
	if err := newRootCommand(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "jwtctl",
		Short:        "Issue, inspect and serve JWT access and refresh tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "Path to a .env file (default ./.env when present)")

	root.AddCommand(
		newKeygenCommand(),
		newIssueCommand(a),
		newVerifyCommand(a),
		newDumpCommand(),
		newJWKSCommand(a),
		newExchangeCommand(),
		newRevokeCommand(a),
		newServeCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	var opts []config.LoaderOption
	if a.configFile != "" {
		opts = append(opts, config.WithConfigFile(a.configFile))
	}
	if a.envFile != "" {
		opts = append(opts, config.WithEnvFile(a.envFile))
	}
	f, err := config.Load(opts...)
	if err != nil {
		return err
	}
	logger, err := f.Logging.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.file, a.logger = f, logger
	return nil
}

// services holds the optional backends configured for a command.
type services struct {
	redis    *goredis.Client
	sessions *sqlsession.Source
	metrics  *jwtauth.Metrics
}

func (s *services) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.sessions != nil {
		_ = s.sessions.Close()
	}
}

// options wires the configured backends into jwtauth options. reg may be nil.
func (a *app) options(ctx context.Context, reg prometheus.Registerer) ([]jwtauth.Option, *services, error) {
	svc := &services{}
	opts := []jwtauth.Option{jwtauth.WithLogger(a.logger)}

	if reg != nil {
		m, err := jwtauth.NewMetrics(reg)
		if err != nil {
			return nil, nil, err
		}
		svc.metrics = m
		opts = append(opts, jwtauth.WithMetrics(m))
	}

	if ro := a.file.Redis.Options(); ro != nil {
		svc.redis = goredis.NewClient(ro)
		store := revocation.NewRedis(svc.redis, revocation.WithKeyPrefix(a.file.Redis.KeyPrefix))
		opts = append(opts, jwtauth.WithRevocationList(store))
	}

	if a.file.Sessions.DSN != "" {
		src, err := sqlsession.Open(ctx, a.file.Sessions.SQLDialect(), a.file.Sessions.DSN)
		if err != nil {
			svc.Close()
			return nil, nil, err
		}
		svc.sessions = src
		if a.file.Sessions.Migrate {
			if err := src.Migrate(ctx); err != nil {
				svc.Close()
				return nil, nil, err
			}
		}
		opts = append(opts, jwtauth.WithSessionSource(src))
	}

	if jwks, ok := a.file.JWKS.KeySource(); ok {
		src, err := jwtauth.NewJWKSKeySource(ctx, jwks)
		if err != nil {
			svc.Close()
			return nil, nil, err
		}
		opts = append(opts, jwtauth.WithPublicKeySource(src))
	}
	return opts, svc, nil
}

func (a *app) reader(ctx context.Context, reg prometheus.Registerer) (*jwtauth.Reader, *services, error) {
	cfg, err := a.file.JWT.Config()
	if err != nil {
		return nil, nil, err
	}
	opts, svc, err := a.options(ctx, reg)
	if err != nil {
		return nil, nil, err
	}
	r, err := jwtauth.NewReader(cfg, opts...)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	return r, svc, nil
}

func (a *app) issuer(ctx context.Context, reg prometheus.Registerer) (*jwtauth.Issuer, *services, error) {
	cfg, err := a.file.JWT.Config()
	if err != nil {
		return nil, nil, err
	}
	opts, svc, err := a.options(ctx, reg)
	if err != nil {
		return nil, nil, err
	}
	i, err := jwtauth.NewIssuer(cfg, opts...)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	return i, svc, nil
}

func tokenArg(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", errors.New("token argument is required")
	}
	return args[0], nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
