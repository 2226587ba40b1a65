package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-jwtauth"
	"github.com/bionicotaku/lingo-utils-jwtauth/revocation"
)

func newIssueCommand(a *app) *cobra.Command {
	options := struct {
		Session jwtauth.Session
		Refresh bool
	}{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access token, and optionally a refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if options.Session.UserAuthID == "" {
				return fmt.Errorf("--sub is required")
			}
			issuer, svc, err := a.issuer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			access, err := issuer.CreateAccessToken(ctx, &options.Session, nil, nil)
			if err != nil {
				return err
			}
			tokens := jwtauth.Tokens{AccessToken: access}
			if options.Refresh {
				if tokens.RefreshToken, err = issuer.CreateRefreshToken(ctx, options.Session.UserAuthID); err != nil {
					return err
				}
			}
			return writeJSON(cmd, tokens)
		},
	}
	f := cmd.Flags()
	f.StringVar(&options.Session.UserAuthID, "sub", "", "Subject (user id)")
	f.StringVar(&options.Session.UserName, "username", "", "preferred_username claim")
	f.StringVar(&options.Session.Email, "email", "", "email claim")
	f.StringVar(&options.Session.DisplayName, "name", "", "name claim")
	f.StringVar(&options.Session.ProfileURL, "picture", "", "picture claim")
	f.StringSliceVar(&options.Session.Roles, "role", nil, "Role to grant (repeatable)")
	f.StringSliceVar(&options.Session.Permissions, "perm", nil, "Permission to grant (repeatable)")
	f.BoolVar(&options.Refresh, "refresh", false, "Also issue a refresh token")
	return cmd
}

type verifyOutput struct {
	Valid   bool              `json:"valid"`
	Code    jwtauth.ErrorCode `json:"code,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Header  jwtauth.Header    `json:"header,omitempty"`
	Payload jwtauth.Payload   `json:"payload,omitempty"`
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and apply the validity rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenArg(args)
			if err != nil {
				return err
			}
			r, svc, err := a.reader(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := r.Inspect(cmd.Context(), token)
			if err != nil {
				return err
			}
			out := verifyOutput{Valid: res.Valid(), Code: res.Code, Reason: res.Reason, Header: res.Header, Payload: res.Payload}
			if err := writeJSON(cmd, out); err != nil {
				return err
			}
			return res.Err()
		},
	}
}

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <token>",
		Short: "Print the unverified header and payload of a token",
		Args:  cobra.ExactArgs(1),
		// dump needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenArg(args)
			if err != nil {
				return err
			}
			out, err := jwtauth.Dump(token)
			if err != nil {
				return err
			}
			printf(cmd, "%s", out)
			return nil
		},
	}
}

func newExchangeCommand() *cobra.Command {
	options := struct {
		URL     string
		Timeout time.Duration
	}{}
	cmd := &cobra.Command{
		Use:               "exchange <refresh-token>",
		Short:             "Exchange a refresh token for an access token at a remote endpoint",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.URL == "" {
				return fmt.Errorf("--url is required")
			}
			provider, err := jwtauth.NewProvider(jwtauth.ProviderConfig{
				Exchanger: jwtauth.HTTPExchanger{URL: options.URL, Client: &http.Client{Timeout: options.Timeout}},
			})
			if err != nil {
				return err
			}
			token, err := provider.Token(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&options.URL, "url", "", "Access token endpoint, e.g. http://localhost:8080/access-token")
	cmd.Flags().DurationVar(&options.Timeout, "timeout", 10*time.Second, "HTTP timeout")
	return cmd
}

func newRevokeCommand(a *app) *cobra.Command {
	options := struct {
		Until string
	}{}
	cmd := &cobra.Command{
		Use:   "revoke <jti>",
		Short: "Revoke a token id in the configured Redis store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ro := a.file.Redis.Options()
			if ro == nil {
				return fmt.Errorf("redis.addr is not configured")
			}
			var until time.Time
			if options.Until != "" {
				var err error
				if until, err = time.Parse(time.RFC3339, options.Until); err != nil {
					return fmt.Errorf("--until: %w", err)
				}
			}
			rdb := goredis.NewClient(ro)
			defer rdb.Close()
			store := revocation.NewRedis(rdb, revocation.WithKeyPrefix(a.file.Redis.KeyPrefix))
			if err := store.Revoke(cmd.Context(), args[0], until); err != nil {
				return err
			}
			a.logger.Info().Str("jti", args[0]).Time("until", until).Msg("token revoked")
			return nil
		},
	}
	cmd.Flags().StringVar(&options.Until, "until", "", "RFC 3339 time after which the entry may be dropped (default forever)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
