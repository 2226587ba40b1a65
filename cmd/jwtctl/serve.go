package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-jwtauth"
	"github.com/bionicotaku/lingo-utils-jwtauth/ginauth"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the access token exchange, JWKS and a protected whoami endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			issuer, svc, err := a.issuer(ctx, reg)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := &http.Server{
				Addr:              a.file.Server.Addr,
				Handler:           a.router(issuer, reg),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", srv.Addr).Str("keys", issuer.String()).Msg("listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.logger.Info().Msg("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) router(issuer *jwtauth.Issuer, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(a.file.Server.MetricsPath, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/.well-known/jwks.json", ginauth.JWKSHandler(issuer))
	r.POST("/access-token", ginauth.AccessTokenHandler(issuer))

	opts := []ginauth.Option{ginauth.WithLogger(a.logger)}
	if a.file.Server.AllowQueryToken {
		opts = append(opts, ginauth.WithQueryToken())
	}
	if a.file.Server.DevBypass {
		aud := ""
		if len(a.file.JWT.Audiences) > 0 {
			aud = a.file.JWT.Audiences[0]
		}
		a.logger.Warn().Msg("dev bypass enabled, requests without a token are authenticated")
		opts = append(opts, ginauth.WithDevBypass(jwtauth.DefaultDevBypassClaims(aud)))
	}

	api := r.Group("/api", ginauth.RequireJWT(issuer, opts...))
	api.GET("/whoami", whoami)
	return r
}

func whoami(c *gin.Context) {
	caller, ok := ginauth.Caller(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sub":         caller.Claims.Subject,
		"email":       caller.Claims.Email,
		"roles":       caller.Claims.Roles,
		"permissions": caller.Claims.Permissions,
		"devBypass":   caller.DevBypass,
	})
}
