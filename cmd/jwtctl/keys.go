package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bionicotaku/lingo-utils-jwtauth"
)

func newKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate signing keys",
	}

	hmac := &cobra.Command{
		Use:   "hmac",
		Short: "Generate a base64 HMAC auth key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := jwtauth.GenerateAuthKey()
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}

	options := struct {
		Bits           int
		PrivateKeyFile string
	}{}
	rsa := &cobra.Command{
		Use:   "rsa",
		Short: "Generate an RSA key pair in PEM format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := jwtauth.GenerateRSAKey(options.Bits)
			if err != nil {
				return err
			}
			private := jwtauth.EncodeRSAPrivateKey(key)
			public, err := jwtauth.EncodeRSAPublicKey(&key.PublicKey)
			if err != nil {
				return err
			}
			if options.PrivateKeyFile != "" {
				if err := os.WriteFile(options.PrivateKeyFile, private, 0o600); err != nil {
					return fmt.Errorf("couldn't save private key: %w", err)
				}
			} else {
				printf(cmd, "%s", private)
			}
			printf(cmd, "%s", public)
			printf(cmd, "kid: %s\n", jwtauth.KeyIDForRSA(&key.PublicKey))
			return nil
		},
	}
	rsa.Flags().IntVarP(&options.Bits, "bits", "b", jwtauth.DefaultRSAKeyBits, "RSA modulus size")
	rsa.Flags().StringVarP(&options.PrivateKeyFile, "private-key-file", "f", "", "Path where to store the private key")

	cmd.AddCommand(hmac, rsa)
	return cmd
}

func newJWKSCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Print the public JWKS document for the configured keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, svc, err := a.reader(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()
			doc, err := r.PublicJWKSJSON()
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", doc)
			return nil
		},
	}
}
