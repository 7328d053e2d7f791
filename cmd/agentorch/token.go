package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/osakka/agentorch/pkg/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with server.admin.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			admin := cfg.Server.Admin
			if admin.JWTSecret == "" {
				return errors.New("server.admin.jwt_secret is not set")
			}
			if ttl > 0 {
				admin.TokenTTL = ttl
			}

			validator, err := auth.NewJWTValidator(auth.JWTConfig{
				Secret:   admin.JWTSecret,
				Issuer:   admin.Issuer,
				TokenTTL: admin.TokenTTL,
			}, logger(opts), nil)
			if err != nil {
				return err
			}
			token, err := validator.GenerateToken(subject, auth.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: server.admin.token_ttl)")
	return cmd
}
