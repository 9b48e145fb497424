package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bloodlift/bloodlift/internal/auth"
	"github.com/bloodlift/bloodlift/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		operatorID string
		role       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator access token signed with JWT_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.JWTSigningKey, TTL: ttl})
			if err != nil {
				return err
			}
			token, expiresAt, err := svc.Issue(operatorID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator id (required)")
	cmd.Flags().StringVar(&role, "role", auth.RoleDispatcher, "dispatcher or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}
