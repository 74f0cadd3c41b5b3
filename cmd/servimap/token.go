package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/config"
	"github.com/servimap/servimap/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured master key",
		Long: `Issue a bearer token for local testing or for provisioning admin access.
The token is signed with the key derived from SERVIMAP_MASTER_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			key, err := middleware.DeriveSigningKey([]byte(cfg.Auth.MasterKey))
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := middleware.IssueToken(key, userID, user.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(user.RoleCustomer), "customer, provider or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to SERVIMAP_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
