package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tally/api/internal/auth"
	"tally/api/internal/config"
)

// The token command only needs the signing config, so it does not open the
// database.
func newTokenCmd() *cobra.Command {
	var (
		userID string
		name   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), userID, name, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to TALLY_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
