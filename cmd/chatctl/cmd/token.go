package cmd

import (
	"fmt"
	"time"

	"github.com/nfrund/orgchat/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenUserID string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an existing user",
	Long: `Mint a bearer token signed with JWT_SECRET for an existing user.

Examples:
  chatctl token --user 0190f7a2-...            # token valid for JWT_TTL
  chatctl token --user 0190f7a2-... --ttl 1h   # token valid for one hour`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.GetUser(ctx, tokenUserID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", tokenUserID, err)
		}

		ttl := cfg.GetJWTTTL()
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, err := auth.NewIssuer(cfg.GetJWTSecret(), cfg.GetJWTIssuer(), ttl).Issue(*user)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "id of the user to mint a token for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
