package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/monocle-dev/relay/internal/auth"
)

var (
	tokenUserID uint
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development JWT for connecting to the relay",
	Long: `Mint an HS256 token signed with JWT_SECRET.

Examples:
  relay token --user-id 3 --email dev@example.com
  wscat -c "ws://localhost:4000/api/ws?token=$(relay token --user-id 3 --email dev@example.com)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID == 0 {
			return fmt.Errorf("--user-id is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl)
		if err != nil {
			return err
		}

		token, err := tokens.Generate(tokenUserID, tokenEmail)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().UintVar(&tokenUserID, "user-id", 0, "user id to put in the token")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: JWT_TTL)")
}
