package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/poolgate/adapters/auth"
	"github.com/artpar/poolgate/adapters/hasher"
	"github.com/artpar/poolgate/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	Long: `Issue a bearer token for the /admin API, signed with auth.jwt_secret.

Examples:
  poolgate token
  poolgate token --ttl 1h
  poolgate token hash-password 's3cret'   # value for auth.admin_password_hash`,
	RunE: runToken,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the bcrypt hash of a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := hasher.NewBcrypt(0).HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}

var tokenTTL time.Duration

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(hashPasswordCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_expiration)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set; the server would reject this token after restart")
	}

	ttl := cfg.Auth.TokenExpiration
	if tokenTTL > 0 {
		ttl = tokenTTL
	}
	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		Expiration: ttl,
	})
	token, expiresAt, err := tokens.Issue(cfg.Auth.AdminUser, "admin")
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Printf("expires: %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
