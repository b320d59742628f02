package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/services"
	"cinewave/pkg/validation"
)

var tokenProfile struct {
	userID string
	name   string
	email  string
	avatar string
}

// tokenCmd issues a bearer token signed with the configured secret. Tokens
// normally come from the account service; this is for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateResourceID(tokenProfile.userID, "user"); err != nil {
			return err
		}
		cfg, zapLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		token, err := auth.GenerateToken(domain.UserProfile{
			ID:          domain.UserID(tokenProfile.userID),
			DisplayName: tokenProfile.name,
			Email:       tokenProfile.email,
			AvatarURL:   tokenProfile.avatar,
		})
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	flags := tokenCmd.Flags()
	flags.StringVar(&tokenProfile.userID, "user", "", "user id (required)")
	flags.StringVar(&tokenProfile.name, "name", "", "display name")
	flags.StringVar(&tokenProfile.email, "email", "", "email")
	flags.StringVar(&tokenProfile.avatar, "avatar", "", "avatar URL")
	_ = tokenCmd.MarkFlagRequired("user")
}
