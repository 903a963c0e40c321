package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/config"
)

var tokenTTL time.Duration

// tokenCmd mints a bearer token with the configured secret, for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a signed bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.IsProd() {
			return fmt.Errorf("refusing to mint tokens with APP_ENV=prod")
		}
		tok, err := auth.New(cfg.JWTSecret).Sign(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
