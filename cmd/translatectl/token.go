package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"translator-backend/internal/shared/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign an API bearer token with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims := auth.Claims{Sub: args[0], Email: email}
			if ttl > 0 {
				claims.Exp = time.Now().Add(ttl).Unix()
			}
			token, err := auth.SignJWT(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
