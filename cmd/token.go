package cmd

import (
	"fmt"
	"time"

	"Boombot/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a control token for POST /api/skip",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.NewToken([]byte(cfg.ControlJWTSecret), tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "operator", "name recorded as the requester of skips")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
}
