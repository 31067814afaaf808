package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	httpserver "github.com/fairyhunter13/resume-analyzer/internal/adapter/httpserver"
)

func newHashKeyCmd() *cobra.Command {
	var key string
	c := &cobra.Command{
		Use:   "hash-key [user_id]",
		Short: "Generate an API key entry for API_KEYS",
		Long: `Generate an API key entry for API_KEYS.

A random key is generated unless --key is given. The plain key is
printed once; only the <user_id>:<hash> entry belongs in API_KEYS.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			if key == "" {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				key = base64.RawURLEncoding.EncodeToString(buf)
			}
			hash, err := httpserver.HashAPIKey(key, httpserver.DefaultArgon2Params)
			if err != nil {
				return err
			}
			cmd.Printf("key:   %s\n", key)
			cmd.Printf("entry: %d:%s\n", userID, hash)
			return nil
		},
	}
	c.Flags().StringVar(&key, "key", "", "hash this key instead of generating one")
	return c
}
