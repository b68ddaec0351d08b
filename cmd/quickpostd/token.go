package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reeseleonb-crypto/quickpostkit/internal/auth"
)

func newHashTokenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Hash an admin token for admin.token_hashes",
		Long: `hash-token prints the bcrypt hash of the given admin token. Without an
argument a random token is generated and printed alongside its hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				token = hex.EncodeToString(buf)
				fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", token)
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			if name != "" {
				hash = name + ":" + hash
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\n", hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "subject name recorded in audit logs")
	return cmd
}
