package main

import (
	"fmt"

	"github.com/alecgard/meterline/internal/auth"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin API key and its bcrypt hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		plaintext, hash, err := auth.GenerateAdminKey()
		if err != nil {
			return err
		}
		fmt.Println("Admin key (shown once):")
		fmt.Printf("  %s\n\n", plaintext)
		fmt.Println("Set this on the server:")
		fmt.Printf("  METERLINE_ADMIN_KEY_HASH='%s'\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
