package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// NewKeygenCommand creates the keygen command. It prints a fresh signing seed
// and the public key counterparties list in TRUSTED_PARTICIPANTS.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "keygen",
		Short:        "Generate an ed25519 signing key",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SIGNING_KEY=%s\n", hex.EncodeToString(priv.Seed()))
			fmt.Fprintf(out, "PUBLIC_KEY=%s\n", hex.EncodeToString(pub))
			return nil
		},
	}
}

// NewHashKeyCommand creates the hash-key command for MANAGEMENT_API_KEY_HASH.
func NewHashKeyCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:          "hash-key <api-key>",
		Short:        "Hash a management API key with bcrypt",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) < 16 {
				return fmt.Errorf("api key must be at least 16 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
