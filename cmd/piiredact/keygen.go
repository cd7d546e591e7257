package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/pii-go/core"
)

func newKeygenCmd() *cobra.Command {
	var (
		cipher string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an obfuscation key",
		Long: `Generate a random key for the fpe policy. With --out the key is written
hex encoded to a file readable only by its owner; otherwise it is printed.
The key id printed to stderr identifies the key in audit records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			suite := core.CipherSuite(cipher)
			key, err := core.GenerateKey(suite)
			if err != nil {
				return err
			}
			defer func() {
				for i := range key {
					key[i] = 0
				}
			}()
			if err := core.ValidatePolicy(core.FormatPreservingEncrypt{Key: key, Cipher: suite}); err != nil {
				return err
			}

			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), core.EncodeKey(key))
			} else if err := core.WriteKeyFile(out, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "key id: %s\n", core.KeyID(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&cipher, "cipher", string(core.CipherAESGCM), "cipher suite: aes-gcm or xchacha20-poly1305")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file")
	return cmd
}
