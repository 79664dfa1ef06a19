package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/layer-3/passage/adapters/tokenizer"
	"github.com/spf13/cobra"
)

var (
	keyOut   string
	keyForce bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a P-256 signing key in PEM form",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := tokenizer.GenerateKey()
		if err != nil {
			return err
		}
		pemBytes, err := tokenizer.EncodeKey(key)
		if err != nil {
			return err
		}

		if keyOut == "" {
			_, err := cmd.OutOrStdout().Write(pemBytes)
			return err
		}

		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if keyForce {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		f, err := os.OpenFile(keyOut, flags, 0o600)
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists, use --force to overwrite", keyOut)
		}
		if err != nil {
			return fmt.Errorf("failed to create key file: %w", err)
		}
		if _, err := f.Write(pemBytes); err != nil {
			f.Close()
			return fmt.Errorf("failed to write key file: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote signing key to %s\n", keyOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keyOut, "out", "o", "", "Write the key to this file instead of stdout")
	keygenCmd.Flags().BoolVar(&keyForce, "force", false, "Overwrite an existing key file")
}
