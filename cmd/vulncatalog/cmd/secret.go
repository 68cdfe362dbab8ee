package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/pkg/crypto"
)

var flagSecretGenerateKey bool

var encryptSecretCmd = &cobra.Command{
	Use:   "encrypt-secret",
	Short: "Encrypt a secret setting with APP_ENCRYPTION_KEY",
	Long: `Read a secret from standard input and print it sealed with
APP_ENCRYPTION_KEY. Sealed values ("enc:...") are accepted for DB_PASSWORD,
REDIS_PASSWORD, ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY and
STORAGE_S3_SECRET_KEY.`,
	Example: `  vulncatalog encrypt-secret --generate-key
  printf '%s' "$ANTHROPIC_API_KEY" | APP_ENCRYPTION_KEY=... vulncatalog encrypt-secret`,
	Args: cobra.NoArgs,
	RunE: runEncryptSecret,
}

func init() {
	encryptSecretCmd.Flags().BoolVar(&flagSecretGenerateKey, "generate-key", false, "Print a new random encryption key instead")
}

func runEncryptSecret(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if flagSecretGenerateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, key)
		return err
	}

	key := os.Getenv("APP_ENCRYPTION_KEY")
	if key == "" {
		return fmt.Errorf("APP_ENCRYPTION_KEY is not set (generate one with --generate-key)")
	}
	c, err := crypto.NewCipherFromString(key)
	if err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), "-")
	if err != nil {
		return err
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return fmt.Errorf("no secret on standard input")
	}

	sealed, err := c.Seal(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, sealed)
	return err
}
