package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"anonsend/config"
	"anonsend/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the master key used to encrypt queued messages",
	Long: `Creates {data_dir}/keys/master_key.pem if it does not exist yet.
With secret.source=env, prints a fresh base64 key to export instead.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.EnsureDataDirectories(cfg.DataDir); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Secret.Source == config.SecretSourceEnv {
		key, err := crypto.GenerateMasterKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render("Export this key before starting anonsend:"))
		fmt.Fprintf(out, "%s=%s\n", cfg.Secret.EnvVar, base64.StdEncoding.EncodeToString(key))
		printField(out, "Key Fingerprint", crypto.FormatFingerprint(crypto.KeyFingerprint(key)))
		return nil
	}

	key, created, err := crypto.EnsureMasterKey(cfg.Secret.KeyPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(out, okStyle.Render("Master key created"))
	} else {
		fmt.Fprintln(out, warnStyle.Render("Master key already exists, left unchanged"))
	}
	printField(out, "Key File", cfg.Secret.KeyPath)
	printField(out, "Key Fingerprint", crypto.FormatFingerprint(crypto.KeyFingerprint(key)))
	return nil
}
