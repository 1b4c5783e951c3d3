package cmd

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"anonsend/codes"
	"anonsend/config"
)

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "Manage the shared TOTP secret used when auth.mode is totp",
}

var totpSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the TOTP secret and print its provisioning details",
	Args:  cobra.NoArgs,
	RunE:  runTOTPSetup,
}

var (
	totpAccount string
	totpQRPath  string
)

func init() {
	totpSetupCmd.Flags().StringVar(&totpAccount, "account", "submissions", "account name shown in authenticator apps")
	totpSetupCmd.Flags().StringVar(&totpQRPath, "qr", "", "write a provisioning QR code PNG to this path")

	totpCmd.AddCommand(totpSetupCmd)
	rootCmd.AddCommand(totpCmd)
}

func runTOTPSetup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.EnsureDataDirectories(cfg.DataDir); err != nil {
		return err
	}

	key, err := codes.NewTOTPKey(config.AppDirectoryName, totpAccount)
	if err != nil {
		return err
	}
	if err := codes.SaveTOTPKey(cfg.Auth.TOTPSecretPath, key); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, okStyle.Render("TOTP secret created"))
	printField(out, "Secret File", cfg.Auth.TOTPSecretPath)
	printField(out, "Secret", key.Secret())
	printField(out, "URL", key.URL())

	if totpQRPath != "" {
		if err := codes.WriteQRCode(totpQRPath, key); err != nil {
			return err
		}
		printField(out, "QR Code", totpQRPath)
	}

	current, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		return err
	}
	printField(out, "Current Code", codeStyle.Render(current))

	if cfg.Auth.Mode != config.AuthModeTOTP {
		fmt.Fprintln(out, warnStyle.Render("auth.mode is "+cfg.Auth.Mode+"; set it to totp to accept these codes"))
	}
	return nil
}
