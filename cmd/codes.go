package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anonsend/codes"
	"anonsend/models"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage single-use access codes",
}

var codesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random six-digit codes and store them as unused",
	Args:  cobra.NoArgs,
	RunE:  runCodesGenerate,
}

var codesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import unused codes from a YAML code file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCodesImport,
}

var codesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show how many codes exist and how many are still unused",
	Args:  cobra.NoArgs,
	RunE:  runCodesList,
}

var (
	generateCount int
	generateOut   string
)

func init() {
	codesGenerateCmd.Flags().IntVarP(&generateCount, "count", "n", 10, "number of codes to generate")
	codesGenerateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "also write the codes to this YAML file (must not exist)")

	codesCmd.AddCommand(codesGenerateCmd, codesImportCmd, codesListCmd)
	rootCmd.AddCommand(codesCmd)
}

func runCodesGenerate(cmd *cobra.Command, args []string) error {
	generated, err := codes.Generate(generateCount)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// The file is written first so a crash never leaves stored codes nobody has seen.
	if generateOut != "" {
		if err := codes.WriteFile(generateOut, generated, time.Now()); err != nil {
			return err
		}
	}

	inserted, err := a.store.InsertCodes(cmd.Context(), generated, "bulk")
	if err != nil {
		return err
	}
	a.logger.Info("access codes generated", "count", inserted)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Stored %d new codes", inserted)))
	if generateOut != "" {
		printField(out, "Written To", generateOut)
		return nil
	}
	for _, code := range generated {
		fmt.Fprintln(out, codeStyle.Render(code))
	}
	return nil
}

func runCodesImport(cmd *cobra.Command, args []string) error {
	imported, err := codes.ReadFile(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	inserted, err := a.store.InsertCodes(cmd.Context(), imported, "import")
	if err != nil {
		return err
	}
	a.logger.Info("access codes imported", "read", len(imported), "inserted", inserted)

	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Imported %d of %d codes (%d already known)", inserted, len(imported), len(imported)-inserted)))
	return nil
}

func runCodesList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := codeStats(cmd.Context(), a)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "total=%d unused=%d used=%d\n", stats.Total, stats.Unused, stats.Total-stats.Unused)
	return nil
}

func codeStats(ctx context.Context, a *app) (models.CodeStats, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Database.StoreTimeout)
	defer cancel()
	return a.store.CodeStats(ctx)
}
