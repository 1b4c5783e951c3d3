// Package cmd implements the anonsend command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"anonsend/config"
)

var rootCmd = &cobra.Command{
	Use:   "anonsend",
	Short: "Anonymous one-time-code message drop with an encrypted delivery queue",
	Long: `anonsend accepts one message per single-use access code, screens it,
stores it encrypted and hands it to a separate delivery worker.`,
	SilenceUsage: true,
}

// configErr holds a failure from initConfig until a command asks for config.
var configErr error

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is {data_dir}/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (overrides "+config.DataDirEnv+")")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	configErr = config.Configure(viper.GetViper(), viper.GetString("config"))
}

func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load(viper.GetViper())
}
