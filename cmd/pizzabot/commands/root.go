// Package commands holds the pizzabot command line.
package commands

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	configEnvVar      = "CONFIG_PATH"
	defaultConfigPath = "config.yaml"
)

var (
	configPath string
	envFile    string
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pizzabot",
		Short:        "Telegram pizza ordering bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := godotenv.Load(envFile)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				log.Printf("no %s file, using environment", envFile)
			case err != nil:
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(serveCmd(), migrateCmd(), locateCmd(), versionCmd())
	return root
}
