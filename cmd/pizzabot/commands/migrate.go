package commands

import (
	"github.com/spf13/cobra"

	corecmd "github.com/etokosmo/pizza-shop/core/cmd"
	"github.com/etokosmo/pizza-shop/core/database"
	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/app"
	"github.com/etokosmo/pizza-shop/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres session store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := corecmd.ResolveConfigPath(corecmd.Options{
				ConfigPath:        configPath,
				ConfigEnvVar:      configEnvVar,
				DefaultConfigPath: defaultConfigPath,
			})
			if err != nil {
				return err
			}
			cfg, err := app.DecodeConfig(path)
			if err != nil {
				return err
			}
			if err := cfg.Database.Normalize(); err != nil {
				return err
			}
			if err := logger.InitLogger(&cfg.Config); err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			return database.RunMigrations(cmd.Context(), cfg.Database, migrations.FS)
		},
	}
}
