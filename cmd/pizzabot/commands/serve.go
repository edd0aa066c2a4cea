package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	corecmd "github.com/etokosmo/pizza-shop/core/cmd"
	"github.com/etokosmo/pizza-shop/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return corecmd.Run(corecmd.Options{
				ConfigPath:        configPath,
				ConfigEnvVar:      configEnvVar,
				DefaultConfigPath: defaultConfigPath,
				LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
					return app.LoadConfig(path)
				},
				Bootstrap: func(ctx context.Context, cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
					appCfg, ok := cfg.(*app.Config)
					if !ok {
						return nil, fmt.Errorf("unexpected config type %T", cfg)
					}
					return app.Bootstrap(ctx, appCfg)
				},
			})
		},
	}
}
