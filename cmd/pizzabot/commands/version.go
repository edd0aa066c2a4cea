package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/etokosmo/pizza-shop/core/buildinfo"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pizzabot %s %s\n", buildinfo.String(), runtime.Version())
			return err
		},
	}
}
