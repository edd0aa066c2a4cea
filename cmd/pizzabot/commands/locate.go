package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	corecmd "github.com/etokosmo/pizza-shop/core/cmd"
	"github.com/etokosmo/pizza-shop/core/httpx"
	"github.com/etokosmo/pizza-shop/internal/app"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/geocode"
)

type geocoder interface {
	Resolve(ctx context.Context, text string) (geo.Point, error)
}

type locator interface {
	Resolve(ctx context.Context, target geo.Point) (delivery.Decision, error)
}

func locateCmd() *cobra.Command {
	var (
		address  string
		lat, lon float64
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Resolve the nearest pizzeria and delivery offer for an address or coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			hasCoords := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")
			if (address == "") == !hasCoords {
				return errors.New("pass either --address or --lat/--lon")
			}
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
			if err := cfg.NormalizeLocator(); err != nil {
				return err
			}
			client := httpx.New(httpx.Options{})
			resolver := delivery.NewResolver(catalog.New(cfg.Catalog, client), cfg.Catalog.PointsFlow, cfg.Delivery)

			var gc geocoder
			var target *geo.Point
			if address != "" {
				if err := cfg.Geocoder.Normalize(); err != nil {
					return err
				}
				gc = geocode.NewYandex(cfg.Geocoder, client)
			} else {
				target = &geo.Point{Lat: lat, Lon: lon}
			}
			return locate(cmd.Context(), cmd.OutOrStdout(), gc, resolver, address, target, cfg.Payment.Currency)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "free-text delivery address")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	return cmd
}

func locate(ctx context.Context, w io.Writer, gc geocoder, loc locator, address string, target *geo.Point, currency string) error {
	if target == nil {
		p, err := gc.Resolve(ctx, address)
		if err != nil {
			return err
		}
		target = &p
		fmt.Fprintf(w, "address:  %s -> %.6f, %.6f\n", address, p.Lat, p.Lon)
	}
	if err := target.Validate(); err != nil {
		return err
	}
	d, err := loc.Resolve(ctx, *target)
	if err != nil {
		return err
	}
	if currency == "" {
		currency = "RUB"
	}
	fmt.Fprintf(w, "nearest:  %s (%s)\n", d.Point.Address, d.Point.ID)
	fmt.Fprintf(w, "distance: %d m\n", d.Meters)
	fmt.Fprintf(w, "offer:    %s\n", d.Tier.Kind)
	if d.Tier.Fee > 0 {
		fmt.Fprintf(w, "fee:      %d %s\n", d.Tier.Fee, currency)
	}
	if d.Point.Contact != "" {
		fmt.Fprintf(w, "courier:  %s\n", d.Point.Contact)
	}
	return nil
}
