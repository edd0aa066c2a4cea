// Package geocode resolves free-form address text to coordinates with the
// Yandex geocoder HTTP API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
)

const (
	// DefaultBaseURL is the public geocoder endpoint.
	DefaultBaseURL = "https://geocode-maps.yandex.ru/1.x"
	// DefaultTimeout bounds a single lookup.
	DefaultTimeout = 5 * time.Second
)

// Config configures the Yandex client.
type Config struct {
	APIKey  string        `yaml:"api_key" envconfig:"YANDEX_GEOCODER_API_KEY"`
	BaseURL string        `yaml:"base_url" envconfig:"YANDEX_GEOCODER_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"YANDEX_GEOCODER_TIMEOUT"`
}

// Normalize fills defaults and checks required fields.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("geocoder.api_key is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Yandex is a geocoder backed by geocode-maps.yandex.ru.
type Yandex struct {
	cfg  Config
	http *http.Client
}

// NewYandex builds a client from a normalized config.
func NewYandex(cfg Config, client *http.Client) *Yandex {
	if client == nil {
		client = http.DefaultClient
	}
	return &Yandex{cfg: cfg, http: client}
}

type response struct {
	Response struct {
		Collection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Resolve maps address text to the first matching coordinate.
// Text with no match yields an errx.KindGeocodeUnresolved error.
func (y *Yandex) Resolve(ctx context.Context, text string) (geo.Point, error) {
	const op = "geocode.resolve"
	text = strings.TrimSpace(text)
	if text == "" {
		return geo.Point{}, errx.GeocodeUnresolved(op, errors.New("empty address"))
	}

	ctx, cancel := context.WithTimeout(ctx, y.cfg.Timeout)
	defer cancel()
	start := time.Now()

	q := url.Values{
		"geocode": {text},
		"apikey":  {y.cfg.APIKey},
		"format":  {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return geo.Point{}, errx.Transport(op, err)
	}
	resp, err := y.http.Do(req)
	if err != nil {
		return geo.Point{}, errx.Transport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return geo.Point{}, errx.Transport(op, fmt.Errorf("status %s", resp.Status))
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.Point{}, errx.Transport(op, fmt.Errorf("decode: %w", err))
	}
	members := body.Response.Collection.FeatureMember
	if len(members) == 0 {
		logger.Info(ctx, "geo", "geocode.unresolved",
			slog.String("status", "skip"),
			slog.String("input", logger.SanitizeLimit(text, 64)),
			slog.Duration("duration", logger.Took(start)),
		)
		return geo.Point{}, errx.GeocodeUnresolved(op, fmt.Errorf("no match for %q", text))
	}

	pt, err := parsePos(members[0].GeoObject.Point.Pos)
	if err != nil {
		return geo.Point{}, errx.Transport(op, err)
	}
	logger.Debug(ctx, "geo", "geocode.resolved",
		slog.String("status", "ok"),
		slog.Float64("lat", pt.Lat),
		slog.Float64("lon", pt.Lon),
		slog.Duration("duration", logger.Took(start)),
	)
	return pt, nil
}

// parsePos reads the "lon lat" pair used by the geocoder.
func parsePos(pos string) (geo.Point, error) {
	fields := strings.Fields(pos)
	if len(fields) != 2 {
		return geo.Point{}, fmt.Errorf("malformed pos %q", pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("malformed longitude %q: %w", fields[0], err)
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("malformed latitude %q: %w", fields[1], err)
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}
