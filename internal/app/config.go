// Package app loads the pizza bot configuration and wires its components.
package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/etokosmo/pizza-shop/core/config"
	"github.com/etokosmo/pizza-shop/core/database"
	"github.com/etokosmo/pizza-shop/core/redisx"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geocode"
	"github.com/etokosmo/pizza-shop/internal/payment"
	"github.com/etokosmo/pizza-shop/internal/session"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

const defaultSessionPrefix = "pizza:state:"

// SessionConfig selects where conversation states are persisted.
type SessionConfig struct {
	Backend string        `yaml:"backend" envconfig:"SESSION_BACKEND"`
	Prefix  string        `yaml:"prefix" envconfig:"SESSION_PREFIX"`
	TTL     time.Duration `yaml:"ttl" envconfig:"SESSION_TTL"`

	// ScratchIdle is how long an abandoned order's in-memory values are kept.
	ScratchIdle time.Duration `yaml:"scratch_idle" envconfig:"SESSION_SCRATCH_IDLE"`
}

// OpsConfig configures the operator HTTP server. An empty Listen disables it.
type OpsConfig struct {
	Listen string `yaml:"listen" envconfig:"OPS_LISTEN"`
}

// Config is the full bot configuration: the reusable core plus the shop sections.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Catalog  catalog.Config  `yaml:"catalog"`
	Geocoder geocode.Config  `yaml:"geocoder"`
	Payment  payment.Config  `yaml:"payment"`
	Delivery delivery.Policy `yaml:"delivery"`
	Session  SessionConfig   `yaml:"session"`
	Redis    redisx.Config   `yaml:"redis"`
	Database database.Config `yaml:"database"`
	Ops      OpsConfig       `yaml:"ops"`
}

// CoreConfig exposes the embedded core section.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	cfg, err := DecodeConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeConfig reads the YAML file and environment without validation.
func DecodeConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section needed to serve the bot.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.NormalizeLocator(); err != nil {
		return err
	}
	if err := c.Geocoder.Normalize(); err != nil {
		return err
	}
	if err := c.Payment.Normalize(); err != nil {
		return err
	}
	return c.normalizeSession()
}

// NormalizeLocator validates only what nearest-point lookups need: the catalog and the delivery policy.
func (c *Config) NormalizeLocator() error {
	if err := c.Catalog.Normalize(); err != nil {
		return err
	}
	if c.Delivery.FreeRadiusMeters == 0 && len(c.Delivery.Bands) == 0 {
		c.Delivery = delivery.DefaultPolicy()
	}
	return c.Delivery.Validate()
}

func (c *Config) normalizeSession() error {
	backend := strings.ToLower(strings.TrimSpace(c.Session.Backend))
	if backend == "" {
		backend = BackendMemory
	}
	c.Session.Backend = backend
	if c.Session.Prefix == "" {
		c.Session.Prefix = defaultSessionPrefix
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must be >= 0")
	}
	if c.Session.ScratchIdle <= 0 {
		c.Session.ScratchIdle = session.DefaultScratchIdle
	}
	switch backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		return c.Redis.Normalize()
	case BackendPostgres:
		return c.Database.Normalize()
	}
	return fmt.Errorf("invalid session.backend %q; allowed: memory, redis, postgres", c.Session.Backend)
}
