// Package payment builds chat invoices for a cart, validates pre-checkout
// queries and sends the one-shot follow-up after a successful payment.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/errx"
)

// Defaults for Config.
const (
	DefaultCurrency       = "RUB"
	DefaultPayloadToken   = "pizza-order"
	DefaultTitle          = "Pay for your order"
	DefaultDescription    = "Pizza order payment"
	DefaultStartParameter = "pizza-payment"
	DefaultFollowupDelay  = time.Hour

	// minorUnits converts whole currency units to the minor units invoices are priced in.
	minorUnits = 100
)

// Config configures invoices and the post-payment follow-up.
type Config struct {
	ProviderToken  string        `yaml:"provider_token" envconfig:"PAYMENT_PROVIDER_TOKEN"`
	Currency       string        `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
	PayloadToken   string        `yaml:"payload_token" envconfig:"PAYMENT_PAYLOAD_TOKEN"`
	Title          string        `yaml:"title"`
	Description    string        `yaml:"description"`
	StartParameter string        `yaml:"start_parameter"`
	FollowupDelay  time.Duration `yaml:"followup_delay" envconfig:"PAYMENT_FOLLOWUP_DELAY"`
	FollowupText   string        `yaml:"followup_text"`
}

// Normalize fills defaults and checks required fields.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.ProviderToken) == "" {
		return fmt.Errorf("payment.provider_token is required")
	}
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.PayloadToken == "" {
		c.PayloadToken = DefaultPayloadToken
	}
	if strings.Contains(c.PayloadToken, payloadSep) {
		return fmt.Errorf("payment.payload_token must not contain %q", payloadSep)
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Description == "" {
		c.Description = DefaultDescription
	}
	if c.StartParameter == "" {
		c.StartParameter = DefaultStartParameter
	}
	if c.FollowupDelay <= 0 {
		c.FollowupDelay = DefaultFollowupDelay
	}
	if c.FollowupText == "" {
		c.FollowupText = defaultFollowupText
	}
	return nil
}

// Line is a priced invoice row. Amount is in minor currency units.
type Line struct {
	Label  string
	Amount int64
}

// Invoice is a transport-neutral invoice.
type Invoice struct {
	OrderID        string
	Title          string
	Description    string
	Payload        string
	ProviderToken  string
	Currency       string
	StartParameter string
	Lines          []Line
}

// Total returns the sum of all lines in minor units.
func (i Invoice) Total() int64 {
	var total int64
	for _, l := range i.Lines {
		total += l.Amount
	}
	return total
}

const payloadSep = ":"

// Builder creates invoices and checks their payloads.
type Builder struct {
	cfg   Config
	newID func() string
}

// NewBuilder returns a builder for a normalized config.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg, newID: func() string { return uuid.NewString() }}
}

// Build prices an order: the cart total plus the delivery fee of tier, both in whole units.
func (b *Builder) Build(cartTotal int64, tier delivery.Tier) (Invoice, error) {
	if cartTotal <= 0 {
		return Invoice{}, errx.Invalid("payment.build", fmt.Errorf("cart total must be positive, got %d", cartTotal))
	}
	id := b.newID()
	inv := Invoice{
		OrderID:        id,
		Title:          b.cfg.Title,
		Description:    b.cfg.Description,
		Payload:        b.cfg.PayloadToken + payloadSep + id,
		ProviderToken:  b.cfg.ProviderToken,
		Currency:       b.cfg.Currency,
		StartParameter: b.cfg.StartParameter,
		Lines:          []Line{{Label: "Order", Amount: cartTotal * minorUnits}},
	}
	if tier.Kind == delivery.PaidDeliveryOrPickup && tier.Fee > 0 {
		inv.Lines = append(inv.Lines, Line{Label: "Delivery", Amount: tier.Fee * minorUnits})
	}
	return inv, nil
}

// OrderID extracts the order id from a payload produced by Build.
func (b *Builder) OrderID(payload string) (string, error) {
	token, id, ok := strings.Cut(payload, payloadSep)
	if !ok || token != b.cfg.PayloadToken {
		return "", errx.Invalid("payment.payload", fmt.Errorf("foreign payload"))
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errx.Invalid("payment.payload", fmt.Errorf("bad order id: %w", err))
	}
	return id, nil
}

// ValidatePreCheckout approves only payloads carrying the configured token.
func (b *Builder) ValidatePreCheckout(payload string) error {
	_, err := b.OrderID(payload)
	return err
}
