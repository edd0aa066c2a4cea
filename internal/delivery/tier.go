// Package delivery turns the distance to the nearest pizzeria into a
// delivery offer: free delivery, paid delivery, or pickup only.
package delivery

import (
	"fmt"
	"strconv"
)

// Kind is the delivery offer bucket.
type Kind int

const (
	// FreeDeliveryOrPickup offers pickup and free delivery.
	FreeDeliveryOrPickup Kind = iota + 1
	// PaidDeliveryOrPickup offers pickup or delivery for a fee.
	PaidDeliveryOrPickup
	// PickupOnly means the address is out of delivery range.
	PickupOnly
)

// String returns the snake_case name used in logs.
func (k Kind) String() string {
	switch k {
	case FreeDeliveryOrPickup:
		return "free_delivery_or_pickup"
	case PaidDeliveryOrPickup:
		return "paid_delivery_or_pickup"
	case PickupOnly:
		return "pickup_only"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Tier is a classified offer. Fee is in major currency units and is zero unless Kind is PaidDeliveryOrPickup.
type Tier struct {
	Kind Kind
	Fee  int64
}

// DeliveryAvailable reports whether the courier can be ordered for this tier.
func (t Tier) DeliveryAvailable() bool {
	return t.Kind == FreeDeliveryOrPickup || t.Kind == PaidDeliveryOrPickup
}

// Band is a paid delivery radius: distances up to MaxMeters (inclusive) cost Fee.
type Band struct {
	MaxMeters int   `yaml:"max_meters"`
	Fee       int64 `yaml:"fee"`
}

// Policy holds the tier thresholds. Bands must be sorted by MaxMeters.
type Policy struct {
	FreeRadiusMeters int    `yaml:"free_radius_meters" envconfig:"DELIVERY_FREE_RADIUS_METERS"`
	Bands            []Band `yaml:"bands"`
}

const (
	// DefaultFreeRadiusMeters is the free delivery radius.
	DefaultFreeRadiusMeters = 500
	// DefaultScooterRadiusMeters bounds the first paid band.
	DefaultScooterRadiusMeters = 5000
	// DefaultScooterFee is charged inside the first paid band.
	DefaultScooterFee = 100
	// DefaultCarRadiusMeters bounds the second paid band; beyond it only pickup is offered.
	DefaultCarRadiusMeters = 20000
	// DefaultCarFee is charged inside the second paid band.
	DefaultCarFee = 300
)

// DefaultPolicy returns the stock thresholds: free up to 500 m, 100 up to 5 km, 300 up to 20 km.
func DefaultPolicy() Policy {
	return Policy{
		FreeRadiusMeters: DefaultFreeRadiusMeters,
		Bands: []Band{
			{MaxMeters: DefaultScooterRadiusMeters, Fee: DefaultScooterFee},
			{MaxMeters: DefaultCarRadiusMeters, Fee: DefaultCarFee},
		},
	}
}

// Validate checks that thresholds are non-negative and strictly increasing.
func (p Policy) Validate() error {
	if p.FreeRadiusMeters < 0 {
		return fmt.Errorf("delivery: free radius must be >= 0, got %d", p.FreeRadiusMeters)
	}
	prev := p.FreeRadiusMeters
	for i, b := range p.Bands {
		if b.MaxMeters <= prev {
			return fmt.Errorf("delivery: band %d max_meters %d must exceed %d", i, b.MaxMeters, prev)
		}
		if b.Fee < 0 {
			return fmt.Errorf("delivery: band %d fee must be >= 0, got %d", i, b.Fee)
		}
		prev = b.MaxMeters
	}
	return nil
}

// MaxDeliveryMeters is the largest distance for which delivery is offered.
func (p Policy) MaxDeliveryMeters() int {
	if n := len(p.Bands); n > 0 {
		return p.Bands[n-1].MaxMeters
	}
	return p.FreeRadiusMeters
}

// Classify maps a distance in meters to a tier. Boundaries belong to the lower tier.
func (p Policy) Classify(meters int) Tier {
	if meters <= p.FreeRadiusMeters {
		return Tier{Kind: FreeDeliveryOrPickup}
	}
	for _, b := range p.Bands {
		if meters <= b.MaxMeters {
			return Tier{Kind: PaidDeliveryOrPickup, Fee: b.Fee}
		}
	}
	return Tier{Kind: PickupOnly}
}
