package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/geo"
)

// Source lists the pizzerias of a flow.
type Source interface {
	ListDeliveryPoints(ctx context.Context, flowSlug string) ([]catalog.DeliveryPoint, error)
}

// Decision is the nearest pizzeria with its distance and the resulting offer.
type Decision struct {
	Point  catalog.DeliveryPoint
	Meters int
	Tier   Tier
}

// Resolver finds the nearest delivery point and classifies the distance.
// Points are loaded on every call; the list is small and edited by hand in the CMS.
type Resolver struct {
	source Source
	flow   string
	policy Policy
}

// NewResolver builds a resolver over the points of flow.
func NewResolver(source Source, flow string, policy Policy) *Resolver {
	return &Resolver{source: source, flow: flow, policy: policy}
}

// Resolve returns the delivery decision for target.
// Points with out-of-range coordinates are logged and left out of the search.
func (r *Resolver) Resolve(ctx context.Context, target geo.Point) (Decision, error) {
	start := time.Now()
	points, err := r.source.ListDeliveryPoints(ctx, r.flow)
	if err != nil {
		return Decision{}, err
	}
	usable := points[:0:0]
	for _, p := range points {
		if err := p.Location().Validate(); err != nil {
			logger.Warn(ctx, "geo", "point.invalid",
				slog.String("status", "skip"),
				slog.String("point", p.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		usable = append(usable, p)
	}
	match, err := geo.Nearest(usable, target)
	if err != nil {
		logger.Error(ctx, "geo", "nearest.empty",
			slog.String("status", "fail"),
			slog.String("point", r.flow),
			slog.Int("count", len(points)),
			slog.String("err", err.Error()),
		)
		return Decision{}, err
	}
	d := Decision{
		Point:  match.Item,
		Meters: match.Meters,
		Tier:   r.policy.Classify(match.Meters),
	}
	logger.Debug(ctx, "geo", "nearest.resolved",
		slog.String("status", "ok"),
		slog.String("point", d.Point.ID),
		slog.Int("meters", d.Meters),
		slog.String("tier", d.Tier.Kind.String()),
		slog.Int64("fee", d.Tier.Fee),
		slog.Int("count", len(usable)),
		slog.Duration("duration", logger.Took(start)),
	)
	return d, nil
}
