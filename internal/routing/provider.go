package routing

import (
	"context"
	"net/http"
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/logger"
)

// Planner resolves a path between two coordinates.
type Planner interface {
	Plan(ctx context.Context, origin, destination geo.Coordinate) (route.Route, error)
}

// Provider hides the directions fallback chain behind one call: primary
// provider, then the geometry-only secondary, then a straight line. Plan never
// surfaces an error; "no guidance available" is the empty-steps fallback.
type Provider struct {
	primary   Planner
	secondary Planner
	timeout   time.Duration
	log       *logger.Logger
}

// NewProvider wires the provider chain from config. An empty polyline_url
// leaves the chain without a secondary provider.
func NewProvider(cfg config.RoutingConfig, log *logger.Logger) *Provider {
	timeout := cfg.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	p := &Provider{timeout: timeout, log: log}
	if cfg.DirectionsURL != "" {
		p.primary = &osrmClient{baseURL: cfg.DirectionsURL, http: client}
	}
	if cfg.PolylineURL != "" {
		p.secondary = &polylineClient{baseURL: cfg.PolylineURL, http: client}
	}
	return p
}

// NewProviderChain builds a Provider from explicit planners (tests and
// embedding).
func NewProviderChain(primary, secondary Planner, timeout time.Duration, log *logger.Logger) *Provider {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Provider{primary: primary, secondary: secondary, timeout: timeout, log: log}
}

// Plan resolves a route. It always returns a usable Route: provider failures
// degrade down the chain instead of propagating.
func (p *Provider) Plan(ctx context.Context, origin, destination geo.Coordinate) route.Route {
	if p.primary != nil {
		r, err := p.planWithTimeout(ctx, p.primary, origin, destination)
		if err == nil {
			return r
		}
		if ctx.Err() != nil {
			// superseded or shutting down: the caller discards this result anyway
			return route.StraightLine(origin, destination)
		}
		p.log.Warn(ctx, "directions_primary_failed", "Primary directions provider failed, falling back", map[string]any{
			"error": err.Error(),
		})
	}

	if p.secondary != nil {
		r, err := p.planWithTimeout(ctx, p.secondary, origin, destination)
		if err == nil {
			return r
		}
		if ctx.Err() != nil {
			return route.StraightLine(origin, destination)
		}
		p.log.Warn(ctx, "directions_secondary_failed", "Secondary directions provider failed, using straight line", map[string]any{
			"error": err.Error(),
		})
	}

	return route.StraightLine(origin, destination)
}

// planWithTimeout bounds one provider call.
func (p *Provider) planWithTimeout(ctx context.Context, planner Planner, origin, destination geo.Coordinate) (route.Route, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return planner.Plan(callCtx, origin, destination)
}
