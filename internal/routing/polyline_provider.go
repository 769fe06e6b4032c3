package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
)

// polylineClient is the secondary provider: a geometry-only directions service
// that returns an encoded polyline and nothing else. Routes from it carry no
// maneuver steps, so viewers get a path on the map but no guidance.
type polylineClient struct {
	baseURL string
	http    *http.Client
}

type polylineResponse struct {
	Polyline string `json:"polyline"`
}

// Plan fetches the path geometry between two coordinates.
func (c *polylineClient) Plan(ctx context.Context, origin, destination geo.Coordinate) (route.Route, error) {
	url := fmt.Sprintf("%s/polyline?from=%f,%f&to=%f,%f",
		strings.TrimRight(c.baseURL, "/"),
		origin.Lat, origin.Lng, destination.Lat, destination.Lng,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return route.Route{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return route.Route{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return route.Route{}, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	var body polylineResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return route.Route{}, fmt.Errorf("polyline: decode: %w", err)
	}

	coords, err := geo.DecodePolyline(body.Polyline)
	if err != nil {
		return route.Route{}, fmt.Errorf("polyline: geometry: %w", err)
	}
	if len(coords) < 2 {
		return route.Route{}, errNoRoutes
	}

	return route.Route{
		Coordinates: coords,
		Source:      route.SourcePolyline,
	}, nil
}
