package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
)

// osrmClient is the primary directions provider, speaking the OSRM v1 route
// API with precision-5 polyline geometry.
type osrmClient struct {
	baseURL string
	http    *http.Client
}

var (
	errNoRoutes  = errors.New("directions: no routes in response")
	errBadStatus = errors.New("directions: non-2xx response")
)

// osrm wire types, trimmed to the fields used here.
type osrmResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry string    `json:"geometry"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmStep struct {
	Name     string       `json:"name"`
	Distance float64      `json:"distance"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier"`
	Location []float64 `json:"location"` // [lng, lat]
}

// Plan requests a driving route and normalizes it into the domain Route.
func (c *osrmClient) Plan(ctx context.Context, origin, destination geo.Coordinate) (route.Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&steps=true&geometries=polyline",
		strings.TrimRight(c.baseURL, "/"),
		origin.Lng, origin.Lat, destination.Lng, destination.Lat,
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

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return route.Route{}, fmt.Errorf("directions: decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return route.Route{}, errNoRoutes
	}

	best := body.Routes[0]
	coords, err := geo.DecodePolyline(best.Geometry)
	if err != nil {
		return route.Route{}, fmt.Errorf("directions: geometry: %w", err)
	}
	if len(coords) < 2 {
		return route.Route{}, errNoRoutes
	}

	var steps []route.ManeuverStep
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, normalizeStep(s))
		}
	}

	return route.Route{
		Coordinates: coords,
		Steps:       steps,
		Source:      route.SourceDirections,
	}, nil
}

// normalizeStep converts one provider step into the closed domain shape.
func normalizeStep(s osrmStep) route.ManeuverStep {
	instruction := route.NormalizeInstruction(buildInstruction(s))

	var end geo.Coordinate
	if len(s.Maneuver.Location) == 2 {
		end = geo.Coordinate{Lat: s.Maneuver.Location[1], Lng: s.Maneuver.Location[0]}
	}

	return route.ManeuverStep{
		Instruction:    instruction,
		DistanceMeters: s.Distance,
		End:            end,
		Turn:           route.ClassifyTurn(instruction),
	}
}

// buildInstruction renders provider maneuver metadata as free text, the same
// phrasing the mobile app displayed.
func buildInstruction(s osrmStep) string {
	onto := ""
	if strings.TrimSpace(s.Name) != "" {
		onto = " onto " + s.Name
	}

	switch s.Maneuver.Type {
	case "depart":
		if s.Maneuver.Modifier != "" {
			return "Head " + s.Maneuver.Modifier + strings.Replace(onto, " onto ", " on ", 1)
		}
		return "Go straight" + strings.Replace(onto, " onto ", " on ", 1)
	case "arrive":
		return "Arrive at destination"
	case "continue":
		return "Continue" + onto
	}

	switch s.Maneuver.Modifier {
	case "uturn":
		return "Make a U-turn"
	case "left", "right":
		return "Turn " + s.Maneuver.Modifier + onto
	case "slight left", "slight right":
		return "Turn " + s.Maneuver.Modifier + onto
	case "sharp left":
		return "Turn left" + onto
	case "sharp right":
		return "Turn right" + onto
	default:
		return "Continue" + onto
	}
}
