package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/logger"
)

var ErrAddressNotFound = errors.New("geocode: address not found")

// Geocoder resolves free-text addresses to coordinates via a Nominatim-style
// search API. Resolutions are cached for a bounded TTL keyed by the
// lower-cased trimmed query, so repeated submissions of the same pickup/drop
// text cost one external call a day.
type Geocoder struct {
	baseURL string
	http    *http.Client
	cache   *geocodeCache
	log     *logger.Logger
}

// nominatim search result, first entry only.
type geocodeResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NewGeocoder wires a geocoder from config.
func NewGeocoder(cfg config.RoutingConfig, log *logger.Logger) *Geocoder {
	timeout := cfg.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ttl := cfg.GeocodeTTL.Std()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Geocoder{
		baseURL: cfg.GeocodeURL,
		http:    &http.Client{Timeout: timeout},
		cache:   newGeocodeCache(ttl),
		log:     log,
	}
}

// Resolve returns the first-result coordinate for an address. Unlike route
// planning this can fail: a missing pickup/drop coordinate is surfaced to the
// user as an actionable problem, not silently degraded.
func (g *Geocoder) Resolve(ctx context.Context, address string) (geo.Coordinate, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return geo.Coordinate{}, ErrAddressNotFound
	}

	if coord, ok := g.cache.get(key); ok {
		return coord, nil
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&limit=1",
		strings.TrimRight(g.baseURL, "/"), url.QueryEscape(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return geo.Coordinate{}, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return geo.Coordinate{}, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}

	var results []geocodeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return geo.Coordinate{}, fmt.Errorf("geocode: decode: %w", err)
	}
	if len(results) == 0 {
		return geo.Coordinate{}, ErrAddressNotFound
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return geo.Coordinate{}, fmt.Errorf("geocode: malformed result for %q", address)
	}

	coord := geo.Coordinate{Lat: lat, Lng: lng}
	if err := coord.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("geocode: %w", err)
	}

	g.cache.set(key, coord)
	return coord, nil
}
