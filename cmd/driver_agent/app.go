// Package driveragent runs the driver-side client: it broadcasts the cab's
// position to the relay and walks the trip lifecycle.
package driveragent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cabtrack/internal/agent"
	"cabtrack/internal/domain/geo"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/kvstore"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/guidance"
	"cabtrack/internal/position"
	"cabtrack/internal/routing"
)

const driverIDKey = "driver_id"

// Flags carries the driver mode's command line options.
type Flags struct {
	ConfigPath string
	StatePath  string // kvstore file persisting the driver identity
	DriverID   string // overrides the persisted id when set
	CabNumber  string
	Token      string

	TracePath   string  // JSONL trace to replay
	TraceSpeed  float64 // replay speed factor
	Waypoints   string  // "lat,lng;lat,lng;..." for the scripted source
	SpeedMPS    float64 // scripted ground speed
	PickupSpec  string  // "lat,lng" or a street address
	DropSpec    string  // "lat,lng" or a street address
	AutoConfirm bool    // auto-confirm the pickup prompt (simulation runs)
}

// Run starts the driver agent and blocks until the context is canceled or
// the position source is exhausted.
func Run(ctx context.Context, flags Flags) error {
	log := logger.New("driver-agent")

	cfg, err := config.LoadFromFile(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	driverID, err := resolveDriverID(flags)
	if err != nil {
		return err
	}
	ctx = log.WithDriverID(ctx, driverID)

	if flags.Token == "" {
		flags.Token = cfg.Channel.Token
	}

	source, err := buildSource(flags)
	if err != nil {
		return err
	}

	provider := routing.NewProvider(cfg.Routing, log)
	session := agent.NewDriverSession(cfg, agent.DriverConfig{
		DriverID:  driverID,
		CabNumber: flags.CabNumber,
		Token:     flags.Token,
		Metadata:  map[string]any{"cabNumber": flags.CabNumber},
	}, source, provider, log)

	session.OnGuidance(func(st guidance.Status) {
		for _, alert := range st.Alerts {
			log.Info(ctx, "guidance_alert", alert.Step.Instruction, map[string]any{
				"kind":     string(alert.Kind),
				"distance": guidance.FormatDistance(st.RemainingMeters),
			})
		}
	})
	session.OnPickupPrompt(func(d float64) {
		log.Info(ctx, "pickup_prompt", "Arrived near the pickup point", map[string]any{
			"distance": guidance.FormatDistance(d),
		})
		if flags.AutoConfirm {
			if err := session.ConfirmPickup(); err != nil {
				log.Error(ctx, "pickup_confirm_failed", "Could not confirm pickup", err, nil)
				return
			}
			if err := session.BeginDropOff(); err != nil {
				log.Error(ctx, "drop_off_failed", "Could not begin drop-off", err, nil)
			}
		}
	})

	session.Start(ctx)
	defer session.Stop(context.WithoutCancel(ctx))

	if flags.PickupSpec != "" && flags.DropSpec != "" {
		geocoder := routing.NewGeocoder(cfg.Routing, log)
		pickup, err := resolvePoint(ctx, geocoder, flags.PickupSpec)
		if err != nil {
			return fmt.Errorf("resolve pickup: %w", err)
		}
		drop, err := resolvePoint(ctx, geocoder, flags.DropSpec)
		if err != nil {
			return fmt.Errorf("resolve drop: %w", err)
		}
		if err := session.StartTrip(pickup, drop, flags.PickupSpec, flags.DropSpec); err != nil {
			return fmt.Errorf("start trip: %w", err)
		}
	}

	<-ctx.Done()
	return nil
}

// resolveDriverID prefers the flag, falling back to the persisted identity,
// minting and persisting a new one when neither exists.
func resolveDriverID(flags Flags) (string, error) {
	store, err := kvstore.Open(flags.StatePath)
	if err != nil {
		return "", fmt.Errorf("open identity store: %w", err)
	}

	if flags.DriverID != "" {
		if err := store.Set(driverIDKey, flags.DriverID); err != nil {
			return "", fmt.Errorf("persist driver id: %w", err)
		}
		return flags.DriverID, nil
	}

	id, err := store.Get(driverIDKey)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		id = fmt.Sprintf("driver-%d", time.Now().UnixNano()%1_000_000)
		if err := store.Set(driverIDKey, id); err != nil {
			return "", fmt.Errorf("persist driver id: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// buildSource selects the position source: a recorded trace when given, a
// scripted waypoint walk otherwise.
func buildSource(flags Flags) (position.Source, error) {
	if flags.TracePath != "" {
		return position.NewReplaySource(flags.TracePath, flags.TraceSpeed)
	}
	if flags.Waypoints != "" {
		waypoints, err := parseWaypoints(flags.Waypoints)
		if err != nil {
			return nil, err
		}
		speed := flags.SpeedMPS
		if speed <= 0 {
			speed = 10 // ~36 km/h city pace
		}
		return position.NewScriptedSource(waypoints, speed, time.Second)
	}
	return nil, errors.New("no position source: pass --trace or --waypoints")
}

// resolvePoint accepts "lat,lng" or falls back to geocoding an address.
func resolvePoint(ctx context.Context, geocoder *routing.Geocoder, spec string) (geo.Coordinate, error) {
	if c, err := parseCoordinate(spec); err == nil {
		return c, nil
	}
	return geocoder.Resolve(ctx, spec)
}

func parseCoordinate(s string) (geo.Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, fmt.Errorf("want lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("longitude in %q: %w", s, err)
	}
	c := geo.Coordinate{Lat: lat, Lng: lng}
	return c, c.Validate()
}

func parseWaypoints(s string) ([]geo.Coordinate, error) {
	var out []geo.Coordinate
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseCoordinate(part)
		if err != nil {
			return nil, fmt.Errorf("waypoint %q: %w", part, err)
		}
		out = append(out, c)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("need at least 2 waypoints, got %d", len(out))
	}
	return out, nil
}
