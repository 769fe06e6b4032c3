// Package vieweragent runs the viewer-side client: it follows one driver's
// feed from the relay and logs position updates and route guidance.
package vieweragent

import (
	"context"
	"errors"
	"fmt"

	"cabtrack/internal/agent"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/guidance"
	"cabtrack/internal/routing"
)

// Flags carries the viewer mode's command line options.
type Flags struct {
	ConfigPath    string
	ViewerID      string
	TrackDriverID string
	Token         string
}

// Run starts the viewer agent and blocks until the context is canceled.
func Run(ctx context.Context, flags Flags) error {
	if flags.ViewerID == "" {
		return errors.New("--viewer-id is required")
	}
	if flags.TrackDriverID == "" {
		return errors.New("--track is required")
	}

	log := logger.New("viewer-agent")

	cfg, err := config.LoadFromFile(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if flags.Token == "" {
		flags.Token = cfg.Channel.Token
	}

	provider := routing.NewProvider(cfg.Routing, log)
	session := agent.NewViewerSession(cfg, agent.ViewerConfig{
		ViewerID:      flags.ViewerID,
		TrackDriverID: flags.TrackDriverID,
		Token:         flags.Token,
	}, provider, log)

	session.OnUpdate(func(msg contracts.LocationUpdateMessage) {
		log.Info(ctx, "driver_position", "Driver moved", map[string]any{
			"driver_id": msg.DriverID,
			"lat":       msg.Location.Latitude,
			"lng":       msg.Location.Longitude,
			"phase":     string(msg.Location.Phase),
		})
	})
	session.OnGuidance(func(st guidance.Status) {
		if !st.Visible {
			return
		}
		log.Info(ctx, "guidance", st.Step.Instruction, map[string]any{
			"remaining": st.Display,
		})
	})
	session.OnDriverDisconnect(func(p contracts.DriverDisconnectPayload) {
		log.Info(ctx, "driver_feed_ended", "Driver signed out", map[string]any{
			"driver_id":  p.DriverID,
			"cab_number": p.CabNumber,
		})
	})

	session.Start(ctx)
	defer session.Stop(context.WithoutCancel(ctx))

	<-ctx.Done()
	return nil
}
