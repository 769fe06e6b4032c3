package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	driveragent "cabtrack/cmd/driver_agent"
	"cabtrack/cmd/trackerd"
	vieweragent "cabtrack/cmd/viewer_agent"
	"cabtrack/internal/cli"
)

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, modeArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {

	case cli.ModeTracker:
		fs := flag.NewFlagSet(cli.ModeTracker, flag.ContinueOnError)
		configPath := fs.String("config", "./config/config.yaml", "Path to the YAML config file")
		cli.AttachUsage(fs, cli.ModeTracker)

		if err := fs.Parse(modeArgs); err != nil {
			exitOnFlagError(err)
		}
		if err := trackerd.Run(ctx, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeDriver:
		fs := flag.NewFlagSet(cli.ModeDriver, flag.ContinueOnError)
		var flags driveragent.Flags
		fs.StringVar(&flags.ConfigPath, "config", "./config/config.yaml", "Path to the YAML config file")
		fs.StringVar(&flags.StatePath, "state", defaultStatePath(), "Identity store file")
		fs.StringVar(&flags.DriverID, "driver-id", "", "Driver id (persisted; generated when absent)")
		fs.StringVar(&flags.CabNumber, "cab", "", "Cab registration number")
		fs.StringVar(&flags.Token, "token", "", "Bearer token when the relay enforces auth")
		fs.StringVar(&flags.TracePath, "trace", "", "JSONL position trace to replay")
		fs.Float64Var(&flags.TraceSpeed, "trace-speed", 1, "Trace replay speed factor")
		fs.StringVar(&flags.Waypoints, "waypoints", "", "Scripted route: lat,lng;lat,lng;...")
		fs.Float64Var(&flags.SpeedMPS, "speed", 10, "Scripted ground speed, meters per second")
		fs.StringVar(&flags.PickupSpec, "pickup", "", "Pickup point: lat,lng or a street address")
		fs.StringVar(&flags.DropSpec, "drop", "", "Drop point: lat,lng or a street address")
		fs.BoolVar(&flags.AutoConfirm, "auto", false, "Auto-confirm the pickup prompt (simulation)")
		cli.AttachUsage(fs, cli.ModeDriver)

		if err := fs.Parse(modeArgs); err != nil {
			exitOnFlagError(err)
		}
		if err := driveragent.Run(ctx, flags); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeViewer:
		fs := flag.NewFlagSet(cli.ModeViewer, flag.ContinueOnError)
		var flags vieweragent.Flags
		fs.StringVar(&flags.ConfigPath, "config", "./config/config.yaml", "Path to the YAML config file")
		fs.StringVar(&flags.ViewerID, "viewer-id", "", "Viewer id")
		fs.StringVar(&flags.TrackDriverID, "track", "", "Driver id whose feed to follow")
		fs.StringVar(&flags.Token, "token", "", "Bearer token when the relay enforces auth")
		cli.AttachUsage(fs, cli.ModeViewer)

		if err := fs.Parse(modeArgs); err != nil {
			exitOnFlagError(err)
		}
		if err := vieweragent.Run(ctx, flags); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}

	// tiny delay to let deferred logs flush on very fast exits
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}

func exitOnFlagError(err error) {
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(2)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cabtrack/identity.json"
	}
	return home + "/.cabtrack/identity.json"
}
