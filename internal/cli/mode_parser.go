package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeDriver  = "driver"
	ModeViewer  = "viewer"
	ModeTracker = "trackerd"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeDriver, "driver-agent", "d":
		return ModeDriver, true
	case ModeViewer, "viewer-agent", "v":
		return ModeViewer, true
	case ModeTracker, "tracker", "relay", "t":
		return ModeTracker, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `driver --trace=trip.jsonl`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<driver|viewer|trackerd>")
	}

	if m, ok := isKnownMode(mode); ok {
		return m, out, nil
	}
	return "", out, fmt.Errorf("unknown mode %q", mode)
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./cabtrack --mode=<mode> [flags]

Modes:
  driver      Broadcast the cab's live position and run the trip lifecycle
  viewer      Follow one driver's feed and print route guidance
  trackerd    Run the relay socket server drivers and viewers connect to

Examples:
  ./cabtrack --mode=trackerd --config=config/config.yaml
  ./cabtrack --mode=driver --driver-id=driver-7 --cab=KA-05-7777 --trace=fixtures/trip.jsonl
  ./cabtrack --mode=viewer --viewer-id=viewer-1 --track=driver-7`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./cabtrack --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
