package guidance

import (
	"sync"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
)

// Distance bands, in meters.
const (
	// CompletionThresholdMeters: below this, the active maneuver counts as
	// passed and the tracker advances.
	CompletionThresholdMeters = 35
	// NowAlertMeters: below this, the "now" notice for the active maneuver fires.
	NowAlertMeters = 50
	// UpcomingAlertMeters: between NowAlertMeters and this, a "coming up"
	// notice for the following maneuver fires.
	UpcomingAlertMeters = 100
	// VisibilityThresholdMeters: beyond this, guidance is suppressed entirely
	// so far-away maneuvers do not produce premature instructions.
	VisibilityThresholdMeters = 100
)

// AlertKind distinguishes the immediate notice from the advance one.
type AlertKind string

const (
	AlertNow      AlertKind = "now"
	AlertUpcoming AlertKind = "coming_up"
)

// Alert is a spoken/visual notice for one maneuver. Each (instruction, kind)
// pair fires at most once per route.
type Alert struct {
	Kind AlertKind
	Step route.ManeuverStep
}

// Status is the tracker's view after one position update.
type Status struct {
	StepIndex       int
	Step            route.ManeuverStep
	RemainingMeters float64
	Display         string // human-readable remaining distance, "" when hidden
	Visible         bool
	Alerts          []Alert
}

// Tracker follows the active maneuver of one route. The active step index is
// monotonically non-decreasing for the lifetime of the route; swap in a new
// tracker when the route is rebuilt.
type Tracker struct {
	mu     sync.Mutex
	route  route.Route
	active int
	seen   map[string]bool
}

// NewTracker starts tracking a route from its first maneuver.
func NewTracker(r route.Route) *Tracker {
	return &Tracker{
		route: r,
		seen:  make(map[string]bool),
	}
}

// ActiveStepIndex returns the current maneuver index.
func (t *Tracker) ActiveStepIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Update advances the tracker for a new position and reports what guidance, if
// any, to surface. Multiple already-passed maneuvers may be skipped in one
// update, e.g. after a connectivity gap.
func (t *Tracker) Update(pos geo.Coordinate) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	steps := t.route.Steps
	if len(steps) == 0 {
		return Status{StepIndex: -1}
	}

	for t.active < len(steps)-1 {
		toCurrent := geo.Haversine(pos, steps[t.active].End)
		if toCurrent < CompletionThresholdMeters {
			t.active++
			continue
		}
		// A maneuver passed between fixes, e.g. during a connectivity gap,
		// never gets a position inside the completion threshold. The fix
		// lands closer to a later step's end instead, so keep advancing
		// while the next end is strictly nearer than the current one.
		if geo.Haversine(pos, steps[t.active+1].End) < toCurrent {
			t.active++
			continue
		}
		break
	}

	step := steps[t.active]
	remaining := geo.Haversine(pos, step.End)

	status := Status{
		StepIndex:       t.active,
		Step:            step,
		RemainingMeters: remaining,
	}

	if remaining > VisibilityThresholdMeters {
		return status
	}

	status.Visible = true
	status.Display = FormatDistance(remaining)

	switch {
	case remaining <= NowAlertMeters:
		if t.fireOnce(step.Instruction, AlertNow) {
			status.Alerts = append(status.Alerts, Alert{Kind: AlertNow, Step: step})
		}
	case remaining <= UpcomingAlertMeters:
		if t.active+1 < len(steps) {
			next := steps[t.active+1]
			if t.fireOnce(next.Instruction, AlertUpcoming) {
				status.Alerts = append(status.Alerts, Alert{Kind: AlertUpcoming, Step: next})
			}
		}
	}

	return status
}

// fireOnce records the (instruction, kind) pair, reporting true on first use.
func (t *Tracker) fireOnce(instruction string, kind AlertKind) bool {
	key := instruction + "|" + string(kind)
	if t.seen[key] {
		return false
	}
	t.seen[key] = true
	return true
}
