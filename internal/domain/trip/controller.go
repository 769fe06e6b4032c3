package trip

import (
	"errors"
	"sync"

	"cabtrack/internal/domain/geo"
)

// DefaultArrivalThresholdMeters is the canonical distance below which a
// pickup or drop waypoint counts as reached. The original app used different
// thresholds per screen (50m vs 120m); one value is used for both transitions
// here.
const DefaultArrivalThresholdMeters = 120

var (
	ErrMissingWaypoints  = errors.New("trip requires both pickup and drop coordinates")
	ErrIllegalTransition = errors.New("illegal trip phase transition")
)

// TransitionHook observes every phase transition. The driver session wires the
// snapshot broadcast and route recomputation here.
type TransitionHook func(from, to Phase)

// PromptHook fires when the controller wants driver confirmation that the
// pickup has actually been reached; GPS proximity alone cannot confirm
// boarding, so this transition is prompt-based rather than automatic.
type PromptHook func(distanceMeters float64)

// Controller is the single source of truth for trip phase. Transitions are
// monotonic forward; the only backward move is an explicit Reset.
type Controller struct {
	mu sync.Mutex

	phase     Phase
	pickup    geo.Coordinate
	drop      geo.Coordinate
	threshold float64

	// pickup confirmation prompt state: pending while displayed, fired stays
	// set after the first trigger so repeated nearby updates do not re-fire.
	promptPending bool
	promptFired   bool

	onTransition   TransitionHook
	onPickupPrompt PromptHook
}

// NewController creates a Controller in the idle phase. A threshold of 0
// selects DefaultArrivalThresholdMeters.
func NewController(thresholdMeters float64) *Controller {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultArrivalThresholdMeters
	}
	return &Controller{
		phase:     PhaseIdle,
		threshold: thresholdMeters,
	}
}

// OnTransition registers the transition hook. Must be set before StartTrip.
func (c *Controller) OnTransition(hook TransitionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = hook
}

// OnPickupPrompt registers the pickup confirmation prompt hook.
func (c *Controller) OnPickupPrompt(hook PromptHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPickupPrompt = hook
}

// Phase returns the current trip phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Waypoints returns the pickup and drop coordinates of the active trip.
func (c *Controller) Waypoints() (pickup, drop geo.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pickup, c.drop
}

// StartTrip moves idle -> to_pickup once both waypoints are known. This is the
// explicit "submit location" user action; it may be entered again after Reset.
func (c *Controller) StartTrip(pickup, drop geo.Coordinate) error {
	c.mu.Lock()
	if pickup.IsZero() || drop.IsZero() {
		c.mu.Unlock()
		return ErrMissingWaypoints
	}
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return ErrIllegalTransition
	}
	c.pickup = pickup
	c.drop = drop
	c.promptPending = false
	c.promptFired = false
	hook := c.advanceLocked(PhaseToPickup)
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// ObservePosition feeds a live position into the state machine. While
// to_pickup it raises the pickup confirmation prompt (once) when within the
// arrival threshold; while to_drop it completes the trip automatically.
func (c *Controller) ObservePosition(pos geo.Coordinate) {
	c.mu.Lock()
	var prompt PromptHook
	var promptDistance float64
	var hook func()

	switch c.phase {
	case PhaseToPickup:
		d := geo.Haversine(pos, c.pickup)
		if d <= c.threshold && !c.promptPending && !c.promptFired {
			c.promptPending = true
			c.promptFired = true
			prompt = c.onPickupPrompt
			promptDistance = d
		}
	case PhaseToDrop:
		if geo.Haversine(pos, c.drop) <= c.threshold {
			hook = c.advanceLocked(PhaseCompleted)
		}
	}
	c.mu.Unlock()

	if prompt != nil {
		prompt(promptDistance)
	}
	if hook != nil {
		hook()
	}
}

// ConfirmPickup resolves the prompt: to_pickup -> pickup_reached.
func (c *Controller) ConfirmPickup() error {
	c.mu.Lock()
	if c.phase != PhaseToPickup {
		c.mu.Unlock()
		return ErrIllegalTransition
	}
	c.promptPending = false
	hook := c.advanceLocked(PhasePickupReached)
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// DismissPickupPrompt hides the prompt without advancing the phase. The prompt
// stays suppressed until RearmPickupPrompt or Reset.
func (c *Controller) DismissPickupPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptPending = false
}

// RearmPickupPrompt allows the arrival prompt to fire again.
func (c *Controller) RearmPickupPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promptPending = false
	c.promptFired = false
}

// PickupPromptPending reports whether the confirmation prompt is displayed.
func (c *Controller) PickupPromptPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promptPending
}

// BeginDropOff starts drop navigation: pickup_reached -> to_drop. Explicit
// driver action ("start trip").
func (c *Controller) BeginDropOff() error {
	c.mu.Lock()
	if c.phase != PhasePickupReached {
		c.mu.Unlock()
		return ErrIllegalTransition
	}
	hook := c.advanceLocked(PhaseToDrop)
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// Reset returns the controller to idle, the only backward transition.
func (c *Controller) Reset() {
	c.mu.Lock()
	from := c.phase
	c.phase = PhaseIdle
	c.pickup = geo.Coordinate{}
	c.drop = geo.Coordinate{}
	c.promptPending = false
	c.promptFired = false
	hook := c.onTransition
	c.mu.Unlock()

	if hook != nil && from != PhaseIdle {
		hook(from, PhaseIdle)
	}
}

// advanceLocked moves to the next phase and returns the hook invocation to run
// after the lock is released. Caller holds c.mu.
func (c *Controller) advanceLocked(to Phase) func() {
	from := c.phase
	if !to.After(from) {
		return nil
	}
	c.phase = to

	hook := c.onTransition
	if hook == nil {
		return nil
	}
	return func() { hook(from, to) }
}
