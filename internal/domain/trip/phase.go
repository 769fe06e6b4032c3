package trip

import (
	"errors"
	"strings"
)

// Phase is the trip's current stage in the pickup -> drop lifecycle. Exactly
// one value is active per trip session, owned by the driver client and
// mirrored read-only by viewers.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseToPickup      Phase = "to_pickup"
	PhasePickupReached Phase = "pickup_reached"
	PhaseToDrop        Phase = "to_drop"
	PhaseCompleted     Phase = "completed"
)

var ErrInvalidPhase = errors.New("invalid trip phase")

// ParsePhase normalizes (lowercases+trims) and validates a trip phase string.
func ParsePhase(in string) (Phase, error) {
	phase := Phase(strings.ToLower(strings.TrimSpace(in)))
	if phase.Valid() {
		return phase, nil
	}
	return "", ErrInvalidPhase
}

// Valid reports whether the phase is one of the allowed phase constants.
func (phase Phase) Valid() bool {
	switch phase {
	case PhaseIdle, PhaseToPickup, PhasePickupReached, PhaseToDrop, PhaseCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the trip has finished.
func (phase Phase) Terminal() bool {
	return phase == PhaseCompleted
}

// String returns the string representation of the Phase.
func (phase Phase) String() string {
	return string(phase)
}

// order gives each phase a rank so forward-only progress can be enforced.
func (phase Phase) order() int {
	switch phase {
	case PhaseIdle:
		return 0
	case PhaseToPickup:
		return 1
	case PhasePickupReached:
		return 2
	case PhaseToDrop:
		return 3
	case PhaseCompleted:
		return 4
	default:
		return -1
	}
}

// After reports whether the phase ranks strictly later than other in the
// lifecycle. Viewers use it to ignore phase regressions from stale messages.
func (phase Phase) After(other Phase) bool {
	return phase.order() > other.order()
}
