package route

import "strings"

// Turn is the closed classification of a maneuver instruction.
type Turn string

const (
	TurnStraight    Turn = "straight"
	TurnLeft        Turn = "left"
	TurnRight       Turn = "right"
	TurnSlightLeft  Turn = "slight_left"
	TurnSlightRight Turn = "slight_right"
	TurnUTurn       Turn = "u_turn"
)

// String returns the string representation of the Turn.
func (turn Turn) String() string {
	return string(turn)
}

// ClassifyTurn maps a free-text maneuver instruction onto the closed turn
// taxonomy by keyword matching. Anything without a recognizable turn keyword
// classifies as straight.
func ClassifyTurn(instruction string) Turn {
	text := strings.ToLower(instruction)

	switch {
	case strings.Contains(text, "u-turn") || strings.Contains(text, "uturn"):
		return TurnUTurn
	case strings.Contains(text, "slight left"):
		return TurnSlightLeft
	case strings.Contains(text, "slight right"):
		return TurnSlightRight
	case strings.Contains(text, "left"):
		return TurnLeft
	case strings.Contains(text, "right"):
		return TurnRight
	default:
		return TurnStraight
	}
}

var compassDirections = []string{
	"northeast", "northwest", "southeast", "southwest",
	"north", "east", "south", "west",
}

// NormalizeInstruction rewrites "Head <compass-direction>" phrasing, which
// carries no turn information, into a plain "Go straight" instruction. Other
// instructions pass through unchanged.
func NormalizeInstruction(instruction string) string {
	trimmed := strings.TrimSpace(instruction)
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "head ") {
		return trimmed
	}

	rest := trimmed[len("head "):]
	lowerRest := strings.ToLower(rest)
	for _, direction := range compassDirections {
		if strings.HasPrefix(lowerRest, direction) {
			remainder := strings.TrimSpace(rest[len(direction):])
			if remainder == "" {
				return "Go straight"
			}
			return "Go straight " + remainder
		}
	}
	return trimmed
}
