package guidance

import (
	"testing"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/domain/route"
)

// metersPerDegreeLat at the equator, close enough for test geometry.
const metersPerDegreeLat = 111320.0

// north returns a point m meters north of the origin.
func north(m float64) geo.Coordinate {
	return geo.Coordinate{Lat: m / metersPerDegreeLat, Lng: 0}
}

// testRoute has maneuver ends at 300m, 600m and 900m along a straight line.
func testRoute() route.Route {
	return route.Route{
		Source: route.SourceDirections,
		Coordinates: []geo.Coordinate{
			north(0), north(300), north(600), north(900),
		},
		Steps: []route.ManeuverStep{
			{Instruction: "Turn left onto Oak Ave", DistanceMeters: 300, End: north(300), Turn: route.TurnLeft},
			{Instruction: "Turn right onto MG Road", DistanceMeters: 300, End: north(600), Turn: route.TurnRight},
			{Instruction: "Go straight on Main St", DistanceMeters: 300, End: north(900), Turn: route.TurnStraight},
		},
	}
}

func TestActiveStepAdvancesMonotonically(t *testing.T) {
	tr := NewTracker(testRoute())

	positions := []float64{0, 100, 200, 280, 299, 400, 580, 880}
	prev := 0
	for _, m := range positions {
		st := tr.Update(north(m))
		if st.StepIndex < prev {
			t.Fatalf("index regressed from %d to %d at %vm", prev, st.StepIndex, m)
		}
		if st.StepIndex > len(testRoute().Steps)-1 {
			t.Fatalf("index %d exceeds last step", st.StepIndex)
		}
		prev = st.StepIndex
	}

	// position never goes backwards in index even if the vehicle does
	st := tr.Update(north(100))
	if st.StepIndex < prev {
		t.Errorf("index regressed to %d after backward movement", st.StepIndex)
	}
}

func TestCompletionAdvancesStep(t *testing.T) {
	tr := NewTracker(testRoute())

	// 20m short of the first maneuver end: inside the completion threshold
	st := tr.Update(north(280))
	if st.StepIndex != 1 {
		t.Errorf("index = %d at 20m from step end, want 1", st.StepIndex)
	}
}

func TestSkipsMultiplePassedManeuvers(t *testing.T) {
	tr := NewTracker(testRoute())

	// after a connectivity gap the vehicle is already at the second maneuver end
	st := tr.Update(north(610))
	if st.StepIndex != 2 {
		t.Errorf("index = %d after jump past two maneuvers, want 2", st.StepIndex)
	}
}

func TestGapLandingBetweenManeuvers(t *testing.T) {
	tr := NewTracker(testRoute())

	// the first fix after the gap is far from every maneuver end; the two
	// passed maneuvers must still be skipped
	st := tr.Update(north(820))
	if st.StepIndex != 2 {
		t.Errorf("index = %d after gap landing mid-leg, want 2", st.StepIndex)
	}
	if !st.Visible {
		t.Error("guidance hidden at 80m remaining after resync")
	}
}

func TestVisibilitySuppression(t *testing.T) {
	tr := NewTracker(testRoute())

	st := tr.Update(north(0)) // 300m from the first maneuver end
	if st.Visible {
		t.Error("guidance visible at 300m, want suppressed beyond 100m")
	}
	if st.Display != "" {
		t.Errorf("display = %q while suppressed", st.Display)
	}

	st = tr.Update(north(210)) // 90m out
	if !st.Visible {
		t.Error("guidance hidden at 90m, want visible")
	}
}

func TestAlertsFireOncePerRoute(t *testing.T) {
	tr := NewTracker(testRoute())

	// 80m out: within the pre-alert band, next maneuver exists
	st := tr.Update(north(220))
	if len(st.Alerts) != 1 || st.Alerts[0].Kind != AlertUpcoming {
		t.Fatalf("alerts = %+v, want one coming_up", st.Alerts)
	}
	if st.Alerts[0].Step.Instruction != "Turn right onto MG Road" {
		t.Errorf("coming_up names %q, want the NEXT maneuver", st.Alerts[0].Step.Instruction)
	}

	// same band again: seen-set blocks a repeat
	st = tr.Update(north(225))
	if len(st.Alerts) != 0 {
		t.Errorf("alerts = %+v on repeat update, want none", st.Alerts)
	}

	// 40m out: the "now" notice for the active maneuver, once
	st = tr.Update(north(260))
	if len(st.Alerts) != 1 || st.Alerts[0].Kind != AlertNow {
		t.Fatalf("alerts = %+v, want one now", st.Alerts)
	}
	if st.Alerts[0].Step.Instruction != "Turn left onto Oak Ave" {
		t.Errorf("now alert names %q, want the CURRENT maneuver", st.Alerts[0].Step.Instruction)
	}
	st = tr.Update(north(262))
	if len(st.Alerts) != 0 {
		t.Errorf("now alert repeated: %+v", st.Alerts)
	}
}

func TestNoGuidanceWithoutSteps(t *testing.T) {
	tr := NewTracker(route.StraightLine(north(0), north(900)))

	st := tr.Update(north(100))
	if st.StepIndex != -1 || st.Visible || len(st.Alerts) != 0 {
		t.Errorf("status on step-less route = %+v, want inert", st)
	}
}

func TestFormatDistance(t *testing.T) {
	cases := []struct {
		meters float64
		want   string
	}{
		{1500, "1.5 km"},
		{15000, "15 km"},
		{2000, "2.0 km"},
		{10400, "10 km"},
		{240, "240 m"},
		{244, "240 m"},
		{104, "100 m"},
		{96, "95 m"},
		{8, "10 m"},
		{2, "5 m"},
		{0, "5 m"},
	}
	for _, tc := range cases {
		if got := FormatDistance(tc.meters); got != tc.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tc.meters, got, tc.want)
		}
	}
}
