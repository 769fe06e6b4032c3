package guidance

import (
	"fmt"
	"math"
)

// FormatDistance renders a distance in meters with graduated rounding:
// kilometers to one decimal from 1 km (whole kilometers above 10 km), nearest
// 10 m from 100 m, nearest 5 m below that with a floor of 5 m.
func FormatDistance(meters float64) string {
	if meters >= 1000 {
		km := meters / 1000
		if km >= 10 {
			return fmt.Sprintf("%.0f km", km)
		}
		return fmt.Sprintf("%.1f km", km)
	}
	if meters >= 100 {
		return fmt.Sprintf("%.0f m", math.Round(meters/10)*10)
	}
	rounded := math.Round(meters/5) * 5
	if rounded < 5 {
		rounded = 5
	}
	return fmt.Sprintf("%.0f m", rounded)
}
