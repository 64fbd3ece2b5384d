package milp

import "math"

func nan() float64 { return math.NaN() }
func inf() float64 { return math.Inf(1) }

// fractionality is the distance of x to the nearest integer.
func fractionality(x float64) float64 {
	return math.Abs(x - math.Round(x))
}
