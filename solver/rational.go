package solver

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// RatFromFloat converts v into the exact rational denoted by its shortest decimal
// representation. Because that representation parses back to v, converting the
// result with FloatFromRat returns v unchanged.
func RatFromFloat(v float64) (*big.Rat, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("solver: %v has no rational representation", v)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'g', -1, 64))
	if !ok {
		return nil, fmt.Errorf("solver: cannot parse %v as a rational", v)
	}
	return r, nil
}

// FloatFromRat returns the float64 nearest to r
func FloatFromRat(r *big.Rat) float64 {
	f, _ := r.Float64()
	return f
}

// ConstFloat returns the constant expression v; it panics if v is not finite
func ConstFloat(v float64) LinExpr {
	r, err := RatFromFloat(v)
	if err != nil {
		panic(err)
	}
	return LinExpr{constant: r}
}

// roundedRat rounds a solver output to the given number of decimal digits
// before converting it to a rational, which strips the simplex round-off noise
func roundedRat(v float64, digits uint) (*big.Rat, error) {
	return RatFromFloat(roundFloat(v, digits))
}

// round computed values to avoid non-sensical comparisons
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	scaled := val * ratio
	if math.IsInf(scaled, 0) {
		// too large to carry the fractional digits anyway
		return val
	}
	return math.Round(scaled) / ratio
}
