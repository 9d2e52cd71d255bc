// Package scoring converts between display scores and their stored
// fixed-point representation.
//
// Scores are persisted as integers scaled by Scale so repeated writes of the
// same value never drift. A stored value s reads back as s/Scale and is
// shown to users rounded to the nearest integer.
package scoring

import (
	"fmt"
	"math"
)

// Scale is the fixed-point factor (three decimal places).
const Scale = 1000

// maxEncodable bounds the display scores whose scaled value fits in int64.
const maxEncodable = float64(math.MaxInt64) / Scale

// Encode returns round(score * Scale).
func Encode(score float64) (int64, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}
	if math.Abs(score) >= maxEncodable {
		return 0, fmt.Errorf("%w: %v overflows fixed point", ErrInvalidScore, score)
	}
	return int64(math.Round(score * Scale)), nil
}

// Decode returns stored / Scale.
func Decode(stored int64) float64 {
	return float64(stored) / Scale
}

// DisplayValue rounds the decoded score to the nearest integer.
func DisplayValue(stored int64) int64 {
	return int64(math.Round(Decode(stored)))
}
