package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

const (
	PI                 = 3.14159265358979323846
	DEG2RAD_MULTIPLIER = PI / 180.0
	FLOAT_EPSILON      = 1.192092896e-07
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds size up to the next multiple of alignment. An alignment of
// zero leaves size unchanged.
func AlignUp[T constraints.Unsigned](size, alignment T) T {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) / alignment * alignment
}

func DegToRad(degrees float32) float32 {
	return degrees * DEG2RAD_MULTIPLIER
}

func sqrt(x float32) float32 { return math32.Sqrt(x) }
func sin(x float32) float32  { return math32.Sin(x) }
func cos(x float32) float32  { return math32.Cos(x) }
func tan(x float32) float32  { return math32.Tan(x) }
