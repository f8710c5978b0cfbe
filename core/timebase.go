package core

import (
	"fmt"
	"math"
)

// ToSeconds converts raw ticks in the given time scale to seconds.
func ToSeconds(ticks int64, scale int32) float64 {
	mustScale(scale)
	return float64(ticks) / float64(scale)
}

// ToTicks converts seconds into the given time scale, rounding to the nearest tick.
func ToTicks(seconds float64, scale int32) int64 {
	mustScale(scale)
	return int64(math.Round(seconds * float64(scale)))
}

// Rescale converts a tick count from one time scale to another, rounding half away from zero.
func Rescale(v int64, from, to int32) int64 {
	mustScale(from)
	mustScale(to)
	if from == to {
		return v
	}
	n := v * int64(to)
	d := int64(from)
	if n >= 0 {
		return (n + d/2) / d
	}
	return -((-n + d/2) / d)
}

// A non-positive time scale is a configuration error, not a runtime condition.
func mustScale(scale int32) {
	if scale <= 0 {
		panic(fmt.Sprintf("core: invalid time scale %d", scale))
	}
}
