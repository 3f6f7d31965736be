package scheduling

import (
	"cmp"
	"time"
)

// Overlaps reports whether the half-open ranges [startA, endA) and
// [startB, endB) share at least one point. Touching endpoints do not overlap.
func Overlaps[T cmp.Ordered](startA, endA, startB, endB T) bool {
	return startA < endB && startB < endA
}

// Contains reports whether [innerStart, innerEnd) lies entirely within
// [outerStart, outerEnd).
func Contains[T cmp.Ordered](outerStart, outerEnd, innerStart, innerEnd T) bool {
	return innerStart >= outerStart && innerEnd <= outerEnd
}

// OverlapsInstant is Overlaps for absolute instants.
func OverlapsInstant(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}
