package math

import (
	"errors"
	"math"
)

// MaxInt64Uint64 is the largest int64 value expressed as a uint64, the upper
// bound for fraction parts and voting powers.
const MaxInt64Uint64 = uint64(math.MaxInt64)

var ErrOverflowInt64 = errors.New("int64 overflow")

// SafeAddInt64 adds two int64 integers. The boolean result reports whether
// the addition overflowed.
func SafeAddInt64(a, b int64) (int64, bool) {
	if b > 0 && (a > math.MaxInt64-b) {
		return -1, true
	} else if b < 0 && (a < math.MinInt64-b) {
		return -1, true
	}
	return a + b, false
}

// SafeSubInt64 subtracts two int64 integers. The boolean result reports
// whether the subtraction overflowed.
func SafeSubInt64(a, b int64) (int64, bool) {
	if b > 0 && (a < math.MinInt64+b) {
		return -1, true
	} else if b < 0 && (a > math.MaxInt64+b) {
		return -1, true
	}
	return a - b, false
}

// SafeMulInt64 multiplies two int64 integers. The boolean result reports
// whether the multiplication overflowed.
func SafeMulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}

	absOfB := b
	if b < 0 {
		absOfB = -b
	}
	absOfA := a
	if a < 0 {
		absOfA = -a
	}

	if absOfA > math.MaxInt64/absOfB {
		return 0, true
	}

	return a * b, false
}
