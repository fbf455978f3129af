package light

import "fmt"

// Scheduler picks the next height to fetch when skipping verification between
// low and high fails for lack of trusted signers. The returned pivot must
// satisfy low < pivot < high; the driver rejects anything else and aborts the
// bisection.
//
// Schedulers must be deterministic: the same (low, high) always yields the
// same pivot.
type Scheduler func(low, high int64) int64

// MidpointScheduler halves the gap on every miss, which bounds the number of
// verifier invocations per frontier advance by log2 of the gap.
func MidpointScheduler(low, high int64) int64 {
	return low + (high-low)/2
}

// validPivot checks the scheduler invariant before the driver trusts a pivot.
func validPivot(pivot, low, high int64) error {
	if pivot <= low || pivot >= high {
		return fmt.Errorf("scheduler returned pivot %d outside (%d, %d)", pivot, low, high)
	}
	return nil
}
